package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schemaVersionKey = "meetjoin:schema:version"

// ErrSchemaTooNew means the store was written by a newer release.
var ErrSchemaTooNew = errors.New("credentials store schema is newer than supported")

type migration struct {
	version int
	up      func(ctx context.Context, client redis.Cmdable) error
}

// migrations are applied in order to stores below their version.
var migrations = []migration{
	{
		// Drops entries written under the unversioned key prefix. They are
		// only a cache.
		version: 1,
		up: func(ctx context.Context, client redis.Cmdable) error {
			return deleteByPattern(ctx, client, "meetjoin:creds:*")
		},
	},
}

func latestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// EnsureSchema applies pending migrations and records the store version.
func EnsureSchema(ctx context.Context, client redis.Cmdable, logger *zap.SugaredLogger) error {
	current, err := client.Get(ctx, schemaVersionKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read schema version: %w", err)
	}

	latest := latestSchemaVersion()
	if current > latest {
		return fmt.Errorf("%w: store %d, supported %d", ErrSchemaTooNew, current, latest)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Infow("applying credentials store migration", "version", m.version)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.version, 0).Err(); err != nil {
			return fmt.Errorf("record schema version %d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

func deleteByPattern(ctx context.Context, client redis.Cmdable, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
