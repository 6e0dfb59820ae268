package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const credentialsPrefix = "meetjoin:credentials:"

// CredentialsRepository shares provisioned credentials between processes.
type CredentialsRepository struct {
	client redis.Cmdable
	prefix string
}

func NewCredentialsRepository(client redis.Cmdable) *CredentialsRepository {
	return &CredentialsRepository{
		client: client,
		prefix: credentialsPrefix,
	}
}

var _ ports.CredentialsRepository = (*CredentialsRepository)(nil)

func (r *CredentialsRepository) key(meetingID string) string {
	return r.prefix + meetingID
}

func (r *CredentialsRepository) Get(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	data, err := r.client.Get(ctx, r.key(meetingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials from Redis: %w", err)
	}

	var creds domain.SessionCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// Save stores creds. A zero ttl keeps the entry until it is deleted.
func (r *CredentialsRepository) Save(ctx context.Context, meetingID string, creds *domain.SessionCredentials, ttl time.Duration) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := r.client.Set(ctx, r.key(meetingID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set credentials in Redis: %w", err)
	}
	return nil
}

func (r *CredentialsRepository) Delete(ctx context.Context, meetingID string) error {
	if err := r.client.Del(ctx, r.key(meetingID)).Err(); err != nil {
		return fmt.Errorf("failed to delete credentials from Redis: %w", err)
	}
	return nil
}
