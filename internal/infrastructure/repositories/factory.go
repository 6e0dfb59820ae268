package repositories

import (
	"context"
	"time"

	"meetjoin/internal/core/ports"
	"meetjoin/internal/infrastructure/repositories/memory"
	redisrepo "meetjoin/internal/infrastructure/repositories/redis"
	"meetjoin/pkg/config"
	"meetjoin/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	memoryRepo  *memory.CredentialsRepository
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when it is enabled. An unreachable
// Redis falls back to memory repositories.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// UsesRedis reports whether repositories are backed by Redis.
func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// CreateCredentialsRepository creates a credentials repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateCredentialsRepository() ports.CredentialsRepository {
	if f.UsesRedis() {
		return redisrepo.NewCredentialsRepository(f.redisClient)
	}
	if f.memoryRepo == nil {
		f.memoryRepo = memory.NewCredentialsRepository()
	}
	return f.memoryRepo
}

const (
	lockPrefix = "meetjoin:lock:"
	lockTTL    = 15 * time.Second
)

// CreateMeetingLocker returns a Redis lock manager, or nil when credentials
// are kept in process memory.
func (f *RepositoryFactory) CreateMeetingLocker() ports.MeetingLocker {
	if f.UsesRedis() {
		return distributed.NewLockManager(f.redisClient, lockPrefix, lockTTL)
	}
	return nil
}

// Close releases the Redis connection and stops memory eviction.
func (f *RepositoryFactory) Close() error {
	if f.memoryRepo != nil {
		f.memoryRepo.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsesRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
