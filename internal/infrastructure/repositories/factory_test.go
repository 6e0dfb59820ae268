package repositories

import (
	"context"
	"testing"

	"meetjoin/internal/infrastructure/repositories/memory"
	"meetjoin/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_MemoryWhenRedisDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.UsesRedis())
	repo := f.CreateCredentialsRepository()
	assert.IsType(t, &memory.CredentialsRepository{}, repo)
	assert.Same(t, repo, f.CreateCredentialsRepository())
	assert.Nil(t, f.CreateMeetingLocker())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestRepositoryFactory_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	defer f.Close()

	assert.False(t, f.UsesRedis())
	assert.IsType(t, &memory.CredentialsRepository{}, f.CreateCredentialsRepository())
}
