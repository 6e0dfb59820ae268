package monitoring

import (
	"context"
	"errors"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
)

// probeMeetingID is never provisioned; repositories answer it with a miss.
const probeMeetingID = "__health__"

// AddStoreCheck adds a check backed by a ping function such as the
// repository factory's Redis ping.
func (h *HealthChecker) AddStoreCheck(name string, ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddCredentialsRepositoryCheck adds a credentials repository health check.
// A miss for the probe id counts as healthy.
func (h *HealthChecker) AddCredentialsRepositoryCheck(repo ports.CredentialsRepository, interval, timeout time.Duration) {
	h.AddCheck("credentials_repository", func(ctx context.Context) (bool, error) {
		_, err := repo.Get(ctx, probeMeetingID)
		if err != nil && !errors.Is(err, domain.ErrCredentialsNotFound) {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus reports the latest background result of each check,
// running checks that have none yet.
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.collect(ctx, true)
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.GetReadinessStatus(ctx).Status == statusHealthy
}
