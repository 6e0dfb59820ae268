package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthChecker runs named dependency checks. Checks with an interval also
// run in the background; readiness reads their latest result.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	results map[string]string
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// CheckAll runs every check now.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	return h.collect(ctx, false)
}

func (h *HealthChecker) collect(ctx context.Context, useCached bool) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	cached := make(map[string]string, len(h.results))
	for k, v := range h.results {
		cached[k] = v
	}
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for _, check := range checks {
		result, ok := cached[check.Name]
		if !useCached || !ok {
			result = runCheck(ctx, check)
		}
		status.Checks[check.Name] = result
		if result != statusHealthy {
			status.Status = statusUnhealthy
		}
	}
	return status
}

// runCheck returns "healthy" or a failure description.
func runCheck(ctx context.Context, check HealthCheck) string {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	healthy, err := check.Check(checkCtx)
	switch {
	case err != nil:
		return err.Error()
	case !healthy:
		return "check failed"
	default:
		return statusHealthy
	}
}

// StartBackgroundChecks runs every check that has an interval until ctx is
// done. Failures are logged.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context, logger *zap.SugaredLogger) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if check.Interval <= 0 {
			continue
		}
		go h.runCheckPeriodically(ctx, check, logger)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := runCheck(ctx, check)
			h.mu.Lock()
			previous := h.results[check.Name]
			h.results[check.Name] = result
			h.mu.Unlock()

			if result != statusHealthy {
				logger.Warnw("health check failed", "check", check.Name, "error", result)
			} else if previous != "" && previous != statusHealthy {
				logger.Infow("health check recovered", "check", check.Name)
			}
		}
	}
}
