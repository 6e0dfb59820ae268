package reliability

import (
	"context"
	"errors"
	"net/http"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	"meetjoin/pkg/circuitbreaker"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/retry"

	"go.uber.org/zap"
)

// ProvisionerWrapper wraps a Provisioner with retry logic and circuit breaker.
// Every attempt passes through the breaker, so an open breaker stops retries.
type ProvisionerWrapper struct {
	provisioner ports.Provisioner
	logger      *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	breakerEnabled bool
}

// NewProvisionerWrapper creates a wrapper. A disabled retry config issues a
// single attempt; a nil cbConfig skips the breaker.
func NewProvisionerWrapper(
	provisioner ports.Provisioner,
	retryConfig retry.Config,
	cbConfig *circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ProvisionerWrapper {
	if retryConfig.Retryable == nil {
		retryConfig.Retryable = Retryable
	}

	w := &ProvisionerWrapper{
		provisioner: provisioner,
		logger:      logger,
		retryConfig: retryConfig,
	}

	if cbConfig != nil {
		w.breakerEnabled = true
		w.circuitBreaker = circuitbreaker.New(*cbConfig)
		w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Infow("provisioning circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		})
	}

	return w
}

func (w *ProvisionerWrapper) FetchCredentials(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	attempt := 0
	return retry.Do(ctx, w.retryConfig, func() (*domain.SessionCredentials, error) {
		attempt++
		creds, err := w.fetch(ctx, meetingID)
		if err != nil {
			w.logger.Warnw("provisioning attempt failed",
				"meeting_id", meetingID,
				"attempt", attempt,
				"error", err,
			)
		}
		return creds, err
	})
}

func (w *ProvisionerWrapper) fetch(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	if !w.breakerEnabled {
		return w.provisioner.FetchCredentials(ctx, meetingID)
	}
	return circuitbreaker.Execute(w.circuitBreaker, func() (*domain.SessionCredentials, error) {
		return w.provisioner.FetchCredentials(ctx, meetingID)
	})
}

// BreakerState reports the breaker state, closed when no breaker is used.
func (w *ProvisionerWrapper) BreakerState() circuitbreaker.State {
	if !w.breakerEnabled {
		return circuitbreaker.StateClosed
	}
	return w.circuitBreaker.State()
}

// Retryable skips client errors, incomplete payloads, cancellation and an
// open breaker. Transport failures and 5xx responses are retried.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrIncompleteCredentials):
		return false
	}
	if appErr := apperrors.GetAppError(err); appErr != nil && appErr.StatusCode >= http.StatusBadRequest && appErr.StatusCode < http.StatusInternalServerError {
		return false
	}
	return true
}
