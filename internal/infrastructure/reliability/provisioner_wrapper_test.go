package reliability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/pkg/circuitbreaker"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) FetchCredentials(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionCredentials), args.Error(1)
}

func fastRetry() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

var creds = &domain.SessionCredentials{
	Meeting:  domain.MeetingDescriptor{MeetingID: "m-1"},
	Attendee: domain.AttendeeDescriptor{AttendeeID: "a-1"},
}

func TestProvisionerWrapper_RetriesServerErrors(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").
		Return(nil, apperrors.NewProvisioningError("unexpected status 503", http.StatusServiceUnavailable, nil)).Once()
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(creds, nil).Once()

	w := NewProvisionerWrapper(inner, fastRetry(), nil, zaptest.NewLogger(t).Sugar())
	got, err := w.FetchCredentials(context.Background(), "room-42")

	require.NoError(t, err)
	assert.Equal(t, "a-1", got.Attendee.AttendeeID)
	inner.AssertNumberOfCalls(t, "FetchCredentials", 2)
}

func TestProvisionerWrapper_DoesNotRetryClientErrors(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").
		Return(nil, apperrors.NewProvisioningError("unexpected status 404", http.StatusNotFound, nil))

	w := NewProvisionerWrapper(inner, fastRetry(), nil, zaptest.NewLogger(t).Sugar())
	_, err := w.FetchCredentials(context.Background(), "room-42")

	assert.ErrorIs(t, err, apperrors.ErrProvisioning)
	inner.AssertNumberOfCalls(t, "FetchCredentials", 1)
}

func TestProvisionerWrapper_DisabledRetryIsSingleAttempt(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(nil, errors.New("dial tcp: refused"))

	w := NewProvisionerWrapper(inner, retry.Config{}, nil, zaptest.NewLogger(t).Sugar())
	_, err := w.FetchCredentials(context.Background(), "room-42")

	assert.Error(t, err)
	inner.AssertNumberOfCalls(t, "FetchCredentials", 1)
}

func TestProvisionerWrapper_BreakerOpensAndStopsCalls(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(nil, errors.New("dial tcp: refused"))

	cb := circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		MaxRequestsHalfOpen: 1,
	}
	w := NewProvisionerWrapper(inner, retry.Config{}, &cb, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 2; i++ {
		_, err := w.FetchCredentials(context.Background(), "room-42")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, w.BreakerState())

	_, err := w.FetchCredentials(context.Background(), "room-42")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	inner.AssertNumberOfCalls(t, "FetchCredentials", 2)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("connection reset")))
	assert.True(t, Retryable(apperrors.NewProvisioningError("x", http.StatusBadGateway, nil)))
	assert.True(t, Retryable(apperrors.NewProvisioningError("x", 0, nil)))
	assert.False(t, Retryable(apperrors.NewProvisioningError("x", http.StatusForbidden, nil)))
	assert.False(t, Retryable(circuitbreaker.ErrOpen))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(apperrors.NewProvisioningError("x", http.StatusOK, domain.ErrIncompleteCredentials)))
}
