package ports

import (
	"context"
	"time"

	"meetjoin/internal/core/domain"
)

// CredentialsRepository stores provisioned credentials per meeting id.
// Get returns domain.ErrCredentialsNotFound on a miss.
type CredentialsRepository interface {
	Get(ctx context.Context, meetingID string) (*domain.SessionCredentials, error)
	Save(ctx context.Context, meetingID string, creds *domain.SessionCredentials, ttl time.Duration) error
	Delete(ctx context.Context, meetingID string) error
}

// MeetingLocker serializes provisioning of one meeting id across processes
// that share a credentials repository.
type MeetingLocker interface {
	Lock(ctx context.Context, meetingID string) (unlock func(context.Context) error, err error)
}
