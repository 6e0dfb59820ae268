package memory

import (
	"context"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	"meetjoin/pkg/cache"
)

const cleanupInterval = time.Minute

// CredentialsRepository keeps credentials in a process-local TTL cache.
type CredentialsRepository struct {
	cache *cache.Cache[string, domain.SessionCredentials]
}

func NewCredentialsRepository() *CredentialsRepository {
	return &CredentialsRepository{
		cache: cache.New[string, domain.SessionCredentials](0, cleanupInterval),
	}
}

var _ ports.CredentialsRepository = (*CredentialsRepository)(nil)

func (r *CredentialsRepository) Get(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	creds, ok := r.cache.Get(meetingID)
	if !ok {
		return nil, domain.ErrCredentialsNotFound
	}
	return &creds, nil
}

func (r *CredentialsRepository) Save(ctx context.Context, meetingID string, creds *domain.SessionCredentials, ttl time.Duration) error {
	r.cache.SetWithTTL(meetingID, *creds, ttl)
	return nil
}

func (r *CredentialsRepository) Delete(ctx context.Context, meetingID string) error {
	r.cache.Delete(meetingID)
	return nil
}

// Close stops the background eviction.
func (r *CredentialsRepository) Close() {
	r.cache.Stop()
}
