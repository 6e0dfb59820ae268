package provisioning

import (
	"context"
	"errors"
	"sync"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CachedProvisioner keeps provisioned credentials in a repository that
// several clients may share. The meeting descriptor is shared under the
// meeting id. Attendee identity is private to one client and lives under
// the meeting id plus the client's instance id, so no two clients ever join
// with the same attendee.
type CachedProvisioner struct {
	mu       sync.Mutex // one provisioning per client at a time
	inner    ports.Provisioner
	repo     ports.CredentialsRepository
	locker   ports.MeetingLocker
	clientID string
	ttl      time.Duration
	logger   *zap.SugaredLogger
}

type CachedOption func(*CachedProvisioner)

// WithLocker serializes the first provisioning of a meeting across clients
// sharing the repository.
func WithLocker(l ports.MeetingLocker) CachedOption {
	return func(p *CachedProvisioner) { p.locker = l }
}

// WithClientID sets the instance id scoping cached attendee credentials.
// A random id is used otherwise.
func WithClientID(id string) CachedOption {
	return func(p *CachedProvisioner) { p.clientID = id }
}

func NewCachedProvisioner(inner ports.Provisioner, repo ports.CredentialsRepository, ttl time.Duration, logger *zap.SugaredLogger, opts ...CachedOption) *CachedProvisioner {
	p := &CachedProvisioner{
		inner:  inner,
		repo:   repo,
		ttl:    ttl,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clientID == "" {
		p.clientID = uuid.NewString()
	}
	return p
}

func (p *CachedProvisioner) FetchCredentials(ctx context.Context, meetingID string) (*domain.SessionCredentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clientKey := p.clientKey(meetingID)
	if creds, ok := p.cached(ctx, clientKey); ok {
		return creds, nil
	}

	shared, known := p.cached(ctx, meetingID)
	if !known && p.locker != nil {
		unlock, err := p.locker.Lock(ctx, meetingID)
		if err != nil {
			p.logger.Warnw("provisioning without lock", "meeting_id", meetingID, "error", err)
		} else {
			defer func() {
				if err := unlock(context.Background()); err != nil {
					p.logger.Warnw("failed to release provisioning lock", "meeting_id", meetingID, "error", err)
				}
			}()
			if creds, ok := p.cached(ctx, clientKey); ok {
				return creds, nil
			}
			shared, known = p.cached(ctx, meetingID)
		}
	}

	creds, err := p.inner.FetchCredentials(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	if known && shared.Meeting.MeetingID != creds.Meeting.MeetingID {
		p.logger.Warnw("provisioning returned a different meeting than the shared record",
			"meeting_id", meetingID,
			"shared", shared.Meeting.MeetingID,
			"provisioned", creds.Meeting.MeetingID,
		)
		known = false
	}
	if !known {
		p.save(ctx, meetingID, &domain.SessionCredentials{Meeting: creds.Meeting})
	}
	p.save(ctx, clientKey, creds)
	return creds, nil
}

func (p *CachedProvisioner) clientKey(meetingID string) string {
	return meetingID + "#" + p.clientID
}

func (p *CachedProvisioner) save(ctx context.Context, key string, creds *domain.SessionCredentials) {
	if err := p.repo.Save(ctx, key, creds, p.ttl); err != nil {
		p.logger.Warnw("credentials cache write failed", "key", key, "error", err)
	}
}

func (p *CachedProvisioner) cached(ctx context.Context, key string) (*domain.SessionCredentials, bool) {
	creds, err := p.repo.Get(ctx, key)
	switch {
	case err == nil:
		p.logger.Debugw("credentials cache hit", "key", key)
		return creds, true
	case !errors.Is(err, domain.ErrCredentialsNotFound):
		p.logger.Warnw("credentials cache read failed", "key", key, "error", err)
	}
	return nil, false
}

// Invalidate drops this client's credentials and the shared meeting record
// for meetingID.
func (p *CachedProvisioner) Invalidate(ctx context.Context, meetingID string) error {
	return errors.Join(
		p.repo.Delete(ctx, p.clientKey(meetingID)),
		p.repo.Delete(ctx, meetingID),
	)
}
