package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrNotHeld     = errors.New("lock was not held by this instance")
)

const retryInterval = 100 * time.Millisecond

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lock is a Redis lease owned by one holder. While held it is renewed at
// half its TTL.
type Lock struct {
	client redis.Cmdable
	key    string
	value  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

func NewLock(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		value:  generateLockValue(),
		ttl:    ttl,
		stop:   make(chan struct{}),
	}
}

func generateLockValue() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Lock blocks until the lease is acquired or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	for {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// TryLock attempts to acquire the lease without blocking.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		go l.renew()
	}
	return acquired, nil
}

// Unlock releases the lease if this holder still owns it.
func (l *Lock) Unlock(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lock) renew() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			current, err := l.client.Get(ctx, l.key).Result()
			if err != nil || current != l.value {
				cancel()
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)
			cancel()
		case <-l.stop:
			return
		}
	}
}

// IsLocked reports whether anyone holds the lease.
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// LockManager hands out per-meeting leases under a key prefix.
type LockManager struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewLockManager(client redis.Cmdable, prefix string, ttl time.Duration) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Lock acquires the lease for meetingID, waiting until ctx is done.
func (lm *LockManager) Lock(ctx context.Context, meetingID string) (func(context.Context) error, error) {
	l := NewLock(lm.client, lm.prefix+meetingID, lm.ttl)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	return l.Unlock, nil
}
