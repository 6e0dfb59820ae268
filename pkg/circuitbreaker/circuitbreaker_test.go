package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New(cfg)
	cb.now = clock.Now
	return cb, clock
}

func ok() (int, error)   { return 1, nil }
func fail() (int, error) { return 0, errTestError }

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	got, err := Execute(cb, ok)
	if err != nil || got != 1 {
		t.Fatalf("Expected 1/nil, got %d/%v", got, err)
	}

	_, err = Execute(cb, fail)
	if err != errTestError {
		t.Errorf("Expected the raw error, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Second})

	for i := 0; i < 2; i++ {
		_, _ = Execute(cb, fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.State())
	}

	called := false
	_, err := Execute(cb, func() (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("guarded function must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Second})

	_, _ = Execute(cb, fail)
	_, _ = Execute(cb, ok)
	_, _ = Execute(cb, fail)

	if cb.State() != StateClosed {
		t.Errorf("non-consecutive failures must not open the breaker, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, MaxRequestsHalfOpen: 1})

	_, _ = Execute(cb, fail)
	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected state HalfOpen after timeout, got: %v", cb.State())
	}

	for i := 0; i < 2; i++ {
		if _, err := Execute(cb, ok); err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})

	_, _ = Execute(cb, fail)
	clock.Advance(time.Second)
	_, _ = Execute(cb, fail)

	if cb.State() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1})

	_, _ = Execute(cb, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Execute(cb, func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	if _, err := Execute(cb, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("second concurrent probe should be rejected, got: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})

	var changes [][2]State
	cb.OnStateChange(func(from, to State) {
		changes = append(changes, [2]State{from, to})
	})

	_, _ = Execute(cb, fail)
	clock.Advance(time.Second)
	_, _ = Execute(cb, ok)

	want := [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})

	_, _ = Execute(cb, fail)
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed after reset, got: %v", cb.State())
	}
	if _, err := Execute(cb, ok); err != nil {
		t.Errorf("Expected request to pass after reset, got: %v", err)
	}
}

func TestState_String(t *testing.T) {
	if StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
