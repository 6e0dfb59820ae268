package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/infrastructure/repositories/memory"

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

func testCredentials() *domain.SessionCredentials {
	return attendeeCredentials("m-1", "a-1")
}

func attendeeCredentials(meetingID, attendeeID string) *domain.SessionCredentials {
	return &domain.SessionCredentials{
		Meeting:  domain.MeetingDescriptor{MeetingID: meetingID},
		Attendee: domain.AttendeeDescriptor{AttendeeID: attendeeID, JoinToken: "token-" + attendeeID},
	}
}

func TestCachedProvisioner_MissThenHit(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(testCredentials(), nil).Once()
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	p := NewCachedProvisioner(inner, repo, time.Minute, zaptest.NewLogger(t).Sugar())

	first, err := p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	second, err := p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	inner.AssertNumberOfCalls(t, "FetchCredentials", 1)
}

func TestCachedProvisioner_ErrorsAreNotCached(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(nil, errors.New("down")).Once()
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(testCredentials(), nil).Once()
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	p := NewCachedProvisioner(inner, repo, time.Minute, zaptest.NewLogger(t).Sugar())

	_, err := p.FetchCredentials(context.Background(), "room-42")
	require.Error(t, err)

	creds, err := p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	assert.Equal(t, "a-1", creds.Attendee.AttendeeID)
}

func TestCachedProvisioner_Invalidate(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(testCredentials(), nil)
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	p := NewCachedProvisioner(inner, repo, time.Minute, zaptest.NewLogger(t).Sugar())

	_, err := p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	require.NoError(t, p.Invalidate(context.Background(), "room-42"))
	_, err = repo.Get(context.Background(), "room-42")
	assert.ErrorIs(t, err, domain.ErrCredentialsNotFound)
	_, err = p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)

	inner.AssertNumberOfCalls(t, "FetchCredentials", 2)
}

// mutexLocker is an in-process MeetingLocker that counts acquisitions.
type mutexLocker struct {
	mu    sync.Mutex
	count int
	fail  error
}

func (l *mutexLocker) Lock(ctx context.Context, meetingID string) (func(context.Context) error, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.mu.Lock()
	l.count++
	return func(context.Context) error {
		l.mu.Unlock()
		return nil
	}, nil
}

func TestCachedProvisioner_LockerProvisionsOnce(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").
		After(20*time.Millisecond).Return(testCredentials(), nil)
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	locker := &mutexLocker{}
	p := NewCachedProvisioner(inner, repo, time.Minute, zaptest.NewLogger(t).Sugar(), WithLocker(locker))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := p.FetchCredentials(context.Background(), "room-42")
			assert.NoError(t, err)
			assert.Equal(t, "a-1", creds.Attendee.AttendeeID)
		}()
	}
	wg.Wait()

	inner.AssertNumberOfCalls(t, "FetchCredentials", 1)
	assert.GreaterOrEqual(t, locker.count, 1)
}

func TestCachedProvisioner_LockFailureStillProvisions(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(testCredentials(), nil).Once()
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	locker := &mutexLocker{fail: errors.New("redis down")}
	p := NewCachedProvisioner(inner, repo, time.Minute, zaptest.NewLogger(t).Sugar(), WithLocker(locker))

	creds, err := p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	assert.Equal(t, "m-1", creds.Meeting.MeetingID)
	inner.AssertExpectations(t)
}

func TestCachedProvisioner_ClientsShareMeetingNotAttendee(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(attendeeCredentials("m-1", "a-1"), nil).Once()
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(attendeeCredentials("m-1", "a-2"), nil).Once()
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	log := zaptest.NewLogger(t).Sugar()
	locker := &mutexLocker{}
	clientA := NewCachedProvisioner(inner, repo, time.Minute, log, WithLocker(locker), WithClientID("client-a"))
	clientB := NewCachedProvisioner(inner, repo, time.Minute, log, WithLocker(locker), WithClientID("client-b"))

	a, err := clientA.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	b, err := clientB.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)

	assert.Equal(t, a.Meeting.MeetingID, b.Meeting.MeetingID)
	assert.NotEqual(t, a.Attendee.AttendeeID, b.Attendee.AttendeeID)
	assert.NotEqual(t, a.Attendee.JoinToken, b.Attendee.JoinToken)
	assert.Equal(t, 1, locker.count, "only the first client provisions under the lock")

	again, err := clientA.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	assert.Equal(t, "a-1", again.Attendee.AttendeeID)
	inner.AssertNumberOfCalls(t, "FetchCredentials", 2)

	shared, err := repo.Get(context.Background(), "room-42")
	require.NoError(t, err)
	assert.Equal(t, "m-1", shared.Meeting.MeetingID)
	assert.Empty(t, shared.Attendee.AttendeeID)
	assert.Empty(t, shared.Attendee.JoinToken)
}

func TestCachedProvisioner_ReplacesStaleSharedMeeting(t *testing.T) {
	inner := new(MockProvisioner)
	inner.On("FetchCredentials", mock.Anything, "room-42").Return(attendeeCredentials("m-2", "a-1"), nil).Once()
	repo := memory.NewCredentialsRepository()
	defer repo.Close()
	require.NoError(t, repo.Save(context.Background(), "room-42",
		&domain.SessionCredentials{Meeting: domain.MeetingDescriptor{MeetingID: "m-old"}}, time.Minute))
	p := NewCachedProvisioner(inner, repo, time.Minute, zaptest.NewLogger(t).Sugar())

	creds, err := p.FetchCredentials(context.Background(), "room-42")
	require.NoError(t, err)
	assert.Equal(t, "m-2", creds.Meeting.MeetingID)

	shared, err := repo.Get(context.Background(), "room-42")
	require.NoError(t, err)
	assert.Equal(t, "m-2", shared.Meeting.MeetingID)
}
