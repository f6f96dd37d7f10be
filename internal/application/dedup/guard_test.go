package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchhub/matchhub/internal/domain/session"
)

func TestTryAdmitBlocksSecondRequest(t *testing.T) {
	base := time.Now()
	guard := NewGuard(NewMemoryAdmissionStore(), 30*time.Second, 3*time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return base })

	id, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	base = base.Add(5 * time.Second) // past the throttle, pending still live
	_, err = guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	var dup *session.DuplicateRequestError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "p1", dup.PlayerID)
	assert.Equal(t, 25*time.Second, dup.Wait)

	// A different player is unaffected.
	_, err = guard.TryAdmit(context.Background(), "p2", session.KindQuick, "duel")
	assert.NoError(t, err)
}

func TestThrottleAppliesAfterCompletion(t *testing.T) {
	base := time.Now()
	guard := NewGuard(NewMemoryAdmissionStore(), 30*time.Second, 3*time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return base })

	id, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	require.NoError(t, err)
	guard.Complete(context.Background(), "p1", id)

	base = base.Add(time.Second)
	_, err = guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	var dup *session.DuplicateRequestError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 2*time.Second, dup.Wait)

	base = base.Add(4 * time.Second)
	_, err = guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	assert.NoError(t, err)
}

func TestEveryAttemptReArmsThrottle(t *testing.T) {
	base := time.Now()
	guard := NewGuard(NewMemoryAdmissionStore(), 30*time.Second, 3*time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return base })

	id, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	require.NoError(t, err)
	guard.Complete(context.Background(), "p1", id)

	// Hammering every second keeps resetting the window; the wait hint
	// never shrinks below the full spacing.
	for i := 0; i < 3; i++ {
		base = base.Add(time.Second)
		_, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
		var dup *session.DuplicateRequestError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, 2*time.Second, dup.Wait)
	}
}

func TestCancelFreesAdmissionImmediately(t *testing.T) {
	base := time.Now()
	guard := NewGuard(NewMemoryAdmissionStore(), 30*time.Second, 3*time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return base })

	id, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	require.NoError(t, err)
	guard.Cancel(context.Background(), "p1", id, "downstream failure")

	base = base.Add(3 * time.Second)
	_, err = guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	assert.NoError(t, err)
	assert.Equal(t, 1, guard.InFlight())
}

func TestSelfExpiryReleasesAbandonedAdmission(t *testing.T) {
	store := NewMemoryAdmissionStore()
	guard := NewGuard(store, 20*time.Millisecond, time.Millisecond, zerolog.Nop())

	_, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	require.NoError(t, err)
	require.Equal(t, 1, store.PendingCount())

	require.Eventually(t, func() bool {
		return store.PendingCount() == 0 && guard.InFlight() == 0
	}, time.Second, 5*time.Millisecond)

	_, err = guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	assert.NoError(t, err)
}

func TestReleaseIsRequestIDGuarded(t *testing.T) {
	store := NewMemoryAdmissionStore()
	now := time.Now()
	req := &PendingRequest{
		RequestID: uuid.New(),
		PlayerID:  "p1",
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * time.Second),
	}
	wait, err := store.TryReserve(context.Background(), req, 0)
	require.NoError(t, err)
	require.Zero(t, wait)

	ok, err := store.Release(context.Background(), "p1", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok, "a stale request id must not clobber the reservation")
	assert.Equal(t, 1, store.PendingCount())

	ok, err = store.Release(context.Background(), "p1", req.RequestID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, store.PendingCount())
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	guard := NewGuard(failingStore{}, 30*time.Second, 3*time.Second, zerolog.Nop())
	_, err := guard.TryAdmit(context.Background(), "p1", session.KindQuick, "duel")
	assert.True(t, errors.Is(err, session.ErrStoreUnavailable))
}

type failingStore struct{}

func (failingStore) TryReserve(context.Context, *PendingRequest, time.Duration) (time.Duration, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) Release(context.Context, string, uuid.UUID) (bool, error) {
	return false, errors.New("connection refused")
}
