package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchhub/matchhub/internal/application/dedup"
)

func newTestStore(t *testing.T) (*AdmissionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewAdmissionStore(client), mr
}

func pending(playerID string, ttl time.Duration) *dedup.PendingRequest {
	now := time.Now()
	return &dedup.PendingRequest{
		RequestID: uuid.New(),
		PlayerID:  playerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestReserveAndDuplicate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req := pending("p1", 30*time.Second)
	wait, err := store.TryReserve(ctx, req, 3*time.Second)
	require.NoError(t, err)
	assert.Zero(t, wait)

	// Second request while the first is pending: refused with a wait at
	// least as long as the remaining reservation.
	wait, err = store.TryReserve(ctx, pending("p1", 30*time.Second), 3*time.Second)
	require.NoError(t, err)
	assert.Greater(t, wait, 25*time.Second)

	// Another player is independent.
	wait, err = store.TryReserve(ctx, pending("p2", 30*time.Second), 3*time.Second)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestThrottleOutlivesRelease(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	req := pending("p1", 30*time.Second)
	_, err := store.TryReserve(ctx, req, 3*time.Second)
	require.NoError(t, err)

	ok, err := store.Release(ctx, "p1", req.RequestID)
	require.NoError(t, err)
	require.True(t, ok)

	// Pending slot is free but the throttle window still applies.
	wait, err := store.TryReserve(ctx, pending("p1", 30*time.Second), 3*time.Second)
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 3*time.Second)

	mr.FastForward(4 * time.Second)
	wait, err = store.TryReserve(ctx, pending("p1", 30*time.Second), 3*time.Second)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestReservationExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.TryReserve(ctx, pending("p1", 5*time.Second), time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	wait, err := store.TryReserve(ctx, pending("p1", 5*time.Second), time.Second)
	require.NoError(t, err)
	assert.Zero(t, wait, "expired reservation should not block a new request")
}

func TestReleaseGuardedByRequestID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req := pending("p1", 30*time.Second)
	_, err := store.TryReserve(ctx, req, time.Second)
	require.NoError(t, err)

	ok, err := store.Release(ctx, "p1", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Release(ctx, "p1", req.RequestID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Release(ctx, "p1", req.RequestID)
	require.NoError(t, err)
	assert.False(t, ok, "double release is a no-op")
}
