// Package dedup keeps each player down to a single in-flight matchmaking
// request and throttles request bursts from retrying clients.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matchhub/matchhub/internal/domain/session"
)

// DefaultTTL self-expires admitted requests that were never completed.
const DefaultTTL = 30 * time.Second

// DefaultThrottle is the minimum spacing between a player's requests.
const DefaultThrottle = 3 * time.Second

// PendingRequest is a player's single live matchmaking admission.
type PendingRequest struct {
	RequestID uuid.UUID
	PlayerID  string
	Kind      session.Kind
	Mode      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AdmissionStore records pending requests. The in-memory store covers a
// single process; the Redis store extends the one-request-per-player
// invariant across coordinator instances.
type AdmissionStore interface {
	// TryReserve atomically records req as the player's pending request.
	// A non-zero wait means the reservation was refused because an
	// earlier request is still pending or the throttle window has not
	// elapsed. Every attempt, refused or not, re-arms the throttle.
	TryReserve(ctx context.Context, req *PendingRequest, throttle time.Duration) (time.Duration, error)

	// Release removes the pending request only while it still belongs to
	// requestID, so a late expiry never clobbers a newer request.
	Release(ctx context.Context, playerID string, requestID uuid.UUID) (bool, error)
}

// Guard admits matchmaking requests through an AdmissionStore and
// self-expires admissions that are never completed.
type Guard struct {
	store    AdmissionStore
	ttl      time.Duration
	throttle time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func NewGuard(store AdmissionStore, ttl, throttle time.Duration, logger zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Guard{
		store:    store,
		ttl:      ttl,
		throttle: throttle,
		logger:   logger.With().Str("service", "dedup").Logger(),
		now:      time.Now,
		timers:   make(map[uuid.UUID]*time.Timer),
	}
}

// WithClock overrides the time source for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// TryAdmit registers a matchmaking request for playerID. Rejections are
// *session.DuplicateRequestError carrying the suggested wait.
func (g *Guard) TryAdmit(ctx context.Context, playerID string, kind session.Kind, mode string) (uuid.UUID, error) {
	now := g.now()
	req := &PendingRequest{
		RequestID: uuid.New(),
		PlayerID:  playerID,
		Kind:      kind,
		Mode:      mode,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	}

	wait, err := g.store.TryReserve(ctx, req, g.throttle)
	if err != nil {
		return uuid.Nil, fmt.Errorf("admission store: %w: %v", session.ErrStoreUnavailable, err)
	}
	if wait > 0 {
		return uuid.Nil, &session.DuplicateRequestError{PlayerID: playerID, Wait: wait}
	}

	// Self-expiry: remove the entry if the caller never completes. The
	// store re-checks the request id, so a late timer cannot clobber a
	// newer request.
	g.mu.Lock()
	g.timers[req.RequestID] = time.AfterFunc(g.ttl, func() {
		g.forget(req.RequestID)
		if ok, err := g.store.Release(context.Background(), playerID, req.RequestID); err != nil {
			g.logger.Warn().Err(err).Str("player_id", playerID).Msg("admission expiry release failed")
		} else if ok {
			g.logger.Debug().Str("player_id", playerID).Stringer("request_id", req.RequestID).Msg("admission expired")
		}
	})
	g.mu.Unlock()

	return req.RequestID, nil
}

// Complete releases the admission after a successful find-or-create.
func (g *Guard) Complete(ctx context.Context, playerID string, requestID uuid.UUID) {
	g.release(ctx, playerID, requestID)
}

// Cancel releases the admission on a failure path so the player can retry
// without waiting out the TTL. Best-effort; self-expiry covers misses.
func (g *Guard) Cancel(ctx context.Context, playerID string, requestID uuid.UUID, reason string) {
	g.logger.Debug().Str("player_id", playerID).Str("reason", reason).Msg("admission cancelled")
	g.release(ctx, playerID, requestID)
}

// InFlight counts admissions with a live expiry timer in this process.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

func (g *Guard) release(ctx context.Context, playerID string, requestID uuid.UUID) {
	if requestID == uuid.Nil {
		return
	}
	if t := g.forget(requestID); t != nil {
		t.Stop()
	}
	if _, err := g.store.Release(ctx, playerID, requestID); err != nil {
		g.logger.Warn().Err(err).Str("player_id", playerID).Msg("admission release failed")
	}
}

func (g *Guard) forget(requestID uuid.UUID) *time.Timer {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.timers[requestID]
	delete(g.timers, requestID)
	return t
}
