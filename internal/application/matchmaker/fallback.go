package matchmaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matchhub/matchhub/internal/domain/bot"
	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/metrics"
)

// DefaultFallbackWindow bounds how long a quick session waits for a human
// opponent before a bot is substituted.
const DefaultFallbackWindow = 10 * time.Second

// DefaultGuestFallbackWindow is the shorter window for guest-hosted
// sessions, which only draw from the easy bot pool.
const DefaultGuestFallbackWindow = 2 * time.Second

const fireTimeout = 10 * time.Second

// Per-timer lifecycle. The CAS on this field is what makes firing
// exactly-once structural rather than incidental.
const (
	fallbackArmed int32 = iota
	fallbackFired
	fallbackCancelled
)

type fallbackTimer struct {
	state atomic.Int32
	timer *time.Timer
	guest bool
}

// FallbackScheduler arms one single-shot bot-substitution timer per quick
// session and races it against human matchmaking. A timer fires at most
// once; cancelling a fired or already-cancelled timer is a no-op.
type FallbackScheduler struct {
	store    session.Store
	pool     bot.Pool
	strategy bot.Strategy
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*fallbackTimer
}

func NewFallbackScheduler(store session.Store, pool bot.Pool, strategy bot.Strategy, m *metrics.Metrics, logger zerolog.Logger) *FallbackScheduler {
	return &FallbackScheduler{
		store:    store,
		pool:     pool,
		strategy: strategy,
		metrics:  m,
		logger:   logger.With().Str("service", "bot_fallback").Logger(),
		timers:   make(map[uuid.UUID]*fallbackTimer),
	}
}

// Arm schedules a bot substitution for s after window. Non-quick sessions
// and double arms are ignored.
func (f *FallbackScheduler) Arm(s *session.Session, window time.Duration) {
	if !s.Kind.AllowsBotFallback() {
		return
	}
	if window <= 0 {
		window = DefaultFallbackWindow
	}

	ft := &fallbackTimer{guest: s.GuestHosted}
	id := s.ID
	f.mu.Lock()
	if _, exists := f.timers[id]; exists {
		f.mu.Unlock()
		return
	}
	// The timer field must be set before the entry is published so a
	// concurrent Cancel never observes a half-built timer.
	ft.timer = time.AfterFunc(window, func() {
		f.fire(id)
	})
	f.timers[id] = ft
	f.mu.Unlock()

	f.logger.Debug().Stringer("session_id", id).Dur("window", window).Bool("guest", ft.guest).Msg("fallback armed")
}

// Cancel disarms the session's timer, typically because a human joined or
// the session was cancelled. Safe to call at any point in the timer's
// life, including after it fired, and for unknown session ids.
func (f *FallbackScheduler) Cancel(sessionID uuid.UUID) {
	f.mu.Lock()
	ft := f.timers[sessionID]
	f.mu.Unlock()
	if ft == nil {
		return
	}
	if !ft.state.CompareAndSwap(fallbackArmed, fallbackCancelled) {
		return
	}
	if ft.timer != nil {
		ft.timer.Stop()
	}
	f.forget(sessionID)
	f.logger.Debug().Stringer("session_id", sessionID).Msg("fallback cancelled")
}

// Armed counts timers still waiting to fire.
func (f *FallbackScheduler) Armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Shutdown cancels every armed timer.
func (f *FallbackScheduler) Shutdown() {
	f.mu.Lock()
	ids := make([]uuid.UUID, 0, len(f.timers))
	for id := range f.timers {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		f.Cancel(id)
	}
}

// fire injects a bot through the same transactional join path a human
// takes. Losing the race to a human join, a cancel or an expiry is a
// normal outcome, not an error.
func (f *FallbackScheduler) fire(sessionID uuid.UUID) {
	f.mu.Lock()
	ft := f.timers[sessionID]
	f.mu.Unlock()
	if ft == nil || !ft.state.CompareAndSwap(fallbackArmed, fallbackFired) {
		return
	}
	f.forget(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	s, err := f.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			f.logger.Warn().Err(err).Stringer("session_id", sessionID).Msg("fallback re-check failed")
		}
		return
	}
	if s.Status != session.StatusWaiting || !s.HasRoom() || s.IsExpired(time.Now()) {
		return
	}

	profile, err := f.pick(ctx, s, ft.guest)
	if err != nil {
		f.logger.Warn().Err(err).Stringer("session_id", sessionID).Msg("bot selection failed")
		return
	}

	joined, err := f.store.TransactionalJoin(ctx, sessionID, profile.Participant(time.Now()))
	if err != nil {
		// The capacity re-check inside the join is the second half of the
		// exactly-once guarantee: if a human slipped in, we lose cleanly.
		if errors.Is(err, session.ErrSessionFull) || errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrNotFound) {
			f.logger.Debug().Stringer("session_id", sessionID).Msg("fallback lost the race")
			return
		}
		f.logger.Error().Err(err).Stringer("session_id", sessionID).Msg("bot join failed")
		return
	}

	f.metrics.CountBotFallback()
	f.metrics.CountJoin("bot")
	f.logger.Info().
		Stringer("session_id", sessionID).
		Str("bot_id", profile.ID).
		Str("status", string(joined.Status)).
		Msg("bot substituted")
}

func (f *FallbackScheduler) pick(ctx context.Context, s *session.Session, guest bool) (*bot.Profile, error) {
	var candidates []bot.Profile
	var err error
	if guest {
		candidates, err = f.pool.ByDifficulty(ctx, bot.DifficultyEasy)
	} else {
		candidates, err = f.pool.Active(ctx)
	}
	if err != nil {
		return nil, err
	}

	opponent := session.ParticipantRef{}
	for _, p := range s.Participants {
		if !p.IsBot {
			opponent = p
			break
		}
	}
	return f.strategy.Select(candidates, opponent)
}

func (f *FallbackScheduler) forget(sessionID uuid.UUID) {
	f.mu.Lock()
	delete(f.timers, sessionID)
	f.mu.Unlock()
}
