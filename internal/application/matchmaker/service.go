// Package matchmaker orchestrates session search, creation and lifecycle:
// the primary entry point for "find or create a match".
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matchhub/matchhub/internal/application/dedup"
	"github.com/matchhub/matchhub/internal/domain/bot"
	"github.com/matchhub/matchhub/internal/domain/presence"
	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/metrics"
)

// DefaultQueryLimit caps how many waiting-pool candidates one request
// walks before creating a fresh session.
const DefaultQueryLimit = 10

// Config tunes the coordinator. SessionTTL applies to sessions created
// without an explicit per-request TTL.
type Config struct {
	SessionTTL          time.Duration
	FallbackWindow      time.Duration
	GuestFallbackWindow time.Duration
	QueryLimit          int
}

func (c *Config) defaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.FallbackWindow <= 0 {
		c.FallbackWindow = DefaultFallbackWindow
	}
	if c.GuestFallbackWindow <= 0 {
		c.GuestFallbackWindow = DefaultGuestFallbackWindow
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = DefaultQueryLimit
	}
}

// Service is the matchmaking session coordinator.
type Service struct {
	store    session.Store
	guard    *dedup.Guard
	fallback *FallbackScheduler
	presence presence.Reporter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cfg      Config
}

func NewService(
	store session.Store,
	guard *dedup.Guard,
	fallback *FallbackScheduler,
	reporter presence.Reporter,
	m *metrics.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Service {
	cfg.defaults()
	if reporter == nil {
		reporter = presence.NoopReporter{}
	}
	return &Service{
		store:    store,
		guard:    guard,
		fallback: fallback,
		presence: reporter,
		metrics:  m,
		logger:   logger.With().Str("service", "matchmaker").Logger(),
		cfg:      cfg,
	}
}

// FindOrCreateInput describes one matchmaking request. Player is the
// caller's join-time snapshot; it is copied into the session verbatim.
type FindOrCreateInput struct {
	Player      session.ParticipantRef
	Kind        session.Kind
	Mode        string
	Capacity    int
	TTL         time.Duration
	AllowList   []string
	SkillWindow *session.SkillWindow
	Guest       bool
}

// FindOrCreateResult reports which path was taken.
type FindOrCreateResult struct {
	Session *session.Session
	Created bool
}

// FindOrCreate admits the request through the dedup guard, tries to fill
// the oldest compatible waiting session and falls through to creating a
// new one. Quick sessions get a bot-fallback timer armed on creation.
func (s *Service) FindOrCreate(ctx context.Context, in FindOrCreateInput) (*FindOrCreateResult, error) {
	if err := validateRequest(in); err != nil {
		s.metrics.CountRequest("invalid")
		return nil, err
	}
	playerID := in.Player.PlayerID

	requestID, err := s.guard.TryAdmit(ctx, playerID, in.Kind, in.Mode)
	if err != nil {
		var dup *session.DuplicateRequestError
		if errors.As(err, &dup) {
			s.metrics.CountDedupRejection()
			s.metrics.CountRequest("deduplicated")
		}
		return nil, err
	}

	res, err := s.findOrCreate(ctx, in)
	if err != nil {
		s.guard.Cancel(ctx, playerID, requestID, "find-or-create failed")
		return nil, err
	}
	s.guard.Complete(ctx, playerID, requestID)
	s.reportJoined(ctx, playerID, res.Session.ID)
	return res, nil
}

func (s *Service) findOrCreate(ctx context.Context, in FindOrCreateInput) (*FindOrCreateResult, error) {
	playerID := in.Player.PlayerID

	if in.Kind.Exclusive() {
		active, err := s.store.FindActiveByPlayer(ctx, playerID)
		if err != nil {
			return nil, fmt.Errorf("active session lookup: %w", err)
		}
		for _, held := range active {
			if held.Kind.Exclusive() {
				return nil, fmt.Errorf("player %s is in session %s: %w", playerID, held.ID, session.ErrAlreadyInSession)
			}
		}
	}

	// Friend and rematch sessions are invite-only; they are never handed
	// out by the open search.
	if !in.Kind.RequiresAllowList() {
		joined, err := s.joinExisting(ctx, in)
		if err != nil {
			return nil, err
		}
		if joined != nil {
			s.fallback.Cancel(joined.ID)
			s.metrics.CountJoin("human")
			s.metrics.CountRequest("joined")
			s.logger.Info().
				Stringer("session_id", joined.ID).
				Str("player_id", playerID).
				Str("status", string(joined.Status)).
				Msg("joined waiting session")
			return &FindOrCreateResult{Session: joined}, nil
		}
	}

	created, err := s.createSession(ctx, in)
	if err != nil {
		return nil, err
	}
	if created.Kind.AllowsBotFallback() {
		window := s.cfg.FallbackWindow
		if created.GuestHosted {
			window = s.cfg.GuestFallbackWindow
		}
		s.fallback.Arm(created, window)
	}
	s.metrics.CountSessionCreated()
	s.metrics.CountRequest("created")
	s.logger.Info().
		Stringer("session_id", created.ID).
		Str("player_id", playerID).
		Str("kind", string(created.Kind)).
		Str("mode", created.Mode).
		Msg("session created")
	return &FindOrCreateResult{Session: created, Created: true}, nil
}

// joinExisting walks the waiting pool oldest-first. Losing a slot race is
// expected: the store's transactional join admits exactly one winner and
// the loser simply moves on to the next candidate.
func (s *Service) joinExisting(ctx context.Context, in FindOrCreateInput) (*session.Session, error) {
	candidates, err := s.store.Query(ctx, session.QueryFilter{
		Kind:   in.Kind,
		Mode:   in.Mode,
		Status: session.StatusWaiting,
		Limit:  s.cfg.QueryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("waiting pool query: %w", err)
	}

	for _, candidate := range candidates {
		if candidate.HasParticipant(in.Player.PlayerID) || !candidate.HasRoom() {
			continue
		}
		if in.SkillWindow != nil && !in.SkillWindow.Contains(ratingOf(candidate)) {
			continue
		}

		joined, err := s.store.TransactionalJoin(ctx, candidate.ID, in.Player)
		if err == nil {
			return joined, nil
		}
		switch {
		case errors.Is(err, session.ErrSessionFull),
			errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrAlreadyJoined),
			errors.Is(err, session.ErrNotAllowed),
			errors.Is(err, session.ErrNotFound),
			errors.Is(err, session.ErrConflict):
			continue
		default:
			return nil, fmt.Errorf("join session %s: %w", candidate.ID, err)
		}
	}
	return nil, nil
}

func (s *Service) createSession(ctx context.Context, in FindOrCreateInput) (*session.Session, error) {
	capacity := in.Capacity
	if capacity <= 0 {
		capacity = session.DefaultCapacity
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.cfg.SessionTTL
	}

	creator := in.Player
	creator.JoinedAt = time.Now()

	allowList := in.AllowList
	if in.Kind.RequiresAllowList() && !contains(allowList, creator.PlayerID) {
		allowList = append(append([]string(nil), allowList...), creator.PlayerID)
	}

	sess := &session.Session{
		ID:           uuid.New(),
		Kind:         in.Kind,
		Mode:         in.Mode,
		Status:       session.StatusWaiting,
		Capacity:     capacity,
		Participants: []session.ParticipantRef{creator},
		AllowList:    allowList,
		SkillWindow:  in.SkillWindow,
		GuestHosted:  in.Guest,
		ExpiresAt:    time.Now().Add(ttl),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess.Clone(), nil
}

// Join is the explicit-target variant used by friend invites and
// rematches. The store re-validates the allow-list inside the join
// transaction.
func (s *Service) Join(ctx context.Context, sessionID uuid.UUID, player session.ParticipantRef) (*session.Session, error) {
	if strings.TrimSpace(player.PlayerID) == "" {
		return nil, fmt.Errorf("player id is required: %w", session.ErrValidation)
	}
	if bot.IsBotID(player.PlayerID) {
		return nil, fmt.Errorf("bot participants join via the fallback scheduler: %w", session.ErrValidation)
	}

	joined, err := s.store.TransactionalJoin(ctx, sessionID, player)
	if err != nil {
		return nil, err
	}
	s.fallback.Cancel(sessionID)
	s.metrics.CountJoin("human")
	s.reportJoined(ctx, player.PlayerID, sessionID)
	s.logger.Info().
		Stringer("session_id", sessionID).
		Str("player_id", player.PlayerID).
		Str("status", string(joined.Status)).
		Msg("player joined")
	return joined, nil
}

// Leave drops a participant. A matched session with players remaining
// returns to waiting; an emptied session is cancelled; leaving an active
// match abandons it.
func (s *Service) Leave(ctx context.Context, sessionID uuid.UUID, playerID string, cause session.Cause) (*session.Session, error) {
	if cause == "" {
		cause = session.CausePlayerLeft
	}
	left, err := s.store.RemoveParticipant(ctx, sessionID, playerID, cause)
	if err != nil {
		return nil, err
	}
	if left.Status.Terminal() {
		s.fallback.Cancel(sessionID)
	}
	if err := s.presence.UpdateCurrentRoom(ctx, playerID, nil); err != nil {
		s.logger.Warn().Err(err).Str("player_id", playerID).Msg("presence room clear failed")
	}
	s.logger.Info().
		Stringer("session_id", sessionID).
		Str("player_id", playerID).
		Str("cause", string(cause)).
		Str("status", string(left.Status)).
		Msg("player left")
	return left, nil
}

// MarkReady flags a participant ready for match start.
func (s *Service) MarkReady(ctx context.Context, sessionID uuid.UUID, playerID string) (*session.Session, error) {
	return s.store.SetParticipantReady(ctx, sessionID, playerID)
}

// StartMatch moves a matched session to active once every participant is
// ready.
func (s *Service) StartMatch(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	return s.store.Transition(ctx, sessionID, session.TransitionRequest{
		To:    session.StatusActive,
		Cause: session.CauseAllReady,
		Precondition: func(sess *session.Session) error {
			if !sess.AllReady() {
				return fmt.Errorf("not all participants are ready: %w", session.ErrInvalidTransition)
			}
			return nil
		},
	})
}

// Complete finishes an active match, optionally recording the winner.
func (s *Service) Complete(ctx context.Context, sessionID uuid.UUID, winnerID *string) (*session.Session, error) {
	return s.store.Transition(ctx, sessionID, session.TransitionRequest{
		To:       session.StatusCompleted,
		Cause:    session.CauseMatchFinished,
		WinnerID: winnerID,
		Precondition: func(sess *session.Session) error {
			if winnerID != nil && !sess.HasParticipant(*winnerID) {
				return fmt.Errorf("winner %s is not a participant: %w", *winnerID, session.ErrValidation)
			}
			return nil
		},
	})
}

// Cancel aborts a session and disarms its fallback timer.
func (s *Service) Cancel(ctx context.Context, sessionID uuid.UUID, cause session.Cause) (*session.Session, error) {
	if cause == "" {
		cause = session.CauseRequested
	}
	cancelled, err := s.store.Transition(ctx, sessionID, session.TransitionRequest{
		To:    session.StatusCancelled,
		Cause: cause,
	})
	if err != nil {
		return nil, err
	}
	s.fallback.Cancel(sessionID)
	for _, p := range cancelled.Participants {
		if p.IsBot {
			continue
		}
		if err := s.presence.UpdateCurrentRoom(ctx, p.PlayerID, nil); err != nil {
			s.logger.Warn().Err(err).Str("player_id", p.PlayerID).Msg("presence room clear failed")
		}
	}
	return cancelled, nil
}

// Revalidate keeps a friend session alive while an invited guest is still
// pending, without changing its state.
func (s *Service) Revalidate(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	return s.store.Transition(ctx, sessionID, session.TransitionRequest{
		To:    session.StatusWaiting,
		Cause: session.CauseRevalidate,
	})
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Subscribe streams committed session snapshots to fn until the returned
// func is called.
func (s *Service) Subscribe(sessionID uuid.UUID, fn session.ChangeHandler) func() {
	return s.store.Subscribe(sessionID, fn)
}

// SystemStats is the operational dashboard summary.
type SystemStats struct {
	session.StoreStats
	ArmedFallbacks     int `json:"armedFallbacks"`
	InFlightAdmissions int `json:"inFlightAdmissions"`
}

// Stats summarizes the live pool and refreshes the gauges.
func (s *Service) Stats(ctx context.Context) (*SystemStats, error) {
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetPool(storeStats.ActiveSessions, storeStats.WaitingPlayers)
	return &SystemStats{
		StoreStats:         storeStats,
		ArmedFallbacks:     s.fallback.Armed(),
		InFlightAdmissions: s.guard.InFlight(),
	}, nil
}

func (s *Service) reportJoined(ctx context.Context, playerID string, sessionID uuid.UUID) {
	if err := s.presence.StartHeartbeat(ctx, playerID); err != nil {
		s.logger.Warn().Err(err).Str("player_id", playerID).Msg("presence heartbeat failed")
	}
	if err := s.presence.UpdateCurrentRoom(ctx, playerID, &sessionID); err != nil {
		s.logger.Warn().Err(err).Str("player_id", playerID).Msg("presence room update failed")
	}
}

func validateRequest(in FindOrCreateInput) error {
	if strings.TrimSpace(in.Player.PlayerID) == "" {
		return fmt.Errorf("player id is required: %w", session.ErrValidation)
	}
	if bot.IsBotID(in.Player.PlayerID) {
		return fmt.Errorf("bot participants join via the fallback scheduler: %w", session.ErrValidation)
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("unknown session kind %q: %w", in.Kind, session.ErrValidation)
	}
	if strings.TrimSpace(in.Mode) == "" {
		return fmt.Errorf("mode is required: %w", session.ErrValidation)
	}
	if in.SkillWindow != nil && in.SkillWindow.Min > in.SkillWindow.Max {
		return fmt.Errorf("skill window min exceeds max: %w", session.ErrValidation)
	}
	return nil
}

func ratingOf(s *session.Session) int {
	for _, p := range s.Participants {
		if !p.IsBot {
			return p.Stats.Rating
		}
	}
	return 0
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
