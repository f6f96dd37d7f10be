// Package memory implements the session store over process-local state.
// It is the default for tests and single-process deployments; the
// postgres store provides the same contract with durable storage.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matchhub/matchhub/internal/domain/session"
)

// Store implements session.Store with a single mutex standing in for the
// document store's transaction isolation: each mutation re-validates
// against the current document while holding the lock, so concurrent
// joins serialize exactly like competing transactions.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	subs     map[uuid.UUID]map[int]session.ChangeHandler
	nextSub  int
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*session.Session),
		subs:     make(map[uuid.UUID]map[int]session.ChangeHandler),
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (st *Store) WithClock(now func() time.Time) *Store {
	st.now = now
	return st
}

func (st *Store) Create(ctx context.Context, s *session.Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, exists := st.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists: %w", s.ID, session.ErrConflict)
	}
	now := st.now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = session.StatusWaiting
	}
	if s.Capacity <= 0 {
		s.Capacity = session.DefaultCapacity
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(session.DefaultTTL)
	}
	st.sessions[s.ID] = s.Clone()
	return nil
}

func (st *Store) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s.Clone(), nil
}

func (st *Store) Query(ctx context.Context, filter session.QueryFilter) ([]*session.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*session.Session, 0)
	for _, s := range st.sessions {
		if filter.Kind != "" && s.Kind != filter.Kind {
			continue
		}
		if filter.Mode != "" && s.Mode != filter.Mode {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (st *Store) TransactionalJoin(ctx context.Context, id uuid.UUID, p session.ParticipantRef) (*session.Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return nil, session.ErrNotFound
	}
	if err := session.ValidateJoin(s, p, st.now()); err != nil {
		st.mu.Unlock()
		return nil, err
	}

	now := st.now()
	p.JoinedAt = now
	s.Participants = append(s.Participants, p)
	s.UpdatedAt = now
	if len(s.Participants) == s.Capacity {
		if ok, reason := session.CanTransition(s.Status, session.StatusMatched, session.NewTransitionContext(s, session.CauseSecondPlayerJoined)); !ok {
			// Unreachable given validateJoin, kept as a tripwire.
			st.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", reason, session.ErrInvalidTransition)
		}
		s.Status = session.StatusMatched
		s.MatchedAt = &now
	}
	snapshot := s.Clone()
	handlers := st.handlersLocked(id)
	st.mu.Unlock()

	notify(handlers, snapshot)
	return snapshot, nil
}

func (st *Store) Transition(ctx context.Context, id uuid.UUID, req session.TransitionRequest) (*session.Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return nil, session.ErrNotFound
	}
	if ok, reason := session.CanTransition(s.Status, req.To, session.NewTransitionContext(s, req.Cause)); !ok {
		st.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", reason, session.ErrInvalidTransition)
	}
	if req.Precondition != nil {
		if err := req.Precondition(s.Clone()); err != nil {
			st.mu.Unlock()
			return nil, err
		}
	}

	now := st.now()
	session.ApplyTransition(s, req, now)
	snapshot := s.Clone()
	handlers := st.handlersLocked(id)
	st.mu.Unlock()

	notify(handlers, snapshot)
	return snapshot, nil
}

func (st *Store) RemoveParticipant(ctx context.Context, id uuid.UUID, playerID string, cause session.Cause) (*session.Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return nil, session.ErrNotFound
	}
	if s.Status.Terminal() {
		st.mu.Unlock()
		return nil, fmt.Errorf("session already %s: %w", s.Status, session.ErrInvalidTransition)
	}
	if !s.HasParticipant(playerID) {
		st.mu.Unlock()
		return nil, fmt.Errorf("participant %s: %w", playerID, session.ErrNotFound)
	}

	kept := s.Participants[:0:0]
	for _, q := range s.Participants {
		if q.PlayerID != playerID {
			kept = append(kept, q)
		}
	}
	s.Participants = kept

	to := session.DropTarget(s.Status, len(kept))
	if to != s.Status {
		if ok, reason := session.CanTransition(s.Status, to, session.NewTransitionContext(s, cause)); !ok {
			st.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", reason, session.ErrInvalidTransition)
		}
	}
	now := st.now()
	if s.Status == session.StatusMatched && to == session.StatusWaiting {
		// The match broke; remaining players re-confirm.
		for i := range s.Participants {
			s.Participants[i].Ready = false
		}
		s.MatchedAt = nil
	}
	s.Status = to
	s.UpdatedAt = now
	snapshot := s.Clone()
	handlers := st.handlersLocked(id)
	st.mu.Unlock()

	notify(handlers, snapshot)
	return snapshot, nil
}

func (st *Store) SetParticipantReady(ctx context.Context, id uuid.UUID, playerID string) (*session.Session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return nil, session.ErrNotFound
	}
	if s.Status != session.StatusWaiting && s.Status != session.StatusMatched {
		st.mu.Unlock()
		return nil, fmt.Errorf("cannot ready up in status %s: %w", s.Status, session.ErrInvalidTransition)
	}
	p := s.Participant(playerID)
	if p == nil {
		st.mu.Unlock()
		return nil, fmt.Errorf("participant %s: %w", playerID, session.ErrNotFound)
	}
	p.Ready = true
	s.UpdatedAt = st.now()
	snapshot := s.Clone()
	handlers := st.handlersLocked(id)
	st.mu.Unlock()

	notify(handlers, snapshot)
	return snapshot, nil
}

func (st *Store) FindActiveByPlayer(ctx context.Context, playerID string) ([]*session.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*session.Session, 0)
	for _, s := range st.sessions {
		if !s.Status.Terminal() && s.HasParticipant(playerID) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (st *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*session.Session, 0)
	for _, s := range st.sessions {
		if s.Status != session.StatusWaiting && s.Status != session.StatusMatched {
			continue
		}
		if s.IsExpired(now) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *Store) PurgeTerminal(ctx context.Context, before time.Time, statuses []session.Status) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if !s.UpdatedAt.Before(before) {
			continue
		}
		for _, status := range statuses {
			if s.Status == status {
				delete(st.sessions, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (st *Store) Subscribe(id uuid.UUID, fn session.ChangeHandler) func() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.subs[id] == nil {
		st.subs[id] = make(map[int]session.ChangeHandler)
	}
	token := st.nextSub
	st.nextSub++
	st.subs[id][token] = fn

	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if handlers, ok := st.subs[id]; ok {
			delete(handlers, token)
			if len(handlers) == 0 {
				delete(st.subs, id)
			}
		}
	}
}

func (st *Store) Delete(ctx context.Context, id uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(st.sessions, id)
	return nil
}

func (st *Store) Stats(ctx context.Context) (session.StoreStats, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var stats session.StoreStats
	for _, s := range st.sessions {
		if s.Status.Terminal() {
			continue
		}
		stats.ActiveSessions++
		if s.Status == session.StatusWaiting {
			stats.WaitingSessions++
			stats.WaitingPlayers += s.HumanCount()
		}
	}
	return stats, nil
}

func (st *Store) Close() {}

func (st *Store) handlersLocked(id uuid.UUID) []session.ChangeHandler {
	handlers := make([]session.ChangeHandler, 0, len(st.subs[id]))
	for _, fn := range st.subs[id] {
		handlers = append(handlers, fn)
	}
	return handlers
}

func notify(handlers []session.ChangeHandler, snapshot *session.Session) {
	for _, fn := range handlers {
		fn(snapshot.Clone())
	}
}
