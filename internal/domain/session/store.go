package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueryFilter selects waiting-pool candidates. Results are always ordered
// by creation time ascending so the oldest session is filled first.
type QueryFilter struct {
	Kind   Kind
	Mode   string
	Status Status
	Limit  int
}

// TransitionRequest is a guarded status write. The store re-reads the
// session inside its transaction, evaluates the state machine and the
// optional Precondition against the fresh document, applies the change and
// commits.
type TransitionRequest struct {
	To       Status
	Cause    Cause
	WinnerID *string

	// Precondition, when set, runs against the freshly read session
	// before the transition is applied. Returning an error aborts the
	// write and surfaces the error unchanged.
	Precondition func(*Session) error
}

// ChangeHandler receives a snapshot after every committed mutation of a
// subscribed session. Handlers must not block.
type ChangeHandler func(*Session)

// StoreStats summarizes the live pool for dashboards.
type StoreStats struct {
	ActiveSessions  int `json:"activeSessions"`
	WaitingSessions int `json:"waitingSessions"`
	WaitingPlayers  int `json:"waitingPlayers"`
}

// Store wraps the transactional document store the coordinator persists
// sessions in. Every mutation is a read-validate-write inside a single
// transaction; there is no blind write path.
type Store interface {
	// Create inserts a new session. Timestamps are assigned by the store.
	Create(ctx context.Context, s *Session) error

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Session, error)

	// Query scans the pool by kind/mode/status, oldest first.
	Query(ctx context.Context, filter QueryFilter) ([]*Session, error)

	// TransactionalJoin appends p after re-validating capacity,
	// allow-list, expiry and current status against the freshly read
	// document. Filling the last slot flips the session to matched.
	// Surfaces ErrSessionFull, ErrSessionExpired, ErrNotAllowed,
	// ErrAlreadyJoined or ErrConflict.
	TransactionalJoin(ctx context.Context, id uuid.UUID, p ParticipantRef) (*Session, error)

	// Transition performs a state-machine-guarded status update.
	Transition(ctx context.Context, id uuid.UUID, req TransitionRequest) (*Session, error)

	// RemoveParticipant drops playerID. A matched session with a
	// participant left returns to waiting; an emptied session is
	// cancelled.
	RemoveParticipant(ctx context.Context, id uuid.UUID, playerID string, cause Cause) (*Session, error)

	// SetParticipantReady flags playerID ready inside a transaction.
	SetParticipantReady(ctx context.Context, id uuid.UUID, playerID string) (*Session, error)

	// FindActiveByPlayer returns non-terminal sessions containing playerID.
	FindActiveByPlayer(ctx context.Context, playerID string) ([]*Session, error)

	// ListExpired returns waiting/matched sessions whose deadline passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)

	// PurgeTerminal hard-deletes sessions in the given terminal statuses
	// whose last update is older than before. Returns the deleted count.
	PurgeTerminal(ctx context.Context, before time.Time, statuses []Status) (int, error)

	// Subscribe registers a change handler for one session and returns an
	// unsubscribe func. Unsubscribing twice is a no-op.
	Subscribe(id uuid.UUID, fn ChangeHandler) (unsubscribe func())

	// Delete hard-deletes one session.
	Delete(ctx context.Context, id uuid.UUID) error

	// Stats summarizes the live pool.
	Stats(ctx context.Context) (StoreStats, error)

	Close()
}
