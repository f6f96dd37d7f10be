package session

import (
	"errors"
	"fmt"
	"time"
)

// Business-rule rejections surfaced by the store and coordinator. These are
// expected outcomes, not exceptional conditions; callers branch on them with
// errors.Is.
var (
	ErrValidation        = errors.New("invalid matchmaking request")
	ErrNotFound          = errors.New("session not found")
	ErrSessionFull       = errors.New("session is full")
	ErrSessionExpired    = errors.New("session has expired")
	ErrNotAllowed        = errors.New("player is not allowed to join this session")
	ErrAlreadyJoined     = errors.New("player already joined this session")
	ErrAlreadyInSession  = errors.New("player already has an active session")
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrConflict is a transient write conflict that survived the bounded
	// retry loop; the caller may retry the whole operation.
	ErrConflict = errors.New("session write conflict")

	// ErrStoreUnavailable means the persistence collaborator is
	// unreachable. Never collapsed into ErrNotFound.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// DuplicateRequestError rejects a matchmaking admission while an earlier
// request from the same player is still pending or throttled.
type DuplicateRequestError struct {
	PlayerID string
	Wait     time.Duration
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("duplicate matchmaking request for player %s, retry in %s", e.PlayerID, e.Wait)
}

// WaitSeconds is the suggested client backoff, rounded up, at least 1.
func (e *DuplicateRequestError) WaitSeconds() int {
	secs := int((e.Wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Retryable reports whether the caller may usefully re-invoke the same
// operation after a backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}
