package session

import "time"

// NewTransitionContext snapshots the fields CanTransition needs from a
// freshly read session document.
func NewTransitionContext(s *Session, cause Cause) TransitionContext {
	return TransitionContext{
		ParticipantCount: len(s.Participants),
		Capacity:         s.Capacity,
		Kind:             s.Kind,
		Cause:            cause,
	}
}

// ValidateJoin re-checks every join precondition against the current
// document. Both store backends call this inside their transaction so
// they reject identically.
func ValidateJoin(s *Session, p ParticipantRef, now time.Time) error {
	if s.HasParticipant(p.PlayerID) {
		return ErrAlreadyJoined
	}
	switch s.Status {
	case StatusWaiting:
	case StatusMatched, StatusActive:
		return ErrSessionFull
	default:
		return ErrSessionExpired
	}
	if s.IsExpired(now) {
		return ErrSessionExpired
	}
	if !s.Allows(p.PlayerID) {
		return ErrNotAllowed
	}
	if s.SkillWindow != nil && !s.SkillWindow.Contains(p.Stats.Rating) {
		return ErrNotAllowed
	}
	if !s.HasRoom() {
		return ErrSessionFull
	}
	return nil
}

// ApplyTransition mutates s for a validated status change.
func ApplyTransition(s *Session, req TransitionRequest, now time.Time) {
	s.Status = req.To
	s.UpdatedAt = now
	switch req.To {
	case StatusMatched:
		s.MatchedAt = &now
	case StatusCompleted:
		s.CompletedAt = &now
		if req.WinnerID != nil {
			w := *req.WinnerID
			s.WinnerID = &w
		}
	}
}

// DropTarget picks the status a session lands in after a participant
// leaves. A matched session with players remaining goes back to waiting;
// an emptied session is cancelled; leaving an active match abandons it.
func DropTarget(from Status, remaining int) Status {
	switch from {
	case StatusWaiting:
		if remaining == 0 {
			return StatusCancelled
		}
		return StatusWaiting
	case StatusMatched:
		if remaining == 0 {
			return StatusCancelled
		}
		return StatusWaiting
	case StatusActive:
		return StatusAbandoned
	}
	return StatusCancelled
}
