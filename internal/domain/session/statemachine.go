package session

// Status represents the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusMatched   Status = "matched"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusAbandoned Status = "abandoned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusMatched, StatusActive, StatusCompleted,
		StatusCancelled, StatusExpired, StatusAbandoned:
		return true
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusAbandoned:
		return true
	}
	return false
}

// Cause tags why a transition is being attempted.
type Cause string

const (
	CauseTimeout            Cause = "timeout"
	CausePlayerDisconnect   Cause = "player_disconnect"
	CausePlayerLeft         Cause = "player_left"
	CauseSecondPlayerJoined Cause = "second_player_joined"
	CauseBotJoined          Cause = "bot_joined"
	CauseAllReady           Cause = "all_ready"
	CauseMatchFinished      Cause = "match_finished"
	CauseRequested          Cause = "requested"
	CauseRevalidate         Cause = "revalidate"
)

// TransitionContext carries the session facts a transition is validated
// against.
type TransitionContext struct {
	ParticipantCount int
	Capacity         int
	Kind             Kind
	Cause            Cause
}

var transitions = map[Status][]Status{
	StatusWaiting:   {StatusWaiting, StatusMatched, StatusCancelled, StatusExpired},
	StatusMatched:   {StatusActive, StatusWaiting, StatusCancelled, StatusAbandoned},
	StatusActive:    {StatusCompleted, StatusAbandoned, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusAbandoned: {},
}

// CanTransition validates a session status transition. It is pure: the
// result depends only on from, to and ctx. A false result carries a
// human-readable reason.
func CanTransition(from, to Status, ctx TransitionContext) (bool, string) {
	if !from.Valid() {
		return false, "unknown status " + string(from)
	}
	if !to.Valid() {
		return false, "unknown status " + string(to)
	}

	allowed := false
	for _, s := range transitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, "transition " + string(from) + " -> " + string(to) + " is not allowed"
	}

	switch {
	case from == StatusWaiting && to == StatusWaiting:
		// Self-loop exists so a friend session can re-validate while a
		// pending guest keeps it alive. Any other use is a bug.
		if ctx.Kind != KindFriend || ctx.Cause != CauseRevalidate {
			return false, "waiting self-transition is reserved for friend session revalidation"
		}
	case from == StatusWaiting && to == StatusMatched:
		if ctx.ParticipantCount != ctx.Capacity {
			return false, "insufficient participants"
		}
	case from == StatusMatched && to == StatusWaiting:
		if ctx.ParticipantCount < 1 {
			return false, "empty session must be cancelled or expired, not re-queued"
		}
	}

	return true, ""
}
