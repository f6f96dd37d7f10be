package session

import "testing"

func headToHead(count int, cause Cause) TransitionContext {
	return TransitionContext{
		ParticipantCount: count,
		Capacity:         2,
		Kind:             KindQuick,
		Cause:            cause,
	}
}

func TestCanTransitionLifecycle(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ctx  TransitionContext
		want bool
	}{
		{"waiting to matched at capacity", StatusWaiting, StatusMatched, headToHead(2, CauseSecondPlayerJoined), true},
		{"waiting to matched under capacity", StatusWaiting, StatusMatched, headToHead(1, CauseSecondPlayerJoined), false},
		{"waiting to cancelled", StatusWaiting, StatusCancelled, headToHead(1, CauseRequested), true},
		{"waiting to expired", StatusWaiting, StatusExpired, headToHead(1, CauseTimeout), true},
		{"waiting to active skips matched", StatusWaiting, StatusActive, headToHead(2, CauseAllReady), false},
		{"matched to active", StatusMatched, StatusActive, headToHead(2, CauseAllReady), true},
		{"matched back to waiting", StatusMatched, StatusWaiting, headToHead(1, CausePlayerLeft), true},
		{"matched back to waiting when empty", StatusMatched, StatusWaiting, headToHead(0, CausePlayerLeft), false},
		{"matched to abandoned", StatusMatched, StatusAbandoned, headToHead(2, CauseTimeout), true},
		{"active to completed", StatusActive, StatusCompleted, headToHead(2, CauseMatchFinished), true},
		{"active to abandoned", StatusActive, StatusAbandoned, headToHead(1, CausePlayerDisconnect), true},
		{"active back to waiting", StatusActive, StatusWaiting, headToHead(1, CausePlayerLeft), false},
		{"completed is terminal", StatusCompleted, StatusWaiting, headToHead(2, CauseRequested), false},
		{"cancelled is terminal", StatusCancelled, StatusActive, headToHead(2, CauseRequested), false},
		{"expired is terminal", StatusExpired, StatusWaiting, headToHead(1, CauseRequested), false},
		{"abandoned is terminal", StatusAbandoned, StatusActive, headToHead(2, CauseRequested), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := CanTransition(tc.from, tc.to, tc.ctx)
			if got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v (%s), want %v", tc.from, tc.to, got, reason, tc.want)
			}
			if !got && reason == "" {
				t.Fatal("rejection must carry a reason")
			}
		})
	}
}

func TestWaitingSelfLoopIsFriendRevalidateOnly(t *testing.T) {
	friend := TransitionContext{ParticipantCount: 1, Capacity: 2, Kind: KindFriend, Cause: CauseRevalidate}
	if ok, reason := CanTransition(StatusWaiting, StatusWaiting, friend); !ok {
		t.Fatalf("friend revalidate self-loop rejected: %s", reason)
	}

	quick := TransitionContext{ParticipantCount: 1, Capacity: 2, Kind: KindQuick, Cause: CauseRevalidate}
	if ok, _ := CanTransition(StatusWaiting, StatusWaiting, quick); ok {
		t.Fatal("quick session must not self-loop in waiting")
	}

	friendOtherCause := TransitionContext{ParticipantCount: 1, Capacity: 2, Kind: KindFriend, Cause: CauseRequested}
	if ok, _ := CanTransition(StatusWaiting, StatusWaiting, friendOtherCause); ok {
		t.Fatal("friend self-loop must require the revalidate cause")
	}
}

func TestCanTransitionUnknownStatus(t *testing.T) {
	if ok, _ := CanTransition("limbo", StatusWaiting, headToHead(1, CauseRequested)); ok {
		t.Fatal("unknown from-status accepted")
	}
	if ok, _ := CanTransition(StatusWaiting, "limbo", headToHead(1, CauseRequested)); ok {
		t.Fatal("unknown to-status accepted")
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusExpired, StatusAbandoned}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Fatalf("%s has outgoing transitions", s)
		}
	}
	for _, s := range []Status{StatusWaiting, StatusMatched, StatusActive} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
