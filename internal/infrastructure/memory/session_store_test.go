package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/matchhub/matchhub/internal/domain/session"
)

func newWaiting(t *testing.T, st *Store, capacity int, players ...string) *session.Session {
	t.Helper()
	s := &session.Session{
		Kind:     session.KindQuick,
		Mode:     "duel",
		Capacity: capacity,
	}
	for _, p := range players {
		s.Participants = append(s.Participants, session.ParticipantRef{PlayerID: p})
	}
	if err := st.Create(context.Background(), s); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestCreateAssignsDefaults(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 0, "a")

	got, err := st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != session.StatusWaiting {
		t.Fatalf("status = %s, want waiting", got.Status)
	}
	if got.Capacity != session.DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", got.Capacity, session.DefaultCapacity)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() || got.ExpiresAt.IsZero() {
		t.Fatal("timestamps not assigned")
	}
}

func TestGetUnknownSession(t *testing.T) {
	st := NewStore()
	if _, err := st.Get(context.Background(), uuid.New()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJoinFillsAndFlipsToMatched(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")

	joined, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "b"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Status != session.StatusMatched {
		t.Fatalf("status = %s, want matched", joined.Status)
	}
	if joined.MatchedAt == nil {
		t.Fatal("MatchedAt not set")
	}
	if len(joined.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(joined.Participants))
	}
}

func TestConcurrentJoinAdmitsExactlyOne(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "host")

	const contenders = 32
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{
				PlayerID: fmt.Sprintf("p%d", i),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, session.ErrSessionFull) {
			t.Fatalf("loser got %v, want ErrSessionFull", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	final, err := st.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(final.Participants) != final.Capacity {
		t.Fatalf("participants = %d, capacity = %d", len(final.Participants), final.Capacity)
	}
}

func TestTransitionRunsPreconditionOnFreshDoc(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")
	if _, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	sentinel := errors.New("not yet")
	_, err := st.Transition(context.Background(), s.ID, session.TransitionRequest{
		To:    session.StatusActive,
		Cause: session.CauseAllReady,
		Precondition: func(fresh *session.Session) error {
			if !fresh.AllReady() {
				return sentinel
			}
			return nil
		},
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want precondition error surfaced unchanged", err)
	}

	for _, p := range []string{"a", "b"} {
		if _, err := st.SetParticipantReady(context.Background(), s.ID, p); err != nil {
			t.Fatalf("ready %s: %v", p, err)
		}
	}
	started, err := st.Transition(context.Background(), s.ID, session.TransitionRequest{
		To:    session.StatusActive,
		Cause: session.CauseAllReady,
		Precondition: func(fresh *session.Session) error {
			if !fresh.AllReady() {
				return sentinel
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != session.StatusActive {
		t.Fatalf("status = %s, want active", started.Status)
	}
}

func TestCompleteRecordsWinner(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")
	if _, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := st.Transition(context.Background(), s.ID, session.TransitionRequest{To: session.StatusActive, Cause: session.CauseAllReady}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	winner := "b"
	done, err := st.Transition(context.Background(), s.ID, session.TransitionRequest{
		To:       session.StatusCompleted,
		Cause:    session.CauseMatchFinished,
		WinnerID: &winner,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || done.WinnerID == nil || *done.WinnerID != "b" {
		t.Fatalf("completion fields not recorded: %+v", done)
	}
}

func TestRemoveParticipantFromMatchedResetsReadiness(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")
	if _, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := st.SetParticipantReady(context.Background(), s.ID, "a"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	left, err := st.RemoveParticipant(context.Background(), s.ID, "b", session.CausePlayerLeft)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if left.Status != session.StatusWaiting {
		t.Fatalf("status = %s, want waiting", left.Status)
	}
	if left.MatchedAt != nil {
		t.Fatal("MatchedAt should be cleared when the match breaks")
	}
	if left.Participants[0].Ready {
		t.Fatal("remaining player's readiness should reset")
	}
}

func TestRemoveLastParticipantCancels(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")
	left, err := st.RemoveParticipant(context.Background(), s.ID, "a", session.CausePlayerLeft)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if left.Status != session.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", left.Status)
	}
}

func TestRemoveFromActiveAbandons(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")
	if _, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := st.Transition(context.Background(), s.ID, session.TransitionRequest{To: session.StatusActive, Cause: session.CauseAllReady}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	left, err := st.RemoveParticipant(context.Background(), s.ID, "a", session.CausePlayerDisconnect)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if left.Status != session.StatusAbandoned {
		t.Fatalf("status = %s, want abandoned", left.Status)
	}
}

func TestQueryOrdersOldestFirst(t *testing.T) {
	base := time.Now()
	tick := 0
	st := NewStore().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		s := newWaiting(t, st, 2, fmt.Sprintf("p%d", i))
		ids = append(ids, s.ID)
	}

	got, err := st.Query(context.Background(), session.QueryFilter{
		Kind:   session.KindQuick,
		Mode:   "duel",
		Status: session.StatusWaiting,
		Limit:  2,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want limit 2", len(got))
	}
	if got[0].ID != ids[0] || got[1].ID != ids[1] {
		t.Fatal("query not ordered by creation time")
	}
}

func TestListExpiredAndPurge(t *testing.T) {
	base := time.Now()
	st := NewStore().WithClock(func() time.Time { return base })

	fresh := newWaiting(t, st, 2, "a")
	stale := &session.Session{
		Kind:      session.KindQuick,
		Mode:      "duel",
		Capacity:  2,
		ExpiresAt: base.Add(-time.Minute),
		Participants: []session.ParticipantRef{
			{PlayerID: "b"},
		},
	}
	if err := st.Create(context.Background(), stale); err != nil {
		t.Fatalf("create: %v", err)
	}

	expired, err := st.ListExpired(context.Background(), base, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("expired = %v, want just the stale session", expired)
	}

	if _, err := st.Transition(context.Background(), stale.ID, session.TransitionRequest{To: session.StatusExpired, Cause: session.CauseTimeout}); err != nil {
		t.Fatalf("expire: %v", err)
	}

	n, err := st.PurgeTerminal(context.Background(), base.Add(time.Hour), []session.Status{session.StatusExpired})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if _, err := st.Get(context.Background(), fresh.ID); err != nil {
		t.Fatalf("fresh session should survive the purge: %v", err)
	}
}

func TestSubscribeReceivesCommittedSnapshots(t *testing.T) {
	st := NewStore()
	s := newWaiting(t, st, 2, "a")

	var mu sync.Mutex
	var seen []session.Status
	unsubscribe := st.Subscribe(s.ID, func(snapshot *session.Session) {
		mu.Lock()
		seen = append(seen, snapshot.Status)
		mu.Unlock()
	})

	if _, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	unsubscribe()
	unsubscribe() // second call is a no-op
	if _, err := st.Transition(context.Background(), s.ID, session.TransitionRequest{To: session.StatusActive, Cause: session.CauseAllReady}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != session.StatusMatched {
		t.Fatalf("seen = %v, want one matched snapshot", seen)
	}
}

func TestStatsCountsWaitingHumans(t *testing.T) {
	st := NewStore()
	newWaiting(t, st, 2, "a")
	s := newWaiting(t, st, 2, "b")
	if _, err := st.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "bot:x", IsBot: true, Ready: true}); err != nil {
		t.Fatalf("bot join: %v", err)
	}

	stats, err := st.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ActiveSessions != 2 {
		t.Fatalf("active = %d, want 2", stats.ActiveSessions)
	}
	if stats.WaitingSessions != 1 || stats.WaitingPlayers != 1 {
		t.Fatalf("waiting = %d sessions / %d players, want 1/1", stats.WaitingSessions, stats.WaitingPlayers)
	}
}
