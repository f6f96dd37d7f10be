package matchmaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchhub/matchhub/internal/domain/bot"
	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/infrastructure/memory"
)

func newFallbackFixture(t *testing.T) (*FallbackScheduler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	scheduler := NewFallbackScheduler(store, bot.NewStaticPool(bot.DefaultRoster()), bot.RandomStrategy{}, nil, zerolog.Nop())
	t.Cleanup(scheduler.Shutdown)
	return scheduler, store
}

func createQuick(t *testing.T, store *memory.Store, guest bool) *session.Session {
	t.Helper()
	s := &session.Session{
		Kind:         session.KindQuick,
		Mode:         "duel",
		Capacity:     2,
		GuestHosted:  guest,
		Participants: []session.ParticipantRef{{PlayerID: "host", Stats: session.StatsSummary{Rating: 1100}}},
	}
	require.NoError(t, store.Create(context.Background(), s))
	return s
}

func TestFallbackFiresAndJoinsBot(t *testing.T) {
	scheduler, store := newFallbackFixture(t)
	s := createQuick(t, store, false)

	scheduler.Arm(s, 10*time.Millisecond)
	require.Equal(t, 1, scheduler.Armed())

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), s.ID)
		return err == nil && got.Status == session.StatusMatched
	}, time.Second, 5*time.Millisecond)

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, 2)
	botRef := got.Participants[1]
	assert.True(t, botRef.IsBot)
	assert.True(t, botRef.Ready, "bots join ready")
	assert.True(t, bot.IsBotID(botRef.PlayerID))
	assert.Equal(t, 0, scheduler.Armed())
}

func TestGuestFallbackDrawsFromEasyPool(t *testing.T) {
	scheduler, store := newFallbackFixture(t)
	s := createQuick(t, store, true)

	scheduler.Arm(s, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), s.ID)
		return err == nil && got.Status == session.StatusMatched
	}, time.Second, 5*time.Millisecond)

	easy, err := bot.NewStaticPool(bot.DefaultRoster()).ByDifficulty(context.Background(), bot.DifficultyEasy)
	require.NoError(t, err)
	easyIDs := make(map[string]bool, len(easy))
	for _, b := range easy {
		easyIDs[b.ID] = true
	}

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, easyIDs[got.Participants[1].PlayerID], "guest sessions only get easy bots")
}

func TestCancelDisarmsBeforeFire(t *testing.T) {
	scheduler, store := newFallbackFixture(t)
	s := createQuick(t, store, false)

	scheduler.Arm(s, 50*time.Millisecond)
	scheduler.Cancel(s.ID)
	scheduler.Cancel(s.ID) // idempotent

	time.Sleep(120 * time.Millisecond)
	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaiting, got.Status)
	assert.Len(t, got.Participants, 1)
	assert.Equal(t, 0, scheduler.Armed())
}

func TestHumanJoinWinsTheRace(t *testing.T) {
	scheduler, store := newFallbackFixture(t)
	s := createQuick(t, store, false)

	scheduler.Arm(s, 20*time.Millisecond)
	_, err := store.TransactionalJoin(context.Background(), s.ID, session.ParticipantRef{PlayerID: "human2"})
	require.NoError(t, err)

	// Even if the timer fires, the join re-check inside the store refuses
	// the bot: the session is full.
	time.Sleep(80 * time.Millisecond)
	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, 2)
	for _, p := range got.Participants {
		assert.False(t, p.IsBot)
	}
}

func TestArmIgnoresNonQuickAndDoubleArm(t *testing.T) {
	scheduler, store := newFallbackFixture(t)

	friend := &session.Session{
		Kind:         session.KindFriend,
		Mode:         "duel",
		Capacity:     2,
		AllowList:    []string{"host", "guest"},
		Participants: []session.ParticipantRef{{PlayerID: "host"}},
	}
	require.NoError(t, store.Create(context.Background(), friend))
	scheduler.Arm(friend, 10*time.Millisecond)
	assert.Equal(t, 0, scheduler.Armed(), "friend sessions never get bot fallback")

	quick := createQuick(t, store, false)
	scheduler.Arm(quick, time.Hour)
	scheduler.Arm(quick, time.Millisecond)
	assert.Equal(t, 1, scheduler.Armed(), "second arm for the same session is ignored")

	time.Sleep(50 * time.Millisecond)
	got, err := store.Get(context.Background(), quick.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaiting, got.Status, "ignored double arm must not fire")
}

func TestCancelledSessionNeverGetsBot(t *testing.T) {
	scheduler, store := newFallbackFixture(t)
	s := createQuick(t, store, false)

	scheduler.Arm(s, 20*time.Millisecond)
	_, err := store.Transition(context.Background(), s.ID, session.TransitionRequest{
		To:    session.StatusCancelled,
		Cause: session.CauseRequested,
	})
	require.NoError(t, err)

	// The timer may still fire; the status re-check drops the bot join.
	time.Sleep(80 * time.Millisecond)
	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, got.Status)
	assert.Len(t, got.Participants, 1)
}

func TestArmAndCancelConcurrently(t *testing.T) {
	scheduler, store := newFallbackFixture(t)

	// The create-then-join path runs Arm and Cancel from different
	// goroutines; neither order may corrupt the timer table.
	var wg sync.WaitGroup
	sessions := make([]*session.Session, 50)
	for i := range sessions {
		sessions[i] = createQuick(t, store, false)
	}
	for _, s := range sessions {
		s := s
		wg.Add(2)
		go func() {
			defer wg.Done()
			scheduler.Arm(s, time.Hour)
		}()
		go func() {
			defer wg.Done()
			scheduler.Cancel(s.ID)
		}()
	}
	wg.Wait()

	// Whichever side won each race, a final cancel settles every timer.
	for _, s := range sessions {
		scheduler.Cancel(s.ID)
	}
	assert.Equal(t, 0, scheduler.Armed())
}

func TestShutdownDisarmsEverything(t *testing.T) {
	scheduler, store := newFallbackFixture(t)
	for i := 0; i < 3; i++ {
		scheduler.Arm(createQuick(t, store, false), time.Hour)
	}
	require.Equal(t, 3, scheduler.Armed())
	scheduler.Shutdown()
	assert.Equal(t, 0, scheduler.Armed())
}
