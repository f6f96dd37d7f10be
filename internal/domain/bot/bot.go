package bot

import (
	"context"
	"strings"
	"time"

	"github.com/matchhub/matchhub/internal/domain/session"
)

// Difficulty buckets the bot roster.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// IDPrefix marks synthetic participant ids so downstream consumers can
// tell bots from humans without a lookup.
const IDPrefix = "bot:"

// IsBotID reports whether a participant id belongs to a bot.
func IsBotID(playerID string) bool {
	return strings.HasPrefix(playerID, IDPrefix)
}

// Profile is a synthetic opponent. Stats and cosmetics are snapshotted
// into the session exactly like a human participant's.
type Profile struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"displayName"`
	Difficulty  Difficulty           `json:"difficulty"`
	Rating      int                  `json:"rating"`
	Stats       session.StatsSummary `json:"stats"`
	Cosmetics   map[string]string    `json:"cosmetics,omitempty"`
	Active      bool                 `json:"active"`
}

// Participant converts the profile into a session participant snapshot.
func (p Profile) Participant(now time.Time) session.ParticipantRef {
	return session.ParticipantRef{
		PlayerID:    p.ID,
		DisplayName: p.DisplayName,
		IsBot:       true,
		Ready:       true,
		Stats:       p.Stats,
		JoinedAt:    now,
	}
}

// Pool exposes the bot roster.
type Pool interface {
	Active(ctx context.Context) ([]Profile, error)
	ByDifficulty(ctx context.Context, d Difficulty) ([]Profile, error)
}

// StaticPool is an in-process roster, seeded at startup.
type StaticPool struct {
	profiles []Profile
}

func NewStaticPool(profiles []Profile) *StaticPool {
	return &StaticPool{profiles: profiles}
}

func (p *StaticPool) Active(ctx context.Context) ([]Profile, error) {
	out := make([]Profile, 0, len(p.profiles))
	for _, b := range p.profiles {
		if b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *StaticPool) ByDifficulty(ctx context.Context, d Difficulty) ([]Profile, error) {
	out := make([]Profile, 0, len(p.profiles))
	for _, b := range p.profiles {
		if b.Active && b.Difficulty == d {
			out = append(out, b)
		}
	}
	return out, nil
}

// DefaultRoster is the built-in roster used when no external roster is
// configured.
func DefaultRoster() []Profile {
	return []Profile{
		{ID: IDPrefix + "scout", DisplayName: "Scout", Difficulty: DifficultyEasy, Rating: 900, Stats: session.StatsSummary{GamesPlayed: 120, Wins: 41, Rating: 900}, Active: true},
		{ID: IDPrefix + "drifter", DisplayName: "Drifter", Difficulty: DifficultyEasy, Rating: 1000, Stats: session.StatsSummary{GamesPlayed: 200, Wins: 88, Rating: 1000}, Active: true},
		{ID: IDPrefix + "warden", DisplayName: "Warden", Difficulty: DifficultyNormal, Rating: 1200, Stats: session.StatsSummary{GamesPlayed: 340, Wins: 170, Rating: 1200}, Active: true},
		{ID: IDPrefix + "harrier", DisplayName: "Harrier", Difficulty: DifficultyNormal, Rating: 1350, Stats: session.StatsSummary{GamesPlayed: 410, Wins: 228, WinStreak: 2, Rating: 1350}, Active: true},
		{ID: IDPrefix + "tempest", DisplayName: "Tempest", Difficulty: DifficultyHard, Rating: 1600, Stats: session.StatsSummary{GamesPlayed: 600, Wins: 402, WinStreak: 5, Rating: 1600}, Active: true},
	}
}
