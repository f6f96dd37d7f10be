package session

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Kind selects the matchmaking flavor of a session.
type Kind string

const (
	KindQuick      Kind = "quick"
	KindRanked     Kind = "ranked"
	KindFriend     Kind = "friend"
	KindTournament Kind = "tournament"
	KindRematch    Kind = "rematch"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindQuick, KindRanked, KindFriend, KindTournament, KindRematch:
		return true
	}
	return false
}

// AllowsBotFallback reports whether sessions of this kind may receive a
// bot opponent when no human joins within the fallback window.
func (k Kind) AllowsBotFallback() bool {
	return k == KindQuick
}

// RequiresAllowList reports whether membership is restricted to an
// explicit allow-list.
func (k Kind) RequiresAllowList() bool {
	return k == KindFriend || k == KindRematch
}

// Exclusive reports whether holding an active session of this kind
// blocks further exclusive matchmaking requests for the same player.
func (k Kind) Exclusive() bool {
	return k != KindFriend && k != KindRematch
}

// DefaultTTL is the default lifetime of a session from creation.
const DefaultTTL = 20 * time.Minute

// DefaultCapacity is the participant count of a standard head-to-head session.
const DefaultCapacity = 2

// StatsSummary is a small snapshot of a player's record, copied into the
// session at join time so later profile edits do not alter the session.
type StatsSummary struct {
	GamesPlayed int `json:"gamesPlayed"`
	Wins        int `json:"wins"`
	WinStreak   int `json:"winStreak"`
	Rating      int `json:"rating"`
}

// ParticipantRef is a join-time snapshot of a participant.
type ParticipantRef struct {
	PlayerID    string       `json:"playerId"`
	DisplayName string       `json:"displayName"`
	IsBot       bool         `json:"isBot,omitempty"`
	Ready       bool         `json:"ready"`
	Stats       StatsSummary `json:"stats"`
	JoinedAt    time.Time    `json:"joinedAt"`
}

// SkillWindow bounds the opponent rating range for skill-based matching.
type SkillWindow struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether rating falls inside the window.
func (w SkillWindow) Contains(rating int) bool {
	return rating >= w.Min && rating <= w.Max
}

// Session is the unit of matchmaking.
type Session struct {
	ID           uuid.UUID        `json:"id"`
	Kind         Kind             `json:"sessionKind"`
	Mode         string           `json:"mode"`
	Status       Status           `json:"status"`
	Capacity     int              `json:"capacity"`
	Participants []ParticipantRef `json:"participants"`
	AllowList    []string         `json:"allowList,omitempty"`
	SkillWindow  *SkillWindow     `json:"skillWindow,omitempty"`
	GuestHosted  bool             `json:"guestHosted,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	MatchedAt    *time.Time       `json:"matchedAt,omitempty"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	WinnerID     *string          `json:"winnerId,omitempty"`
}

// IsExpired reports whether the session deadline passed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// HasRoom reports whether another participant fits.
func (s *Session) HasRoom() bool {
	return len(s.Participants) < s.Capacity
}

// HasParticipant reports whether playerID already joined.
func (s *Session) HasParticipant(playerID string) bool {
	for _, p := range s.Participants {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// Participant returns the participant snapshot for playerID, or nil.
func (s *Session) Participant(playerID string) *ParticipantRef {
	for i := range s.Participants {
		if s.Participants[i].PlayerID == playerID {
			return &s.Participants[i]
		}
	}
	return nil
}

// Allows reports whether playerID may join under the allow-list.
// Sessions without an allow-list admit anyone.
func (s *Session) Allows(playerID string) bool {
	if len(s.AllowList) == 0 {
		return true
	}
	return slices.Contains(s.AllowList, playerID)
}

// AllReady reports whether every participant marked ready.
func (s *Session) AllReady() bool {
	if len(s.Participants) == 0 {
		return false
	}
	for _, p := range s.Participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

// HumanCount counts non-bot participants.
func (s *Session) HumanCount() int {
	n := 0
	for _, p := range s.Participants {
		if !p.IsBot {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so subscribers and callers never share the
// store's slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = slices.Clone(s.Participants)
	out.AllowList = slices.Clone(s.AllowList)
	if s.SkillWindow != nil {
		w := *s.SkillWindow
		out.SkillWindow = &w
	}
	if s.MatchedAt != nil {
		t := *s.MatchedAt
		out.MatchedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.WinnerID != nil {
		w := *s.WinnerID
		out.WinnerID = &w
	}
	return &out
}
