package bot

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/Knetic/govaluate"

	"github.com/matchhub/matchhub/internal/domain/session"
)

// ErrNoCandidates means the pool produced no eligible bot.
var ErrNoCandidates = errors.New("no eligible bot candidates")

// Strategy picks one bot for an opponent from a candidate list.
type Strategy interface {
	Select(candidates []Profile, opponent session.ParticipantRef) (*Profile, error)
}

// RandomStrategy picks uniformly among candidates.
type RandomStrategy struct{}

func (RandomStrategy) Select(candidates []Profile, _ session.ParticipantRef) (*Profile, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	b := candidates[rand.IntN(len(candidates))]
	return &b, nil
}

// SkillWeightedStrategy favors bots whose rating sits close to the
// opponent's. Weight decays linearly with rating distance.
type SkillWeightedStrategy struct {
	// MaxDistance caps the rating gap considered; farther bots still get
	// a minimal weight so the draw never degenerates to empty.
	MaxDistance int
}

func (s SkillWeightedStrategy) Select(candidates []Profile, opponent session.ParticipantRef) (*Profile, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	maxDist := s.MaxDistance
	if maxDist <= 0 {
		maxDist = 400
	}

	weights := make([]int, len(candidates))
	total := 0
	for i, b := range candidates {
		dist := b.Rating - opponent.Stats.Rating
		if dist < 0 {
			dist = -dist
		}
		w := maxDist - dist
		if w < 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	pick := rand.IntN(total)
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			b := candidates[i]
			return &b, nil
		}
	}
	b := candidates[len(candidates)-1]
	return &b, nil
}

// RuleStrategy filters candidates through a configurable boolean
// expression before delegating the final draw. The expression sees
// bot_rating, bot_difficulty, bot_games, player_rating, player_games and
// player_streak, e.g.:
//
//	bot_rating >= player_rating - 200 && bot_rating <= player_rating + 200
type RuleStrategy struct {
	expr *govaluate.EvaluableExpression
	next Strategy
}

// NewRuleStrategy compiles rule and wraps next (RandomStrategy when nil).
func NewRuleStrategy(rule string, next Strategy) (*RuleStrategy, error) {
	expr, err := govaluate.NewEvaluableExpression(rule)
	if err != nil {
		return nil, fmt.Errorf("invalid bot eligibility rule: %w", err)
	}
	if next == nil {
		next = RandomStrategy{}
	}
	return &RuleStrategy{expr: expr, next: next}, nil
}

func (s *RuleStrategy) Select(candidates []Profile, opponent session.ParticipantRef) (*Profile, error) {
	eligible := make([]Profile, 0, len(candidates))
	for _, b := range candidates {
		params := map[string]interface{}{
			"bot_rating":     b.Rating,
			"bot_difficulty": string(b.Difficulty),
			"bot_games":      b.Stats.GamesPlayed,
			"player_rating":  opponent.Stats.Rating,
			"player_games":   opponent.Stats.GamesPlayed,
			"player_streak":  opponent.Stats.WinStreak,
		}
		result, err := s.expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("bot eligibility rule failed: %w", err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return nil, errors.New("bot eligibility rule did not evaluate to boolean")
		}
		if ok {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		// A too-strict rule must not leave the session hanging; fall back
		// to the unfiltered pool.
		eligible = candidates
	}
	return s.next.Select(eligible, opponent)
}
