package scoring

import (
	"fmt"
	"math"
	"time"

	"flow_server/core/domain"
)

// Strategy names.
const (
	StrategySimple   = "simple"
	StrategyEnhanced = "enhanced"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Strategy computes the three components of an attention score.
// final = clamp(BaseScore * TemporalMultiplier + ContextBoost, 0, 100)
type Strategy interface {
	Name() string
	BaseScore(in *domain.ScoreInput) float64
	TemporalMultiplier(in *domain.ScoreInput, ageHours float64) float64
	ContextBoost(in *domain.ScoreInput, now time.Time) float64
}

// Components is one evaluated score with its parts.
type Components struct {
	AgeHours   float64 `json:"age_hours"`
	Base       float64 `json:"base"`
	Multiplier float64 `json:"multiplier"`
	Boost      float64 `json:"boost"`
	Final      float64 `json:"final"`
}

// Compute evaluates s for in at now.
func Compute(s Strategy, in *domain.ScoreInput, now time.Time) Components {
	age := in.AgeHours(now)
	c := Components{
		AgeHours:   age,
		Base:       s.BaseScore(in),
		Multiplier: s.TemporalMultiplier(in, age),
		Boost:      s.ContextBoost(in, now),
	}
	c.Final = Clamp(c.Base*c.Multiplier + c.Boost)
	return c
}

// Clamp bounds a score to [0,100]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// NewStrategy builds a strategy by name.
func NewStrategy(name string, cfg *Config) (Strategy, error) {
	switch name {
	case StrategySimple:
		return NewSimpleStrategy(), nil
	case StrategyEnhanced, "":
		return NewEnhancedStrategy(cfg), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
	}
}

// =============================================================================
// Simple Strategy
// =============================================================================

const (
	simpleBase      = 50.0
	simpleUnread    = 15.0
	simpleImportant = 30.0
	simpleStarred   = 20.0
)

// SimpleStrategy is the fixed label heuristic. It has no temporal or context component
// and is the fallback when a strategy exceeds its time budget.
type SimpleStrategy struct{}

func NewSimpleStrategy() *SimpleStrategy { return &SimpleStrategy{} }

func (SimpleStrategy) Name() string { return StrategySimple }

func (SimpleStrategy) BaseScore(in *domain.ScoreInput) float64 {
	score := simpleBase
	if !in.IsRead {
		score += simpleUnread
	}
	if in.HasLabel(domain.LabelImportant) {
		score += simpleImportant
	}
	if in.HasLabel(domain.LabelStarred) {
		score += simpleStarred
	}
	return score
}

func (SimpleStrategy) TemporalMultiplier(*domain.ScoreInput, float64) float64 { return 1 }

func (SimpleStrategy) ContextBoost(*domain.ScoreInput, time.Time) float64 { return 0 }
