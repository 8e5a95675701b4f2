package scoring

import (
	"strings"
	"time"

	"flow_server/core/domain"
)

// Context boost values.
const (
	BoostBusinessHours = 5.0 // important mail, Mon-Fri 09:00-17:00
	BoostEvening       = 3.0 // newsletters, 18:00-22:00
	BoostWeekend       = 4.0 // personal or important mail, Sat-Sun
	BoostUrgencyHit    = 6.0 // per urgency phrase found
	MaxUrgencyBoost    = 12.0
)

var urgencyPhrases = []string{
	"urgent",
	"asap",
	"deadline",
	"due today",
	"due tomorrow",
	"by eod",
	"expires",
	"action required",
	"final notice",
}

// ContextBoosts is the per-rule breakdown of a context boost.
type ContextBoosts struct {
	BusinessHours float64 `json:"business_hours"`
	Evening       float64 `json:"evening"`
	Weekend       float64 `json:"weekend"`
	Urgency       float64 `json:"urgency"`
	Total         float64 `json:"total"` // capped sum
}

// EnhancedStrategy uses category base scores, category decay and context boosts from a Config.
type EnhancedStrategy struct {
	cfg *Config
}

func NewEnhancedStrategy(cfg *Config) *EnhancedStrategy {
	if cfg == nil {
		cfg = Preset(Development)
	}
	return &EnhancedStrategy{cfg: cfg}
}

func (s *EnhancedStrategy) Name() string { return StrategyEnhanced }

// BaseScore is the category base plus label bonuses.
func (s *EnhancedStrategy) BaseScore(in *domain.ScoreInput) float64 {
	score := s.cfg.BaseScore(in.Category)
	if !in.IsRead {
		score += s.cfg.LabelBonus.Unread
	}
	if in.HasLabel(domain.LabelImportant) {
		score += s.cfg.LabelBonus.Important
	}
	if in.HasLabel(domain.LabelStarred) {
		score += s.cfg.LabelBonus.Starred
	}
	return score
}

func (s *EnhancedStrategy) TemporalMultiplier(in *domain.ScoreInput, ageHours float64) float64 {
	return s.cfg.DecayFunction(in.Category)(ageHours)
}

func (s *EnhancedStrategy) ContextBoost(in *domain.ScoreInput, now time.Time) float64 {
	return s.Boosts(in, now).Total
}

// Boosts evaluates each context rule. Time rules use the location of now.
func (s *EnhancedStrategy) Boosts(in *domain.ScoreInput, now time.Time) ContextBoosts {
	var b ContextBoosts

	hour := now.Hour()
	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday

	switch in.Category {
	case domain.CategoryImportant:
		if !weekend && hour >= 9 && hour < 17 {
			b.BusinessHours = BoostBusinessHours
		}
		if weekend {
			b.Weekend = BoostWeekend
		}
	case domain.CategoryPersonal:
		if weekend {
			b.Weekend = BoostWeekend
		}
	case domain.CategoryNewsletters:
		if hour >= 18 && hour < 22 {
			b.Evening = BoostEvening
		}
	}

	b.Urgency = float64(countUrgency(in.Subject+"\n"+in.Snippet)) * BoostUrgencyHit
	if b.Urgency > MaxUrgencyBoost {
		b.Urgency = MaxUrgencyBoost
	}

	b.Total = b.BusinessHours + b.Evening + b.Weekend + b.Urgency
	if b.Total > s.cfg.MaxContextBoost {
		b.Total = s.cfg.MaxContextBoost
	}
	return b
}

// countUrgency counts distinct urgency phrases present in text.
func countUrgency(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, p := range urgencyPhrases {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	return hits
}
