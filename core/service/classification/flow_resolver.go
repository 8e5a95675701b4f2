package classification

import (
	"sort"

	"flow_server/core/domain"

	"github.com/rs/zerolog"
)

// Resolution is the outcome of matching one email against a rule set.
type Resolution struct {
	Category   string
	CategoryID int64
	Confidence float64 // winner weight / total matched weight, 0 when nothing matched
	Factors    []domain.MatchedRule
	Matched    bool
}

// Resolver matches emails against a rule snapshot. It performs no I/O and is safe for concurrent use.
type Resolver struct {
	defaultCategory string
	regexes         *regexCache
	log             zerolog.Logger
}

// NewResolver creates a resolver falling back to defaultCategory when no rule matches.
func NewResolver(defaultCategory string, log zerolog.Logger) *Resolver {
	if defaultCategory == "" {
		defaultCategory = domain.CategoryGeneral
	}
	log = log.With().Str("component", "category_resolver").Logger()
	return &Resolver{
		defaultCategory: defaultCategory,
		regexes:         newRegexCache(log),
		log:             log,
	}
}

// DefaultCategory returns the fallback category name.
func (r *Resolver) DefaultCategory() string { return r.defaultCategory }

// Resolve sums matched rule weights per category. The highest sum wins; ties go to the lower
// category priority number, then to the name. Rules with malformed patterns, non-positive
// weights or unknown categories are skipped.
func (r *Resolver) Resolve(set *domain.RuleSet, email *domain.Email) *Resolution {
	if set == nil {
		set = &domain.RuleSet{}
	}
	categories := set.CategoryByID()
	in := newMatchInput(email)

	totals := make(map[int64]int)
	var factors []domain.MatchedRule

	for _, rule := range set.KeywordRules {
		cat, ok := categories[rule.CategoryID]
		if !ok || rule.Weight <= 0 {
			continue
		}
		matched, usable := r.regexes.matchKeyword(rule, in)
		if !usable || !matched {
			continue
		}
		totals[cat.ID] += rule.Weight
		factors = append(factors, domain.MatchedRule{
			RuleID:   rule.ID,
			Kind:     domain.RuleKindKeyword,
			Pattern:  rule.Keyword,
			Category: cat.Name,
			Weight:   rule.Weight,
		})
	}

	for _, rule := range set.SenderRules {
		cat, ok := categories[rule.CategoryID]
		if !ok || rule.Weight <= 0 {
			continue
		}
		if !matchSender(rule, in) {
			continue
		}
		totals[cat.ID] += rule.Weight
		factors = append(factors, domain.MatchedRule{
			RuleID:   rule.ID,
			Kind:     domain.RuleKindSender,
			Pattern:  rule.Pattern,
			Category: cat.Name,
			Weight:   rule.Weight,
		})
	}

	if len(totals) == 0 {
		return r.fallback(set)
	}

	var (
		winner *domain.Category
		best   int
		sum    int
	)
	for id, total := range totals {
		sum += total
		cat := categories[id]
		if winner == nil || beats(cat, total, winner, best) {
			winner, best = cat, total
		}
	}

	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Weight != factors[j].Weight {
			return factors[i].Weight > factors[j].Weight
		}
		if factors[i].Kind != factors[j].Kind {
			return factors[i].Kind < factors[j].Kind
		}
		return factors[i].RuleID < factors[j].RuleID
	})

	return &Resolution{
		Category:   winner.Name,
		CategoryID: winner.ID,
		Confidence: float64(best) / float64(sum),
		Factors:    factors,
		Matched:    true,
	}
}

// beats reports whether candidate (with weight total) outranks the current winner.
func beats(candidate *domain.Category, total int, current *domain.Category, currentTotal int) bool {
	if total != currentTotal {
		return total > currentTotal
	}
	if candidate.Priority != current.Priority {
		return candidate.Priority < current.Priority
	}
	return candidate.Name < current.Name
}

func (r *Resolver) fallback(set *domain.RuleSet) *Resolution {
	res := &Resolution{Category: r.defaultCategory, Factors: []domain.MatchedRule{}}
	for _, c := range set.Categories {
		if c.Name == r.defaultCategory && c.IsSystem {
			res.CategoryID = c.ID
			break
		}
	}
	return res
}
