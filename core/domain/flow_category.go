package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// System category names.
const (
	CategoryImportant   = "important"
	CategoryPersonal    = "personal"
	CategoryWork        = "work"
	CategoryUpdates     = "updates"
	CategoryNewsletters = "newsletters"
	CategorySocial      = "social"
	CategoryPromotions  = "promotions"
	CategoryGeneral     = "general"

	// CategoryTrash is assigned by the learned trash classifier only.
	CategoryTrash = "trash"
)

// Category is a topical bucket. (Name, IsSystem) is unique; user categories never shadow system names.
type Category struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Priority    int        `json:"priority"` // lower wins ties
	IsSystem    bool       `json:"is_system"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ErrReservedCategoryName is returned for a user category named like a system category.
var ErrReservedCategoryName = errors.New("category name is reserved for a system category")

// IsSystemCategoryName reports whether name belongs to a built-in category. Case is ignored.
func IsSystemCategoryName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CategoryImportant, CategoryPersonal, CategoryWork, CategoryUpdates,
		CategoryNewsletters, CategorySocial, CategoryPromotions, CategoryGeneral, CategoryTrash:
		return true
	}
	return false
}

// Validate checks the name. User categories may not take a system name.
func (c *Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("category name is required")
	}
	if !c.IsSystem && IsSystemCategoryName(c.Name) {
		return fmt.Errorf("%w: %q", ErrReservedCategoryName, c.Name)
	}
	return nil
}

// KeywordRule matches subject and snippet text, literally or as a regular expression.
type KeywordRule struct {
	ID         int64      `json:"id"`
	CategoryID int64      `json:"category_id"`
	Keyword    string     `json:"keyword"`
	IsRegex    bool       `json:"is_regex"`
	Weight     int        `json:"weight"`
	UserID     *uuid.UUID `json:"user_id,omitempty"` // nil = global
}

// SenderMatchType selects how a sender rule pattern is interpreted.
type SenderMatchType string

const (
	SenderMatchDomain  SenderMatchType = "domain"
	SenderMatchAddress SenderMatchType = "address"
)

// SenderRule matches the sender address by domain suffix or exact address.
type SenderRule struct {
	ID         int64           `json:"id"`
	CategoryID int64           `json:"category_id"`
	Pattern    string          `json:"pattern"`
	MatchType  SenderMatchType `json:"match_type,omitempty"`
	Weight     int             `json:"weight"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"` // nil = global
}

// EffectiveMatchType returns the configured match type, inferring it from the pattern when unset.
func (r *SenderRule) EffectiveMatchType() SenderMatchType {
	if r.MatchType != "" {
		return r.MatchType
	}
	if strings.Contains(r.Pattern, "@") && !strings.HasPrefix(r.Pattern, "@") {
		return SenderMatchAddress
	}
	return SenderMatchDomain
}

// RuleSet is a consistent snapshot of the rules visible to one user.
type RuleSet struct {
	Categories   []*Category
	KeywordRules []*KeywordRule
	SenderRules  []*SenderRule
}

// CategoryByID indexes categories by id.
func (s *RuleSet) CategoryByID() map[int64]*Category {
	m := make(map[int64]*Category, len(s.Categories))
	for _, c := range s.Categories {
		m[c.ID] = c
	}
	return m
}

// DecisionMethod records how a category was decided.
type DecisionMethod string

const (
	DecisionRuleBased DecisionMethod = "rule-based"
	DecisionLearned   DecisionMethod = "learned"
)

// RuleKind distinguishes matched rule types in decision factors.
type RuleKind string

const (
	RuleKindKeyword RuleKind = "keyword"
	RuleKindSender  RuleKind = "sender"
)

// MatchedRule is one contributing factor of a categorization decision.
type MatchedRule struct {
	RuleID   int64    `json:"rule_id"`
	Kind     RuleKind `json:"kind"`
	Pattern  string   `json:"pattern"`
	Category string   `json:"category"`
	Weight   int      `json:"weight"`
}

// CategorizationDecision is an append-only audit record of one resolution.
type CategorizationDecision struct {
	ID         uuid.UUID      `json:"id"`
	EmailID    int64          `json:"email_id"`
	UserID     uuid.UUID      `json:"user_id"`
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	Method     DecisionMethod `json:"method"`
	Factors    []MatchedRule  `json:"factors"`
	CreatedAt  time.Time      `json:"created_at"`
}
