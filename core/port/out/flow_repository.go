package out

import (
	"context"
	"time"

	"flow_server/core/domain"

	"github.com/google/uuid"
)

// RuleRepository is the rule store: categories plus keyword and sender rules.
type RuleRepository interface {
	// LoadRuleSet returns system and global rules plus the rules owned by userID, as one snapshot.
	LoadRuleSet(ctx context.Context, userID uuid.UUID) (*domain.RuleSet, error)

	CreateCategory(ctx context.Context, category *domain.Category) error
	DeleteCategory(ctx context.Context, id int64) error
	GetCategoryByName(ctx context.Context, name string, isSystem bool) (*domain.Category, error)

	CreateKeywordRule(ctx context.Context, rule *domain.KeywordRule) error
	CreateSenderRule(ctx context.Context, rule *domain.SenderRule) error
}

// DecisionRepository stores categorization audit records. Records are never updated.
type DecisionRepository interface {
	Append(ctx context.Context, decision *domain.CategorizationDecision) error
	ListByEmail(ctx context.Context, emailID int64) ([]*domain.CategorizationDecision, error)
}

// BucketQuery selects one page of a bucket listing.
type BucketQuery struct {
	UserID   uuid.UUID
	MinScore *float64 // inclusive
	MaxScore *float64 // exclusive
	Order    domain.EmailOrder
	Limit    int
	Offset   int
}

// BucketCounts is the number of emails per bucket for one user.
type BucketCounts struct {
	Now       int `json:"now"`
	Later     int `json:"later"`
	Reference int `json:"reference"`
}

// EmailRepository is the slice of the email store the engine reads and writes.
type EmailRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Email, error)

	// ListStale returns dirty, never-scored or label-changed emails, plus those last reprocessed before
	// expiredBefore. Dirty emails come first, then oldest reprocessing.
	ListStale(ctx context.Context, limit int, expiredBefore time.Time) ([]*domain.Email, error)
	ListByScore(ctx context.Context, query *BucketQuery) ([]*domain.Email, error)
	CountBuckets(ctx context.Context, userID uuid.UUID) (*BucketCounts, error)

	// SaveScore writes category and score and stamps last_reprocessed_at in one statement.
	// The dirty flag is cleared only while the row is still at revision, the one the score was computed from.
	SaveScore(ctx context.Context, id int64, revision int64, category string, score float64, at time.Time) error
	MarkDirty(ctx context.Context, userID uuid.UUID, ids []int64) (int, error)
	UpdateLabels(ctx context.Context, userID uuid.UUID, id int64, labels []string, isRead bool, at time.Time) error
}

// TrashClassifier is the learned trash model. Training lives elsewhere.
type TrashClassifier interface {
	IsTrash(ctx context.Context, email *domain.Email) (isTrash bool, confidence float64, err error)
}
