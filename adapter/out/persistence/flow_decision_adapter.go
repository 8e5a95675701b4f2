package persistence

import (
	"context"
	"fmt"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DecisionAdapter appends categorization decisions; factors are stored as a JSONB column.
type DecisionAdapter struct {
	db *sqlx.DB
}

var _ out.DecisionRepository = (*DecisionAdapter)(nil)

func NewDecisionAdapter(db *sqlx.DB) *DecisionAdapter {
	return &DecisionAdapter{db: db}
}

type decisionRow struct {
	ID         uuid.UUID `db:"id"`
	EmailID    int64     `db:"email_id"`
	UserID     uuid.UUID `db:"user_id"`
	Category   string    `db:"category"`
	Confidence float64   `db:"confidence"`
	Method     string    `db:"method"`
	Factors    []byte    `db:"factors"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *decisionRow) toEntity() (*domain.CategorizationDecision, error) {
	d := &domain.CategorizationDecision{
		ID:         r.ID,
		EmailID:    r.EmailID,
		UserID:     r.UserID,
		Category:   r.Category,
		Confidence: r.Confidence,
		Method:     domain.DecisionMethod(r.Method),
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Factors) > 0 {
		if err := json.Unmarshal(r.Factors, &d.Factors); err != nil {
			return nil, fmt.Errorf("failed to decode factors of decision %s: %w", r.ID, err)
		}
	}
	if d.Factors == nil {
		d.Factors = []domain.MatchedRule{}
	}
	return d, nil
}

func (a *DecisionAdapter) Append(ctx context.Context, d *domain.CategorizationDecision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	factors := d.Factors
	if factors == nil {
		factors = []domain.MatchedRule{}
	}
	payload, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("failed to encode factors: %w", err)
	}

	query := `
		INSERT INTO categorization_decisions (id, email_id, user_id, category, confidence, method, factors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := a.db.ExecContext(ctx, query,
		d.ID, d.EmailID, d.UserID, d.Category, d.Confidence, string(d.Method), payload, d.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// ListByEmail returns the decision history of an email, newest first.
func (a *DecisionAdapter) ListByEmail(ctx context.Context, emailID int64) ([]*domain.CategorizationDecision, error) {
	var rows []decisionRow
	query := `
		SELECT id, email_id, user_id, category, confidence, method, factors, created_at
		FROM categorization_decisions WHERE email_id = $1
		ORDER BY created_at DESC`

	if err := a.db.SelectContext(ctx, &rows, query, emailID); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	decisions := make([]*domain.CategorizationDecision, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
