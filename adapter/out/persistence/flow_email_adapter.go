package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EmailAdapter implements out.EmailRepository on the emails table.
type EmailAdapter struct {
	db *sqlx.DB
}

var _ out.EmailRepository = (*EmailAdapter)(nil)

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

const emailColumns = `id, user_id, from_email, subject, snippet, labels, is_read,
	category, attention_score, is_dirty, revision, received_at, labels_updated_at, last_reprocessed_at`

type emailRow struct {
	ID                int64          `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	FromEmail         string         `db:"from_email"`
	Subject           sql.NullString `db:"subject"`
	Snippet           sql.NullString `db:"snippet"`
	Labels            pq.StringArray `db:"labels"`
	IsRead            bool           `db:"is_read"`
	Category          sql.NullString `db:"category"`
	AttentionScore    float64        `db:"attention_score"`
	IsDirty           bool           `db:"is_dirty"`
	Revision          int64          `db:"revision"`
	ReceivedAt        time.Time      `db:"received_at"`
	LabelsUpdatedAt   sql.NullTime   `db:"labels_updated_at"`
	LastReprocessedAt sql.NullTime   `db:"last_reprocessed_at"`
}

func (r *emailRow) toEntity() *domain.Email {
	e := &domain.Email{
		ID:             r.ID,
		UserID:         r.UserID,
		FromEmail:      r.FromEmail,
		Subject:        r.Subject.String,
		Snippet:        r.Snippet.String,
		Labels:         []string(r.Labels),
		IsRead:         r.IsRead,
		Category:       r.Category.String,
		AttentionScore: r.AttentionScore,
		IsDirty:        r.IsDirty,
		Revision:       r.Revision,
		ReceivedAt:     r.ReceivedAt,
	}
	if e.Labels == nil {
		e.Labels = []string{}
	}
	if r.LabelsUpdatedAt.Valid {
		e.LabelsUpdatedAt = &r.LabelsUpdatedAt.Time
	}
	if r.LastReprocessedAt.Valid {
		e.LastReprocessedAt = &r.LastReprocessedAt.Time
	}
	return e
}

func toEntities(rows []emailRow) []*domain.Email {
	emails := make([]*domain.Email, len(rows))
	for i := range rows {
		emails[i] = rows[i].toEntity()
	}
	return emails
}

func (a *EmailAdapter) GetByID(ctx context.Context, id int64) (*domain.Email, error) {
	var row emailRow
	if err := a.db.GetContext(ctx, &row, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return row.toEntity(), nil
}

// ListStale returns emails the scheduler should look at: dirty, never scored, relabelled since the
// last pass, or reprocessed before expiredBefore. The scheduler narrows the last group per category.
func (a *EmailAdapter) ListStale(ctx context.Context, limit int, expiredBefore time.Time) ([]*domain.Email, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT ` + emailColumns + `
		FROM emails
		WHERE is_dirty = TRUE
		   OR last_reprocessed_at IS NULL
		   OR labels_updated_at > last_reprocessed_at
		   OR last_reprocessed_at < $2
		ORDER BY is_dirty DESC, last_reprocessed_at ASC NULLS FIRST, id
		LIMIT $1`

	var rows []emailRow
	if err := a.db.SelectContext(ctx, &rows, query, limit, expiredBefore); err != nil {
		return nil, fmt.Errorf("failed to list stale emails: %w", err)
	}
	return toEntities(rows), nil
}

func (a *EmailAdapter) ListByScore(ctx context.Context, q *out.BucketQuery) ([]*domain.Email, error) {
	var (
		conditions = []string{"user_id = $1"}
		args       = []interface{}{q.UserID}
	)
	if q.MinScore != nil {
		args = append(args, *q.MinScore)
		conditions = append(conditions, fmt.Sprintf("attention_score >= $%d", len(args)))
	}
	if q.MaxScore != nil {
		args = append(args, *q.MaxScore)
		conditions = append(conditions, fmt.Sprintf("attention_score < $%d", len(args)))
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM emails
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`,
		emailColumns, strings.Join(conditions, " AND "), orderClause(q.Order), len(args)-1, len(args))

	var rows []emailRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list emails by score: %w", err)
	}
	return toEntities(rows), nil
}

func orderClause(order domain.EmailOrder) string {
	switch order {
	case domain.OrderByDate:
		return "received_at DESC, id DESC"
	case domain.OrderBySubject:
		return "subject ASC, id ASC"
	default:
		return "attention_score DESC, received_at DESC, id DESC"
	}
}

func (a *EmailAdapter) CountBuckets(ctx context.Context, userID uuid.UUID) (*out.BucketCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE attention_score >= $2)                          AS now_count,
			COUNT(*) FILTER (WHERE attention_score >= $3 AND attention_score < $2) AS later_count,
			COUNT(*) FILTER (WHERE attention_score < $3)                           AS reference_count
		FROM emails WHERE user_id = $1`

	var counts out.BucketCounts
	if err := a.db.QueryRowxContext(ctx, query, userID, domain.NowThreshold, domain.LaterThreshold).
		Scan(&counts.Now, &counts.Later, &counts.Reference); err != nil {
		return nil, fmt.Errorf("failed to count buckets: %w", err)
	}
	return &counts, nil
}

// SaveScore leaves is_dirty set when a label change or dirty mark landed after the email was read,
// so the next pass picks the newer state up.
func (a *EmailAdapter) SaveScore(ctx context.Context, id int64, revision int64, category string, score float64, at time.Time) error {
	query := `
		UPDATE emails
		SET category = $2,
		    attention_score = $3,
		    is_dirty = CASE WHEN revision = $4 THEN FALSE ELSE is_dirty END,
		    last_reprocessed_at = $5
		WHERE id = $1`

	res, err := a.db.ExecContext(ctx, query, id, nullStr(category), score, revision, at)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *EmailAdapter) MarkDirty(ctx context.Context, userID uuid.UUID, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := a.db.ExecContext(ctx,
		`UPDATE emails SET is_dirty = TRUE, revision = revision + 1 WHERE user_id = $1 AND id = ANY($2)`,
		userID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to mark emails dirty: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (a *EmailAdapter) UpdateLabels(ctx context.Context, userID uuid.UUID, id int64, labels []string, isRead bool, at time.Time) error {
	query := `
		UPDATE emails
		SET labels = $3, is_read = $4, labels_updated_at = $5, is_dirty = TRUE, revision = revision + 1
		WHERE user_id = $1 AND id = $2`

	res, err := a.db.ExecContext(ctx, query, userID, id, pq.Array(labels), isRead, at)
	if err != nil {
		return fmt.Errorf("failed to update labels: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
