// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RuleAdapter implements out.RuleRepository on the categories, keyword_rules and sender_rules tables.
type RuleAdapter struct {
	db *sqlx.DB
}

var _ out.RuleRepository = (*RuleAdapter)(nil)

func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

type categoryRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	DisplayName sql.NullString `db:"display_name"`
	Priority    int            `db:"priority"`
	IsSystem    bool           `db:"is_system"`
	UserID      uuid.NullUUID  `db:"user_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *categoryRow) toEntity() *domain.Category {
	c := &domain.Category{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: r.DisplayName.String,
		Priority:    r.Priority,
		IsSystem:    r.IsSystem,
		CreatedAt:   r.CreatedAt,
	}
	if r.UserID.Valid {
		id := r.UserID.UUID
		c.UserID = &id
	}
	return c
}

type keywordRuleRow struct {
	ID         int64         `db:"id"`
	CategoryID int64         `db:"category_id"`
	Keyword    string        `db:"keyword"`
	IsRegex    bool          `db:"is_regex"`
	Weight     int           `db:"weight"`
	UserID     uuid.NullUUID `db:"user_id"`
}

func (r *keywordRuleRow) toEntity() *domain.KeywordRule {
	k := &domain.KeywordRule{
		ID:         r.ID,
		CategoryID: r.CategoryID,
		Keyword:    r.Keyword,
		IsRegex:    r.IsRegex,
		Weight:     r.Weight,
	}
	if r.UserID.Valid {
		id := r.UserID.UUID
		k.UserID = &id
	}
	return k
}

type senderRuleRow struct {
	ID         int64          `db:"id"`
	CategoryID int64          `db:"category_id"`
	Pattern    string         `db:"pattern"`
	MatchType  sql.NullString `db:"match_type"`
	Weight     int            `db:"weight"`
	UserID     uuid.NullUUID  `db:"user_id"`
}

func (r *senderRuleRow) toEntity() *domain.SenderRule {
	s := &domain.SenderRule{
		ID:         r.ID,
		CategoryID: r.CategoryID,
		Pattern:    r.Pattern,
		MatchType:  domain.SenderMatchType(r.MatchType.String),
		Weight:     r.Weight,
	}
	if r.UserID.Valid {
		id := r.UserID.UUID
		s.UserID = &id
	}
	return s
}

// LoadRuleSet reads categories and rules inside one read-only repeatable-read transaction
// so a concurrent rule edit is seen entirely or not at all.
func (a *RuleAdapter) LoadRuleSet(ctx context.Context, userID uuid.UUID) (*domain.RuleSet, error) {
	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin rule snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var categories []categoryRow
	if err := tx.SelectContext(ctx, &categories, `
		SELECT id, name, display_name, priority, is_system, user_id, created_at
		FROM categories
		WHERE is_system = TRUE OR user_id IS NULL OR user_id = $1
		ORDER BY priority, id`, userID); err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	var keywords []keywordRuleRow
	if err := tx.SelectContext(ctx, &keywords, `
		SELECT id, category_id, keyword, is_regex, weight, user_id
		FROM keyword_rules
		WHERE user_id IS NULL OR user_id = $1
		ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("failed to load keyword rules: %w", err)
	}

	var senders []senderRuleRow
	if err := tx.SelectContext(ctx, &senders, `
		SELECT id, category_id, pattern, match_type, weight, user_id
		FROM sender_rules
		WHERE user_id IS NULL OR user_id = $1
		ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("failed to load sender rules: %w", err)
	}

	set := &domain.RuleSet{
		Categories:   make([]*domain.Category, len(categories)),
		KeywordRules: make([]*domain.KeywordRule, len(keywords)),
		SenderRules:  make([]*domain.SenderRule, len(senders)),
	}
	for i := range categories {
		set.Categories[i] = categories[i].toEntity()
	}
	for i := range keywords {
		set.KeywordRules[i] = keywords[i].toEntity()
	}
	for i := range senders {
		set.SenderRules[i] = senders[i].toEntity()
	}
	return set, nil
}

// CreateCategory rejects user categories that reuse a system name, built in or stored.
func (a *RuleAdapter) CreateCategory(ctx context.Context, c *domain.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO categories (name, display_name, priority, is_system, user_id)
		SELECT $1::text, $2::text, $3::int, $4::boolean, $5::uuid
		WHERE $4::boolean
		   OR NOT EXISTS (SELECT 1 FROM categories WHERE is_system AND lower(name) = lower($1))
		RETURNING id, created_at`

	if err := a.db.QueryRowxContext(ctx, query,
		c.Name, nullStr(c.DisplayName), c.Priority, c.IsSystem, nullUUID(c.UserID),
	).Scan(&c.ID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", domain.ErrReservedCategoryName, c.Name)
		}
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// DeleteCategory removes a category; its rules go with it through ON DELETE CASCADE.
func (a *RuleAdapter) DeleteCategory(ctx context.Context, id int64) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCategoryByName returns nil, nil when no category matches.
func (a *RuleAdapter) GetCategoryByName(ctx context.Context, name string, isSystem bool) (*domain.Category, error) {
	var row categoryRow
	query := `
		SELECT id, name, display_name, priority, is_system, user_id, created_at
		FROM categories WHERE name = $1 AND is_system = $2
		ORDER BY id LIMIT 1`

	if err := a.db.GetContext(ctx, &row, query, name, isSystem); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return row.toEntity(), nil
}

func (a *RuleAdapter) CreateKeywordRule(ctx context.Context, k *domain.KeywordRule) error {
	if k.Weight <= 0 {
		return fmt.Errorf("%w: keyword rule weight must be positive", ErrInvalidInput)
	}
	query := `
		INSERT INTO keyword_rules (category_id, keyword, is_regex, weight, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := a.db.QueryRowxContext(ctx, query,
		k.CategoryID, k.Keyword, k.IsRegex, k.Weight, nullUUID(k.UserID),
	).Scan(&k.ID); err != nil {
		return fmt.Errorf("failed to create keyword rule: %w", err)
	}
	return nil
}

func (a *RuleAdapter) CreateSenderRule(ctx context.Context, s *domain.SenderRule) error {
	if s.Weight <= 0 {
		return fmt.Errorf("%w: sender rule weight must be positive", ErrInvalidInput)
	}
	query := `
		INSERT INTO sender_rules (category_id, pattern, match_type, weight, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := a.db.QueryRowxContext(ctx, query,
		s.CategoryID, s.Pattern, nullStr(string(s.MatchType)), s.Weight, nullUUID(s.UserID),
	).Scan(&s.ID); err != nil {
		return fmt.Errorf("failed to create sender rule: %w", err)
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
