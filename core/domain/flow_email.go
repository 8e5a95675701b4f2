package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider label markers (Gmail system label ids).
const (
	LabelUnread    = "UNREAD"
	LabelImportant = "IMPORTANT"
	LabelStarred   = "STARRED"
)

// Email is the persisted message as seen by the classification and scoring engine.
// Category is empty until the resolver (or an external classifier) assigns one.
type Email struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	FromEmail string    `json:"from_email"`
	Subject   string    `json:"subject"`
	Snippet   string    `json:"snippet"`
	Labels    []string  `json:"labels"`
	IsRead    bool      `json:"is_read"`

	Category       string  `json:"category,omitempty"`
	AttentionScore float64 `json:"attention_score"`
	IsDirty        bool    `json:"is_dirty"`
	Revision       int64   `json:"revision"` // bumped on every label change or dirty mark

	ReceivedAt        time.Time  `json:"received_at"`
	LabelsUpdatedAt   *time.Time `json:"labels_updated_at,omitempty"`
	LastReprocessedAt *time.Time `json:"last_reprocessed_at,omitempty"`
}

// HasLabel reports whether the email carries the given label.
func (e *Email) HasLabel(label string) bool {
	return hasLabel(e.Labels, label)
}

// LabelsChangedSinceReprocess reports whether labels were touched after the last score computation.
func (e *Email) LabelsChangedSinceReprocess() bool {
	if e.LabelsUpdatedAt == nil {
		return false
	}
	if e.LastReprocessedAt == nil {
		return true
	}
	return e.LabelsUpdatedAt.After(*e.LastReprocessedAt)
}

// ScoreInput is the storage-independent view a scoring strategy works on.
type ScoreInput struct {
	EmailID    int64
	Category   string
	Subject    string
	Snippet    string
	Labels     []string
	IsRead     bool
	ReceivedAt time.Time
}

// NewScoreInput builds a ScoreInput from a persisted email.
func NewScoreInput(e *Email) *ScoreInput {
	labels := make([]string, len(e.Labels))
	copy(labels, e.Labels)
	return &ScoreInput{
		EmailID:    e.ID,
		Category:   e.Category,
		Subject:    e.Subject,
		Snippet:    e.Snippet,
		Labels:     labels,
		IsRead:     e.IsRead,
		ReceivedAt: e.ReceivedAt,
	}
}

// HasLabel reports whether the input carries the given label.
func (in *ScoreInput) HasLabel(label string) bool {
	return hasLabel(in.Labels, label)
}

// AgeHours returns the age of the message at now, never negative.
func (in *ScoreInput) AgeHours(now time.Time) float64 {
	if in.ReceivedAt.IsZero() {
		return 0
	}
	age := now.Sub(in.ReceivedAt).Hours()
	if age < 0 {
		return 0
	}
	return age
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelDelta is a provider sync event describing label changes on one email.
type LabelDelta struct {
	UserID  uuid.UUID `json:"user_id"`
	EmailID int64     `json:"email_id"`
	Added   []string  `json:"added"`
	Removed []string  `json:"removed"`
}

// Apply returns the label set after the delta is applied. Order of existing labels is kept.
func (d *LabelDelta) Apply(labels []string) []string {
	removed := make(map[string]bool, len(d.Removed))
	for _, l := range d.Removed {
		removed[l] = true
	}

	result := make([]string, 0, len(labels)+len(d.Added))
	seen := make(map[string]bool, len(labels)+len(d.Added))
	for _, l := range labels {
		if removed[l] || seen[l] {
			continue
		}
		seen[l] = true
		result = append(result, l)
	}
	for _, l := range d.Added {
		if removed[l] || seen[l] {
			continue
		}
		seen[l] = true
		result = append(result, l)
	}
	return result
}
