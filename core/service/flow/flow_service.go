package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/in"
	"flow_server/core/port/out"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownBucket is returned for bucket names other than now, later and reference.
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrForeignEmail  = errors.New("email belongs to another user")
)

// Listing limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ScoreInvalidator drops cached scores. The scoring engine implements it.
type ScoreInvalidator interface {
	Invalidate(ctx context.Context, emailID int64) error
}

// Service implements in.FlowService over the email store.
type Service struct {
	emails      out.EmailRepository
	invalidator ScoreInvalidator
	log         zerolog.Logger
	now         func() time.Time
}

var _ in.FlowService = (*Service)(nil)

func NewService(emails out.EmailRepository, invalidator ScoreInvalidator, log zerolog.Logger) *Service {
	return &Service{
		emails:      emails,
		invalidator: invalidator,
		log:         log.With().Str("component", "flow_service").Logger(),
		now:         time.Now,
	}
}

// ListBucket returns one page of a bucket, highest score first unless another order is asked for.
func (s *Service) ListBucket(ctx context.Context, req *in.ListBucketRequest) (*in.BucketPage, error) {
	bucket, ok := domain.ParseBucket(req.Bucket)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBucket, req.Bucket)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	min, max := bucket.ScoreRange()
	emails, err := s.emails.ListByScore(ctx, &out.BucketQuery{
		UserID:   req.UserID,
		MinScore: min,
		MaxScore: max,
		Order:    domain.ParseEmailOrder(req.Order),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s bucket: %w", bucket, err)
	}
	if emails == nil {
		emails = []*domain.Email{}
	}

	return &in.BucketPage{Bucket: bucket, Emails: emails, Limit: limit, Offset: offset}, nil
}

func (s *Service) Counts(ctx context.Context, userID uuid.UUID) (*out.BucketCounts, error) {
	counts, err := s.emails.CountBuckets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count buckets: %w", err)
	}
	return counts, nil
}

func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (*domain.BucketSummary, error) {
	counts, err := s.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Summarize(counts), nil
}

// MarkDirty flags emails for the next rescoring batch.
func (s *Service) MarkDirty(ctx context.Context, userID uuid.UUID, emailIDs []int64) (int, error) {
	if len(emailIDs) == 0 {
		return 0, nil
	}
	n, err := s.emails.MarkDirty(ctx, userID, emailIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to mark emails dirty: %w", err)
	}
	for _, id := range emailIDs {
		s.invalidate(ctx, id)
	}
	s.log.Info().Str("user_id", userID.String()).Int("marked", n).Msg("emails marked for rescoring")
	return n, nil
}

// ApplyLabelDelta stores the new label set, which marks the email dirty, and drops its cached score.
func (s *Service) ApplyLabelDelta(ctx context.Context, delta *domain.LabelDelta) error {
	email, err := s.emails.GetByID(ctx, delta.EmailID)
	if err != nil {
		return fmt.Errorf("failed to load email %d: %w", delta.EmailID, err)
	}
	if email.UserID != delta.UserID {
		return fmt.Errorf("%w: email %d, user %s", ErrForeignEmail, delta.EmailID, delta.UserID)
	}

	labels := delta.Apply(email.Labels)
	isRead := readAfter(email.IsRead, delta)

	if err := s.emails.UpdateLabels(ctx, delta.UserID, delta.EmailID, labels, isRead, s.now()); err != nil {
		return fmt.Errorf("failed to update labels: %w", err)
	}
	s.invalidate(ctx, delta.EmailID)
	return nil
}

// cache failures never fail the caller
func (s *Service) invalidate(ctx context.Context, emailID int64) {
	if s.invalidator == nil {
		return
	}
	_ = s.invalidator.Invalidate(ctx, emailID)
}

// readAfter changes the read flag only when the delta itself touches the UNREAD marker.
// Removal wins over addition, as in LabelDelta.Apply.
func readAfter(wasRead bool, delta *domain.LabelDelta) bool {
	switch {
	case containsLabel(delta.Removed, domain.LabelUnread):
		return true
	case containsLabel(delta.Added, domain.LabelUnread):
		return false
	default:
		return wasRead
	}
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
