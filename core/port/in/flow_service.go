package in

import (
	"context"

	"flow_server/core/domain"
	"flow_server/core/port/out"

	"github.com/google/uuid"
)

// FlowService is what the web layer and the label-delta consumer see of the engine.
type FlowService interface {
	ListBucket(ctx context.Context, req *ListBucketRequest) (*BucketPage, error)
	Counts(ctx context.Context, userID uuid.UUID) (*out.BucketCounts, error)
	Summary(ctx context.Context, userID uuid.UUID) (*domain.BucketSummary, error)

	// MarkDirty flags emails for rescoring (resync).
	MarkDirty(ctx context.Context, userID uuid.UUID, emailIDs []int64) (int, error)
	ApplyLabelDelta(ctx context.Context, delta *domain.LabelDelta) error
}

type ListBucketRequest struct {
	UserID uuid.UUID
	Bucket string
	Order  string
	Limit  int
	Offset int
}

type BucketPage struct {
	Bucket domain.Bucket   `json:"bucket"`
	Emails []*domain.Email `json:"emails"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}
