// Package messaging carries label deltas from provider sync to the scoring engine over Redis Streams.
package messaging

import (
	"context"
	"fmt"

	"flow_server/core/domain"
	"flow_server/core/port/in"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamLabelDelta is the default stream label deltas are published on.
const StreamLabelDelta = "flow:label-delta"

// streamMaxLen bounds the stream; trimming is approximate.
const streamMaxLen = 100000

// LabelPublisher appends label deltas to a stream.
type LabelPublisher struct {
	client *redis.Client
	stream string
}

func NewLabelPublisher(client *redis.Client, stream string) *LabelPublisher {
	if stream == "" {
		stream = StreamLabelDelta
	}
	return &LabelPublisher{client: client, stream: stream}
}

// Publish returns the stream entry id.
func (p *LabelPublisher) Publish(ctx context.Context, delta *domain.LabelDelta) (string, error) {
	if err := validateDelta(delta); err != nil {
		return "", err
	}
	data, err := json.Marshal(delta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal label delta: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return id, nil
}

// LabelDeltaHandler decodes stream payloads and applies them through the flow service.
type LabelDeltaHandler struct {
	flow in.FlowService
}

var _ Handler = (*LabelDeltaHandler)(nil)

func NewLabelDeltaHandler(flow in.FlowService) *LabelDeltaHandler {
	return &LabelDeltaHandler{flow: flow}
}

func (h *LabelDeltaHandler) Handle(ctx context.Context, _ string, data []byte) error {
	delta, err := DecodeLabelDelta(data)
	if err != nil {
		return err
	}
	return h.flow.ApplyLabelDelta(ctx, delta)
}

// DecodeLabelDelta parses and validates a payload. Failures wrap ErrPoison.
func DecodeLabelDelta(data []byte) (*domain.LabelDelta, error) {
	var delta domain.LabelDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if err := validateDelta(&delta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	return &delta, nil
}

func validateDelta(d *domain.LabelDelta) error {
	switch {
	case d == nil:
		return fmt.Errorf("nil label delta")
	case d.UserID == uuid.Nil:
		return fmt.Errorf("label delta without user_id")
	case d.EmailID <= 0:
		return fmt.Errorf("label delta without email_id")
	case len(d.Added) == 0 && len(d.Removed) == 0:
		return fmt.Errorf("empty label delta for email %d", d.EmailID)
	}
	return nil
}
