package out

import (
	"context"
	"time"
)

// ScoreCache defines the outbound port for attention score caching.
// A miss is reported with found=false, never as a zero score.
type ScoreCache interface {
	Get(ctx context.Context, key string) (score float64, found bool, err error)
	Set(ctx context.Context, key string, score float64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// ClearPattern removes every key matching a glob pattern ("flow:score:*") and returns the count removed.
	ClearPattern(ctx context.Context, pattern string) (int, error)
}
