package scoring

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"

	"github.com/google/uuid"
)

type fakeCache struct {
	mu      sync.Mutex
	data    map[string]float64
	ttls    map[string]time.Duration
	sets    int
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]float64), ttls: make(map[string]time.Duration)}
}

var errCacheDown = errors.New("cache down")

func (c *fakeCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return 0, false, errCacheDown
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, score float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errCacheDown
	}
	c.data[key] = score
	c.ttls[key] = ttl
	c.sets++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) ClearPattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

type fakeResolver struct {
	mu        sync.Mutex
	category  string
	err       error
	calls     int // recorded resolutions
	previews  int
	onResolve func() // runs mid-compute, before the strategy
}

func (r *fakeResolver) ResolveCategory(context.Context, *domain.Email) (string, error) {
	if r.onResolve != nil {
		r.onResolve()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.category, r.err
}

func (r *fakeResolver) PreviewCategory(context.Context, *domain.Email) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews++
	return r.category, r.err
}

type savedScore struct {
	id       int64
	category string
	score    float64
	revision int64
	at       time.Time
	cleared  bool // dirty flag cleared
}

type fakeEmailRepo struct {
	mu          sync.Mutex
	saved       []savedScore
	failIDs     map[int64]bool
	stale       []*domain.Email
	staleCutoff time.Time
	revisions   map[int64]int64 // store-side revision, absent means unchanged since read
}

func (r *fakeEmailRepo) bumpRevision(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revisions == nil {
		r.revisions = make(map[int64]int64)
	}
	r.revisions[id]++
}

func (r *fakeEmailRepo) savedFor(id int64) (savedScore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.saved {
		if s.id == id {
			return s, true
		}
	}
	return savedScore{}, false
}

func (r *fakeEmailRepo) GetByID(context.Context, int64) (*domain.Email, error) { return nil, nil }

func (r *fakeEmailRepo) ListStale(_ context.Context, limit int, expiredBefore time.Time) ([]*domain.Email, error) {
	r.mu.Lock()
	r.staleCutoff = expiredBefore
	r.mu.Unlock()
	if len(r.stale) > limit {
		return r.stale[:limit], nil
	}
	return r.stale, nil
}

func (r *fakeEmailRepo) ListByScore(context.Context, *out.BucketQuery) ([]*domain.Email, error) {
	return nil, nil
}

func (r *fakeEmailRepo) CountBuckets(context.Context, uuid.UUID) (*out.BucketCounts, error) {
	return &out.BucketCounts{}, nil
}

// SaveScore mirrors the store: the dirty flag is cleared only at the revision the score was computed from.
func (r *fakeEmailRepo) SaveScore(_ context.Context, id int64, revision int64, category string, score float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failIDs[id] {
		return errors.New("write failed")
	}
	cleared := true
	if current, ok := r.revisions[id]; ok && current != revision {
		cleared = false
	}
	r.saved = append(r.saved, savedScore{
		id: id, category: category, score: score, revision: revision, at: at, cleared: cleared,
	})
	return nil
}

func (r *fakeEmailRepo) MarkDirty(context.Context, uuid.UUID, []int64) (int, error) { return 0, nil }

func (r *fakeEmailRepo) UpdateLabels(context.Context, uuid.UUID, int64, []string, bool, time.Time) error {
	return nil
}

// slowStrategy always blows the time budget.
type slowStrategy struct {
	delay time.Duration
}

func (slowStrategy) Name() string { return "slow" }

func (s slowStrategy) BaseScore(*domain.ScoreInput) float64 {
	time.Sleep(s.delay)
	return 1
}

func (slowStrategy) TemporalMultiplier(*domain.ScoreInput, float64) float64 { return 1 }

func (slowStrategy) ContextBoost(*domain.ScoreInput, time.Time) float64 { return 0 }
