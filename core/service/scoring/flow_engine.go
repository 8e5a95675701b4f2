package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"
	"flow_server/pkg/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrScoringTimeout marks a strategy computation that exceeded its budget.
	ErrScoringTimeout  = errors.New("scoring timeout")
	ErrUnknownStrategy = errors.New("unknown scoring strategy")
)

// Cache key layout.
const (
	CacheKeyPrefix  = "flow:score:"
	CacheKeyPattern = CacheKeyPrefix + "*"
)

// CacheKey returns the score cache key of an email.
func CacheKey(emailID int64) string {
	return CacheKeyPrefix + strconv.FormatInt(emailID, 10)
}

// CategoryResolver assigns a category to an email that has none.
// ResolveCategory records the decision; PreviewCategory decides the same way and records nothing.
type CategoryResolver interface {
	ResolveCategory(ctx context.Context, email *domain.Email) (string, error)
	PreviewCategory(ctx context.Context, email *domain.Email) (string, error)
}

// EngineDeps holds the engine's collaborators. Only Strategy is required; a nil Cache disables caching.
type EngineDeps struct {
	Strategy Strategy
	Extra    []Strategy // additional strategies available to Compare
	Cache    out.ScoreCache
	Resolver CategoryResolver
	Metrics  *metrics.ScoringMetrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Engine produces attention scores: cache first, then category resolution, then the active strategy.
type Engine struct {
	cfg        *Config
	strategy   Strategy
	fallback   Strategy
	strategies map[string]Strategy

	cache    out.ScoreCache
	resolver CategoryResolver
	metrics  *metrics.ScoringMetrics
	log      zerolog.Logger
	now      func() time.Time

	flight singleflight.Group // 같은 이메일 동시 계산 방지

	// computes in flight per email; Invalidate bumps gen so their results are not cached
	mu      sync.Mutex
	pending map[int64]*pendingCompute
}

type pendingCompute struct {
	refs int
	gen  uint64
}

// Result is the outcome of one Evaluate call.
type Result struct {
	EmailID  int64   `json:"email_id"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`
	CacheHit bool    `json:"cache_hit"`
	TimedOut bool    `json:"timed_out"`
}

// ScoreBreakdown exposes every intermediate value of a score.
type ScoreBreakdown struct {
	EmailID  int64  `json:"email_id"`
	Strategy string `json:"strategy"`
	Category string `json:"category"`
	Components
	Boosts      *ContextBoosts `json:"boosts,omitempty"`
	CacheHit    bool           `json:"cache_hit"`
	CachedScore *float64       `json:"cached_score,omitempty"`
	TTLSeconds  int            `json:"ttl_seconds"`
	TimedOut    bool           `json:"timed_out"`
}

// NewEngine wires an engine around cfg.
func NewEngine(cfg *Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scoring config is required")
	}
	if deps.Strategy == nil {
		return nil, fmt.Errorf("scoring strategy is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	fallback := Strategy(NewSimpleStrategy())
	e := &Engine{
		cfg:        cfg,
		strategy:   deps.Strategy,
		fallback:   fallback,
		strategies: map[string]Strategy{fallback.Name(): fallback},
		cache:      deps.Cache,
		resolver:   deps.Resolver,
		metrics:    deps.Metrics,
		log:        deps.Logger.With().Str("component", "scoring_engine").Logger(),
		now:        deps.Now,
		pending:    make(map[int64]*pendingCompute),
	}
	for _, s := range deps.Extra {
		e.strategies[s.Name()] = s
	}
	e.strategies[deps.Strategy.Name()] = deps.Strategy
	return e, nil
}

// Config returns the engine's tuning table.
func (e *Engine) Config() *Config { return e.cfg }

// StrategyName returns the active strategy name.
func (e *Engine) StrategyName() string { return e.strategy.Name() }

// Score returns the attention score of email. Only category-store failures are returned as errors.
func (e *Engine) Score(ctx context.Context, email *domain.Email) (float64, error) {
	res, err := e.Evaluate(ctx, email)
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// Evaluate is Score with the resolved category and provenance.
func (e *Engine) Evaluate(ctx context.Context, email *domain.Email) (*Result, error) {
	key := CacheKey(email.ID)

	if score, ok := e.cacheGet(ctx, key); ok {
		return &Result{
			EmailID:  email.ID,
			Category: email.Category,
			Score:    score,
			Strategy: e.strategy.Name(),
			CacheHit: true,
		}, nil
	}

	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		return e.compute(ctx, email, key)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

// Rescore ignores any cached value, computes a fresh score and caches it.
// It never joins an Evaluate in flight, which may hold an older snapshot of the email.
func (e *Engine) Rescore(ctx context.Context, email *domain.Email) (*Result, error) {
	key := CacheKey(email.ID)
	v, err, _ := e.flight.Do("rescore:"+key, func() (interface{}, error) {
		return e.compute(ctx, email, key)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

func (e *Engine) compute(ctx context.Context, email *domain.Email, key string) (*Result, error) {
	gen := e.begin(email.ID)
	defer e.end(email.ID)

	category, err := e.categoryOf(ctx, email, true)
	if err != nil {
		return nil, err
	}

	in := domain.NewScoreInput(email)
	in.Category = category

	c, strategy, timedOut, err := e.run(ctx, e.strategy, in)
	if err != nil {
		return nil, err
	}

	// 타임아웃 fallback 결과는 캐시하지 않음
	if !timedOut {
		e.cacheFresh(ctx, email.ID, gen, key, c.Final, e.cfg.CacheTTL(category))
	}

	return &Result{
		EmailID:  email.ID,
		Category: category,
		Score:    c.Final,
		Strategy: strategy,
		TimedOut: timedOut,
	}, nil
}

// run evaluates s within the configured budget. On timeout the simple strategy's result is returned.
func (e *Engine) run(ctx context.Context, s Strategy, in *domain.ScoreInput) (Components, string, bool, error) {
	now := e.now()
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resCh := make(chan Components, 1)
	go func() {
		resCh <- Compute(s, in, now)
	}()

	select {
	case c := <-resCh:
		e.metrics.ObserveScore(s.Name(), in.Category, time.Since(start))
		return c, s.Name(), false, nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return Components{}, "", false, ctx.Err()
		}
		e.metrics.Timeout()
		e.log.Warn().
			Err(ErrScoringTimeout).
			Int64("email_id", in.EmailID).
			Str("strategy", s.Name()).
			Dur("budget", e.cfg.Timeout).
			Msg("strategy exceeded time budget, using simple strategy")
		c := Compute(e.fallback, in, now)
		e.metrics.ObserveScore(e.fallback.Name(), in.Category, time.Since(start))
		return c, e.fallback.Name(), true, nil
	}
}

// categoryOf resolves a missing category. Only scoring paths record the decision.
func (e *Engine) categoryOf(ctx context.Context, email *domain.Email, record bool) (string, error) {
	if email.Category != "" {
		return email.Category, nil
	}
	if e.resolver == nil {
		return domain.CategoryGeneral, nil
	}
	resolve := e.resolver.PreviewCategory
	if record {
		resolve = e.resolver.ResolveCategory
	}
	category, err := resolve(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to resolve category for email %d: %w", email.ID, err)
	}
	if category == "" {
		category = domain.CategoryGeneral
	}
	return category, nil
}

// Debug computes a fresh breakdown with the active strategy and reports the cache state.
// It writes neither the cache nor a categorization decision.
func (e *Engine) Debug(ctx context.Context, email *domain.Email) (*ScoreBreakdown, error) {
	category, err := e.categoryOf(ctx, email, false)
	if err != nil {
		return nil, err
	}
	in := domain.NewScoreInput(email)
	in.Category = category

	c, strategy, timedOut, err := e.run(ctx, e.strategy, in)
	if err != nil {
		return nil, err
	}

	b := e.breakdown(email.ID, strategy, in, c)
	b.TimedOut = timedOut
	if score, ok := e.cacheGet(ctx, CacheKey(email.ID)); ok {
		b.CacheHit = true
		b.CachedScore = &score
	}
	return b, nil
}

// Compare runs the named strategies (all registered ones when names is empty) side by side.
// The cache is neither read nor written, and no categorization decision is recorded.
func (e *Engine) Compare(ctx context.Context, email *domain.Email, names ...string) ([]*ScoreBreakdown, error) {
	if len(names) == 0 {
		for name := range e.strategies {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	category, err := e.categoryOf(ctx, email, false)
	if err != nil {
		return nil, err
	}
	in := domain.NewScoreInput(email)
	in.Category = category
	now := e.now()

	results := make([]*ScoreBreakdown, 0, len(names))
	for _, name := range names {
		s, ok := e.strategies[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
		}
		results = append(results, e.breakdown(email.ID, s.Name(), in, Compute(s, in, now)))
	}
	return results, nil
}

func (e *Engine) breakdown(emailID int64, strategy string, in *domain.ScoreInput, c Components) *ScoreBreakdown {
	b := &ScoreBreakdown{
		EmailID:    emailID,
		Strategy:   strategy,
		Category:   in.Category,
		Components: c,
		TTLSeconds: e.cfg.CacheTTLSeconds(in.Category),
	}
	if enhanced, ok := e.strategies[strategy].(*EnhancedStrategy); ok {
		boosts := enhanced.Boosts(in, e.now())
		b.Boosts = &boosts
	}
	return b
}

// Cached reports whether a live cached score exists for the email.
// The second value is false when the engine has no usable cache.
func (e *Engine) Cached(ctx context.Context, emailID int64) (cached bool, known bool) {
	if e.cache == nil {
		return false, false
	}
	_, found, err := e.cache.Get(ctx, CacheKey(emailID))
	if err != nil {
		return false, false
	}
	return found, true
}

// Invalidate drops the cached score of one email. A compute already in flight for it will not cache its result.
func (e *Engine) Invalidate(ctx context.Context, emailID int64) error {
	e.mu.Lock()
	if p, ok := e.pending[emailID]; ok {
		p.gen++
	}
	e.mu.Unlock()

	if e.cache == nil {
		return nil
	}
	if err := e.cache.Delete(ctx, CacheKey(emailID)); err != nil {
		e.log.Warn().Err(err).Int64("email_id", emailID).Msg("failed to invalidate cached score")
		return err
	}
	return nil
}

// InvalidateAll drops every cached score and returns how many were removed.
func (e *Engine) InvalidateAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	for _, p := range e.pending {
		p.gen++
	}
	e.mu.Unlock()

	if e.cache == nil {
		return 0, nil
	}
	n, err := e.cache.ClearPattern(ctx, CacheKeyPattern)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to clear cached scores")
		return n, err
	}
	return n, nil
}

// cacheGet treats every cache failure as a miss.
func (e *Engine) cacheGet(ctx context.Context, key string) (float64, bool) {
	if e.cache == nil {
		return 0, false
	}
	score, found, err := e.cache.Get(ctx, key)
	if err != nil {
		e.metrics.CacheLookup(metrics.CacheError)
		e.log.Warn().Err(err).Str("key", key).Msg("score cache read failed, computing uncached")
		return 0, false
	}
	if !found {
		e.metrics.CacheLookup(metrics.CacheMiss)
		return 0, false
	}
	e.metrics.CacheLookup(metrics.CacheHit)
	return score, true
}

func (e *Engine) begin(emailID int64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[emailID]
	if !ok {
		p = &pendingCompute{}
		e.pending[emailID] = p
	}
	p.refs++
	return p.gen
}

func (e *Engine) end(emailID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.pending[emailID]; ok {
		if p.refs--; p.refs <= 0 {
			delete(e.pending, emailID)
		}
	}
}

func (e *Engine) invalidatedSince(emailID int64, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[emailID]
	return ok && p.gen != gen
}

// cacheFresh caches a computed score unless the email was invalidated after gen was taken.
// An invalidation racing the write itself is caught by the second check.
func (e *Engine) cacheFresh(ctx context.Context, emailID int64, gen uint64, key string, score float64, ttl time.Duration) {
	if e.invalidatedSince(emailID, gen) {
		e.log.Debug().Int64("email_id", emailID).Msg("email invalidated during compute, result not cached")
		return
	}
	e.cacheSet(ctx, key, score, ttl)
	if e.invalidatedSince(emailID, gen) && e.cache != nil {
		_ = e.cache.Delete(ctx, key)
	}
}

func (e *Engine) cacheSet(ctx context.Context, key string, score float64, ttl time.Duration) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, score, ttl); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("score cache write failed")
	}
}
