package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"
	"flow_server/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// BatchResult reports one rescoring batch. Partial failure is a normal outcome.
type BatchResult struct {
	Updated   int             `json:"updated"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`   // not stale
	Deferred  int             `json:"deferred"`  // stale but beyond the batch size
	Cancelled int             `json:"cancelled"` // not attempted because the context ended
	Elapsed   time.Duration   `json:"elapsed"`
	Failures  map[int64]error `json:"-"`
}

// SchedulerConfig tunes the scheduler. Zero values fall back to the engine's Config.
type SchedulerConfig struct {
	BatchSize int
	Workers   int // <= 1 processes sequentially in priority order
	Interval  time.Duration
}

// Scheduler decides which emails are stale and rescores them in priority order.
type Scheduler struct {
	engine  *Engine
	emails  out.EmailRepository
	config  SchedulerConfig
	metrics *metrics.ScoringMetrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates a scheduler writing through emails.
func NewScheduler(engine *Engine, emails out.EmailRepository, cfg SchedulerConfig, m *metrics.ScoringMetrics, log zerolog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = engine.Config().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		engine:  engine,
		emails:  emails,
		config:  cfg,
		metrics: m,
		log:     log.With().Str("component", "score_scheduler").Logger(),
		now:     engine.now,
	}
}

// ShouldUpdate reports whether email needs a new score: dirty, never scored, labels changed since
// the last reprocessing, or no live cached score.
func (s *Scheduler) ShouldUpdate(ctx context.Context, email *domain.Email) bool {
	if email.IsDirty || email.LastReprocessedAt == nil || email.LabelsChangedSinceReprocess() {
		return true
	}

	if cached, known := s.engine.Cached(ctx, email.ID); known {
		return !cached
	}

	// no cache to ask: expire by the category TTL
	ttl := s.engine.Config().CacheTTL(email.Category)
	return !s.now().Before(email.LastReprocessedAt.Add(ttl))
}

// Priority ranks emails by how fast their category decays. Higher runs first.
func (s *Scheduler) Priority(email *domain.Email) int {
	halfLife := s.engine.Config().HalfLife(email.Category)
	if halfLife <= 0 {
		return 0
	}
	return int(math.Round(10000 / halfLife))
}

// UpdateBatch rescores the stale emails among emails, at most BatchSize of them.
// Cancellation is checked before each email; an email's score is written in a single store call.
func (s *Scheduler) UpdateBatch(ctx context.Context, emails []*domain.Email) *BatchResult {
	start := time.Now()
	result := &BatchResult{Failures: make(map[int64]error)}

	eligible := make([]*domain.Email, 0, len(emails))
	for _, e := range emails {
		if s.ShouldUpdate(ctx, e) {
			eligible = append(eligible, e)
		} else {
			result.Skipped++
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := s.Priority(eligible[i]), s.Priority(eligible[j])
		if pi != pj {
			return pi > pj
		}
		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) > s.config.BatchSize {
		result.Deferred = len(eligible) - s.config.BatchSize
		eligible = eligible[:s.config.BatchSize]
	}

	if s.config.Workers <= 1 {
		s.runSequential(ctx, eligible, result)
	} else {
		s.runPool(ctx, eligible, result)
	}

	result.Elapsed = time.Since(start)
	s.metrics.Batch(result.Updated, result.Failed, result.Skipped, result.Elapsed)

	s.log.Info().
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("deferred", result.Deferred).
		Int("cancelled", result.Cancelled).
		Dur("elapsed", result.Elapsed).
		Msg("score batch finished")
	return result
}

func (s *Scheduler) runSequential(ctx context.Context, emails []*domain.Email, result *BatchResult) {
	for i, email := range emails {
		if ctx.Err() != nil {
			result.Cancelled = len(emails) - i
			return
		}
		if err := s.updateOne(ctx, email); err != nil {
			result.Failed++
			result.Failures[email.ID] = err
			continue
		}
		result.Updated++
	}
}

// runPool fans the batch out over go-pkgz/pool workers. The pool itself runs on a detached
// context so it always drains; each worker checks the caller's context before touching an email.
func (s *Scheduler) runPool(ctx context.Context, emails []*domain.Email, result *BatchResult) {
	var mu sync.Mutex
	record := func(email *domain.Email, err error, cancelled bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case cancelled:
			result.Cancelled++
		case err != nil:
			result.Failed++
			result.Failures[email.ID] = err
		default:
			result.Updated++
		}
	}

	worker := pool.WorkerFunc[*domain.Email](func(_ context.Context, email *domain.Email) error {
		if ctx.Err() != nil {
			record(email, nil, true)
			return nil
		}
		record(email, s.updateOne(ctx, email), false)
		return nil
	})

	poolCtx := context.WithoutCancel(ctx)
	p := pool.New[*domain.Email](s.config.Workers, worker).WithContinueOnError()
	if err := p.Go(poolCtx); err != nil {
		s.log.Error().Err(err).Msg("failed to start batch pool, running sequentially")
		s.runSequential(ctx, emails, result)
		return
	}
	for _, email := range emails {
		p.Submit(email)
	}
	if err := p.Close(poolCtx); err != nil {
		s.log.Warn().Err(err).Msg("batch pool closed with error")
	}
}

// updateOne stamps the time taken before compute, and the revision read with the email.
func (s *Scheduler) updateOne(ctx context.Context, email *domain.Email) error {
	at := s.now()
	res, err := s.engine.Rescore(ctx, email)
	if err != nil {
		s.log.Error().Err(err).Int64("email_id", email.ID).Msg("failed to score email")
		return err
	}
	if err := s.emails.SaveScore(ctx, email.ID, email.Revision, res.Category, res.Score, at); err != nil {
		s.log.Error().Err(err).Int64("email_id", email.ID).Msg("failed to save score")
		return fmt.Errorf("failed to save score: %w", err)
	}
	return nil
}

// RunOnce loads one page of stale emails and rescores them. Emails reprocessed longer ago than the
// shortest category TTL are candidates; ShouldUpdate applies each email's own TTL.
func (s *Scheduler) RunOnce(ctx context.Context) (*BatchResult, error) {
	expiredBefore := s.now().Add(-s.engine.Config().MinCacheTTL())
	emails, err := s.emails.ListStale(ctx, s.config.BatchSize, expiredBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale emails: %w", err)
	}
	return s.UpdateBatch(ctx, emails), nil
}

// Run calls RunOnce every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.config.Interval).
		Int("batch_size", s.config.BatchSize).
		Int("workers", s.config.Workers).
		Msg("score scheduler started")

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("score batch failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
