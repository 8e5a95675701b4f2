package bootstrap

import (
	"context"
	"errors"
	"sync"

	"flow_server/adapter/out/messaging"
	"flow_server/config"
	"flow_server/core/service/scoring"

	"github.com/rs/zerolog"
)

// Worker runs the rescoring scheduler and, when Redis is configured, the label delta consumer.
type Worker struct {
	deps      *Dependencies
	scheduler *scoring.Scheduler
	consumer  *messaging.Consumer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	return newWorker(deps), cleanup, nil
}

func newWorker(deps *Dependencies) *Worker {
	cfg := deps.Config
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   deps.Log.With().Str("component", "worker").Logger(),
	}

	if cfg.SchedulerEnabled {
		w.scheduler = deps.Scheduler
	} else {
		w.zlog.Warn().Msg("score scheduler disabled")
	}

	// Redis Stream Consumer 설정 (Redis가 있을 때만)
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:           cfg.ConsumerGroup,
			Consumer:        cfg.WorkerID,
			Streams:         []string{cfg.LabelDeltaStream},
			Handler:         messaging.NewLabelDeltaHandler(deps.Flow),
			Logger:          deps.Log,
			PendingIdleTime: cfg.ConsumerPendingIdle,
			MaxRetries:      cfg.ConsumerMaxRetries,
			BatchSize:       cfg.ConsumerBatchSize,
		})
		w.zlog.Info().Str("stream", cfg.LabelDeltaStream).Msg("label delta consumer configured")
	} else {
		w.zlog.Warn().Msg("Redis not available, label deltas are applied inline by the API")
	}
	return w
}

// Start blocks until Stop is called and every loop has returned.
func (w *Worker) Start() {
	if w.scheduler != nil {
		w.run("score scheduler", w.scheduler.Run)
	}
	if w.consumer != nil {
		w.run("label delta consumer", w.consumer.Run)
	}
	<-w.ctx.Done()
	w.wg.Wait()
}

func (w *Worker) run(name string, fn func(context.Context) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msgf("Starting %s...", name)
		if err := fn(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.zlog.Error().Err(err).Msgf("%s stopped", name)
		}
	}()
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
