package bootstrap

import (
	"context"
	"fmt"
	"time"

	"flow_server/adapter/out/cache"
	"flow_server/adapter/out/persistence"
	"flow_server/config"
	"flow_server/core/port/out"
	"flow_server/core/service/classification"
	"flow_server/core/service/flow"
	"flow_server/core/service/scoring"
	"flow_server/infra/database"
	"flow_server/pkg/logger"
	"flow_server/pkg/metrics"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const startupTimeout = 15 * time.Second

type Dependencies struct {
	Config  *config.Config
	Scoring *scoring.Config
	DB      *sqlx.DB
	Redis   *redis.Client // nil when REDIS_URL is unset
	Log     zerolog.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.ScoringMetrics

	// Repositories
	EmailRepo    *persistence.EmailAdapter
	RuleRepo     *persistence.RuleAdapter
	DecisionRepo *persistence.DecisionAdapter

	// Cache, exactly one of the two is set
	RedisCache  *cache.RedisCache
	MemoryCache *cache.MemoryCache

	// Services
	Classification *classification.Service
	Engine         *scoring.Engine
	Scheduler      *scoring.Scheduler
	Flow           *flow.Service
}

// ScoreCache returns whichever cache backend is active.
func (d *Dependencies) ScoreCache() out.ScoreCache {
	if d.RedisCache != nil {
		return d.RedisCache
	}
	return d.MemoryCache
}

// NewDependencies builds the shared graph used by both the API and the worker.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	scoringCfg, err := loadScoringConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	// 환경 프리셋 로그 레벨, LOG_LEVEL이 있으면 우선
	level := scoringCfg.LogLevel
	if cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	log := logger.Init(logger.Config{Level: level, Format: cfg.LogFormat, Service: "flow"})

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	deps := &Dependencies{Config: cfg, Scoring: scoringCfg, Log: log}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// PostgreSQL
	deps.DB, err = database.NewPostgres(ctx, cfg.DatabaseURL, &database.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() { deps.DB.Close() })

	if err := database.Migrate(ctx, deps.DB); err != nil {
		cleanup()
		return nil, nil, err
	}
	log.Info().Msg("PostgreSQL connected")

	// Metrics
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewScoringMetrics(deps.Registry)
	metrics.RegisterDBPool(deps.Registry, "postgres", deps.DB.DB)

	// Redis (optional), 없으면 인메모리 캐시로 대체
	if cfg.RedisURL != "" {
		deps.Redis, err = database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { deps.Redis.Close() })
		deps.RedisCache = cache.NewRedisCache(deps.Redis, log)
		log.Info().Msg("Redis connected, using redis score cache")
	} else {
		deps.MemoryCache = cache.NewMemoryCache(cache.MemoryConfig{MaxEntries: cfg.CacheMaxEntries})
		closers = append(closers, func() { deps.MemoryCache.Close() })
		log.Warn().Msg("REDIS_URL not set, using in-memory score cache and inline label updates")
	}

	// Repositories
	deps.EmailRepo = persistence.NewEmailAdapter(deps.DB)
	deps.RuleRepo = persistence.NewRuleAdapter(deps.DB)
	deps.DecisionRepo = persistence.NewDecisionAdapter(deps.DB)

	if cfg.SeedCategories {
		created, err := classification.SeedSystemCategories(ctx, deps.RuleRepo)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to seed categories: %w", err)
		}
		if created > 0 {
			log.Info().Int("created", created).Msg("system categories seeded")
		}
	}

	deps.Classification = classification.NewService(classification.ServiceConfig{
		Rules:           deps.RuleRepo,
		Decisions:       deps.DecisionRepo,
		DefaultCategory: cfg.DefaultCategory,
		Metrics:         deps.Metrics,
		Logger:          log,
	})

	if err := deps.buildScoring(); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Flow = flow.NewService(deps.EmailRepo, deps.Engine, log)

	return deps, cleanup, nil
}

func (d *Dependencies) buildScoring() error {
	strategy, err := scoring.NewStrategy(d.Config.ScoringStrategy, d.Scoring)
	if err != nil {
		return err
	}

	// Compare는 두 전략 모두 사용 가능
	var extra []scoring.Strategy
	if strategy.Name() != scoring.StrategyEnhanced {
		extra = append(extra, scoring.NewEnhancedStrategy(d.Scoring))
	}

	d.Engine, err = scoring.NewEngine(d.Scoring, scoring.EngineDeps{
		Strategy: strategy,
		Extra:    extra,
		Cache:    d.ScoreCache(),
		Resolver: d.Classification,
		Metrics:  d.Metrics,
		Logger:   d.Log,
	})
	if err != nil {
		return fmt.Errorf("failed to create scoring engine: %w", err)
	}

	d.Scheduler = scoring.NewScheduler(d.Engine, d.EmailRepo, scoring.SchedulerConfig{
		Workers:  d.Config.SchedulerWorkers,
		Interval: d.Config.SchedulerInterval,
	}, d.Metrics, d.Log)
	return nil
}

// loadScoringConfig picks the environment preset and applies the optional YAML overrides.
func loadScoringConfig(cfg *config.Config) (*scoring.Config, error) {
	preset := scoring.Preset(cfg.ScoringEnvironment())
	if cfg.ScoringOverridesFile == "" {
		return preset, nil
	}
	overrides, err := scoring.LoadOverrides(cfg.ScoringOverridesFile)
	if err != nil {
		return nil, err
	}
	merged, err := preset.WithOverrides(overrides)
	if err != nil {
		return nil, fmt.Errorf("invalid scoring overrides: %w", err)
	}
	return merged, nil
}
