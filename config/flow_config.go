package config

import (
	"fmt"
	"os"
	"time"

	"flow_server/core/service/scoring"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENV" envDefault:"development"`

	// Database
	DatabaseURL     string        `env:"DATABASE_URL"`
	DBMaxOpenConns  int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns  int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLife   time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	RedisURL        string        `env:"REDIS_URL"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"10000"`

	// Logging, 비어 있으면 환경 프리셋 레벨 사용
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// 쓰기 엔드포인트 (resync, labels) 사용자별 제한, 0이면 비활성
	WriteRateLimit  int           `env:"WRITE_RATE_LIMIT" envDefault:"30"`
	WriteRateWindow time.Duration `env:"WRITE_RATE_WINDOW" envDefault:"1m"`

	// Scoring
	ScoringStrategy      string `env:"SCORING_STRATEGY" envDefault:"enhanced"`
	ScoringOverridesFile string `env:"SCORING_OVERRIDES_FILE"`
	DefaultCategory      string `env:"DEFAULT_CATEGORY" envDefault:"general"`
	SeedCategories       bool   `env:"SEED_CATEGORIES" envDefault:"true"`

	// Scheduler
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	SchedulerWorkers  int           `env:"SCHEDULER_WORKERS" envDefault:"4"`

	// Consumer (Redis Stream)
	LabelDeltaStream    string        `env:"LABEL_DELTA_STREAM" envDefault:"flow:label-delta"`
	ConsumerGroup       string        `env:"CONSUMER_GROUP" envDefault:"flow-workers"`
	WorkerID            string        `env:"WORKER_ID"`
	ConsumerBatchSize   int64         `env:"CONSUMER_BATCH_SIZE" envDefault:"50"`
	ConsumerMaxRetries  int           `env:"CONSUMER_MAX_RETRIES" envDefault:"3"`
	ConsumerPendingIdle time.Duration `env:"CONSUMER_PENDING_IDLE" envDefault:"2m"`
}

// Load reads the process environment. .env loading is left to main.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads a fixed environment map instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := scoring.ParseEnvironment(cfg.Environment); err != nil {
		return nil, err
	}
	if _, err := scoring.NewStrategy(cfg.ScoringStrategy, scoring.Preset(scoring.Development)); err != nil {
		return nil, err
	}
	if cfg.SchedulerWorkers < 1 {
		cfg.SchedulerWorkers = 1
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = generateWorkerID()
	}
	return cfg, nil
}

// Validate checks what the given run mode needs.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// ScoringEnvironment is the preset selected by ENV. Load has already validated it.
func (c *Config) ScoringEnvironment() scoring.Environment {
	e, _ := scoring.ParseEnvironment(c.Environment)
	return e
}

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.ScoringEnvironment() == scoring.Development
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.ScoringEnvironment() == scoring.Production
}
