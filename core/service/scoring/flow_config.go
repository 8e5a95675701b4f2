// Package scoring computes attention scores: presets, strategies, the engine and the rescoring scheduler.
package scoring

import (
	"fmt"
	"os"
	"sort"
	"time"

	"flow_server/core/domain"

	"gopkg.in/yaml.v3"
)

// Environment selects a tuning preset.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment maps ENV values onto a preset. Unknown values are an error.
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "", "dev", string(Development):
		return Development, nil
	case "test", string(Testing):
		return Testing, nil
	case "prod", string(Production):
		return Production, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

// CategoryConfig is the per-category tuning entry.
type CategoryConfig struct {
	BaseScore float64
	TTL       time.Duration
	Decay     DecayParams
}

// LabelBonus is added to the category base score by the enhanced strategy.
type LabelBonus struct {
	Unread    float64
	Important float64
	Starred   float64
}

// Config is the immutable scoring table for one environment.
// Build it with Preset, optionally WithOverrides, then pass it to the engine. Never mutate it afterwards.
type Config struct {
	Environment     Environment
	Categories      map[string]CategoryConfig
	Default         CategoryConfig
	LabelBonus      LabelBonus
	MaxContextBoost float64

	BatchSize int
	Timeout   time.Duration // per-email strategy budget
	LogLevel  string
}

// 카테고리별 기본 점수 (모든 환경 공통)
var baseScores = map[string]float64{
	domain.CategoryImportant:   80,
	domain.CategoryWork:        70,
	domain.CategoryPersonal:    65,
	domain.CategoryUpdates:     45,
	domain.CategoryNewsletters: 35,
	domain.CategorySocial:      30,
	domain.CategoryPromotions:  20,
}

var decayParams = map[string]DecayParams{
	domain.CategoryImportant:   {HalfLifeHours: 72, Floor: 0.5},
	domain.CategoryPersonal:    {HalfLifeHours: 48, Floor: 0.4},
	domain.CategoryWork:        {HalfLifeHours: 48, Floor: 0.4},
	domain.CategoryUpdates:     {HalfLifeHours: 24, Floor: 0.25},
	domain.CategoryNewsletters: {HalfLifeHours: 24, Floor: 0.2},
	domain.CategorySocial:      {HalfLifeHours: 12, Floor: 0.15},
	domain.CategoryPromotions:  {HalfLifeHours: 12, Floor: 0.1},
}

var productionTTL = map[string]time.Duration{
	domain.CategoryImportant:   30 * time.Minute,
	domain.CategoryWork:        time.Hour,
	domain.CategoryPersonal:    time.Hour,
	domain.CategoryUpdates:     30 * time.Minute,
	domain.CategoryNewsletters: 30 * time.Minute,
	domain.CategorySocial:      15 * time.Minute,
	domain.CategoryPromotions:  15 * time.Minute,
}

const (
	defaultBaseScore = 50
	defaultTTL       = 30 * time.Minute
)

var defaultDecay = DecayParams{HalfLifeHours: 24, Floor: 0.3}

// Preset returns the tuning table of env. All presets share the same shape and differ only in numbers.
func Preset(env Environment) *Config {
	var (
		ttlScale  float64
		batchSize int
		timeout   time.Duration
		logLevel  string
	)
	switch env {
	case Testing:
		batchSize, timeout, logLevel = 10, 100*time.Millisecond, "warn"
	case Production:
		ttlScale, batchSize, timeout, logLevel = 1, 200, 100*time.Millisecond, "info"
	default:
		env = Development
		ttlScale, batchSize, timeout, logLevel = 1.0/6, 50, 200*time.Millisecond, "debug"
	}

	ttl := func(d time.Duration) time.Duration {
		if env == Testing {
			return time.Minute
		}
		return time.Duration(float64(d) * ttlScale)
	}

	cfg := &Config{
		Environment: env,
		Categories:  make(map[string]CategoryConfig, len(baseScores)),
		Default: CategoryConfig{
			BaseScore: defaultBaseScore,
			TTL:       ttl(defaultTTL),
			Decay:     defaultDecay,
		},
		LabelBonus:      LabelBonus{Unread: 10, Important: 15, Starred: 10},
		MaxContextBoost: 15,
		BatchSize:       batchSize,
		Timeout:         timeout,
		LogLevel:        logLevel,
	}
	for name, base := range baseScores {
		cfg.Categories[name] = CategoryConfig{
			BaseScore: base,
			TTL:       ttl(productionTTL[name]),
			Decay:     decayParams[name],
		}
	}
	// general is the resolver fallback; it uses the default entry explicitly.
	cfg.Categories[domain.CategoryGeneral] = cfg.Default
	return cfg
}

func (c *Config) entry(category string) CategoryConfig {
	if e, ok := c.Categories[category]; ok {
		return e
	}
	return c.Default
}

// BaseScore returns the base score of category, or the default entry's.
func (c *Config) BaseScore(category string) float64 {
	return c.entry(category).BaseScore
}

// CacheTTL returns the cache TTL of category, or the default entry's.
func (c *Config) CacheTTL(category string) time.Duration {
	return c.entry(category).TTL
}

// MinCacheTTL is the shortest TTL across all entries. No cached score outlives it.
func (c *Config) MinCacheTTL() time.Duration {
	min := c.Default.TTL
	for _, e := range c.Categories {
		if e.TTL < min {
			min = e.TTL
		}
	}
	return min
}

// CacheTTLSeconds is CacheTTL in whole seconds.
func (c *Config) CacheTTLSeconds(category string) int {
	return int(c.CacheTTL(category) / time.Second)
}

// DecayFunction returns the decay curve of category, or the default entry's.
func (c *Config) DecayFunction(category string) DecayFunc {
	return c.entry(category).Decay.Func()
}

// HalfLife returns the decay half-life of category in hours.
func (c *Config) HalfLife(category string) float64 {
	return c.entry(category).Decay.HalfLifeHours
}

// CategoryNames lists configured categories in name order.
func (c *Config) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every entry, including the default.
func (c *Config) Validate() error {
	check := func(name string, e CategoryConfig) error {
		if e.BaseScore < 0 || e.BaseScore > 100 {
			return fmt.Errorf("category %s: base score %v out of [0,100]", name, e.BaseScore)
		}
		if e.TTL <= 0 {
			return fmt.Errorf("category %s: ttl must be positive", name)
		}
		if err := e.Decay.Validate(); err != nil {
			return fmt.Errorf("category %s: %w", name, err)
		}
		return nil
	}
	if err := check("default", c.Default); err != nil {
		return err
	}
	for _, name := range c.CategoryNames() {
		if err := check(name, c.Categories[name]); err != nil {
			return err
		}
	}
	if c.MaxContextBoost < 0 {
		return fmt.Errorf("max context boost must not be negative")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Categories = make(map[string]CategoryConfig, len(c.Categories))
	for k, v := range c.Categories {
		cp.Categories[k] = v
	}
	return &cp
}

// =============================================================================
// YAML overrides
// =============================================================================

// Overrides is the optional tuning file merged over a preset at startup.
type Overrides struct {
	BatchSize       *int                        `yaml:"batch_size"`
	TimeoutMS       *int                        `yaml:"timeout_ms"`
	MaxContextBoost *float64                    `yaml:"max_context_boost"`
	LabelBonus      *LabelBonusOverride         `yaml:"label_bonus"`
	Default         *CategoryOverride           `yaml:"default"`
	Categories      map[string]CategoryOverride `yaml:"categories"`
}

type LabelBonusOverride struct {
	Unread    *float64 `yaml:"unread"`
	Important *float64 `yaml:"important"`
	Starred   *float64 `yaml:"starred"`
}

type CategoryOverride struct {
	BaseScore     *float64 `yaml:"base_score"`
	TTLSeconds    *int     `yaml:"ttl_seconds"`
	HalfLifeHours *float64 `yaml:"half_life_hours"`
	Floor         *float64 `yaml:"floor"`
}

// ParseOverrides decodes an overrides document.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse scoring overrides: %w", err)
	}
	return &o, nil
}

// LoadOverrides reads and decodes an overrides file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring overrides: %w", err)
	}
	return ParseOverrides(data)
}

// WithOverrides returns a validated copy of c with o merged in. c is left untouched.
// Unknown category names add new entries seeded from the default entry.
func (c *Config) WithOverrides(o *Overrides) (*Config, error) {
	out := c.clone()
	if o == nil {
		return out, out.Validate()
	}

	if o.BatchSize != nil {
		out.BatchSize = *o.BatchSize
	}
	if o.TimeoutMS != nil {
		out.Timeout = time.Duration(*o.TimeoutMS) * time.Millisecond
	}
	if o.MaxContextBoost != nil {
		out.MaxContextBoost = *o.MaxContextBoost
	}
	if lb := o.LabelBonus; lb != nil {
		setFloat(&out.LabelBonus.Unread, lb.Unread)
		setFloat(&out.LabelBonus.Important, lb.Important)
		setFloat(&out.LabelBonus.Starred, lb.Starred)
	}
	if o.Default != nil {
		out.Default = o.Default.apply(out.Default)
	}
	for name, co := range o.Categories {
		out.Categories[name] = co.apply(out.entry(name))
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring overrides: %w", err)
	}
	return out, nil
}

func (o CategoryOverride) apply(e CategoryConfig) CategoryConfig {
	setFloat(&e.BaseScore, o.BaseScore)
	if o.TTLSeconds != nil {
		e.TTL = time.Duration(*o.TTLSeconds) * time.Second
	}
	setFloat(&e.Decay.HalfLifeHours, o.HalfLifeHours)
	setFloat(&e.Decay.Floor, o.Floor)
	return e
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
