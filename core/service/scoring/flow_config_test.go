package scoring

import (
	"math"
	"reflect"
	"testing"
	"time"

	"flow_server/core/domain"
)

func TestPreset_SameShape(t *testing.T) {
	dev := Preset(Development)
	for _, env := range []Environment{Development, Testing, Production} {
		t.Run(string(env), func(t *testing.T) {
			cfg := Preset(env)
			if cfg.Environment != env {
				t.Errorf("Environment = %v, want %v", cfg.Environment, env)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !reflect.DeepEqual(cfg.CategoryNames(), dev.CategoryNames()) {
				t.Errorf("CategoryNames() = %v, want %v", cfg.CategoryNames(), dev.CategoryNames())
			}
			for _, name := range cfg.CategoryNames() {
				if got, want := cfg.BaseScore(name), dev.BaseScore(name); got != want {
					t.Errorf("BaseScore(%s) = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestPreset_Tuning(t *testing.T) {
	dev, test, prod := Preset(Development), Preset(Testing), Preset(Production)

	if !(test.BatchSize < dev.BatchSize && dev.BatchSize < prod.BatchSize) {
		t.Errorf("batch sizes test=%d dev=%d prod=%d, want increasing", test.BatchSize, dev.BatchSize, prod.BatchSize)
	}
	for _, name := range prod.CategoryNames() {
		if test.CacheTTL(name) > prod.CacheTTL(name) {
			t.Errorf("testing TTL(%s) = %v exceeds production %v", name, test.CacheTTL(name), prod.CacheTTL(name))
		}
		if dev.CacheTTL(name) >= prod.CacheTTL(name) {
			t.Errorf("development TTL(%s) = %v, want shorter than production %v", name, dev.CacheTTL(name), prod.CacheTTL(name))
		}
	}
	if got := prod.CacheTTLSeconds(domain.CategoryPromotions); got != 900 {
		t.Errorf("production promotions TTL = %d, want 900", got)
	}
	if test.LogLevel != "warn" || dev.LogLevel != "debug" || prod.LogLevel != "info" {
		t.Errorf("log levels = %s/%s/%s", dev.LogLevel, test.LogLevel, prod.LogLevel)
	}
}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    Environment
		wantErr bool
	}{
		{"", Development, false},
		{"development", Development, false},
		{"test", Testing, false},
		{"production", Production, false},
		{"prod", Production, false},
		{"staging", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEnvironment(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEnvironment(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseEnvironment(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfig_DefaultFallback(t *testing.T) {
	cfg := Preset(Production)

	if got := cfg.BaseScore("unknown"); got != cfg.Default.BaseScore {
		t.Errorf("BaseScore(unknown) = %v, want %v", got, cfg.Default.BaseScore)
	}
	if got := cfg.CacheTTL("unknown"); got != cfg.Default.TTL {
		t.Errorf("CacheTTL(unknown) = %v, want %v", got, cfg.Default.TTL)
	}
	if got, want := cfg.DecayFunction("unknown")(24), cfg.Default.Decay.Func()(24); got != want {
		t.Errorf("DecayFunction(unknown)(24) = %v, want %v", got, want)
	}
	if got := cfg.BaseScore(domain.CategoryGeneral); got != 50 {
		t.Errorf("BaseScore(general) = %v, want 50", got)
	}
}

func TestConfig_MinCacheTTL(t *testing.T) {
	tests := []struct {
		env  Environment
		want time.Duration
	}{
		{Production, 15 * time.Minute}, // social, promotions
		{Testing, time.Minute},
	}
	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			cfg := Preset(tt.env)
			if got := cfg.MinCacheTTL(); got != tt.want {
				t.Errorf("MinCacheTTL() = %v, want %v", got, tt.want)
			}
			for _, name := range cfg.CategoryNames() {
				if cfg.CacheTTL(name) < cfg.MinCacheTTL() {
					t.Errorf("CacheTTL(%s) = %v below MinCacheTTL", name, cfg.CacheTTL(name))
				}
			}
		})
	}
}

func TestDecay(t *testing.T) {
	cfg := Preset(Production)

	tests := []struct {
		category string
		age      float64
		want     float64
	}{
		{domain.CategoryImportant, 0, 1},
		{domain.CategoryImportant, -5, 1},
		{domain.CategoryImportant, 72, 0.75},
		{domain.CategoryPromotions, 12, 0.55},
		{domain.CategoryImportant, 1e9, 0.5},
		{domain.CategoryPromotions, 1e9, 0.1},
	}
	for _, tt := range tests {
		got := cfg.DecayFunction(tt.category)(tt.age)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("DecayFunction(%s)(%v) = %v, want %v", tt.category, tt.age, got, tt.want)
		}
	}
}

func TestDecay_MonotoneAndBounded(t *testing.T) {
	cfg := Preset(Production)
	for _, name := range cfg.CategoryNames() {
		fn := cfg.DecayFunction(name)
		floor := cfg.Categories[name].Decay.Floor
		prev := fn(0)
		for age := 0.0; age <= 2000; age += 3.5 {
			m := fn(age)
			if m > prev+1e-12 {
				t.Fatalf("%s: decay increased at %vh: %v > %v", name, age, m, prev)
			}
			if m < floor || m > 1 {
				t.Fatalf("%s: decay(%v) = %v outside [%v,1]", name, age, m, floor)
			}
			prev = m
		}
	}
}

func TestWithOverrides(t *testing.T) {
	base := Preset(Production)
	doc := []byte(`
batch_size: 75
timeout_ms: 250
label_bonus:
  unread: 12
categories:
  promotions:
    base_score: 25
    ttl_seconds: 600
  receipts:
    base_score: 40
    half_life_hours: 6
    floor: 0.2
`)
	o, err := ParseOverrides(doc)
	if err != nil {
		t.Fatalf("ParseOverrides() error = %v", err)
	}
	cfg, err := base.WithOverrides(o)
	if err != nil {
		t.Fatalf("WithOverrides() error = %v", err)
	}

	if cfg.BatchSize != 75 || cfg.Timeout != 250*time.Millisecond {
		t.Errorf("batch/timeout = %d/%v, want 75/250ms", cfg.BatchSize, cfg.Timeout)
	}
	if cfg.LabelBonus.Unread != 12 || cfg.LabelBonus.Important != base.LabelBonus.Important {
		t.Errorf("LabelBonus = %+v", cfg.LabelBonus)
	}
	if got := cfg.BaseScore(domain.CategoryPromotions); got != 25 {
		t.Errorf("BaseScore(promotions) = %v, want 25", got)
	}
	if got := cfg.CacheTTL(domain.CategoryPromotions); got != 10*time.Minute {
		t.Errorf("CacheTTL(promotions) = %v, want 10m", got)
	}
	if got := cfg.Categories[domain.CategoryPromotions].Decay; got != base.Categories[domain.CategoryPromotions].Decay {
		t.Errorf("promotions decay changed to %+v", got)
	}
	if got := cfg.HalfLife("receipts"); got != 6 {
		t.Errorf("HalfLife(receipts) = %v, want 6", got)
	}
	if got := cfg.CacheTTL("receipts"); got != base.Default.TTL {
		t.Errorf("CacheTTL(receipts) = %v, want default %v", got, base.Default.TTL)
	}

	// preset untouched
	if base.BaseScore(domain.CategoryPromotions) != 20 || base.BatchSize != 200 {
		t.Error("WithOverrides mutated the source config")
	}
	if _, ok := base.Categories["receipts"]; ok {
		t.Error("WithOverrides added a category to the source config")
	}
}

func TestWithOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"floor above one", "categories:\n  social:\n    floor: 1.5\n"},
		{"zero half-life", "default:\n  half_life_hours: 0\n"},
		{"base over 100", "categories:\n  work:\n    base_score: 120\n"},
		{"zero batch", "batch_size: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := ParseOverrides([]byte(tt.doc))
			if err != nil {
				t.Fatalf("ParseOverrides() error = %v", err)
			}
			if _, err := Preset(Production).WithOverrides(o); err == nil {
				t.Error("WithOverrides() error = nil, want validation error")
			}
		})
	}
}
