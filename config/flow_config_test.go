package config

import (
	"testing"
	"time"

	"flow_server/core/service/scoring"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.ScoringStrategy != "enhanced" || cfg.LabelDeltaStream != "flow:label-delta" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.SchedulerInterval != time.Minute || !cfg.SchedulerEnabled || cfg.WorkerID == "" {
		t.Errorf("scheduler defaults = %+v", cfg)
	}
	if !cfg.IsDevelopment() || cfg.ScoringEnvironment() != scoring.Development {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without DATABASE_URL should fail")
	}
}

func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "production overrides",
			environ: map[string]string{
				"ENV":                "production",
				"DATABASE_URL":       "postgres://localhost/flow",
				"SCHEDULER_INTERVAL": "30s",
				"SCHEDULER_WORKERS":  "0",
				"SCORING_STRATEGY":   "simple",
				"WORKER_ID":          "w-1",
			},
			check: func(t *testing.T, c *Config) {
				if !c.IsProduction() || c.SchedulerInterval != 30*time.Second || c.SchedulerWorkers != 1 {
					t.Errorf("config = %+v", c)
				}
				if c.WorkerID != "w-1" || c.Validate() != nil {
					t.Errorf("config = %+v", c)
				}
			},
		},
		{name: "unknown environment", environ: map[string]string{"ENV": "staging"}, wantErr: true},
		{name: "unknown strategy", environ: map[string]string{"SCORING_STRATEGY": "magic"}, wantErr: true},
		{name: "bad duration", environ: map[string]string{"SCHEDULER_INTERVAL": "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(tt.environ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadFrom() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
