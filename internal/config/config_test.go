package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.RateLimitRPS != 1.0 || cfg.Pipeline.MaxConcurrency != 10 {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Analytics.RowLimit != 5000 || cfg.Analytics.DaysBack != 90 {
		t.Errorf("unexpected analytics defaults: %+v", cfg.Analytics)
	}
	if cfg.Serp.Provider != "serper" || cfg.Serp.Window != 10 {
		t.Errorf("unexpected serp defaults: %+v", cfg.Serp)
	}
	if cfg.Scoring.Weights.Volume != 0.5 {
		t.Errorf("unexpected weight defaults: %+v", cfg.Scoring.Weights)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
analytics:
  siteUrl: https://example.com
  rowLimit: 200
serp:
  provider: serpapi
  country: de
  language: de
pipeline:
  rateLimitRps: 2.5
  maxConcurrency: 4
  perQueryTimeout: 10s
storage:
  backend: sqlite
  path: /tmp/records.db
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Analytics.SiteURL != "https://example.com" || cfg.Analytics.RowLimit != 200 {
		t.Errorf("yaml analytics not applied: %+v", cfg.Analytics)
	}
	// Unset keys keep their defaults.
	if cfg.Analytics.DaysBack != 90 {
		t.Errorf("default days back lost: %d", cfg.Analytics.DaysBack)
	}
	if cfg.Serp.Provider != "serpapi" || cfg.Serp.Country != "de" {
		t.Errorf("yaml serp not applied: %+v", cfg.Serp)
	}
	if cfg.Pipeline.RateLimitRPS != 2.5 || cfg.Pipeline.PerQueryTimeout.Std() != 10*time.Second {
		t.Errorf("yaml pipeline not applied: %+v", cfg.Pipeline)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "/tmp/records.db" {
		t.Errorf("yaml storage not applied: %+v", cfg.Storage)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AIOSCOPE_SERP_API_KEY", "secret-key")
	t.Setenv("AIOSCOPE_SITE_URL", "https://env.example.com")
	t.Setenv("AIOSCOPE_METRICS_PORT", "9200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Serp.APIKey != "secret-key" {
		t.Errorf("api key env not applied: %q", cfg.Serp.APIKey)
	}
	if cfg.Analytics.SiteURL != "https://env.example.com" {
		t.Errorf("site url env not applied: %q", cfg.Analytics.SiteURL)
	}
	if cfg.Metrics.Port != 9200 {
		t.Errorf("metrics port env not applied: %d", cfg.Metrics.Port)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate limit", func(c *Config) { c.Pipeline.RateLimitRPS = 0 }},
		{"zero concurrency", func(c *Config) { c.Pipeline.MaxConcurrency = 0 }},
		{"zero retries", func(c *Config) { c.Pipeline.RetryMaxAttempts = 0 }},
		{"unknown provider", func(c *Config) { c.Serp.Provider = "bing" }},
		{"zero window", func(c *Config) { c.Serp.Window = 0 }},
		{"bad seed regex", func(c *Config) { c.Analytics.SeedFilter = "(" }},
		{"negative weight", func(c *Config) { c.Scoring.Weights.Volume = -1 }},
		{"all weights zero", func(c *Config) { c.Scoring.Weights = Default().Scoring.Weights; c.Scoring.Weights.Volume = 0; c.Scoring.Weights.Competition = 0; c.Scoring.Weights.Overview = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"sqlite without path", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDateRangeDays(t *testing.T) {
	cfg := AnalyticsConfig{DaysBack: 30}
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	start, end := cfg.DateRangeDays(now)
	if !end.Equal(now) {
		t.Errorf("end should be now, got %v", end)
	}
	if !start.Equal(now.AddDate(0, 0, -30)) {
		t.Errorf("start should be 30 days back, got %v", start)
	}
}
