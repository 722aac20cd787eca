// Package config loads run configuration from YAML with environment
// overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aioscope/aioscope/internal/report"
)

const (
	serpAPIKeyEnv   = "AIOSCOPE_SERP_API_KEY"
	siteURLEnv      = "AIOSCOPE_SITE_URL"
	adsCustomerEnv  = "AIOSCOPE_ADS_CUSTOMER_ID"
	postgresDSNEnv  = "AIOSCOPE_PG_DSN"
	storagePathEnv  = "AIOSCOPE_STORAGE_PATH"
	metricsPortEnv  = "AIOSCOPE_METRICS_PORT"
	defaultQuestion = `^(what|how|why|when|where|who|which|can|does|is|are)\b`
)

// Config holds the full run configuration.
type Config struct {
	Analytics AnalyticsConfig `yaml:"analytics"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Serp      SerpConfig      `yaml:"serp"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"logLevel"`
}

// AnalyticsConfig selects the search-analytics property and history window.
type AnalyticsConfig struct {
	SiteURL    string `yaml:"siteUrl"`
	RowLimit   int    `yaml:"rowLimit"`
	DaysBack   int    `yaml:"daysBack"`
	SeedFilter string `yaml:"seedFilter"` // regex applied server-side to queries
}

// ExpansionConfig identifies the keyword-planner account.
type ExpansionConfig struct {
	CustomerID    string `yaml:"customerId"`
	LanguageCode  string `yaml:"languageCode"`
	GeoTargetCode string `yaml:"geoTargetCode"`
}

// SerpConfig selects and parameterizes the SERP provider.
type SerpConfig struct {
	Provider string `yaml:"provider"` // serper, serpapi, html
	APIKey   string `yaml:"apiKey"`
	Country  string `yaml:"country"`
	Language string `yaml:"language"`
	Window   int    `yaml:"window"`
	Profile  string `yaml:"profile"`  // TLS fingerprint, html provider only
	ProxyURL string `yaml:"proxyUrl"` // optional egress proxy, html provider only
}

// Duration wraps time.Duration so YAML can express values like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PipelineConfig bounds dispatch, retries, and timeouts.
type PipelineConfig struct {
	RateLimitRPS     float64  `yaml:"rateLimitRps"`
	MaxConcurrency   int64    `yaml:"maxConcurrency"`
	RetryMaxAttempts int      `yaml:"retryMaxAttempts"`
	RetryBaseDelay   Duration `yaml:"retryBaseDelay"`
	PerQueryTimeout  Duration `yaml:"perQueryTimeout"`
	RunTimeout       Duration `yaml:"runTimeout"`
}

// ScoringConfig carries the potential-score weights.
type ScoringConfig struct {
	Weights report.Weights `yaml:"weights"`
}

// StorageConfig selects the persistence backend. An empty backend keeps the
// run in memory only.
type StorageConfig struct {
	Backend string `yaml:"backend"` // csv, ndjson, sqlite, postgres
	Path    string `yaml:"path"`    // file backends
	DSN     string `yaml:"dsn"`     // postgres
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Analytics: AnalyticsConfig{
			RowLimit:   5000,
			DaysBack:   90,
			SeedFilter: defaultQuestion,
		},
		Serp: SerpConfig{
			Provider: "serper",
			Country:  "us",
			Language: "en",
			Window:   10,
			Profile:  "chrome",
		},
		Pipeline: PipelineConfig{
			RateLimitRPS:     1.0,
			MaxConcurrency:   10,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   Duration(time.Second),
			PerQueryTimeout:  Duration(30 * time.Second),
		},
		Scoring:  ScoringConfig{Weights: report.DefaultWeights()},
		Metrics:  MetricsConfig{Port: 9091},
		LogLevel: "info",
	}
}

// Load reads YAML configuration from path (when non-empty), applies
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(serpAPIKeyEnv); v != "" {
		c.Serp.APIKey = v
	}
	if v := os.Getenv(siteURLEnv); v != "" {
		c.Analytics.SiteURL = v
	}
	if v := os.Getenv(adsCustomerEnv); v != "" {
		c.Expansion.CustomerID = v
	}
	if v := os.Getenv(postgresDSNEnv); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(storagePathEnv); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(metricsPortEnv); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Analytics.RowLimit <= 0 {
		return fmt.Errorf("config: analytics row limit must be > 0, got %d", c.Analytics.RowLimit)
	}
	if c.Analytics.DaysBack <= 0 {
		return fmt.Errorf("config: analytics days back must be > 0, got %d", c.Analytics.DaysBack)
	}
	if c.Analytics.SeedFilter != "" {
		if _, err := regexp.Compile(c.Analytics.SeedFilter); err != nil {
			return fmt.Errorf("config: seed filter is not a valid regex: %w", err)
		}
	}

	switch c.Serp.Provider {
	case "serper", "serpapi", "html":
	default:
		return fmt.Errorf("config: unknown serp provider %q", c.Serp.Provider)
	}
	if c.Serp.Window <= 0 {
		return fmt.Errorf("config: serp window must be > 0, got %d", c.Serp.Window)
	}

	if c.Pipeline.RateLimitRPS <= 0 {
		return fmt.Errorf("config: rate limit must be > 0, got %v", c.Pipeline.RateLimitRPS)
	}
	if c.Pipeline.MaxConcurrency < 1 {
		return fmt.Errorf("config: max concurrency must be >= 1, got %d", c.Pipeline.MaxConcurrency)
	}
	if c.Pipeline.RetryMaxAttempts < 1 {
		return fmt.Errorf("config: retry attempts must be >= 1, got %d", c.Pipeline.RetryMaxAttempts)
	}

	w := c.Scoring.Weights
	if w.Volume < 0 || w.Competition < 0 || w.Overview < 0 {
		return fmt.Errorf("config: scoring weights must be non-negative, got %+v", w)
	}
	if w.Volume+w.Competition+w.Overview == 0 {
		return fmt.Errorf("config: at least one scoring weight must be positive")
	}

	switch c.Storage.Backend {
	case "", "csv", "ndjson", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if (c.Storage.Backend == "csv" || c.Storage.Backend == "ndjson" || c.Storage.Backend == "sqlite") && c.Storage.Path == "" {
		return fmt.Errorf("config: storage backend %q requires a path", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("config: postgres backend requires a dsn")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("config: metrics port must be in 1-65535, got %d", c.Metrics.Port)
	}

	return nil
}

// DateRangeDays converts DaysBack into a concrete start/end pair ending now.
func (c AnalyticsConfig) DateRangeDays(now time.Time) (time.Time, time.Time) {
	end := now.UTC()
	return end.AddDate(0, 0, -c.DaysBack), end
}
