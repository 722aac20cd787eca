// Package app composes a runnable enrichment application from configuration:
// connector selection, storage backend, metrics endpoint, and the pipeline
// orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/aioscope/aioscope/internal/config"
	"github.com/aioscope/aioscope/internal/fingerprint"
	"github.com/aioscope/aioscope/internal/metrics"
	"github.com/aioscope/aioscope/internal/pipeline"
	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/internal/source/ads"
	"github.com/aioscope/aioscope/internal/source/googlehtml"
	"github.com/aioscope/aioscope/internal/source/gsc"
	"github.com/aioscope/aioscope/internal/source/serpapi"
	"github.com/aioscope/aioscope/internal/source/serper"
	"github.com/aioscope/aioscope/internal/storage"
	"github.com/aioscope/aioscope/internal/storage/csvbackend"
	"github.com/aioscope/aioscope/internal/storage/jsonbackend"
	"github.com/aioscope/aioscope/internal/storage/postgres"
	"github.com/aioscope/aioscope/internal/storage/sqlite"
)

// Options carries dependencies Build cannot derive from configuration.
type Options struct {
	// AuthTransport is the pre-authorized round tripper for the Google
	// analytics and keyword-planner APIs.
	AuthTransport http.RoundTripper

	// Endpoint overrides, used by tests to point connectors at fakes.
	AnalyticsBaseURL string
	ExpansionBaseURL string
	SerpEndpoint     string

	Logger *slog.Logger
}

// App is a fully wired enrichment application.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Backend      storage.Backend // nil when persistence is not configured
	Metrics      *metrics.Server // nil when disabled

	logger *slog.Logger
}

// Build wires an App from validated configuration.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	}

	analytics := gsc.New(gsc.Config{
		Transport: opts.AuthTransport,
		BaseURL:   opts.AnalyticsBaseURL,
		SiteURL:   cfg.Analytics.SiteURL,
		RowLimit:  cfg.Analytics.RowLimit,
		Timeout:   cfg.Pipeline.PerQueryTimeout.Std(),
		Logger:    logger,
	})

	expansion := ads.New(ads.Config{
		Transport:     opts.AuthTransport,
		BaseURL:       opts.ExpansionBaseURL,
		CustomerID:    cfg.Expansion.CustomerID,
		LanguageCode:  cfg.Expansion.LanguageCode,
		GeoTargetCode: cfg.Expansion.GeoTargetCode,
		Timeout:       cfg.Pipeline.PerQueryTimeout.Std(),
		Logger:        logger,
	})

	serp, err := buildSerp(cfg.Serp, cfg.Pipeline.PerQueryTimeout.Std(), opts.SerpEndpoint, logger)
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	start, end := cfg.Analytics.DateRangeDays(time.Now())
	orch, err := pipeline.New(pipeline.Config{
		Analytics:  analytics,
		Expansion:  expansion,
		Serp:       serp,
		DateRange:  source.DateRange{Start: start, End: end},
		SeedFilter: cfg.Analytics.SeedFilter,
		Locale:     source.Locale{Country: cfg.Serp.Country, Language: cfg.Serp.Language},
		Window:     cfg.Serp.Window,
		Weights:    cfg.Scoring.Weights,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
			BaseDelay:   cfg.Pipeline.RetryBaseDelay.Std(),
		},
		RateLimitRPS:    cfg.Pipeline.RateLimitRPS,
		MaxConcurrency:  cfg.Pipeline.MaxConcurrency,
		PerQueryTimeout: cfg.Pipeline.PerQueryTimeout.Std(),
		RunTimeout:      cfg.Pipeline.RunTimeout.Std(),
		Sink:            sinkFor(backend),
		Logger:          logger,
	})
	if err != nil {
		if backend != nil {
			backend.Close()
		}
		return nil, err
	}

	app := &App{
		Orchestrator: orch,
		Backend:      backend,
		logger:       logger,
	}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.Start(cfg.Metrics.Port)
		logger.Info("metrics endpoint up", "port", cfg.Metrics.Port)
	}
	return app, nil
}

// Run executes one enrichment run.
func (a *App) Run(ctx context.Context) (*pipeline.RunResult, error) {
	return a.Orchestrator.Run(ctx)
}

// Close releases the app's long-lived resources.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.Metrics != nil {
		if err := a.Metrics.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildSerp(cfg config.SerpConfig, timeout time.Duration, endpoint string, logger *slog.Logger) (source.SerpLookup, error) {
	switch cfg.Provider {
	case "serper":
		return serper.New(serper.Config{
			APIKey:   cfg.APIKey,
			Endpoint: endpoint,
			Timeout:  timeout,
			Logger:   logger,
		}), nil
	case "serpapi":
		return serpapi.New(serpapi.Config{
			APIKey:   cfg.APIKey,
			Endpoint: endpoint,
			Timeout:  timeout,
			Logger:   logger,
		}), nil
	case "html":
		var proxyURL *url.URL
		if cfg.ProxyURL != "" {
			u, err := url.Parse(cfg.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("app: parse proxy url: %w", err)
			}
			proxyURL = u
		}
		return googlehtml.New(googlehtml.Config{
			Endpoint: endpoint,
			Profile:  fingerprint.Profile(cfg.Profile),
			ProxyURL: proxyURL,
			Timeout:  timeout,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("app: unknown serp provider %q", cfg.Provider)
	}
}

func buildBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "csv":
		return csvbackend.New(cfg.Path)
	case "ndjson":
		return jsonbackend.New(cfg.Path)
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", cfg.Backend)
	}
}

// sinkFor keeps the orchestrator's sink a true nil when no backend is
// configured; a nil Backend inside a non-nil interface would defeat the
// orchestrator's check.
func sinkFor(b storage.Backend) pipeline.RecordSink {
	if b == nil {
		return nil
	}
	return b
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
