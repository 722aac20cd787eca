// Package serpapi implements source.SerpLookup against serpapi.com.
package serpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/pkg/httpclient"
)

const (
	defaultEndpoint = "https://serpapi.com/search.json"
	maxPayloadBytes = 1 << 20
)

// Config wires a Client.
type Config struct {
	APIKey   string
	Endpoint string
	Engine   string // defaults to "google"
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client performs one serpapi.com lookup per Fetch.
type Client struct {
	http     *httpclient.Client
	apiKey   string
	endpoint string
	engine   string
	logger   *slog.Logger
}

var _ source.SerpLookup = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Engine == "" {
		cfg.Engine = "google"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		http:     httpclient.New(httpclient.Config{Timeout: cfg.Timeout, MaxRedirects: 3}),
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		engine:   cfg.Engine,
		logger:   cfg.Logger,
	}
}

// Fetch runs one search and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, text string, loc source.Locale) (*source.SerpPayload, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("engine", c.engine)
	params.Set("q", text)
	if loc.Country != "" {
		params.Set("gl", loc.Country)
	}
	if loc.Language != "" {
		params.Set("hl", loc.Language)
	}

	req, err := http.NewRequest(http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &source.PermanentError{Source: "serpapi", Err: err}
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, source.ClassifyTransport("serpapi", err)
	}

	body, err := httpclient.ReadBody(resp, maxPayloadBytes)
	if err != nil {
		return nil, source.ClassifyTransport("serpapi", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, source.ClassifyStatus("serpapi", resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("search failed for %q", text))
	}

	c.logger.Debug("serp lookup done", "provider", "serpapi", "query", text, "bytes", len(body))
	return &source.SerpPayload{Provider: "serpapi", Body: body}, nil
}
