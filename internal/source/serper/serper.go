// Package serper implements source.SerpLookup against the serper.dev
// search endpoint.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/pkg/httpclient"
)

const (
	defaultEndpoint = "https://google.serper.dev/search"

	// maxPayloadBytes caps stored payloads; serper responses are small JSON.
	maxPayloadBytes = 1 << 20
)

// Config wires a Client.
type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client performs one serper.dev lookup per Fetch.
type Client struct {
	http     *httpclient.Client
	apiKey   string
	endpoint string
	logger   *slog.Logger
}

var _ source.SerpLookup = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		http:     httpclient.New(httpclient.Config{Timeout: cfg.Timeout, MaxRedirects: 3}),
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		logger:   cfg.Logger,
	}
}

type searchRequest struct {
	Q  string `json:"q"`
	GL string `json:"gl,omitempty"`
	HL string `json:"hl,omitempty"`
}

// Fetch posts one search request and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, text string, loc source.Locale) (*source.SerpPayload, error) {
	payload, err := json.Marshal(searchRequest{Q: text, GL: loc.Country, HL: loc.Language})
	if err != nil {
		return nil, fmt.Errorf("serper: encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &source.PermanentError{Source: "serper", Err: err}
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, source.ClassifyTransport("serper", err)
	}

	body, err := httpclient.ReadBody(resp, maxPayloadBytes)
	if err != nil {
		return nil, source.ClassifyTransport("serper", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, source.ClassifyStatus("serper", resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("search failed for %q", text))
	}

	c.logger.Debug("serp lookup done", "provider", "serper", "query", text, "bytes", len(body))
	return &source.SerpPayload{Provider: "serper", Body: body}, nil
}
