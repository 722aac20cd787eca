// Package googlehtml implements source.SerpLookup by fetching result pages
// directly, without an intermediary API. It relies on a browser-like TLS
// fingerprint and rotating User-Agents; heavy use will still get blocked, so
// it is the fallback provider, not the default.
package googlehtml

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aioscope/aioscope/internal/fingerprint"
	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/pkg/httpclient"
	"github.com/aioscope/aioscope/pkg/useragent"
)

const (
	defaultEndpoint = "https://www.google.com/search"
	defaultResults  = 10

	// maxPayloadBytes caps stored pages; result pages run a few hundred KB.
	maxPayloadBytes = 4 << 20
)

// Config wires a Client.
type Config struct {
	Endpoint   string
	Profile    fingerprint.Profile // defaults to chrome
	ProxyURL   *url.URL            // optional static egress proxy
	UserAgents []string            // defaults to useragent.DefaultPool
	NumResults int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client fetches raw result-page HTML for one query per Fetch.
type Client struct {
	http     *httpclient.Client
	agents   *useragent.Pool
	endpoint string
	num      int
	logger   *slog.Logger
}

var _ source.SerpLookup = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Profile == "" {
		cfg.Profile = fingerprint.ProfileChrome
	}
	if cfg.NumResults <= 0 {
		cfg.NumResults = defaultResults
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := fingerprint.Transport(cfg.Profile, cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("googlehtml: %w", err)
	}

	return &Client{
		http: httpclient.New(httpclient.Config{
			Timeout:      cfg.Timeout,
			MaxRedirects: 5,
			Transport:    transport,
		}),
		agents:   useragent.NewPool(cfg.UserAgents),
		endpoint: cfg.Endpoint,
		num:      cfg.NumResults,
		logger:   cfg.Logger,
	}, nil
}

// Fetch retrieves one result page and returns its raw HTML.
func (c *Client) Fetch(ctx context.Context, text string, loc source.Locale) (*source.SerpPayload, error) {
	params := url.Values{}
	params.Set("q", text)
	params.Set("num", fmt.Sprintf("%d", c.num))
	if loc.Country != "" {
		params.Set("gl", loc.Country)
	}
	if loc.Language != "" {
		params.Set("hl", loc.Language)
	}

	req, err := http.NewRequest(http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &source.PermanentError{Source: "html", Err: err}
	}
	req.Header.Set("User-Agent", c.agents.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", acceptLanguage(loc))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, source.ClassifyTransport("html", err)
	}

	body, err := httpclient.ReadBody(resp, maxPayloadBytes)
	if err != nil {
		return nil, source.ClassifyTransport("html", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, source.ClassifyStatus("html", resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("result page fetch failed for %q", text))
	}

	c.logger.Debug("serp lookup done", "provider", "html", "query", text, "bytes", len(body))
	return &source.SerpPayload{Provider: "html", Body: body}, nil
}

func acceptLanguage(loc source.Locale) string {
	if loc.Language == "" {
		return "en-US,en;q=0.9"
	}
	if loc.Country == "" {
		return loc.Language
	}
	return fmt.Sprintf("%s-%s,%s;q=0.9", loc.Language, loc.Country, loc.Language)
}
