// Package gsc implements source.SearchAnalytics over the Search Console
// Search Analytics API. Authentication is the caller's concern: the opaque
// pre-authorized transport comes in through Config.
package gsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/pkg/httpclient"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/webmasters/v3"
	defaultRowLimit = 5000
	dateFormat      = "2006-01-02"
)

// Config wires a Client.
type Config struct {
	// Transport is the pre-authorized round tripper supplied by the
	// credential provider. Required for real use; tests inject their own.
	Transport http.RoundTripper
	BaseURL   string
	SiteURL   string // e.g. "sc-domain:example.com"
	RowLimit  int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Client fetches search-analytics rows for one property.
type Client struct {
	http     *httpclient.Client
	baseURL  string
	siteURL  string
	rowLimit int
	logger   *slog.Logger
}

var _ source.SearchAnalytics = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = defaultRowLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		http: httpclient.New(httpclient.Config{
			Timeout:      cfg.Timeout,
			MaxRedirects: 3,
			Transport:    cfg.Transport,
		}),
		baseURL:  cfg.BaseURL,
		siteURL:  cfg.SiteURL,
		rowLimit: cfg.RowLimit,
		logger:   cfg.Logger,
	}
}

type queryRequest struct {
	StartDate             string                 `json:"startDate"`
	EndDate               string                 `json:"endDate"`
	Dimensions            []string               `json:"dimensions"`
	RowLimit              int                    `json:"rowLimit"`
	DimensionFilterGroups []dimensionFilterGroup `json:"dimensionFilterGroups,omitempty"`
}

type dimensionFilterGroup struct {
	Filters []dimensionFilter `json:"filters"`
}

type dimensionFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type queryResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// Fetch runs one searchAnalytics query. textFilter is a regular expression
// applied server-side to the query dimension; empty means no filter.
func (c *Client) Fetch(ctx context.Context, dr source.DateRange, textFilter string) ([]source.SeedRow, error) {
	reqBody := queryRequest{
		StartDate:  dr.Start.Format(dateFormat),
		EndDate:    dr.End.Format(dateFormat),
		Dimensions: []string{"query"},
		RowLimit:   c.rowLimit,
	}
	if textFilter != "" {
		reqBody.DimensionFilterGroups = []dimensionFilterGroup{{
			Filters: []dimensionFilter{{
				Dimension:  "query",
				Operator:   "includingRegex",
				Expression: textFilter,
			}},
		}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gsc: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.baseURL, url.PathEscape(c.siteURL))
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &source.PermanentError{Source: "gsc", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, source.ClassifyTransport("gsc", err)
	}

	body, err := httpclient.ReadBody(resp, 0)
	if err != nil {
		return nil, source.ClassifyTransport("gsc", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, source.ClassifyStatus("gsc", resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("search analytics query failed: %s", truncate(body, 200)))
	}

	var decoded queryResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &source.PermanentError{Source: "gsc", Err: fmt.Errorf("decode response: %w", err)}
	}

	rows := make([]source.SeedRow, 0, len(decoded.Rows))
	for _, r := range decoded.Rows {
		if len(r.Keys) == 0 {
			continue
		}
		rows = append(rows, source.SeedRow{
			Text:        r.Keys[0],
			Impressions: r.Impressions,
			Clicks:      r.Clicks,
			CTR:         r.CTR,
			AvgPosition: r.Position,
		})
	}

	c.logger.Debug("search analytics fetched", "site", c.siteURL, "rows", len(rows))
	return rows, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
