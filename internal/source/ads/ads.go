// Package ads implements source.KeywordExpansion over the Keyword Planner
// generateKeywordIdeas endpoint. The pre-authorized transport (developer
// token, OAuth) is supplied by the credential provider.
package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/pkg/httpclient"
)

const (
	defaultBaseURL = "https://googleads.googleapis.com/v17"

	// maxSeeds is the API cap on keyword seeds per request.
	maxSeeds = 20
)

// Config wires a Client.
type Config struct {
	Transport     http.RoundTripper
	BaseURL       string
	CustomerID    string // dashes allowed, stripped on use
	LanguageCode  string // e.g. "languageConstants/1000"
	GeoTargetCode string // e.g. "geoTargetConstants/2158"
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Client generates keyword ideas for one customer account.
type Client struct {
	http       *httpclient.Client
	baseURL    string
	customerID string
	language   string
	geoTarget  string
	logger     *slog.Logger
}

var _ source.KeywordExpansion = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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
		baseURL:    cfg.BaseURL,
		customerID: strings.ReplaceAll(cfg.CustomerID, "-", ""),
		language:   cfg.LanguageCode,
		geoTarget:  cfg.GeoTargetCode,
		logger:     cfg.Logger,
	}
}

type ideasRequest struct {
	Language           string      `json:"language,omitempty"`
	GeoTargetConstants []string    `json:"geoTargetConstants,omitempty"`
	KeywordSeed        keywordSeed `json:"keywordSeed"`
}

type keywordSeed struct {
	Keywords []string `json:"keywords"`
}

type ideasResponse struct {
	Results []struct {
		Text    string `json:"text"`
		Metrics *struct {
			AvgMonthlySearches     int64  `json:"avgMonthlySearches"`
			Competition            string `json:"competition"`
			CompetitionIndex       *int   `json:"competitionIndex"`
			LowTopOfPageBidMicros  int64  `json:"lowTopOfPageBidMicros"`
			HighTopOfPageBidMicros int64  `json:"highTopOfPageBidMicros"`
		} `json:"keywordIdeaMetrics"`
	} `json:"results"`
}

// Fetch generates ideas for the given seeds, capped at the API's seed limit.
func (c *Client) Fetch(ctx context.Context, seeds []string) ([]source.IdeaRow, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}

	reqBody := ideasRequest{
		Language:    c.language,
		KeywordSeed: keywordSeed{Keywords: seeds},
	}
	if c.geoTarget != "" {
		reqBody.GeoTargetConstants = []string{c.geoTarget}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ads: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/customers/%s:generateKeywordIdeas", c.baseURL, c.customerID)
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &source.PermanentError{Source: "ads", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, source.ClassifyTransport("ads", err)
	}

	body, err := httpclient.ReadBody(resp, 0)
	if err != nil {
		return nil, source.ClassifyTransport("ads", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, source.ClassifyStatus("ads", resp.StatusCode, resp.Header.Get("Retry-After"),
			fmt.Errorf("generateKeywordIdeas failed for %d seeds", len(seeds)))
	}

	var decoded ideasResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &source.PermanentError{Source: "ads", Err: fmt.Errorf("decode response: %w", err)}
	}

	rows := make([]source.IdeaRow, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		row := source.IdeaRow{Text: r.Text, CompetitionLevel: "UNKNOWN"}
		if m := r.Metrics; m != nil {
			row.MonthlyVolume = m.AvgMonthlySearches
			if m.Competition != "" {
				row.CompetitionLevel = m.Competition
			}
			row.CompetitionIndex = m.CompetitionIndex
			row.BidLowMicros = m.LowTopOfPageBidMicros
			row.BidHighMicros = m.HighTopOfPageBidMicros
		}
		rows = append(rows, row)
	}

	c.logger.Debug("keyword ideas fetched", "seeds", len(seeds), "ideas", len(rows))
	return rows, nil
}
