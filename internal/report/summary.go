package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/template"
	"time"
)

// TopKeyword is one entry in the summary highlight lists.
type TopKeyword struct {
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	MonthlyVolume float64 `json:"monthly_volume"`
}

// Summary contains aggregated metrics about one enrichment run.
type Summary struct {
	RunID string `json:"run_id"`

	TotalKeywords int `json:"total_keywords"`
	SeedKeywords  int `json:"seed_keywords"`
	Expanded      int `json:"expanded_keywords"`

	OverviewTriggered   int     `json:"overview_triggered"`
	OverviewNot         int     `json:"overview_not_triggered"`
	OverviewUnknown     int     `json:"overview_unknown"`
	OverviewTriggerRate float64 `json:"overview_trigger_rate"`

	TotalVolume  float64 `json:"total_monthly_volume"`
	MedianVolume float64 `json:"median_monthly_volume"`
	MaxVolume    float64 `json:"max_monthly_volume"`

	CompetitionDist map[string]int `json:"competition_distribution"`

	TopTriggered     []TopKeyword `json:"top_triggered"`
	TopOpportunities []TopKeyword `json:"top_opportunities"`

	GeneratedAt time.Time `json:"generated_at"`
}

const topN = 10

// GenerateSummary aggregates a run's report rows.
func GenerateSummary(runID string, records []*Record) Summary {
	s := Summary{
		RunID:           runID,
		CompetitionDist: make(map[string]int),
		GeneratedAt:     time.Now().UTC(),
	}

	volumes := make([]float64, 0, len(records))
	for _, r := range records {
		s.TotalKeywords++
		if r.Origin == "seed" {
			s.SeedKeywords++
		} else {
			s.Expanded++
		}

		switch r.OverviewResult {
		case "triggered":
			s.OverviewTriggered++
		case "not_triggered":
			s.OverviewNot++
		default:
			s.OverviewUnknown++
		}

		s.TotalVolume += r.MonthlyVolume
		if r.MonthlyVolume > s.MaxVolume {
			s.MaxVolume = r.MonthlyVolume
		}
		volumes = append(volumes, r.MonthlyVolume)
		s.CompetitionDist[r.CompetitionLevel]++
	}

	if verified := s.OverviewTriggered + s.OverviewNot; verified > 0 {
		s.OverviewTriggerRate = float64(s.OverviewTriggered) / float64(verified)
	}
	s.MedianVolume = median(volumes)

	// Records arrive pre-sorted by score, so highlight lists are prefix scans.
	for _, r := range records {
		if r.OverviewTriggered && len(s.TopTriggered) < topN {
			s.TopTriggered = append(s.TopTriggered, TopKeyword{Text: r.Text, Score: r.PotentialScore, MonthlyVolume: r.MonthlyVolume})
		}
		if len(s.TopOpportunities) < topN {
			s.TopOpportunities = append(s.TopOpportunities, TopKeyword{Text: r.Text, Score: r.PotentialScore, MonthlyVolume: r.MonthlyVolume})
		}
	}

	return s
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: write json: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `AI Overview Enrichment Summary
------------------------------
Run:            {{.RunID}}
Generated:      {{.GeneratedAt.Format "2006-01-02 15:04:05"}}
Keywords:       {{.TotalKeywords}} ({{.SeedKeywords}} seed, {{.Expanded}} expanded)

Overview Verification:
  Triggered:     {{.OverviewTriggered}}
  Not triggered: {{.OverviewNot}}
  Unknown:       {{.OverviewUnknown}}
  Trigger rate:  {{printf "%.1f%%" (mulf .OverviewTriggerRate 100)}}

Search Volume:
  Total:   {{printf "%.0f" .TotalVolume}}
  Median:  {{printf "%.0f" .MedianVolume}}
  Max:     {{printf "%.0f" .MaxVolume}}

Competition:
{{- range $level, $count := .CompetitionDist}}
  {{$level}}: {{$count}}
{{- else}}
  None
{{- end}}

Top Opportunities:
{{- range .TopOpportunities}}
  {{printf "%.4f" .Score}}  {{.Text}} (vol {{printf "%.0f" .MonthlyVolume}})
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Funcs(template.FuncMap{
		"mulf": func(a, b float64) float64 { return a * b },
	}).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: write text: %w", err)
	}
	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>AI Overview Enrichment Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>AI Overview Enrichment Report</h1>
  <p><strong>Run:</strong> {{.RunID}} &middot; {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>

  <div class="stat-card">
    <div>Keywords</div>
    <div class="stat-val">{{.TotalKeywords}}</div>
  </div>
  <div class="stat-card">
    <div>AIO Triggered</div>
    <div class="stat-val">{{.OverviewTriggered}}</div>
  </div>
  <div class="stat-card">
    <div>Not Triggered</div>
    <div class="stat-val">{{.OverviewNot}}</div>
  </div>
  <div class="stat-card">
    <div>Unknown</div>
    <div class="stat-val">{{.OverviewUnknown}}</div>
  </div>

  <h3>Competition Distribution</h3>
  <table>
    <tr><th>Level</th><th>Count</th></tr>
    {{- range $level, $count := .CompetitionDist}}
    <tr><td>{{$level}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Top Opportunities</h3>
  <table>
    <tr><th>Keyword</th><th>Score</th><th>Monthly Volume</th></tr>
    {{- range .TopOpportunities}}
    <tr><td>{{.Text}}</td><td>{{printf "%.4f" .Score}}</td><td>{{printf "%.0f" .MonthlyVolume}}</td></tr>
    {{- else}}
    <tr><td colspan="3">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: write html: %w", err)
	}
	return nil
}

// WriteCSV writes the full record set as CSV, one row per keyword.
func WriteCSV(w io.Writer, records []*Record) error {
	cw := csv.NewWriter(w)
	header := []string{
		"run_id", "text", "origin",
		"impressions", "clicks", "ctr", "avg_position",
		"monthly_volume", "competition_level", "competition_index",
		"bid_low_usd", "bid_high_usd",
		"overview_result", "potential_score", "verification_error", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range records {
		row := []string{
			r.RunID, r.Text, r.Origin,
			f(r.Impressions), f(r.Clicks), f(r.CTR), f(r.AvgPosition),
			f(r.MonthlyVolume), r.CompetitionLevel, f(r.CompetitionIndex),
			f(r.BidLowUSD), f(r.BidHighUSD),
			r.OverviewResult, f(r.PotentialScore), r.VerificationError,
			r.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
