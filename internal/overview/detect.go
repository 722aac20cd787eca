// Package overview decides whether a raw result-page payload contains an
// AI-generated answer overview. Classification is a pure function of the
// payload bytes: no state, no ordering dependence, independently testable.
package overview

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aioscope/aioscope/internal/source"
)

// DefaultWindow covers the whole first results page.
const DefaultWindow = 10

// Detector examines a payload and reports whether an answer-overview block
// is present within the top `window` organic-adjacent positions, along with
// the marker that matched.
type Detector func(p *source.SerpPayload, window int) (triggered bool, marker string)

// DefaultDetectors returns the standard detector chain covering the serper
// and serpapi JSON shapes and raw HTML result pages.
func DefaultDetectors() []Detector {
	return []Detector{
		detectSerperJSON,
		detectSerpapiJSON,
		detectHTML,
	}
}

// Classify runs the payload through the detectors in order and returns the
// first match. window <= 0 falls back to DefaultWindow.
func Classify(p *source.SerpPayload, window int, detectors []Detector) (bool, string) {
	if p == nil || len(p.Body) == 0 {
		return false, ""
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if detectors == nil {
		detectors = DefaultDetectors()
	}
	for _, d := range detectors {
		if triggered, marker := d(p, window); triggered {
			return true, marker
		}
	}
	return false, ""
}

type serperPayload struct {
	AIOverview *struct {
		Snippet string `json:"snippet"`
	} `json:"aiOverview"`
	AnswerBox *struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
	KnowledgeGraph *struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		AIGenerated bool   `json:"aiGenerated"`
	} `json:"knowledgeGraph"`
	Organic []struct {
		Snippet     string `json:"snippet"`
		AIGenerated bool   `json:"aiGenerated"`
	} `json:"organic"`
}

// detectSerperJSON covers the serper.dev response shape.
func detectSerperJSON(p *source.SerpPayload, window int) (bool, string) {
	if p.Provider != "serper" {
		return false, ""
	}
	var data serperPayload
	if err := json.Unmarshal(p.Body, &data); err != nil {
		return false, ""
	}

	if data.AIOverview != nil {
		return true, "aiOverview"
	}
	if ab := data.AnswerBox; ab != nil {
		title := strings.ToLower(ab.Title)
		snippet := strings.ToLower(ab.Snippet)
		if strings.Contains(title, "ai") || strings.Contains(snippet, "generated") {
			return true, "answerBox"
		}
	}
	if kg := data.KnowledgeGraph; kg != nil {
		if kg.AIGenerated || strings.Contains(strings.ToLower(kg.Type), "ai") {
			return true, "knowledgeGraph"
		}
	}
	organic := data.Organic
	if len(organic) > window {
		organic = organic[:window]
	}
	for _, r := range organic {
		if r.AIGenerated || strings.Contains(strings.ToLower(r.Snippet), "ai generated") {
			return true, "organic"
		}
	}
	return false, ""
}

type serpapiPayload struct {
	AIOverview *struct {
		Snippet string `json:"snippet"`
	} `json:"ai_overview"`
	AnswerBox *struct {
		Type   string `json:"type"`
		Answer string `json:"answer"`
	} `json:"answer_box"`
	KnowledgeGraph *struct {
		Type string `json:"type"`
	} `json:"knowledge_graph"`
	OrganicResults []struct {
		AIGenerated bool `json:"ai_generated"`
	} `json:"organic_results"`
}

// detectSerpapiJSON covers the serpapi.com response shape.
func detectSerpapiJSON(p *source.SerpPayload, window int) (bool, string) {
	if p.Provider != "serpapi" {
		return false, ""
	}
	var data serpapiPayload
	if err := json.Unmarshal(p.Body, &data); err != nil {
		return false, ""
	}

	if data.AIOverview != nil {
		return true, "ai_overview"
	}
	if ab := data.AnswerBox; ab != nil && strings.Contains(strings.ToLower(ab.Type), "ai") {
		return true, "answer_box"
	}
	if kg := data.KnowledgeGraph; kg != nil && kg.Type == "ai_overview" {
		return true, "knowledge_graph"
	}
	organic := data.OrganicResults
	if len(organic) > window {
		organic = organic[:window]
	}
	for _, r := range organic {
		if r.AIGenerated {
			return true, "organic_results"
		}
	}
	return false, ""
}

// htmlOverviewSelectors are block markers observed on rendered result pages.
var htmlOverviewSelectors = []string{
	"div[data-attrid='AIOverview']",
	"div#aio",
	"div.ai-overview",
}

// detectHTML covers raw result-page HTML from the direct connector. The
// overview block renders above the organic results, so position windowing
// does not apply; a marker anywhere on the first page counts.
func detectHTML(p *source.SerpPayload, window int) (bool, string) {
	if p.Provider != "html" {
		return false, ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return false, ""
	}

	for _, sel := range htmlOverviewSelectors {
		if doc.Find(sel).Length() > 0 {
			return true, "html:" + sel
		}
	}

	// Fallback: a heading element titled "AI Overview".
	found := false
	doc.Find("h1, h2, div[role='heading']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(s.Text()), "ai overview") {
			found = true
			return false
		}
		return true
	})
	if found {
		return true, "html:heading"
	}
	return false, ""
}
