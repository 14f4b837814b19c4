package mcp

import (
	"github.com/Aman-CERP/kbsearch/internal/search"
)

// SearchInput defines the input schema for the search_knowledge tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the customer question, in Japanese"`
}

// SearchOutput defines the output schema for the search_knowledge tool.
type SearchOutput struct {
	Query      string         `json:"query" jsonschema:"the normalized query"`
	Results    []ResultOutput `json:"results" jsonschema:"ranked knowledge entries, best first"`
	TemplateID int64          `json:"template_id,omitempty" jsonschema:"id of the autoselected template entry"`
	KeyTerms   []string       `json:"key_terms" jsonschema:"terms extracted from the query"`
	Expanded   []string       `json:"expanded" jsonschema:"key terms plus tag synonyms"`
	Notes      []string       `json:"notes,omitempty" jsonschema:"busy-period notes for dates in the query"`
	Cached     bool           `json:"cached" jsonschema:"true if served from the result cache"`
	Degraded   bool           `json:"degraded,omitempty" jsonschema:"true if some retrieval probes failed"`
}

// ResultOutput is a single ranked entry.
type ResultOutput struct {
	ID         int64   `json:"id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Category   string  `json:"category" jsonschema:"main > sub > detail category path"`
	Usage      string  `json:"usage,omitempty" jsonschema:"fully-usable, conditional or unusable"`
	IsTemplate bool    `json:"is_template"`
	Score      float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
}

// MetricsInput defines the input schema for get_search_metrics (no parameters).
type MetricsInput struct{}

// MetricsOutput defines the output schema for get_search_metrics and reset_search_cache.
type MetricsOutput struct {
	TotalSearches     int64   `json:"totalSearches"`
	CacheHits         int64   `json:"cacheHits"`
	AverageSearchTime float64 `json:"averageSearchTime" jsonschema:"milliseconds, cache hits included"`
	CacheHitRate      float64 `json:"cache_hit_rate" jsonschema:"percentage between 0 and 100"`
}

// ResetInput defines the input schema for reset_search_cache (no parameters).
type ResetInput struct{}

// BusyPeriodInput defines the input schema for next_busy_period.
type BusyPeriodInput struct {
	Date string `json:"date,omitempty" jsonschema:"start date as YYYY-MM-DD, default today"`
}

// BusyPeriodOutput defines the output schema for next_busy_period.
type BusyPeriodOutput struct {
	Found       bool   `json:"found"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Range       string `json:"range,omitempty" jsonschema:"the period formatted in Japanese"`
	Description string `json:"description,omitempty"`
}

// ToSearchOutput converts an engine response to the tool output.
func ToSearchOutput(resp *search.Response) SearchOutput {
	out := SearchOutput{
		Query:    resp.Query,
		Results:  make([]ResultOutput, 0, len(resp.Results)),
		KeyTerms: resp.KeyTerms,
		Expanded: resp.SynonymExpanded,
		Notes:    resp.Notes,
		Cached:   resp.Cached,
		Degraded: resp.Degraded,
	}
	if resp.Template != nil {
		out.TemplateID = resp.Template.Entry.ID
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ResultOutput{
			ID:         r.Entry.ID,
			Question:   r.Entry.Question,
			Answer:     r.Entry.Answer,
			Category:   categoryPath(r.Entry),
			Usage:      string(r.Entry.Usage),
			IsTemplate: r.Entry.IsTemplate,
			Score:      r.FinalScore,
		})
	}
	return out
}
