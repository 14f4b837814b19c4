package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

func sampleResponse() *search.Response {
	first := search.ScoredResult{
		Entry: store.Entry{
			ID: 1, MainCategory: "料金", SubCategory: "キャンセル",
			Question: "キャンセル料はかかりますか", Answer: "前日までは無料です。",
			IsTemplate: true, Usage: store.UsageFullyUsable,
		},
		FinalScore: 0.75,
	}
	second := search.ScoredResult{
		Entry: store.Entry{
			ID: 4, MainCategory: "営業", Question: "深夜は使えますか",
			Answer: "ご利用いただけません。", Usage: store.UsageUnusable,
		},
		FinalScore: 0.5,
	}
	return &search.Response{
		Query:    "キャンセル料",
		Results:  []search.ScoredResult{first, second},
		Template: &first,
		Notes:    []string{"2025年8月12日は繁忙期です"},
		Cached:   true,
	}
}

func TestFormatSearchResponse_Empty(t *testing.T) {
	assert.Equal(t, `No knowledge entries found for "駐車"`,
		FormatSearchResponse(&search.Response{Query: "駐車"}))
	assert.Equal(t, `No knowledge entries found for ""`, FormatSearchResponse(nil))
}

func TestFormatSearchResponse_Results(t *testing.T) {
	out := FormatSearchResponse(sampleResponse())

	assert.Contains(t, out, `## Knowledge Results for "キャンセル料"`)
	assert.Contains(t, out, "Found 2 results (cached)")
	assert.Contains(t, out, "> 2025年8月12日は繁忙期です")
	assert.Contains(t, out, "**Suggested template:** #1 キャンセル料はかかりますか")
	assert.Contains(t, out, "### 1. #1 キャンセル料はかかりますか (score: 0.750)")
	assert.Contains(t, out, "**Category:** 料金 > キャンセル")
	assert.Contains(t, out, "**Usage:** unusable (do not use as a reply)")
	assert.Less(t, strings.Index(out, "#1 "), strings.Index(out, "#4 "))
}

func TestFormatSearchResponse_Degraded(t *testing.T) {
	resp := sampleResponse()
	resp.Degraded = true
	assert.Contains(t, FormatSearchResponse(resp), "Some retrieval probes failed")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "あいう", truncateRunes("あいう", 3))
	assert.Equal(t, "あい…", truncateRunes("あいう", 2))
}

func TestFormatMetrics(t *testing.T) {
	out := FormatMetrics(telemetry.Snapshot{TotalSearches: 4, CacheHits: 1, AverageSearchTime: 3.5, CacheHitRate: 25})
	assert.Contains(t, out, "Total searches: 4")
	assert.Contains(t, out, "Cache hits: 1 (25.00%)")
	assert.Contains(t, out, "Average search time: 3.50ms")
}

func TestToSearchOutput(t *testing.T) {
	out := ToSearchOutput(sampleResponse())

	assert.Equal(t, int64(1), out.TemplateID)
	assert.True(t, out.Cached)
	if assert.Len(t, out.Results, 2) {
		assert.Equal(t, "料金 > キャンセル", out.Results[0].Category)
		assert.Equal(t, "unusable", out.Results[1].Usage)
		assert.Equal(t, 0.5, out.Results[1].Score)
	}
}
