package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

// maxAnswerRunes truncates answers in markdown output.
const maxAnswerRunes = 400

// FormatSearchResponse renders a search response as markdown.
func FormatSearchResponse(resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		query := ""
		if resp != nil {
			query = resp.Query
		}
		return fmt.Sprintf("No knowledge entries found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Knowledge Results for \"%s\"\n\n", resp.Query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	if resp.Cached {
		sb.WriteString(" (cached)")
	}
	sb.WriteString("\n\n")

	if resp.Degraded {
		sb.WriteString("> Some retrieval probes failed; results may be incomplete.\n\n")
	}
	for _, note := range resp.Notes {
		fmt.Fprintf(&sb, "> %s\n", note)
	}
	if len(resp.Notes) > 0 {
		sb.WriteString("\n")
	}

	if resp.Template != nil {
		fmt.Fprintf(&sb, "**Suggested template:** #%d %s\n\n", resp.Template.Entry.ID, resp.Template.Entry.Question)
	}

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r search.ScoredResult) {
	e := r.Entry
	fmt.Fprintf(sb, "### %d. #%d %s (score: %.3f)\n", num, e.ID, e.Question, r.FinalScore)
	fmt.Fprintf(sb, "**Category:** %s\n", categoryPath(e))
	if e.Usage != "" {
		fmt.Fprintf(sb, "**Usage:** %s", e.Usage)
		if e.Usage == store.UsageUnusable {
			sb.WriteString(" (do not use as a reply)")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(truncateRunes(e.Answer, maxAnswerRunes))
	sb.WriteString("\n\n")
}

// FormatMetrics renders the counters as markdown.
func FormatMetrics(snap telemetry.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("## Search Metrics\n\n")
	fmt.Fprintf(&sb, "- Total searches: %d\n", snap.TotalSearches)
	fmt.Fprintf(&sb, "- Cache hits: %d (%.2f%%)\n", snap.CacheHits, snap.CacheHitRate)
	fmt.Fprintf(&sb, "- Average search time: %.2fms\n", snap.AverageSearchTime)
	return sb.String()
}

func categoryPath(e store.Entry) string {
	parts := make([]string, 0, 3)
	for _, c := range []string{e.MainCategory, e.SubCategory, e.DetailCategory} {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " > ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
