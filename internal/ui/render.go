package ui

import (
	"fmt"
	"io"
	"strings"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

// answerPreviewRunes bounds answers in the terminal listing.
const answerPreviewRunes = 160

// Renderer writes search output to a terminal or a pipe.
type Renderer struct {
	out    io.Writer
	styles Styles
	styled bool
}

// NewRenderer creates a renderer. Styling is only applied when the
// configured output is a terminal.
func NewRenderer(cfg Config) *Renderer {
	styled := cfg.Styled()
	return &Renderer{
		out:    cfg.Output,
		styles: GetStyles(!styled),
		styled: styled,
	}
}

// Styled reports whether ANSI styling is in use.
func (r *Renderer) Styled() bool { return r.styled }

// RenderResponse writes a ranked list.
func (r *Renderer) RenderResponse(resp *search.Response) {
	fmt.Fprint(r.out, r.FormatResponse(resp))
}

// FormatResponse renders a ranked list to a string.
func (r *Renderer) FormatResponse(resp *search.Response) string {
	s := r.styles
	var sb strings.Builder

	if resp == nil || len(resp.Results) == 0 {
		query := ""
		if resp != nil {
			query = resp.Query
		}
		sb.WriteString(s.Warning.Render(fmt.Sprintf("No results for %q", query)))
		sb.WriteString("\n")
		return sb.String()
	}

	header := fmt.Sprintf("%d results for %q", len(resp.Results), resp.Query)
	if resp.Cached {
		header += " (cached)"
	}
	sb.WriteString(s.Header.Render(header))
	sb.WriteString("\n")

	if len(resp.KeyTerms) > 0 {
		sb.WriteString(s.Label.Render("terms: "))
		sb.WriteString(strings.Join(resp.KeyTerms, " "))
		if len(resp.SynonymExpanded) > 0 {
			sb.WriteString(s.Dim.Render(" +" + strings.Join(resp.SynonymExpanded, " ")))
		}
		sb.WriteString("\n")
	}
	if resp.Degraded {
		sb.WriteString(s.Warning.Render("! some retrieval probes failed; results may be incomplete"))
		sb.WriteString("\n")
	}
	for _, note := range resp.Notes {
		sb.WriteString(s.Note.Render("> " + note))
		sb.WriteString("\n")
	}
	if resp.Template != nil {
		sb.WriteString(s.Template.Render(fmt.Sprintf("template: #%d %s", resp.Template.Entry.ID, resp.Template.Entry.Question)))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	for i, res := range resp.Results {
		sb.WriteString(r.formatResult(i+1, res, resp.Template))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (r *Renderer) formatResult(num int, res search.ScoredResult, template *search.ScoredResult) string {
	s := r.styles
	e := res.Entry

	var sb strings.Builder
	marker := "  "
	if template != nil && template.Entry.ID == e.ID {
		marker = "* "
	}
	sb.WriteString(marker)
	sb.WriteString(s.Question.Render(fmt.Sprintf("%d. #%d %s", num, e.ID, e.Question)))
	sb.WriteString(" ")
	sb.WriteString(s.Score.Render(fmt.Sprintf("%.3f", res.FinalScore)))
	sb.WriteString("\n")

	sb.WriteString("   ")
	sb.WriteString(s.Label.Render(categoryPath(e)))
	if e.Usage != "" {
		usage := string(e.Usage)
		if e.Usage == store.UsageUnusable {
			sb.WriteString(" ")
			sb.WriteString(s.Unusable.Render("[" + usage + "]"))
		} else {
			sb.WriteString(s.Dim.Render(" [" + usage + "]"))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("   ")
	sb.WriteString(preview(e.Answer, answerPreviewRunes))
	sb.WriteString("\n")
	return sb.String()
}

// RenderMetrics writes the search counters in a panel.
func (r *Renderer) RenderMetrics(snap telemetry.Snapshot) {
	fmt.Fprintln(r.out, r.FormatMetrics(snap))
}

// FormatMetrics renders the search counters.
func (r *Renderer) FormatMetrics(snap telemetry.Snapshot) string {
	s := r.styles
	lines := []string{
		s.Header.Render("Search metrics"),
		fmt.Sprintf("%s %d", s.Label.Render("searches:  "), snap.TotalSearches),
		fmt.Sprintf("%s %d (%.2f%%)", s.Label.Render("cache hits:"), snap.CacheHits, snap.CacheHitRate),
		fmt.Sprintf("%s %.2fms", s.Label.Render("avg time:  "), snap.AverageSearchTime),
	}
	body := strings.Join(lines, "\n")
	if r.styled {
		return s.Panel.Render(body)
	}
	return body
}

// RenderError writes an error with its code and suggestion when known.
func (r *Renderer) RenderError(err error) {
	fmt.Fprint(r.out, r.FormatError(err))
}

// FormatError renders an error to a string.
func (r *Renderer) FormatError(err error) string {
	if err == nil {
		return ""
	}
	s := r.styles
	if kbErr, ok := kberrors.As(err); ok {
		out := s.Error.Render(fmt.Sprintf("Error [%s]: %s", kbErr.Code, kbErr.Message)) + "\n"
		if kbErr.Suggestion != "" {
			out += s.Dim.Render("  "+kbErr.Suggestion) + "\n"
		}
		return out
	}
	return s.Error.Render("Error: "+err.Error()) + "\n"
}

func categoryPath(e store.Entry) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.MainCategory, e.SubCategory, e.DetailCategory} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " > ")
}

// preview flattens newlines and truncates to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
