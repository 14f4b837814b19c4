package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

func sampleResponse() *search.Response {
	template := search.ScoredResult{
		Entry: store.Entry{
			ID: 1, MainCategory: "料金", SubCategory: "キャンセル",
			Question: "キャンセル料はかかりますか", Answer: "前日まで無料です。\n当日は100%です。",
			IsTemplate: true, Usage: store.UsageFullyUsable,
		},
		FinalScore: 0.812,
	}
	unusable := search.ScoredResult{
		Entry: store.Entry{
			ID: 4, MainCategory: "料金", SubCategory: "返金",
			Question: "返金はできますか", Answer: "旧ルールです。", Usage: store.UsageUnusable,
		},
		FinalScore: 0.4,
	}
	return &search.Response{
		Query:           "キャンセル料",
		Results:         []search.ScoredResult{template, unusable},
		KeyTerms:        []string{"キャンセル", "料"},
		SynonymExpanded: []string{"取消"},
		Template:        &template,
		Notes:           []string{"2025年8月9日～18日は繁忙期です"},
		Cached:          true,
	}
}

func plainRenderer(buf *bytes.Buffer) *Renderer {
	return NewRenderer(NewConfig(buf, WithNoColor(false)))
}

func TestConfig_Styled(t *testing.T) {
	var buf bytes.Buffer

	// A buffer is never a terminal.
	assert.False(t, NewConfig(&buf).Styled())
	assert.False(t, NewConfig(&buf, WithForcePlain(true)).Styled())
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&buf))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
	assert.True(t, NewConfig(&bytes.Buffer{}).NoColor)
}

func TestDetectNoColor_DumbTerminal(t *testing.T) {
	t.Setenv("TERM", "dumb")
	assert.True(t, DetectNoColor())
	assert.False(t, NewConfig(&bytes.Buffer{}, WithNoColor(false)).NoColor)
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestGetStyles_NoColorRendersVerbatim(t *testing.T) {
	s := GetStyles(true)
	assert.Equal(t, "繁忙期", s.Header.Render("繁忙期"))
	assert.Equal(t, "x", s.Panel.Render("x"))
}

func TestRenderer_FormatResponse(t *testing.T) {
	var buf bytes.Buffer
	r := plainRenderer(&buf)
	require.False(t, r.Styled())

	r.RenderResponse(sampleResponse())
	out := buf.String()

	assert.Contains(t, out, `2 results for "キャンセル料" (cached)`)
	assert.Contains(t, out, "terms: キャンセル 料 +取消")
	assert.Contains(t, out, "> 2025年8月9日～18日は繁忙期です")
	assert.Contains(t, out, "template: #1 キャンセル料はかかりますか")
	assert.Contains(t, out, "* 1. #1 キャンセル料はかかりますか 0.812")
	assert.Contains(t, out, "料金 > キャンセル [fully-usable]")
	assert.Contains(t, out, "前日まで無料です。 当日は100%です。")
	assert.Contains(t, out, "  2. #4 返金はできますか 0.400")
	assert.Contains(t, out, "[unusable]")
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderer_FormatResponse_Empty(t *testing.T) {
	r := plainRenderer(&bytes.Buffer{})

	assert.Equal(t, "No results for \"駐車場\"\n", r.FormatResponse(&search.Response{Query: "駐車場"}))
	assert.Equal(t, "No results for \"\"\n", r.FormatResponse(nil))
}

func TestRenderer_Degraded(t *testing.T) {
	resp := sampleResponse()
	resp.Degraded = true
	out := plainRenderer(&bytes.Buffer{}).FormatResponse(resp)
	assert.Contains(t, out, "some retrieval probes failed")
}

func TestRenderer_FormatMetrics(t *testing.T) {
	out := plainRenderer(&bytes.Buffer{}).FormatMetrics(telemetry.Snapshot{
		TotalSearches: 4, CacheHits: 1, AverageSearchTime: 2.5, CacheHitRate: 25,
	})
	assert.Contains(t, out, "Search metrics")
	assert.Contains(t, out, "searches:   4")
	assert.Contains(t, out, "cache hits: 1 (25.00%)")
	assert.Contains(t, out, "avg time:   2.50ms")
}

func TestRenderer_RenderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "coded error with suggestion",
			err:  kberrors.InvalidInput("query is empty").WithSuggestion("Enter a question"),
			want: []string{"Error [ERR_401_INVALID_INPUT]: query is empty", "  Enter a question"},
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: []string{"Error: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			plainRenderer(&buf).RenderError(tt.err)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}

	assert.Empty(t, plainRenderer(&bytes.Buffer{}).FormatError(nil))
}

func TestPreview_TruncatesRunes(t *testing.T) {
	assert.Equal(t, "あいう…", preview("あいうえお", 3))
	assert.Equal(t, "a b", preview("a\n  b", 10))
}

func TestInteractiveModel_SearchFlow(t *testing.T) {
	var queries []string
	fn := func(_ context.Context, q string) (*search.Response, error) {
		queries = append(queries, q)
		return sampleResponse(), nil
	}
	m := NewInteractiveModel(context.Background(), fn, plainRenderer(&bytes.Buffer{}))

	// Given a typed query
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("キャンセル料")})
	m = next.(InteractiveModel)

	// When enter is pressed
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(InteractiveModel)
	require.NotNil(t, cmd)
	assert.True(t, m.searching)
	assert.Contains(t, m.View(), "searching キャンセル料")

	// Then the search result replaces the spinner
	msg := m.runSearch("キャンセル料")()
	next, _ = m.Update(msg)
	m = next.(InteractiveModel)

	assert.False(t, m.searching)
	assert.Equal(t, 1, m.Searches())
	assert.Equal(t, []string{"キャンセル料"}, queries)
	assert.Contains(t, m.View(), "template: #1")
	assert.Empty(t, m.input.Value())
}

func TestInteractiveModel_BlankEnterIgnored(t *testing.T) {
	m := NewInteractiveModel(context.Background(), func(context.Context, string) (*search.Response, error) {
		t.Fatal("search should not run")
		return nil, nil
	}, plainRenderer(&bytes.Buffer{}))

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(InteractiveModel).searching)
}

func TestInteractiveModel_ErrorAndQuit(t *testing.T) {
	m := NewInteractiveModel(context.Background(), nil, plainRenderer(&bytes.Buffer{}))

	next, _ := m.Update(resultMsg{query: "x", err: kberrors.InvalidInput("query is empty")})
	m = next.(InteractiveModel)
	assert.Contains(t, m.View(), "ERR_401_INVALID_INPUT")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "", next.View())
}
