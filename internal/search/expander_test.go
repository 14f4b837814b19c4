package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

var testTags = []store.Tag{
	{ID: 1, Name: "キャンセル", Synonyms: []string{"取消", "取り消し", "キャンセル料"}},
	{ID: 2, Name: "営業時間", Synonyms: []string{"営業", "開場時間"}},
	{ID: 4, Name: "料金", Synonyms: []string{"値段", "費用"}},
	{ID: 9, Name: "Shuttle", Synonyms: []string{"BUS"}},
}

func TestExpander_Expand(t *testing.T) {
	x := NewExpander(staticTags{tags: testTags}, WithExpanderLogger(discardLogger()))

	tests := []struct {
		name     string
		terms    []string
		wantTerm []string
		wantTags []int64
	}{
		{
			name:     "synonym pulls in tag name and siblings",
			terms:    []string{"キャンセル料", "いくら"},
			wantTerm: []string{"キャンセル料", "いくら", "キャンセル", "取消", "取り消し"},
			wantTags: []int64{1},
		},
		{
			name:     "term contained in a synonym matches",
			terms:    []string{"開場"},
			wantTerm: []string{"開場", "営業時間", "営業", "開場時間"},
			wantTags: []int64{2},
		},
		{
			name:     "term containing the tag name matches",
			terms:    []string{"駐車料金"},
			wantTerm: []string{"駐車料金", "料金", "値段", "費用"},
			wantTags: []int64{4},
		},
		{
			name:     "case-insensitive",
			terms:    []string{"bus"},
			wantTerm: []string{"bus", "shuttle"},
			wantTags: []int64{9},
		},
		{
			name:     "no match keeps terms",
			terms:    []string{"送迎"},
			wantTerm: []string{"送迎"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := x.Expand(context.Background(), tt.terms)
			for _, term := range tt.wantTerm {
				assert.Contains(t, got.Terms, term)
			}
			assert.Equal(t, tt.terms[0], got.Terms[0], "original terms come first")
			assert.Equal(t, tt.wantTags, got.TagIDs)
		})
	}
}

func TestExpander_Expand_MultipleTagsSortedAndDeduped(t *testing.T) {
	x := NewExpander(staticTags{tags: testTags})

	got := x.Expand(context.Background(), []string{"料金", "キャンセル", "取消"})

	assert.Equal(t, []int64{1, 4}, got.TagIDs)
	seen := make(map[string]int)
	for _, term := range got.Terms {
		seen[term]++
	}
	for term, n := range seen {
		assert.Equal(t, 1, n, "term %q repeated", term)
	}
}

func TestExpander_Expand_IgnoresWidth(t *testing.T) {
	tags := staticTags{tags: []store.Tag{{ID: 7, Name: "ＥＴＣ", Synonyms: []string{"ＥＴＣカード"}}}}
	x := NewExpander(tags, WithExpanderLogger(discardLogger()))

	for _, term := range []string{"etc", "ＥＴＣ", "ｅｔｃカード"} {
		got := x.Expand(context.Background(), []string{term})
		assert.Equal(t, []int64{7}, got.TagIDs, term)
		assert.Contains(t, got.Terms, "etcカード", term)
	}
}

func TestExpander_Expand_MaxExpansions(t *testing.T) {
	x := NewExpander(staticTags{tags: testTags}, WithMaxExpansions(1))

	got := x.Expand(context.Background(), []string{"キャンセル"})

	assert.Equal(t, []string{"キャンセル", "取消"}, got.Terms)
}

func TestExpander_Expand_EmptyTerms(t *testing.T) {
	x := NewExpander(staticTags{tags: testTags})

	got := x.Expand(context.Background(), nil)
	assert.Empty(t, got.Terms)
	assert.Empty(t, got.TagIDs)

	got = x.Expand(context.Background(), []string{" ", ""})
	assert.Empty(t, got.Terms)
}

func TestExpander_Expand_TagSourceErrorReturnsTerms(t *testing.T) {
	x := NewExpander(staticTags{err: errors.New("db locked")}, WithExpanderLogger(discardLogger()))

	got := x.Expand(context.Background(), []string{"キャンセル", "キャンセル"})

	assert.Equal(t, []string{"キャンセル"}, got.Terms)
	assert.Empty(t, got.TagIDs)
}

func TestExpander_Expand_DoesNotMutateInput(t *testing.T) {
	x := NewExpander(staticTags{tags: testTags})
	terms := []string{"キャンセル料"}

	_ = x.Expand(context.Background(), terms)

	assert.Equal(t, []string{"キャンセル料"}, terms)
}
