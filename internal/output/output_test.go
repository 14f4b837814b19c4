package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Successf("Seeded %d entries", 7) }, "✅ Seeded 7 entries\n"},
		{"warning", func(w *Writer) { w.Warning("Tokenizer unavailable") }, "⚠️  Tokenizer unavailable\n"},
		{"error", func(w *Writer) { w.Errorf("dataset %s missing", "k.yaml") }, "❌ dataset k.yaml missing\n"},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, "   indented\n"},
		{"statusf", func(w *Writer) { w.Statusf("📂", "Loading %s", "knowledge.yaml") }, "📂 Loading knowledge.yaml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a writer with a buffer
			buf := &bytes.Buffer{}

			// When: writing the line
			tt.write(New(buf))

			// Then: output matches exactly
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_KV_AlignsKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).KV([][2]string{
		{"entries", "7"},
		{"busy_periods", "2"},
	})

	assert.Equal(t, "   entries:       7\n   busy_periods:  2\n", buf.String())
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Code("search:\n  max_results: 10\n")

	assert.Equal(t, "\n  search:\n    max_results: 10\n\n", buf.String())
}

func TestWriter_JSON_KeepsJapanese(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, New(buf).JSON(map[string]string{"query": "キャンセル料<>"}))

	assert.Equal(t, "{\n  \"query\": \"キャンセル料<>\"\n}\n", buf.String())
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Newline()
	assert.Equal(t, "\n", buf.String())
}
