package tokenize

import (
	"fmt"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// kagomeSegmenter adapts kagome with the embedded IPA dictionary.
type kagomeSegmenter struct {
	t *tokenizer.Tokenizer
}

// NewKagomeSegmenter loads the IPA dictionary. This is the expensive,
// once-per-process step.
func NewKagomeSegmenter() (Segmenter, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("failed to build kagome tokenizer: %w", err)
	}
	return &kagomeSegmenter{t: t}, nil
}

// Segment implements Segmenter.
func (k *kagomeSegmenter) Segment(text string) ([]Morpheme, error) {
	tokens := k.t.Analyze(text, tokenizer.Search)

	out := make([]Morpheme, 0, len(tokens))
	for _, tok := range tokens {
		m := Morpheme{
			Surface: tok.Surface,
			POS:     tok.POS(),
		}
		if base, ok := tok.BaseForm(); ok {
			m.BaseForm = base
		}
		out = append(out, m)
	}
	return out, nil
}
