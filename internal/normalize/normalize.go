// Package normalize canonicalizes raw query text before it is tokenized or
// used as a cache key.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Query returns the canonical form of raw: full-width ASCII and half-width
// katakana folded to their standard widths, NFC composed, trimmed, and every
// whitespace run (including U+3000) collapsed to one ASCII space.
//
// Two inputs that differ only in width or whitespace yield the same string.
func Query(raw string) (string, error) {
	s := Text(raw)
	if s == "" {
		return "", kberrors.InvalidInput("query is empty").
			WithSuggestion("provide a non-empty question")
	}
	return s, nil
}

// Text is Query without the emptiness check. It is used for stored text
// (questions, categories) that must compare equal to normalized queries.
func Text(raw string) string {
	return collapseSpace(Width(raw))
}

// Width folds character widths and composes to NFC. Whitespace, including
// line breaks in answers, is kept as is.
func Width(raw string) string {
	return norm.NFC.String(width.Fold.String(raw))
}

func collapseSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Fold is the comparison key for term matching: Text, lower-cased. Japanese
// text has no case, so only its width is affected.
func Fold(s string) string {
	return strings.ToLower(Text(s))
}
