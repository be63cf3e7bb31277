// Package detector provides the uniform adapter around every PII-finding
// mechanism. Three variants exist, pattern-based (regex), model-based
// (Ollama) and dictionary-based (manual entries), all behind one interface.
// The pipeline never branches on which variant it is talking to; it only
// consumes the Span output plus the detector's configured priorities.
//
// Detectors may emit overlapping or malformed spans; cleaning those up is
// the combiner's job, not theirs.
package detector

import (
	"unicode"
	"unicode/utf8"

	"piimask/internal/span"
)

// Detector is the capability interface every variant implements.
type Detector interface {
	// Name identifies the detector in logs and failure reports.
	Name() string

	// Detect returns candidate spans for the text. The returned spans may
	// overlap each other. A non-nil error means the detector failed as a
	// whole; its contribution is then treated as empty.
	Detect(text string) ([]span.Span, error)
}

// wordBefore reports whether the rune immediately before byte offset i in
// text is a word character. Used to emulate the \w-boundary checks that
// RE2 cannot express as lookbehind.
func wordBefore(text string, i int) bool {
	if i <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

// wordAfter reports whether the rune at byte offset i is a word character.
func wordAfter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
