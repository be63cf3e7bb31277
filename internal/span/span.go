// Package span defines the candidate-span data model shared by the
// detectors, the combiner and the masking engine.
//
// Offsets are byte offsets into the original UTF-8 text, half-open
// [Start, End). All detectors and the masking engine agree on this;
// there is no rune-index translation anywhere in the pipeline.
package span

// Source identifies the class of detector that produced a span.
type Source string

// Detector source classes.
const (
	SourceRegex      Source = "regex"
	SourceModel      Source = "model"
	SourceDictionary Source = "dictionary"
)

// Span marks a byte range of the original text as containing PII.
type Span struct {
	Start    int    // inclusive byte offset
	End      int    // exclusive byte offset
	Text     string // the matched text, text[Start:End]
	Category string // label, e.g. "EMAIL", "PERSON"
	Source   Source // which detector class found it
	Priority int    // conflict-resolution rank, higher wins
}

// Len returns the byte length of the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Valid reports whether the span is a usable range within a text of
// byte length n. Zero-length and out-of-range spans are invalid.
func (s Span) Valid(n int) bool {
	return s.Start >= 0 && s.End <= n && s.Start < s.End
}
