package detector

import (
	"strings"

	"piimask/internal/dictionary"
	"piimask/internal/span"
)

// Dictionary-based detector variant: a plain substring search over the
// user-curated match list. No patterns, no normalization: matching is
// case-sensitive, exactly as the user entered the value. The snapshot is
// re-read on every Detect call so entries added between masking runs take
// effect without a restart.
type Dictionary struct {
	snapshot func() []dictionary.Entry
	priority int
}

// NewDictionary creates the dictionary detector. snapshot supplies the
// current match list (longest values first); priority is the rank for all
// dictionary spans, by configuration always above the automatic detectors.
func NewDictionary(snapshot func() []dictionary.Entry, priority int) *Dictionary {
	return &Dictionary{snapshot: snapshot, priority: priority}
}

// Name implements Detector.
func (d *Dictionary) Name() string { return "dictionary" }

// Detect implements Detector. Occurrences of one entry never overlap each
// other (the search resumes past each hit); overlaps between different
// entries are left for the combiner.
func (d *Dictionary) Detect(text string) ([]span.Span, error) {
	if text == "" {
		return nil, nil
	}
	entries := d.snapshot()
	if len(entries) == 0 {
		return nil, nil
	}

	var out []span.Span
	for _, e := range entries {
		if e.Value == "" {
			continue
		}
		category := strings.ToUpper(e.Category)
		start := 0
		for {
			idx := strings.Index(text[start:], e.Value)
			if idx < 0 {
				break
			}
			s := start + idx
			end := s + len(e.Value)
			out = append(out, span.Span{
				Start:    s,
				End:      end,
				Text:     e.Value,
				Category: category,
				Source:   span.SourceDictionary,
				Priority: d.priority,
			})
			start = end
		}
	}
	return out, nil
}
