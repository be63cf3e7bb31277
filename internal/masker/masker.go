// Package masker converts a resolved span list plus source text into masked
// output text, minting or reusing session tokens for each span.
//
// Spans are substituted in reverse offset order: replacing the highest start
// first keeps every earlier offset valid, so offsets are never recomputed
// after a replacement. Masking is a pure function of (text, resolved spans,
// session mapping state): masking the same text twice against the same
// session yields identical output and does not grow the mapping tables.
package masker

import (
	"errors"
	"fmt"

	"piimask/internal/span"
	"piimask/internal/token"
)

// ErrTextSpanMismatch reports span offsets inconsistent with the text being
// masked, e.g. the text mutated between detection and masking. This is a
// caller contract violation: the operation aborts and no partial output is
// returned. Cleaning up detector noise is the combiner's job, not the
// masker's, so this is not recoverable the way detector garbage is.
var ErrTextSpanMismatch = errors.New("span offsets inconsistent with text")

// TokenResolver hands out the stable token for a (category, value) pair.
// Implemented by the session store bound to one session id; the masker
// never touches session storage directly.
type TokenResolver interface {
	ResolveToken(category, value string) (tok string, minted bool, err error)
}

// Stats summarizes one masking pass.
type Stats struct {
	Replacements int `json:"replacements"` // spans substituted
	Minted       int `json:"minted"`       // new tokens created
	Reused       int `json:"reused"`       // existing tokens reused
}

// Mask replaces every resolved span in text with its session token.
// resolved must be the combiner's output: sorted ascending by start,
// non-overlapping, offsets valid for this exact text. Any inconsistency
// yields ErrTextSpanMismatch and no output.
func Mask(text string, resolved []span.Span, sess TokenResolver) (string, Stats, error) {
	if err := validate(text, resolved); err != nil {
		return "", Stats{}, err
	}

	var stats Stats
	out := []byte(text)
	for i := len(resolved) - 1; i >= 0; i-- {
		sp := resolved[i]
		value := token.Normalize(text[sp.Start:sp.End])
		if value == "" {
			continue // whitespace-only span, nothing to protect
		}
		tok, minted, err := sess.ResolveToken(sp.Category, value)
		if err != nil {
			return "", Stats{}, err
		}
		out = append(out[:sp.Start], append([]byte(tok), out[sp.End:]...)...)
		stats.Replacements++
		if minted {
			stats.Minted++
		} else {
			stats.Reused++
		}
	}
	return string(out), stats, nil
}

// validate checks the resolved-span-list contract against the current text.
func validate(text string, resolved []span.Span) error {
	n := len(text)
	prevEnd := 0
	for i, sp := range resolved {
		if !sp.Valid(n) {
			return fmt.Errorf("%w: span %d [%d,%d) outside text of %d bytes",
				ErrTextSpanMismatch, i, sp.Start, sp.End, n)
		}
		if sp.Start < prevEnd {
			return fmt.Errorf("%w: span %d [%d,%d) overlaps or precedes previous end %d",
				ErrTextSpanMismatch, i, sp.Start, sp.End, prevEnd)
		}
		if sp.Text != "" && text[sp.Start:sp.End] != sp.Text {
			return fmt.Errorf("%w: span %d text %q does not match %q",
				ErrTextSpanMismatch, i, sp.Text, text[sp.Start:sp.End])
		}
		prevEnd = sp.End
	}
	return nil
}
