// Package token defines the placeholder token grammar and the lookup-key
// normalization shared by the masking engine, the session store and the
// demasking engine.
//
// A token is a delimited literal of the form
//
//	[<CATEGORY>_<N>]
//
// where CATEGORY is an upper-case label from the configured set and N is a
// decimal sequence number >= 1, unique per category per session. The format
// must be exactly reproducible: demasking finds tokens in returned text by
// scanning for this grammar.
package token

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// pattern matches a complete token. The category group is greedy, so a
// category containing underscores (e.g. INVOICE_ID) parses correctly:
// the trailing digit run always belongs to the sequence number.
var pattern = regexp.MustCompile(`\[([A-Z][A-Z0-9_]*)_([1-9][0-9]*)\]`)

// anchored is pattern pinned to the full string, used by Parse.
var anchored = regexp.MustCompile(`^\[([A-Z][A-Z0-9_]*)_([1-9][0-9]*)\]$`)

var folder = cases.Fold()

// Format renders the token for the n-th distinct value of a category.
func Format(category string, n int) string {
	return fmt.Sprintf("[%s_%d]", category, n)
}

// Pattern returns the compiled token grammar for scanning free text.
// Callers must not mutate the returned regexp.
func Pattern() *regexp.Regexp { return pattern }

// Parse splits a token into its category and sequence number.
// ok is false if tok is not a well-formed token.
func Parse(tok string) (category string, n int, ok bool) {
	m := anchored.FindStringSubmatch(tok)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return m[1], n, true
}

// Normalize trims surrounding whitespace from a detected value. This is the
// form stored in the session mapping and restored on demask.
func Normalize(value string) string {
	return strings.TrimSpace(value)
}

// Key builds the session lookup key for a (category, value) pair. The value
// is NFKC-normalized and case-folded so that casing and Unicode compatibility
// variants of the same value share one token; the stored value itself keeps
// its original casing.
func Key(category, value string) string {
	folded := folder.String(norm.NFKC.String(Normalize(value)))
	return strings.ToUpper(category) + "\x00" + folded
}
