// Package demask scans text for token-shaped substrings and substitutes the
// original values from one or more candidate sessions.
//
// Demasking never fails on unresolved tokens: a token no session can answer
// is left verbatim and counted, so partial demask is always possible when
// tokens map to sessions with different TTLs.
package demask

import (
	"errors"

	"piimask/internal/session"
	"piimask/internal/token"
)

// Resolver answers token lookups per session. Implemented by session.Store.
type Resolver interface {
	Resolve(id, tok string) (string, error)
}

// Stats summarizes one demasking pass.
type Stats struct {
	Resolved          int `json:"resolved"`
	UnresolvedExpired int `json:"unresolvedExpired"` // a session knew the token but is past TTL
	UnresolvedUnknown int `json:"unresolvedUnknown"` // no session ever minted the token
}

// Demask substitutes original values for every token grammar match in text.
// sessions are consulted in priority order; the first mapping found wins and
// later sessions are not asked for that occurrence. Unknown or purged
// session ids contribute nothing and do not abort the pass.
func Demask(text string, sessions []string, res Resolver) (string, Stats) {
	var stats Stats
	out := token.Pattern().ReplaceAllStringFunc(text, func(tok string) string {
		sawExpired := false
		for _, id := range sessions {
			value, err := res.Resolve(id, tok)
			if err == nil {
				stats.Resolved++
				return value
			}
			if errors.Is(err, session.ErrSessionExpired) {
				sawExpired = true
			}
			// ErrSessionNotFound and ErrTokenUnknown: try the next session.
		}
		if sawExpired {
			stats.UnresolvedExpired++
		} else {
			stats.UnresolvedUnknown++
		}
		return tok
	})
	return out, stats
}
