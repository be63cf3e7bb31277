// Package session owns the lifecycle of all masking sessions.
//
// A session holds the reversible value<->token mapping for one masking
// context, with a fixed time-to-live. The store is the single authority for
// TTL enforcement: expiry is evaluated lazily on every access and the
// Active -> Expired transition happens exactly once. Expired sessions are
// retained (not deleted) so demask attempts can distinguish "too old" from
// "unknown"; a background sweeper removes them after a retention window.
//
// TTL is fixed at creation and never renewed on use. Once the window
// elapses, masked tokens become permanently unresolvable, bounding the
// lifetime of any recoverable PII mapping.
package session

import (
	"errors"
	"sync"
	"time"
)

// Sentinel errors returned by store lookups.
var (
	// ErrSessionNotFound reports an id that was never created or was purged.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired reports a session past its TTL. Distinct from
	// ErrSessionNotFound so callers can explain "too old" vs "unknown".
	ErrSessionExpired = errors.New("session expired")

	// ErrTokenUnknown reports a token the session never minted. Part of
	// normal demask flow, not a failure.
	ErrTokenUnknown = errors.New("token unknown to session")
)

// State is the lifecycle state of a session.
type State string

// Session lifecycle states.
const (
	StateActive  State = "active"
	StateExpired State = "expired"
)

// Info is a read-only view of a session, safe to hand to callers.
// Callers persist or display the ID; they never mutate session internals.
type Info struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	TTL       time.Duration `json:"-"`
	TTLSecs   float64       `json:"ttlSeconds"`
	State     State         `json:"state"`
	Mappings  int           `json:"mappings"`
}

// entry is the store-internal mutable session. All field access after
// construction happens under mu, so concurrent masking calls against the
// same session cannot interleave a partial token assignment.
type entry struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	ttl       time.Duration
	expired   bool

	counters     map[string]int    // category -> highest minted sequence number
	valueToToken map[string]string // token.Key(category, value) -> token
	tokenToValue map[string]string // token -> normalized original value
}

func newEntry(id string, createdAt time.Time, ttl time.Duration) *entry {
	return &entry{
		id:           id,
		createdAt:    createdAt,
		ttl:          ttl,
		counters:     make(map[string]int),
		valueToToken: make(map[string]string),
		tokenToValue: make(map[string]string),
	}
}

// expireLocked performs the lazy one-shot Active -> Expired transition.
// Must be called with e.mu held. Returns true if the session is expired.
func (e *entry) expireLocked(now time.Time) bool {
	if e.expired {
		return true
	}
	if now.After(e.createdAt.Add(e.ttl)) {
		e.expired = true
	}
	return e.expired
}

// infoLocked builds a read-only snapshot. Must be called with e.mu held.
func (e *entry) infoLocked() Info {
	state := StateActive
	if e.expired {
		state = StateExpired
	}
	return Info{
		ID:        e.id,
		CreatedAt: e.createdAt,
		TTL:       e.ttl,
		TTLSecs:   e.ttl.Seconds(),
		State:     state,
		Mappings:  len(e.tokenToValue),
	}
}
