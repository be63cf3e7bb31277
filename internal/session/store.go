package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"piimask/internal/logger"
	"piimask/internal/token"
)

// Store owns all sessions. Different sessions are independent and may be
// mutated in parallel; the store-level lock only guards the id map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	defaultTTL time.Duration
	retention  time.Duration // how long expired sessions stay queryable

	snapshotPath string // empty = no persistence

	now func() time.Time // injectable clock for expiry tests

	// OnExpire, if set, is called exactly once per session at its lazy
	// Active -> Expired transition, with the session's mutex held. Set it
	// before the store is shared; it must not call back into the store.
	OnExpire func(id string)

	log *logger.Logger
}

// New creates a Store. Sessions created without an explicit TTL get
// defaultTTL. Expired sessions are removed by EvictExpired once they have
// been expired longer than retention. If snapshotPath is non-empty the
// store persists a JSON snapshot on mutation and restores it on startup.
func New(defaultTTL, retention time.Duration, snapshotPath string, log *logger.Logger) *Store {
	s := &Store{
		sessions:     make(map[string]*entry),
		defaultTTL:   defaultTTL,
		retention:    retention,
		snapshotPath: snapshotPath,
		now:          time.Now,
		log:          log,
	}
	s.loadSnapshot()
	return s
}

// Create makes a new Active session with empty mapping tables.
// ttl <= 0 selects the store default.
func (s *Store) Create(ttl time.Duration) Info {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := newEntry(uuid.NewString(), s.now(), ttl)

	s.mu.Lock()
	s.sessions[e.id] = e
	s.mu.Unlock()

	s.log.Debugf("session_create", "id=%s ttl=%s", e.id, ttl)
	s.persist()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.infoLocked()
}

// expire runs the lazy expiry check and fires OnExpire on the one-shot
// transition. Must be called with e.mu held.
func (s *Store) expire(e *entry, now time.Time) bool {
	was := e.expired
	expired := e.expireLocked(now)
	if expired && !was && s.OnExpire != nil {
		s.OnExpire(e.id)
	}
	return expired
}

// lookup returns the live entry for id, or ErrSessionNotFound.
func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Get returns a snapshot of the session, evaluating expiry lazily.
func (s *Store) Get(id string) (Info, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Info{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.expire(e, s.now())
	return e.infoLocked(), nil
}

// Touch lazily evaluates expiry. Returns nil for an Active session,
// ErrSessionExpired once now > created_at + ttl, or ErrSessionNotFound.
func (s *Store) Touch(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	expired := s.expire(e, s.now())
	e.mu.Unlock()
	if expired {
		return ErrSessionExpired
	}
	return nil
}

// Purge removes a session entirely. Subsequent lookups report
// ErrSessionNotFound. Purging an unknown id is an error.
func (s *Store) Purge(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.log.Debugf("session_purge", "id=%s", id)
	s.persist()
	return nil
}

// ResolveToken returns the stable token for (category, value) in the given
// session, minting a new one if the pair is unseen. The read-check-mint is
// atomic per session: concurrent masking calls against the same session can
// never assign two tokens to one value. value must already be normalized
// (token.Normalize); category must be an upper-case label.
func (s *Store) ResolveToken(id, category, value string) (tok string, minted bool, err error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s.expire(e, s.now()) {
		return "", false, ErrSessionExpired
	}

	key := token.Key(category, value)
	if existing, ok := e.valueToToken[key]; ok {
		return existing, false, nil
	}

	category = strings.ToUpper(category)
	e.counters[category]++
	tok = token.Format(category, e.counters[category])
	e.valueToToken[key] = tok
	e.tokenToValue[tok] = value
	return tok, true, nil
}

// Resolve looks up the original value for a token during demasking.
// For an expired session the mapping is consulted read-only so the caller
// can tell "expired but known" (ErrSessionExpired) apart from "unknown"
// (ErrTokenUnknown).
func (s *Store) Resolve(id, tok string) (string, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	value, known := e.tokenToValue[tok]
	if s.expire(e, s.now()) {
		if known {
			return "", ErrSessionExpired
		}
		return "", ErrTokenUnknown
	}
	if !known {
		return "", ErrTokenUnknown
	}
	return value, nil
}

// List returns snapshots of all sessions, expiry evaluated, unordered.
func (s *Store) List() []Info {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	now := s.now()
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		s.expire(e, now)
		out = append(out, e.infoLocked())
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of live (retained) sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictExpired removes sessions that have been past their TTL for longer
// than the retention window and returns how many were removed. Sessions
// inside the retention window stay queryable so demask can still report
// ErrSessionExpired for their tokens.
func (s *Store) EvictExpired() int {
	now := s.now()

	s.mu.Lock()
	var evicted int
	for id, e := range s.sessions {
		e.mu.Lock()
		gone := s.expire(e, now) && now.After(e.createdAt.Add(e.ttl+s.retention))
		e.mu.Unlock()
		if gone {
			delete(s.sessions, id)
			evicted++
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.log.Infof("session_evict", "removed %d expired session(s)", evicted)
		s.persist()
	}
	return evicted
}

// RunEviction runs EvictExpired every interval until stop is closed.
// Intended to be launched as a goroutine from main.
func (s *Store) RunEviction(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.EvictExpired()
		case <-stop:
			return
		}
	}
}
