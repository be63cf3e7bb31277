package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"piimask/internal/token"
)

// Snapshot file format. The value->token index is not stored; it is
// rebuilt from the token->value mapping on load, keyed by the category
// parsed out of each token.
type snapshotFile struct {
	Version  int               `json:"version"`
	Sessions []snapshotSession `json:"sessions"`
}

type snapshotSession struct {
	ID           string            `json:"id"`
	CreatedAt    int64             `json:"createdAtUnixMs"`
	TTLSecs      float64           `json:"ttlSeconds"`
	Expired      bool              `json:"expired"`
	Counters     map[string]int    `json:"counters"`
	TokenToValue map[string]string `json:"mapping"`
}

// Save persists the current session set. A no-op without a snapshot path.
// Exposed so the masking pipeline can flush after minting tokens.
func (s *Store) Save() { s.persist() }

// persist writes an atomic JSON snapshot of all sessions (tmp + rename).
func (s *Store) persist() {
	if s.snapshotPath == "" {
		return
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	snap := snapshotFile{Version: 1, Sessions: make([]snapshotSession, 0, len(entries))}
	for _, e := range entries {
		e.mu.Lock()
		ss := snapshotSession{
			ID:           e.id,
			CreatedAt:    e.createdAt.UnixMilli(),
			TTLSecs:      e.ttl.Seconds(),
			Expired:      e.expired,
			Counters:     make(map[string]int, len(e.counters)),
			TokenToValue: make(map[string]string, len(e.tokenToValue)),
		}
		for k, v := range e.counters {
			ss.Counters[k] = v
		}
		for k, v := range e.tokenToValue {
			ss.TokenToValue[k] = v
		}
		e.mu.Unlock()
		snap.Sessions = append(snap.Sessions, ss)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		s.log.Errorf("session_persist", "marshal: %v", err)
		return
	}

	dir := filepath.Dir(s.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".maskd-sessions-*.tmp")
	if err != nil {
		s.log.Errorf("session_persist", "create temp: %v", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		s.log.Errorf("session_persist", "write: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		s.log.Errorf("session_persist", "close: %v", err)
		return
	}
	if err := os.Rename(tmpName, s.snapshotPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		s.log.Errorf("session_persist", "rename: %v", err)
		return
	}
}

// loadSnapshot restores sessions from the snapshot file, skipping malformed
// entries. Missing or unreadable files leave the store empty.
func (s *Store) loadSnapshot() {
	if s.snapshotPath == "" {
		return
	}
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return // file is optional
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warnf("session_load", "could not parse %s: %v", s.snapshotPath, err)
		return
	}

	restored := 0
	s.mu.Lock()
	for _, ss := range snap.Sessions {
		if ss.ID == "" || ss.TTLSecs <= 0 {
			continue
		}
		e := newEntry(ss.ID, time.UnixMilli(ss.CreatedAt), time.Duration(ss.TTLSecs*float64(time.Second)))
		e.expired = ss.Expired
		for cat, n := range ss.Counters {
			if n > 0 {
				e.counters[cat] = n
			}
		}
		for tok, value := range ss.TokenToValue {
			category, _, ok := token.Parse(tok)
			if !ok {
				continue
			}
			e.tokenToValue[tok] = value
			key := token.Key(category, value)
			if _, dup := e.valueToToken[key]; !dup {
				e.valueToToken[key] = tok
			}
		}
		s.sessions[ss.ID] = e
		restored++
	}
	s.mu.Unlock()

	if restored > 0 {
		s.log.Infof("session_load", "restored %d session(s) from %s", restored, s.snapshotPath)
	}
}
