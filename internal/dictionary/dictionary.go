// Package dictionary manages the user-curated manual dictionary: concrete
// values (names, project numbers, customer ids) paired with a category.
//
// Entries live in memory for lookups and are mirrored to an embedded bbolt
// database so they survive restarts. Without a path the store is
// memory-only, used in tests.
//
// The core consumes the dictionary through a read-only snapshot refreshed
// between masking runs; dictionary spans always carry the highest configured
// priority.
package dictionary

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"piimask/internal/logger"
)

// Validation errors for Add.
var (
	ErrEmptyCategory = errors.New("dictionary: category must not be empty")
	ErrEmptyValue    = errors.New("dictionary: value must not be empty")
)

// Entry is one user-curated (value, category) pair. Category is stored
// upper-case, the value trimmed but otherwise verbatim; matching is
// case-sensitive by design.
type Entry struct {
	Value    string `json:"value"`
	Category string `json:"category"`
}

const dictBucket = "manual_dictionary"

// Store holds the dictionary. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry // keyed CATEGORY\x00value

	db  *bolt.DB // nil = memory only
	log *logger.Logger
}

// Open creates a Store backed by the bbolt database at path, creating the
// file if needed and loading all persisted entries. An empty path yields a
// memory-only store.
func Open(path string, log *logger.Logger) (*Store, error) {
	s := &Store{entries: make(map[string]Entry), log: log}
	if path == "" {
		return s, nil
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open dictionary %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dictBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create dictionary bucket: %w", err)
	}
	s.db = db

	if err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dictBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil || e.Value == "" || e.Category == "" {
				return nil // skip malformed rows
			}
			s.entries[string(k)] = e
			return nil
		})
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("load dictionary: %w", err)
	}

	log.Infof("dict_open", "%d entries loaded from %s", len(s.entries), path)
	return s, nil
}

func entryKey(category, value string) string {
	return category + "\x00" + value
}

// Add stores a new entry. Category is upper-cased and the value trimmed;
// duplicates are silently ignored.
func (s *Store) Add(category, value string) error {
	category = strings.ToUpper(strings.TrimSpace(category))
	value = strings.TrimSpace(value)
	if category == "" {
		return ErrEmptyCategory
	}
	if value == "" {
		return ErrEmptyValue
	}

	e := Entry{Value: value, Category: category}
	key := entryKey(category, value)

	s.mu.Lock()
	if _, exists := s.entries[key]; exists {
		s.mu.Unlock()
		return nil
	}
	s.entries[key] = e
	s.mu.Unlock()

	s.persist(key, &e)
	return nil
}

// Remove deletes an entry; reports whether it existed.
func (s *Store) Remove(category, value string) bool {
	category = strings.ToUpper(strings.TrimSpace(category))
	value = strings.TrimSpace(value)
	key := entryKey(category, value)

	s.mu.Lock()
	_, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		s.persist(key, nil)
	}
	return existed
}

// persist writes (entry != nil) or deletes (entry == nil) one row.
// Memory-only stores skip this. Write failures are logged, not fatal:
// the in-memory state stays authoritative for the running process.
func (s *Store) persist(key string, entry *Entry) {
	if s.db == nil {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dictBucket))
		if entry == nil {
			return b.Delete([]byte(key))
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		s.log.Errorf("dict_persist", "%v", err)
	}
}

// All returns every entry sorted by category, then value. For display.
func (s *Store) All() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return strings.ToLower(out[i].Value) < strings.ToLower(out[j].Value)
	})
	return out
}

// Snapshot returns the match list for the dictionary detector: longest
// values first so specific entries win before their substrings, then a
// stable (category, value) order for deterministic results.
func (s *Store) Snapshot() []Entry {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Value) > len(out[j].Value)
	})
	return out
}

// Count returns the number of entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close releases the backing database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
