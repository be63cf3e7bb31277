package detector

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"piimask/internal/logger"
)

// DetectionCache is the persistent cache in front of the model detector,
// mapping a text hash to an encoded detection list so a text the model has
// already analyzed gets its spans without another inference call, across
// process restarts.
//
// The interface is intentionally minimal: per-key reads and writes from the
// Detect hot path plus deletes from the eviction layer. Batch operations and
// iteration are not needed. All implementations must be safe for concurrent
// use.
type DetectionCache interface {
	// Get returns the cached detections for the given text hash, if present.
	Get(key string) ([]byte, bool)

	// Set stores key → data. Overwrites any existing entry silently.
	Set(key string, data []byte)

	// Delete removes the entry for key, if present.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// --- memoryCache ---------------------------------------------------------

// memoryCache is a thread-safe in-memory DetectionCache.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewMemoryCache returns an unbounded in-memory DetectionCache, used when
// no cache file is configured and in tests.
func NewMemoryCache() DetectionCache {
	return &memoryCache{store: make(map[string][]byte)}
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key string, data []byte) {
	c.mu.Lock()
	c.store[key] = data
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const cacheBucket = "model_detections"

// bboltCache is a DetectionCache backed by an embedded bbolt database.
// Entries survive process restarts.
type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// NewBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists. Returns an error if the file cannot be opened.
func NewBboltCache(path string, log *logger.Logger) (DetectionCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open detection cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create detection cache bucket: %w", err)
	}
	log.Infof("cache_open", "detection cache opened at %s", path)
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(key string) ([]byte, bool) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(cacheBucket)).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...) // copy: v is only valid inside the tx
		}
		return nil
	})
	if err != nil {
		c.log.Errorf("cache_get", "%v", err)
		return nil, false
	}
	return data, data != nil
}

func (c *bboltCache) Set(key string, data []byte) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Put([]byte(key), data)
	}); err != nil {
		c.log.Errorf("cache_set", "%v", err)
	}
}

func (c *bboltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).Delete([]byte(key))
	}); err != nil {
		c.log.Errorf("cache_delete", "%v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
