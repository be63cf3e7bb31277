package detector

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

// --- memoryCache tests ---

func TestMemoryCache_SetGetDelete(t *testing.T) {
	c := NewMemoryCache()

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("k", []byte("v"))
	got, ok := c.Get("k")
	if !ok || !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get after Set = %q, %v", got, ok)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Delete")
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// --- bboltCache tests ---

func TestBboltCache_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.db")

	c1, err := NewBboltCache(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c1.Set("hash1", []byte(`[{"original":"Max"}]`))
	if err := c1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: entries survive.
	c2, err := NewBboltCache(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close() //nolint:errcheck // test cleanup

	got, ok := c2.Get("hash1")
	if !ok || !bytes.Equal(got, []byte(`[{"original":"Max"}]`)) {
		t.Errorf("Get after reopen = %q, %v", got, ok)
	}

	c2.Delete("hash1")
	if _, ok := c2.Get("hash1"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestBboltCache_BadPath(t *testing.T) {
	if _, err := NewBboltCache(filepath.Join(t.TempDir(), "no", "such", "dir", "x.db"), quietLogger()); err == nil {
		t.Error("expected error for unreachable path")
	}
}

// --- s3fifoCache tests ---

func TestS3FIFO_HitAndMiss(t *testing.T) {
	c := NewS3FIFOCache(NewMemoryCache(), 10)

	c.Set("a", []byte("1"))
	got, ok := c.Get("a")
	if !ok || !bytes.Equal(got, []byte("1")) {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestS3FIFO_EvictsWithinCapacity(t *testing.T) {
	backing := NewMemoryCache()
	c := NewS3FIFOCache(backing, 4)

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte{byte(i)})
	}

	s3 := c.(*s3fifoCache)
	s3.mu.Lock()
	resident := len(s3.entries)
	s3.mu.Unlock()
	if resident > 4 {
		t.Errorf("resident entries = %d, want <= 4", resident)
	}
}

func TestS3FIFO_FrequentKeySurvives(t *testing.T) {
	c := NewS3FIFOCache(NewMemoryCache(), 4)

	c.Set("hot", []byte("x"))
	for i := 0; i < 3; i++ {
		c.Get("hot") // raise freq so S eviction promotes instead of dropping
	}
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("cold%d", i), []byte{byte(i)})
	}

	s3 := c.(*s3fifoCache)
	s3.mu.Lock()
	_, resident := s3.entries["hot"]
	s3.mu.Unlock()
	if !resident {
		t.Error("frequently accessed key should have been promoted to M")
	}
}

func TestS3FIFO_ColdMissFallsBackToBacking(t *testing.T) {
	backing := NewMemoryCache()
	backing.Set("warm", []byte("disk"))

	c := NewS3FIFOCache(backing, 4)
	got, ok := c.Get("warm")
	if !ok || !bytes.Equal(got, []byte("disk")) {
		t.Errorf("Get via backing = %q, %v", got, ok)
	}

	// Now resident in memory.
	s3 := c.(*s3fifoCache)
	s3.mu.Lock()
	_, resident := s3.entries["warm"]
	s3.mu.Unlock()
	if !resident {
		t.Error("backing hit should re-warm the in-memory layer")
	}
}

func TestS3FIFO_UpdateExistingKey(t *testing.T) {
	c := NewS3FIFOCache(NewMemoryCache(), 4)
	c.Set("k", []byte("old"))
	c.Set("k", []byte("new"))

	got, ok := c.Get("k")
	if !ok || !bytes.Equal(got, []byte("new")) {
		t.Errorf("Get after update = %q, %v", got, ok)
	}
}

func TestS3FIFO_Delete(t *testing.T) {
	backing := NewMemoryCache()
	c := NewS3FIFOCache(backing, 4)

	c.Set("k", []byte("v"))
	c.Delete("k")

	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Delete")
	}
	if _, ok := backing.Get("k"); ok {
		t.Error("Delete must reach the backing store")
	}
}

func TestS3FIFO_GhostPromotesDirectlyToM(t *testing.T) {
	c := NewS3FIFOCache(NewMemoryCache(), 4)
	s3 := c.(*s3fifoCache)

	// Fill past capacity so "ghosted" gets evicted from S with freq 0.
	// Exactly enough fillers: more would rotate it out of the ghost ring.
	c.Set("ghosted", []byte("1"))
	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("filler%d", i), []byte{byte(i)})
	}

	s3.mu.Lock()
	inGhost := s3.ghostContains("ghosted")
	s3.mu.Unlock()
	if !inGhost {
		t.Fatal("expected ghosted key in ghost set")
	}

	// Re-insert: the ghost hit sends it straight to M.
	c.Set("ghosted", []byte("2"))
	s3.mu.Lock()
	e, resident := s3.entries["ghosted"]
	s3.mu.Unlock()
	if !resident || !e.inM {
		t.Error("re-inserted ghost key should land in M")
	}
}
