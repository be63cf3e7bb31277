// Package metrics provides lightweight, lock-minimal performance counters
// for the masking service.
//
// Counters use sync/atomic so hot paths (masking, token minting) incur no
// mutex contention. Latency statistics use a single mutex per dimension;
// they are updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all runtime counters for a running service instance.
// The zero value is NOT valid for the per-category counters; use New().
type Metrics struct {
	// Pipeline run counters
	MaskRuns   atomic.Int64
	DemaskRuns atomic.Int64

	// Span counters
	SpansDetected atomic.Int64 // raw candidates from all detectors
	SpansDropped  atomic.Int64 // invalid offsets rejected before combining
	SpansMasked   atomic.Int64 // spans actually replaced by tokens

	// Token counters
	TokensMinted atomic.Int64
	TokensReused atomic.Int64

	// Demask resolution counters
	DemaskResolved          atomic.Int64
	DemaskUnresolvedExpired atomic.Int64
	DemaskUnresolvedUnknown atomic.Int64

	// Detector failure counters (per detector name)
	// Maps are written only in New(); concurrent reads are safe without a lock.
	detectorFailures map[string]*atomic.Int64

	// Per-category masked span counters.
	categorySpans map[string]*atomic.Int64

	// Session lifecycle counters
	SessionsCreated atomic.Int64
	SessionsExpired atomic.Int64
	SessionsPurged  atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	maskMu   sync.Mutex
	maskStat latencyStats

	demaskMu   sync.Mutex
	demaskStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-category
// and per-detector counter maps pre-populated, so Snapshot() can iterate
// fixed sets without racing on map writes.
func New(categories, detectors []string) *Metrics {
	m := &Metrics{
		startTime:        time.Now(),
		detectorFailures: make(map[string]*atomic.Int64, len(detectors)),
		categorySpans:    make(map[string]*atomic.Int64, len(categories)),
	}
	for _, d := range detectors {
		m.detectorFailures[d] = new(atomic.Int64)
	}
	for _, c := range categories {
		m.categorySpans[c] = new(atomic.Int64)
	}
	return m
}

// RecordCategorySpan increments the masked-span counter for the given
// category. Unknown categories are silently ignored.
func (m *Metrics) RecordCategorySpan(category string) {
	if c, ok := m.categorySpans[category]; ok {
		c.Add(1)
	}
}

// RecordDetectorFailure increments the failure counter for the given
// detector name. Unknown names are silently ignored.
func (m *Metrics) RecordDetectorFailure(name string) {
	if c, ok := m.detectorFailures[name]; ok {
		c.Add(1)
	}
}

// RecordMaskLatency records the duration of one masking pass.
func (m *Metrics) RecordMaskLatency(d time.Duration) {
	m.maskMu.Lock()
	m.maskStat.record(float64(d.Microseconds()) / 1000.0)
	m.maskMu.Unlock()
}

// RecordDemaskLatency records the duration of one demasking pass.
func (m *Metrics) RecordDemaskLatency(d time.Duration) {
	m.demaskMu.Lock()
	m.demaskStat.record(float64(d.Microseconds()) / 1000.0)
	m.demaskMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.maskMu.Lock()
	mask := m.maskStat.snapshot()
	m.maskMu.Unlock()

	m.demaskMu.Lock()
	demask := m.demaskStat.snapshot()
	m.demaskMu.Unlock()

	byCategory := make(map[string]int64, len(m.categorySpans))
	for c, n := range m.categorySpans {
		if v := n.Load(); v > 0 {
			byCategory[c] = v
		}
	}
	failures := make(map[string]int64, len(m.detectorFailures))
	for d, n := range m.detectorFailures {
		if v := n.Load(); v > 0 {
			failures[d] = v
		}
	}

	return Snapshot{
		Runs: RunSnapshot{
			Mask:   m.MaskRuns.Load(),
			Demask: m.DemaskRuns.Load(),
		},
		Spans: SpanSnapshot{
			Detected:   m.SpansDetected.Load(),
			Dropped:    m.SpansDropped.Load(),
			Masked:     m.SpansMasked.Load(),
			ByCategory: byCategory,
		},
		Tokens: TokenSnapshot{
			Minted: m.TokensMinted.Load(),
			Reused: m.TokensReused.Load(),
		},
		Demask: DemaskSnapshot{
			Resolved:          m.DemaskResolved.Load(),
			UnresolvedExpired: m.DemaskUnresolvedExpired.Load(),
			UnresolvedUnknown: m.DemaskUnresolvedUnknown.Load(),
		},
		Sessions: SessionSnapshot{
			Created: m.SessionsCreated.Load(),
			Expired: m.SessionsExpired.Load(),
			Purged:  m.SessionsPurged.Load(),
		},
		DetectorFailures: failures,
		Latency: LatencyGroup{
			MaskMs:   mask,
			DemaskMs: demask,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Runs             RunSnapshot      `json:"runs"`
	Spans            SpanSnapshot     `json:"spans"`
	Tokens           TokenSnapshot    `json:"tokens"`
	Demask           DemaskSnapshot   `json:"demask"`
	Sessions         SessionSnapshot  `json:"sessions"`
	DetectorFailures map[string]int64 `json:"detectorFailures,omitempty"`
	Latency          LatencyGroup     `json:"latency"`
	UptimeSecs       float64          `json:"uptimeSecs"`
}

// RunSnapshot holds pipeline run counters.
type RunSnapshot struct {
	Mask   int64 `json:"mask"`
	Demask int64 `json:"demask"`
}

// SpanSnapshot holds span volume counters.
type SpanSnapshot struct {
	Detected int64 `json:"detected"`
	Dropped  int64 `json:"dropped"`
	Masked   int64 `json:"masked"`

	// Per-category masked spans (only categories with non-zero counts appear).
	ByCategory map[string]int64 `json:"byCategory,omitempty"`
}

// TokenSnapshot holds token minting counters.
type TokenSnapshot struct {
	Minted int64 `json:"minted"`
	Reused int64 `json:"reused"`
}

// DemaskSnapshot holds demask resolution counters.
type DemaskSnapshot struct {
	Resolved          int64 `json:"resolved"`
	UnresolvedExpired int64 `json:"unresolvedExpired"`
	UnresolvedUnknown int64 `json:"unresolvedUnknown"`
}

// SessionSnapshot holds session lifecycle counters.
type SessionSnapshot struct {
	Created int64 `json:"created"`
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	MaskMs   LatencySnapshot `json:"maskMs"`
	DemaskMs LatencySnapshot `json:"demaskMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
