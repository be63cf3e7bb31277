package metrics

import (
	"encoding/json"
	"testing"
	"time"
)

func testMetrics() *Metrics {
	return New([]string{"PERSON", "EMAIL"}, []string{"regex", "model"})
}

func TestMetrics_Counters(t *testing.T) {
	m := testMetrics()

	m.MaskRuns.Add(2)
	m.SpansDetected.Add(10)
	m.SpansDropped.Add(1)
	m.SpansMasked.Add(7)
	m.TokensMinted.Add(5)
	m.TokensReused.Add(2)
	m.DemaskRuns.Add(1)
	m.DemaskResolved.Add(4)
	m.DemaskUnresolvedExpired.Add(1)

	snap := m.Snapshot()
	if snap.Runs.Mask != 2 || snap.Runs.Demask != 1 {
		t.Errorf("runs = %+v", snap.Runs)
	}
	if snap.Spans.Detected != 10 || snap.Spans.Dropped != 1 || snap.Spans.Masked != 7 {
		t.Errorf("spans = %+v", snap.Spans)
	}
	if snap.Tokens.Minted != 5 || snap.Tokens.Reused != 2 {
		t.Errorf("tokens = %+v", snap.Tokens)
	}
	if snap.Demask.Resolved != 4 || snap.Demask.UnresolvedExpired != 1 {
		t.Errorf("demask = %+v", snap.Demask)
	}
}

func TestMetrics_PerCategory(t *testing.T) {
	m := testMetrics()

	m.RecordCategorySpan("PERSON")
	m.RecordCategorySpan("PERSON")
	m.RecordCategorySpan("UNKNOWN") // silently ignored

	snap := m.Snapshot()
	if snap.Spans.ByCategory["PERSON"] != 2 {
		t.Errorf("PERSON = %d, want 2", snap.Spans.ByCategory["PERSON"])
	}
	if _, ok := snap.Spans.ByCategory["EMAIL"]; ok {
		t.Error("zero-count categories must not appear in the snapshot")
	}
	if _, ok := snap.Spans.ByCategory["UNKNOWN"]; ok {
		t.Error("unknown categories must be ignored")
	}
}

func TestMetrics_DetectorFailures(t *testing.T) {
	m := testMetrics()
	m.RecordDetectorFailure("model")
	m.RecordDetectorFailure("model")
	m.RecordDetectorFailure("nonexistent")

	snap := m.Snapshot()
	if snap.DetectorFailures["model"] != 2 {
		t.Errorf("model failures = %d, want 2", snap.DetectorFailures["model"])
	}
	if _, ok := snap.DetectorFailures["regex"]; ok {
		t.Error("zero-count detectors must not appear")
	}
}

func TestMetrics_Latency(t *testing.T) {
	m := testMetrics()
	m.RecordMaskLatency(2 * time.Millisecond)
	m.RecordMaskLatency(4 * time.Millisecond)
	m.RecordMaskLatency(6 * time.Millisecond)

	snap := m.Snapshot()
	lat := snap.Latency.MaskMs
	if lat.Count != 3 {
		t.Fatalf("count = %d, want 3", lat.Count)
	}
	if lat.MinMs != 2 || lat.MaxMs != 6 || lat.MeanMs != 4 {
		t.Errorf("latency = %+v, want min 2 mean 4 max 6", lat)
	}
	if snap.Latency.DemaskMs.Count != 0 {
		t.Error("demask latency should be empty")
	}
}

func TestMetrics_SnapshotJSON(t *testing.T) {
	m := testMetrics()
	m.MaskRuns.Add(1)
	m.RecordCategorySpan("EMAIL")

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"runs", "spans", "tokens", "demask", "sessions", "latency", "uptimeSecs"} {
		if _, ok := round[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
}

func TestMetrics_UptimeAdvances(t *testing.T) {
	m := testMetrics()
	if m.Snapshot().UptimeSecs < 0 {
		t.Error("uptime must not be negative")
	}
}
