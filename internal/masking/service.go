// Package masking wires the full pipeline: detectors -> combiner -> masker
// on the way in, token scan -> session lookup on the way out. It is the only
// package the HTTP layer talks to.
package masking

import (
	"fmt"
	"time"

	"piimask/internal/combiner"
	"piimask/internal/demask"
	"piimask/internal/detector"
	"piimask/internal/logger"
	"piimask/internal/masker"
	"piimask/internal/metrics"
	"piimask/internal/session"
	"piimask/internal/span"
)

// Service runs masking and demasking passes against the session store.
// Detectors run in registration order; a failing detector contributes no
// spans but never aborts the pass.
type Service struct {
	detectors []detector.Detector
	store     *session.Store
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// New creates the pipeline service. detectors are consulted in the given
// order on every masking pass.
func New(detectors []detector.Detector, store *session.Store, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{detectors: detectors, store: store, metrics: m, log: log}
}

// MaskResult is the outcome of one masking pass. SessionID names the session
// the tokens were minted in; when Mask created the session itself this is the
// only place the caller learns the id.
type MaskResult struct {
	SessionID       string       `json:"sessionId"`
	Text            string       `json:"text"`
	Stats           masker.Stats `json:"stats"`
	SpansDetected   int          `json:"spansDetected"`
	SpansDropped    int          `json:"spansDropped"`
	FailedDetectors []string     `json:"failedDetectors,omitempty"`
}

// DemaskResult is the outcome of one demasking pass.
type DemaskResult struct {
	Text  string       `json:"text"`
	Stats demask.Stats `json:"stats"`
}

// Mask runs the full pipeline for one text against one session. An empty
// sessionID creates a fresh session with the store's default TTL; the result
// carries the id either way so the caller can demask later.
// Session errors (unknown, expired) surface to the caller; detector errors
// are contained and reported in the result.
func (s *Service) Mask(text, sessionID string) (MaskResult, error) {
	start := time.Now()

	if sessionID == "" {
		info := s.store.Create(0)
		sessionID = info.ID
		s.metrics.SessionsCreated.Add(1)
		s.log.Infof("mask", "created session %s ttl=%s", info.ID, info.TTL)
	} else if err := s.store.Touch(sessionID); err != nil {
		// Fail fast before running detectors on a dead session.
		return MaskResult{}, err
	}

	var candidates []span.Span
	var failed []string
	for _, d := range s.detectors {
		spans, err := s.runDetector(d, text)
		if err != nil {
			s.log.Errorf("detect", "detector %s: %v", d.Name(), err)
			s.metrics.RecordDetectorFailure(d.Name())
			failed = append(failed, d.Name())
			continue
		}
		candidates = append(candidates, spans...)
	}

	resolved, dropped := combiner.Resolve(candidates, len(text))

	out, stats, err := masker.Mask(text, resolved, boundResolver{store: s.store, id: sessionID})
	if err != nil {
		return MaskResult{}, err
	}
	s.store.Save()

	s.metrics.MaskRuns.Add(1)
	s.metrics.SpansDetected.Add(int64(len(candidates)))
	s.metrics.SpansDropped.Add(int64(dropped))
	s.metrics.SpansMasked.Add(int64(stats.Replacements))
	s.metrics.TokensMinted.Add(int64(stats.Minted))
	s.metrics.TokensReused.Add(int64(stats.Reused))
	for _, sp := range resolved {
		s.metrics.RecordCategorySpan(sp.Category)
	}
	s.metrics.RecordMaskLatency(time.Since(start))

	s.log.Debugf("mask", "session=%s detected=%d dropped=%d replaced=%d minted=%d",
		sessionID, len(candidates), dropped, stats.Replacements, stats.Minted)

	return MaskResult{
		SessionID:       sessionID,
		Text:            out,
		Stats:           stats,
		SpansDetected:   len(candidates),
		SpansDropped:    dropped,
		FailedDetectors: failed,
	}, nil
}

// Demask restores original values for every known token in text. sessions
// are consulted in the given order; demasking itself cannot fail, tokens no
// session can answer stay verbatim.
func (s *Service) Demask(text string, sessions []string) DemaskResult {
	start := time.Now()

	out, stats := demask.Demask(text, sessions, s.store)

	s.metrics.DemaskRuns.Add(1)
	s.metrics.DemaskResolved.Add(int64(stats.Resolved))
	s.metrics.DemaskUnresolvedExpired.Add(int64(stats.UnresolvedExpired))
	s.metrics.DemaskUnresolvedUnknown.Add(int64(stats.UnresolvedUnknown))
	s.metrics.RecordDemaskLatency(time.Since(start))

	s.log.Debugf("demask", "sessions=%d resolved=%d expired=%d unknown=%d",
		len(sessions), stats.Resolved, stats.UnresolvedExpired, stats.UnresolvedUnknown)

	return DemaskResult{Text: out, Stats: stats}
}

// runDetector invokes one detector with panic isolation. A panicking
// detector is treated exactly like one returning an error.
func (s *Service) runDetector(d detector.Detector, text string) (spans []span.Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			spans = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(text)
}

// boundResolver adapts the store to the masker's per-session interface.
type boundResolver struct {
	store *session.Store
	id    string
}

func (b boundResolver) ResolveToken(category, value string) (string, bool, error) {
	return b.store.ResolveToken(b.id, category, value)
}
