// Package combiner merges candidate spans from all detectors into one
// conflict-free, ordered span list.
//
// Detectors may emit overlapping, zero-length or out-of-range spans; the
// combiner's job is to clean that up. Garbage spans are dropped silently and
// counted. Overlap conflicts are resolved by a single greedy left-to-right
// sweep: earliest start wins, longer spans beat shorter ones at the same
// start, and a strictly higher priority can evict an already-accepted span
// that claims the same region. Dictionary spans carry the highest configured
// priority, so a user-curated entry always beats an automatic detector.
//
// The result is deterministic for identical detector output and priorities:
// the sort is stable, so reordering detector invocation does not change the
// outcome, and equal-priority ties fall to detector registration order.
package combiner

import (
	"sort"

	"piimask/internal/span"
)

// Resolve filters and merges candidates into a non-overlapping span list
// sorted ascending by start. textLen is the byte length of the text the
// spans refer to. dropped is the number of candidates discarded for being
// malformed (start >= end, or offsets outside [0, textLen)).
func Resolve(candidates []span.Span, textLen int) (resolved []span.Span, dropped int) {
	sorted := make([]span.Span, 0, len(candidates))
	for _, c := range candidates {
		if !c.Valid(textLen) {
			dropped++
			continue
		}
		sorted = append(sorted, c)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		return a.Priority > b.Priority
	})

	// Greedy interval sweep. frontier is the end offset of the last accepted
	// span. Because candidates arrive sorted by start, a candidate below the
	// frontier can only overlap the most recently accepted span.
	frontier := 0
	for _, c := range sorted {
		if c.Start >= frontier {
			resolved = append(resolved, c)
			frontier = c.End
			continue
		}
		last := resolved[len(resolved)-1]
		if c.Priority > last.Priority {
			// Higher priority carves out the claimed region. The frontier
			// retreats to the new span's end, so text the evicted span
			// covered beyond it becomes claimable again.
			resolved[len(resolved)-1] = c
			frontier = c.End
		}
		// Equal or lower priority: the earlier-sorted span keeps the region.
	}
	return resolved, dropped
}
