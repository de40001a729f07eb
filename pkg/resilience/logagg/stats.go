package logagg

import (
	"sort"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

const (
	recentRingSize  = 50
	topFingerprints = 20
)

// FingerprintCount is one row of the most-frequent-fingerprint table.
type FingerprintCount struct {
	Fingerprint string
	Message     string
	Count       int64
	LastSeen    time.Time
}

// Stats is a snapshot of aggregator counters.
type Stats struct {
	// Total counts every non-suppressed log call.
	Total int64

	// Suppressed counts occurrences dropped by duplicate suppression.
	Suppressed int64

	// Dropped counts buffered entries evicted when the buffer
	// exceeded its capacity, oldest first.
	Dropped int64

	ByType     map[classify.Type]int64
	BySeverity map[classify.Severity]int64

	// Recent holds the newest non-suppressed entries, newest first.
	Recent []*Entry

	// TopFingerprints lists the most frequent fingerprints, highest
	// count first, capped at twenty rows.
	TopFingerprints []FingerprintCount
}

// stats is the internal accumulator; the aggregator's lock guards it.
type stats struct {
	total      int64
	suppressed int64
	dropped    int64
	byType     map[classify.Type]int64
	bySeverity map[classify.Severity]int64
	recent     []*Entry
	counts     map[string]*FingerprintCount
}

func newStats() *stats {
	return &stats{
		byType:     make(map[classify.Type]int64),
		bySeverity: make(map[classify.Severity]int64),
		counts:     make(map[string]*FingerprintCount),
	}
}

func (s *stats) record(e *Entry) {
	s.total++
	s.byType[e.Type]++
	s.bySeverity[e.Severity]++

	s.recent = append(s.recent, e)
	if len(s.recent) > recentRingSize {
		s.recent = s.recent[len(s.recent)-recentRingSize:]
	}

	fc, ok := s.counts[e.Fingerprint]
	if !ok {
		fc = &FingerprintCount{Fingerprint: e.Fingerprint, Message: e.Message}
		s.counts[e.Fingerprint] = fc
	}
	fc.Count++
	fc.LastSeen = e.Timestamp
}

func (s *stats) snapshot() Stats {
	snap := Stats{
		Total:      s.total,
		Suppressed: s.suppressed,
		Dropped:    s.dropped,
		ByType:     make(map[classify.Type]int64, len(s.byType)),
		BySeverity: make(map[classify.Severity]int64, len(s.bySeverity)),
		Recent:     make([]*Entry, 0, len(s.recent)),
	}
	for k, v := range s.byType {
		snap.ByType[k] = v
	}
	for k, v := range s.bySeverity {
		snap.BySeverity[k] = v
	}
	for i := len(s.recent) - 1; i >= 0; i-- {
		snap.Recent = append(snap.Recent, s.recent[i])
	}

	rows := make([]FingerprintCount, 0, len(s.counts))
	for _, fc := range s.counts {
		rows = append(rows, *fc)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Fingerprint < rows[j].Fingerprint
	})
	if len(rows) > topFingerprints {
		rows = rows[:topFingerprints]
	}
	snap.TopFingerprints = rows
	return snap
}
