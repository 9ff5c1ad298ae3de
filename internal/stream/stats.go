package stream

import (
	"sync"
	"time"
)

// maxErrors caps the rolling error history per stream.
const maxErrors = 50

// ErrorEntry is one recorded stream error.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Stats tracks delivery counters and a rolling error history for one
// stream. Counters are monotonic for the lifetime of the engine.
//
// Thread Safety: all methods are safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	eventsSent     uint64
	historicalSent uint64
	realtimeSent   uint64
	eventsFailed   uint64

	startedAt   time.Time
	lastEventAt time.Time

	errors []ErrorEntry
}

// StatsSnapshot is a point-in-time copy of stream statistics.
type StatsSnapshot struct {
	EventsSent     uint64       `json:"events_sent"`
	HistoricalSent uint64       `json:"historical_sent"`
	RealtimeSent   uint64       `json:"realtime_sent"`
	EventsFailed   uint64       `json:"events_failed"`
	StartedAt      time.Time    `json:"started_at"`
	LastEventAt    *time.Time   `json:"last_event_at,omitempty"`
	Errors         []ErrorEntry `json:"errors"`
}

// newStats creates a Stats stamped with the current time.
func newStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

// RecordSent counts one delivered event of the given type.
func (s *Stats) RecordSent(kind EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventsSent++
	switch kind {
	case EventHistorical:
		s.historicalSent++
	case EventRealtime:
		s.realtimeSent++
	}
	s.lastEventAt = time.Now().UTC()
}

// RecordFailed counts one event that exhausted its delivery attempts.
func (s *Stats) RecordFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsFailed++
}

// RecordError appends to the rolling error history, evicting the oldest
// entry once the cap is reached.
func (s *Stats) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors = append(s.errors, ErrorEntry{Time: time.Now().UTC(), Message: msg})
	if len(s.errors) > maxErrors {
		s.errors = s.errors[len(s.errors)-maxErrors:]
	}
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		EventsSent:     s.eventsSent,
		HistoricalSent: s.historicalSent,
		RealtimeSent:   s.realtimeSent,
		EventsFailed:   s.eventsFailed,
		StartedAt:      s.startedAt,
		Errors:         make([]ErrorEntry, len(s.errors)),
	}
	copy(snap.Errors, s.errors)
	if !s.lastEventAt.IsZero() {
		t := s.lastEventAt
		snap.LastEventAt = &t
	}
	return snap
}
