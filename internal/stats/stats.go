// Package stats tracks relay-wide counters for logging and diagnostics.
package stats

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// RelayStats manages application-wide statistics
type RelayStats struct {
	StartTime       time.Time
	EventsReceived  uint64
	EventsForwarded uint64
	SinkErrors      uint64
	LastEvent       atomic.Pointer[time.Time]
}

// NewRelayStats creates a new stats tracker
func NewRelayStats() *RelayStats {
	return &RelayStats{
		StartTime: time.Now(),
	}
}

// RecordEvent counts one decoded event arriving from the stream.
func (s *RelayStats) RecordEvent() {
	atomic.AddUint64(&s.EventsReceived, 1)
	now := time.Now()
	s.LastEvent.Store(&now)
}

// RecordForwarded counts one event successfully handed to a sink.
func (s *RelayStats) RecordForwarded() {
	atomic.AddUint64(&s.EventsForwarded, 1)
}

// RecordSinkError counts one failed sink publish.
func (s *RelayStats) RecordSinkError() {
	atomic.AddUint64(&s.SinkErrors, 1)
}

// GetStats returns current statistics
func (s *RelayStats) GetStats() map[string]interface{} {
	uptime := time.Since(s.StartTime)
	stats := map[string]interface{}{
		"uptime":           uptime.String(),
		"events_received":  atomic.LoadUint64(&s.EventsReceived),
		"events_forwarded": atomic.LoadUint64(&s.EventsForwarded),
		"sink_errors":      atomic.LoadUint64(&s.SinkErrors),
	}
	if last := s.LastEvent.Load(); last != nil {
		stats["last_event"] = *last
	}
	return stats
}

// GetStatsJSON returns stats as JSON
func (s *RelayStats) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate calculates the event throughput per second since start
func (s *RelayStats) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.EventsReceived)) / uptime
}
