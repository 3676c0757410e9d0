// Package mock holds test doubles for the stats, logging and query backend
// interfaces.
package mock

import (
	"sync"
	"time"
)

// RecordingStatter counts by name. It is safe for concurrent use.
type RecordingStatter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewRecordingStatter returns an empty RecordingStatter.
func NewRecordingStatter() *RecordingStatter {
	return &RecordingStatter{counts: make(map[string]int64)}
}

// Count implements Count.
func (r *RecordingStatter) Count(name string, value int64, rate float64, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	r.counts[name] += value
}

// Counter returns the total counted under name.
func (r *RecordingStatter) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// Counts returns a copy of every counter.
func (r *RecordingStatter) Counts() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		c[k] = v
	}
	return c
}

// Gauge implements Gauge.
func (r *RecordingStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram implements Histogram.
func (r *RecordingStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set implements Set.
func (r *RecordingStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing implements Timing.
func (r *RecordingStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}
