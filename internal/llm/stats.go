package llm

import (
	"sync"
	"time"
)

// CallStats accumulates call counts and latency for the run report. Safe for
// concurrent use by worker pools.
type CallStats struct {
	mu      sync.Mutex
	count   int
	failed  int
	total   time.Duration
	min     time.Duration
	max     time.Duration
	slowest []SlowCall
}

// SlowCall records one of the slowest operations by wall clock.
type SlowCall struct {
	Label    string        `json:"label"`
	Duration time.Duration `json:"duration"`
}

// slowestKept bounds the slow-call list; the report shows the top 5.
const slowestKept = 5

// Record adds one call observation.
func (s *CallStats) Record(label string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if err != nil {
		s.failed++
	}
	s.total += d
	if s.min == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.slowest = append(s.slowest, SlowCall{Label: label, Duration: d})
	// Keep only the slowest few, smallest dropped first.
	if len(s.slowest) > slowestKept {
		minIdx := 0
		for i, c := range s.slowest {
			if c.Duration < s.slowest[minIdx].Duration {
				minIdx = i
			}
		}
		s.slowest = append(s.slowest[:minIdx], s.slowest[minIdx+1:]...)
	}
}

// Snapshot is a point-in-time copy of the accumulated stats.
type Snapshot struct {
	Count   int           `json:"count"`
	Failed  int           `json:"failed"`
	Total   time.Duration `json:"total"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Avg     time.Duration `json:"avg"`
	Slowest []SlowCall    `json:"slowest"`
}

// Snapshot returns a copy of the stats for reporting.
func (s *CallStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Count:   s.count,
		Failed:  s.failed,
		Total:   s.total,
		Min:     s.min,
		Max:     s.max,
		Slowest: append([]SlowCall(nil), s.slowest...),
	}
	if s.count > 0 {
		snap.Avg = s.total / time.Duration(s.count)
	}
	return snap
}
