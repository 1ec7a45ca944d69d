package timing

import (
	"sort"
	"sync"
	"time"
)

// tickWindowSize is how many recent tick durations the rolling window keeps.
const tickWindowSize = 1000

// TickStats is a rolling window of recent tick durations. All methods are
// safe for concurrent use.
type TickStats struct {
	mu      sync.Mutex
	samples [tickWindowSize]time.Duration
	next    int
	count   int
	max     time.Duration
	total   int64
}

// NewTickStats creates an empty TickStats window.
func NewTickStats() *TickStats {
	return &TickStats{}
}

// Observe records one tick duration.
func (s *TickStats) Observe(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[s.next] = d
	s.next = (s.next + 1) % tickWindowSize
	if s.count < tickWindowSize {
		s.count++
	}
	if d > s.max {
		s.max = d
	}
	s.total++
}

// Snapshot summarizes the current window.
type TickStatsSnapshot struct {
	// Ticks is the total number of ticks observed since startup.
	Ticks int64 `json:"ticks"`
	// WindowSize is the number of samples in the rolling window.
	WindowSize int `json:"window_size"`
	// Average is the mean duration over the window.
	Average time.Duration `json:"average_ns"`
	// Max is the worst duration over the window.
	Max time.Duration `json:"max_ns"`
	// AllTimeMax is the worst duration ever observed since startup.
	AllTimeMax time.Duration `json:"all_time_max_ns"`
	// P99 is the approximate 99th-percentile duration over the window.
	P99 time.Duration `json:"p99_ns"`
}

// Snapshot computes the window summary. The percentile is exact over the
// window contents, hence approximate with respect to all-time history.
func (s *TickStats) Snapshot() TickStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := TickStatsSnapshot{
		Ticks:      s.total,
		WindowSize: s.count,
		AllTimeMax: s.max,
	}
	if s.count == 0 {
		return snap
	}

	window := make([]time.Duration, s.count)
	copy(window, s.samples[:s.count])
	var sum time.Duration
	for _, d := range window {
		sum += d
		if d > snap.Max {
			snap.Max = d
		}
	}
	snap.Average = sum / time.Duration(s.count)

	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	idx := (len(window) * 99) / 100
	if idx >= len(window) {
		idx = len(window) - 1
	}
	snap.P99 = window[idx]
	return snap
}
