package timing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stormglade/swingtimer/internal/game/timing"
)

// TestTickStats_Empty verifies the zero-sample snapshot.
func TestTickStats_Empty(t *testing.T) {
	snap := timing.NewTickStats().Snapshot()
	assert.Zero(t, snap.Ticks)
	assert.Zero(t, snap.WindowSize)
	assert.Zero(t, snap.Average)
	assert.Zero(t, snap.Max)
	assert.Zero(t, snap.AllTimeMax)
	assert.Zero(t, snap.P99)
}

// TestTickStats_Summary verifies average, max, and p99 over a small window.
func TestTickStats_Summary(t *testing.T) {
	stats := timing.NewTickStats()
	for i := 1; i <= 100; i++ {
		stats.Observe(time.Duration(i) * time.Millisecond)
	}

	snap := stats.Snapshot()
	assert.Equal(t, int64(100), snap.Ticks)
	assert.Equal(t, 100, snap.WindowSize)
	assert.Equal(t, 100*time.Millisecond, snap.Max)
	assert.Equal(t, 100*time.Millisecond, snap.AllTimeMax)
	// Mean of 1..100 ms is 50.5ms.
	assert.Equal(t, 50500*time.Microsecond, snap.Average)
	assert.Equal(t, 100*time.Millisecond, snap.P99)
}

// TestTickStats_WindowRolls verifies the windowed figures forget samples that
// rolled out while the all-time tick count and max keep growing.
func TestTickStats_WindowRolls(t *testing.T) {
	stats := timing.NewTickStats()
	stats.Observe(time.Second) // all-time max, soon rolled out of the window
	for i := 0; i < 1500; i++ {
		stats.Observe(time.Millisecond)
	}

	snap := stats.Snapshot()
	assert.Equal(t, int64(1501), snap.Ticks)
	assert.Equal(t, 1000, snap.WindowSize)
	assert.Equal(t, time.Millisecond, snap.Max, "the rolled-out spike must leave the windowed max")
	assert.Equal(t, time.Second, snap.AllTimeMax, "the all-time max keeps the spike")
	assert.Equal(t, time.Millisecond, snap.Average, "the window holds only 1ms samples")
	assert.Equal(t, time.Millisecond, snap.P99)
}
