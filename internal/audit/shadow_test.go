package audit_test

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stormglade/swingtimer/internal/audit"
	"github.com/stormglade/swingtimer/internal/game/actor"
	"github.com/stormglade/swingtimer/internal/game/timing"
)

// fixedProvider returns one constant interval, for controllable variance.
type fixedProvider struct {
	name     string
	interval time.Duration
}

func (p fixedProvider) Name() string { return p.name }
func (p fixedProvider) SwingInterval(_ *actor.Actor, _ *timing.WeaponEntry) time.Duration {
	return p.interval
}
func (p fixedProvider) HitOffset(_ *timing.WeaponEntry) time.Duration         { return 0 }
func (p fixedProvider) AnimationDuration(_ *timing.WeaponEntry) time.Duration { return 0 }

func observe(s *audit.Shadow, weaponID string, activeMs int64) {
	a := actor.New("Brynn", actor.KindPlayer, 100)
	w := &timing.WeaponEntry{ID: weaponID, Name: weaponID}
	s.ObserveSwing(a, w, fixedProvider{name: "statcurve"}, time.Duration(activeMs)*time.Millisecond, 0)
}

// TestShadow_VarianceAndDiscrepancy verifies absolute variance and that the
// discrepancy flag trips strictly above the threshold.
func TestShadow_VarianceAndDiscrepancy(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy", interval: 2000 * time.Millisecond},
		audit.ShadowConfig{Threshold: 10 * time.Millisecond}, zaptest.NewLogger(t))

	observe(s, "sword", 2000) // identical
	observe(s, "sword", 2010) // exactly at threshold, not flagged
	observe(s, "sword", 2011) // over threshold, flagged
	observe(s, "sword", 1985) // below reference, absolute variance 15

	cmps := s.Comparisons()
	require.Len(t, cmps, 4)
	assert.Equal(t, int64(0), cmps[0].VarianceMs)
	assert.False(t, cmps[0].Discrepancy)
	assert.Equal(t, int64(10), cmps[1].VarianceMs)
	assert.False(t, cmps[1].Discrepancy, "variance equal to the threshold is not flagged")
	assert.Equal(t, int64(11), cmps[2].VarianceMs)
	assert.True(t, cmps[2].Discrepancy)
	assert.Equal(t, int64(15), cmps[3].VarianceMs, "variance must be absolute")
	assert.True(t, cmps[3].Discrepancy)
}

// TestShadow_Sampling verifies only every Nth swing is compared.
func TestShadow_Sampling(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy", interval: 2000 * time.Millisecond},
		audit.ShadowConfig{SampleEvery: 5}, zaptest.NewLogger(t))

	for i := 0; i < 20; i++ {
		observe(s, "sword", 2000)
	}
	assert.Len(t, s.Comparisons(), 4, "20 swings at 1-in-5 sampling yield 4 comparisons")
}

// TestShadow_BoundedHistory verifies the comparison history never exceeds its
// cap and keeps the newest entries.
func TestShadow_BoundedHistory(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy", interval: 2000 * time.Millisecond},
		audit.ShadowConfig{HistorySize: 10}, zaptest.NewLogger(t))

	for i := 0; i < 25; i++ {
		observe(s, "sword", 2000+int64(i))
	}
	cmps := s.Comparisons()
	require.Len(t, cmps, 10)
	assert.Equal(t, int64(2024), cmps[9].ActiveMs, "the newest comparison must be kept")
}

// TestShadow_BuildReport verifies the aggregate statistics including the
// per-weapon breakdown.
func TestShadow_BuildReport(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy", interval: 2000 * time.Millisecond},
		audit.ShadowConfig{Threshold: 10 * time.Millisecond}, zaptest.NewLogger(t))

	observe(s, "sword", 2000)  // variance 0
	observe(s, "sword", 2020)  // variance 20, flagged
	observe(s, "dagger", 2010) // variance 10

	rep := s.BuildReport()
	assert.Equal(t, 3, rep.Count)
	assert.Equal(t, 1, rep.Discrepancies)
	assert.InDelta(t, 1.0/3.0, rep.DiscrepancyRate, 1e-9)
	assert.Equal(t, int64(0), rep.MinVarianceMs)
	assert.Equal(t, int64(20), rep.MaxVarianceMs)
	assert.InDelta(t, 10.0, rep.AvgVarianceMs, 1e-9)

	sword := rep.PerWeapon["sword"]
	assert.Equal(t, 2, sword.Count)
	assert.Equal(t, 1, sword.Discrepancies)
	assert.InDelta(t, 10.0, sword.AvgVarianceMs, 1e-9)
	dagger := rep.PerWeapon["dagger"]
	assert.Equal(t, 1, dagger.Count)
	assert.Zero(t, dagger.Discrepancies)
}

// TestShadow_EmptyReport verifies the zero-history report shape.
func TestShadow_EmptyReport(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy"}, audit.ShadowConfig{}, zaptest.NewLogger(t))
	rep := s.BuildReport()
	assert.Zero(t, rep.Count)
	assert.NotNil(t, rep.PerWeapon)
}

// TestShadow_WriteCSV verifies the export format: header plus one row per
// comparison.
func TestShadow_WriteCSV(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy", interval: 2000 * time.Millisecond},
		audit.ShadowConfig{}, zaptest.NewLogger(t))
	observe(s, "sword", 2020)

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "timestamp", rows[0][0])
	assert.Equal(t, "variance_ms", rows[0][8])
	assert.Equal(t, "sword", rows[1][2])
	assert.Equal(t, "2020", rows[1][6])
	assert.Equal(t, "2000", rows[1][7])
	assert.Equal(t, "20", rows[1][8])
	assert.Equal(t, "true", rows[1][9])
}

// TestShadow_Clear verifies the history empties.
func TestShadow_Clear(t *testing.T) {
	s := audit.NewShadow(fixedProvider{name: "legacy", interval: 2000 * time.Millisecond},
		audit.ShadowConfig{}, zaptest.NewLogger(t))
	observe(s, "sword", 2000)
	s.Clear()
	assert.Empty(t, s.Comparisons())
}
