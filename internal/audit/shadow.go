package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stormglade/swingtimer/internal/game/actor"
	"github.com/stormglade/swingtimer/internal/game/timing"
)

// DefaultDiscrepancyThreshold flags shadow comparisons whose providers
// disagree by more than this.
const DefaultDiscrepancyThreshold = 10 * time.Millisecond

// Comparison pairs the active and reference providers' results for one
// action instance. Bounded in-memory history only; exported on demand.
type Comparison struct {
	Timestamp   time.Time `json:"timestamp"`
	ActorID     string    `json:"actor_id"`
	WeaponID    string    `json:"weapon_id"`
	WeaponName  string    `json:"weapon_name"`
	Active      string    `json:"active_provider"`
	Reference   string    `json:"reference_provider"`
	ActiveMs    int64     `json:"active_ms"`
	ReferenceMs int64     `json:"reference_ms"`
	VarianceMs  int64     `json:"variance_ms"`
	Discrepancy bool      `json:"discrepancy"`
}

// ShadowConfig tunes a Shadow comparer.
type ShadowConfig struct {
	// SampleEvery compares one in every N observed swings. 1 compares all;
	// values below 1 are treated as 1.
	SampleEvery int
	// Threshold is the absolute variance above which a comparison is flagged.
	// Zero means DefaultDiscrepancyThreshold.
	Threshold time.Duration
	// HistorySize caps the in-memory comparison history.
	HistorySize int
}

// Shadow runs a reference provider alongside the active one for a sampled
// subset of swings, recording both results purely for comparison. It
// implements timing.SwingObserver and never influences scheduling.
type Shadow struct {
	mu        sync.Mutex
	reference timing.Provider
	cfg       ShadowConfig
	history   []Comparison
	seen      uint64
	logger    *zap.Logger
	now       func() time.Time
}

// NewShadow creates a Shadow comparer against reference.
//
// Precondition: reference and logger must be non-nil.
func NewShadow(reference timing.Provider, cfg ShadowConfig, logger *zap.Logger) *Shadow {
	if cfg.SampleEvery < 1 {
		cfg.SampleEvery = 1
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDiscrepancyThreshold
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &Shadow{
		reference: reference,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Shadow) SetClock(now func() time.Time) { s.now = now }

// ObserveSwing implements timing.SwingObserver: replays the interval
// computation with the reference provider and records the variance.
func (s *Shadow) ObserveSwing(a *actor.Actor, w *timing.WeaponEntry, active timing.Provider, interval, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen++
	if s.seen%uint64(s.cfg.SampleEvery) != 0 {
		return
	}

	refInterval := s.reference.SwingInterval(a, w)
	variance := interval - refInterval
	if variance < 0 {
		variance = -variance
	}
	cmp := Comparison{
		Timestamp:   s.now(),
		ActorID:     a.ID,
		WeaponID:    w.ID,
		WeaponName:  w.Name,
		Active:      active.Name(),
		Reference:   s.reference.Name(),
		ActiveMs:    interval.Milliseconds(),
		ReferenceMs: refInterval.Milliseconds(),
		VarianceMs:  variance.Milliseconds(),
		Discrepancy: variance > s.cfg.Threshold,
	}

	if len(s.history) >= s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize+1:]
	}
	s.history = append(s.history, cmp)

	if cmp.Discrepancy {
		s.logger.Warn("shadow timing discrepancy",
			zap.String("weapon", w.ID),
			zap.Int64("active_ms", cmp.ActiveMs),
			zap.Int64("reference_ms", cmp.ReferenceMs),
			zap.Int64("variance_ms", cmp.VarianceMs),
		)
	}
}

// ObserveResolution implements timing.SwingObserver. Shadow comparison only
// concerns interval computation, so resolutions are ignored.
func (s *Shadow) ObserveResolution(_ *actor.Actor, _ *timing.WeaponEntry, _, _ time.Duration) {}

// WeaponStats is the per-weapon slice of a shadow Report.
type WeaponStats struct {
	Count         int     `json:"count"`
	Discrepancies int     `json:"discrepancies"`
	AvgVarianceMs float64 `json:"avg_variance_ms"`
}

// Report aggregates the comparison history.
type Report struct {
	Count           int                    `json:"count"`
	Discrepancies   int                    `json:"discrepancies"`
	DiscrepancyRate float64                `json:"discrepancy_rate"`
	MinVarianceMs   int64                  `json:"min_variance_ms"`
	MaxVarianceMs   int64                  `json:"max_variance_ms"`
	AvgVarianceMs   float64                `json:"avg_variance_ms"`
	PerWeapon       map[string]WeaponStats `json:"per_weapon"`
}

// BuildReport computes aggregate statistics over the current history.
func (s *Shadow) BuildReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := Report{PerWeapon: make(map[string]WeaponStats)}
	if len(s.history) == 0 {
		return rep
	}

	var total int64
	rep.MinVarianceMs = s.history[0].VarianceMs
	perWeaponTotals := make(map[string]int64)
	for _, c := range s.history {
		rep.Count++
		total += c.VarianceMs
		if c.VarianceMs < rep.MinVarianceMs {
			rep.MinVarianceMs = c.VarianceMs
		}
		if c.VarianceMs > rep.MaxVarianceMs {
			rep.MaxVarianceMs = c.VarianceMs
		}
		if c.Discrepancy {
			rep.Discrepancies++
		}
		ws := rep.PerWeapon[c.WeaponID]
		ws.Count++
		if c.Discrepancy {
			ws.Discrepancies++
		}
		rep.PerWeapon[c.WeaponID] = ws
		perWeaponTotals[c.WeaponID] += c.VarianceMs
	}
	rep.AvgVarianceMs = float64(total) / float64(rep.Count)
	rep.DiscrepancyRate = float64(rep.Discrepancies) / float64(rep.Count)
	for id, ws := range rep.PerWeapon {
		ws.AvgVarianceMs = float64(perWeaponTotals[id]) / float64(ws.Count)
		rep.PerWeapon[id] = ws
	}
	return rep
}

// Comparisons returns a copy of the current history.
func (s *Shadow) Comparisons() []Comparison {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Comparison, len(s.history))
	copy(out, s.history)
	return out
}

// Clear empties the comparison history.
func (s *Shadow) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// WriteCSV exports the comparison history as CSV.
//
// Postcondition: Writes a header row plus one row per comparison, or returns
// a non-nil error.
func (s *Shadow) WriteCSV(w io.Writer) error {
	cmps := s.Comparisons()
	cw := csv.NewWriter(w)
	header := []string{"timestamp", "actor_id", "weapon_id", "weapon_name", "active_provider", "reference_provider", "active_ms", "reference_ms", "variance_ms", "discrepancy"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, c := range cmps {
		row := []string{
			c.Timestamp.Format(time.RFC3339Nano),
			c.ActorID,
			c.WeaponID,
			c.WeaponName,
			c.Active,
			c.Reference,
			strconv.FormatInt(c.ActiveMs, 10),
			strconv.FormatInt(c.ReferenceMs, 10),
			strconv.FormatInt(c.VarianceMs, 10),
			strconv.FormatBool(c.Discrepancy),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
