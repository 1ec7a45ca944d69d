package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stormglade/swingtimer/internal/game/actor"
	"github.com/stormglade/swingtimer/internal/game/timing"
)

// ring is a bounded FIFO of entries: once full, each append evicts the
// oldest. evictions counts entries dropped that way, letting a flusher tell
// which of its snapshotted entries are already gone.
//
// Invariant: len(items) never exceeds cap.
type ring struct {
	items     []Entry
	cap       int
	evictions uint64
}

func newRing(capacity int) *ring {
	return &ring{cap: capacity}
}

func (r *ring) append(e Entry) {
	if r.cap <= 0 {
		return
	}
	if len(r.items) >= r.cap {
		drop := len(r.items) - r.cap + 1
		r.items = r.items[drop:]
		r.evictions += uint64(drop)
	}
	r.items = append(r.items, e)
}

func (r *ring) snapshot() []Entry {
	out := make([]Entry, len(r.items))
	copy(out, r.items)
	return out
}

// drain removes the first n entries; used after a successful flush so
// entries recorded mid-flush survive.
func (r *ring) drain(n int) {
	if n >= len(r.items) {
		r.items = r.items[:0]
		return
	}
	r.items = r.items[n:]
}

func (r *ring) len() int { return len(r.items) }

// RecorderConfig tunes a Recorder. Values are assumed already validated and
// clamped by the configuration layer.
type RecorderConfig struct {
	// Level is the configured detail level.
	Level Level
	// BufferSize caps the global entry buffer.
	BufferSize int
	// PerActorHistory caps each actor's recent-entry history. Zero disables
	// per-actor history.
	PerActorHistory int
	// PerTickCap limits how many entries may be recorded between two tick
	// observations. Zero means unlimited.
	PerTickCap int
}

// Recorder is the audit pipeline's in-memory stage: a global bounded buffer
// plus optional bounded per-actor histories. It observes the attack routine
// (timing.SwingObserver) and never lets a failure escape into gameplay.
type Recorder struct {
	mu        sync.Mutex
	buf       *ring
	perActor  map[string]*ring
	cfg       RecorderConfig
	effective Level
	tickCount int
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecorder creates an empty Recorder.
//
// Precondition: logger must be non-nil.
func NewRecorder(cfg RecorderConfig, logger *zap.Logger) *Recorder {
	return &Recorder{
		buf:       newRing(cfg.BufferSize),
		perActor:  make(map[string]*ring),
		cfg:       cfg,
		effective: cfg.Level,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source for tests.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// EffectiveLevel returns the level currently in force, which the
// auto-throttle may have reduced below the configured one.
func (r *Recorder) EffectiveLevel() Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effective
}

// setEffectiveLevel is the auto-throttle's control point.
func (r *Recorder) setEffectiveLevel(l Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l > r.cfg.Level {
		l = r.cfg.Level
	}
	r.effective = l
}

// Record appends e to the global buffer and, when enabled, to the actor's
// history. Drops silently when the effective level is off or the per-tick
// cap has been reached.
func (r *Recorder) Record(e Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("audit record failed", zap.Any("panic", rec))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.effective == LevelOff {
		return
	}
	if r.cfg.PerTickCap > 0 && r.tickCount >= r.cfg.PerTickCap {
		return
	}
	r.tickCount++

	e.Level = r.effective.String()
	if r.effective < LevelDetailed {
		e.Detail = nil
	}
	r.buf.append(e)

	if r.cfg.PerActorHistory > 0 && e.ActorID != "" {
		h, ok := r.perActor[e.ActorID]
		if !ok {
			h = newRing(r.cfg.PerActorHistory)
			r.perActor[e.ActorID] = h
		}
		h.append(e)
	}
}

// ObserveSwing implements timing.SwingObserver: one entry per scheduled
// swing, carrying the computed interval as the expected delay.
func (r *Recorder) ObserveSwing(a *actor.Actor, w *timing.WeaponEntry, p timing.Provider, interval, hitOffset time.Duration) {
	r.Record(Entry{
		Timestamp:  r.now(),
		ActorID:    a.ID,
		ActorName:  a.Name,
		ActionType: "swing",
		Provider:   p.Name(),
		ExpectedMs: interval.Milliseconds(),
		WeaponID:   w.ID,
		WeaponName: w.Name,
		Quickness:  a.Quickness,
		Detail: map[string]any{
			"hit_offset_ms": hitOffset.Milliseconds(),
			"weapon_speed":  w.Speed,
		},
	})
}

// ObserveResolution implements timing.SwingObserver: one entry per resolved
// hit, with the variance between the scheduled offset and the delay that
// actually elapsed.
func (r *Recorder) ObserveResolution(a *actor.Actor, w *timing.WeaponEntry, expected, actual time.Duration) {
	r.Record(Entry{
		Timestamp:  r.now(),
		ActorID:    a.ID,
		ActorName:  a.Name,
		ActionType: "hit_resolution",
		ExpectedMs: expected.Milliseconds(),
		ActualMs:   actual.Milliseconds(),
		VarianceMs: actual.Milliseconds() - expected.Milliseconds(),
		WeaponID:   w.ID,
		WeaponName: w.Name,
		Quickness:  a.Quickness,
	})
}

// ObserveTickDuration resets the per-tick entry budget. Wired to the
// scheduler's tick observers alongside the auto-throttle.
func (r *Recorder) ObserveTickDuration(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickCount = 0
}

// Snapshot returns a read-only copy of the current unflushed buffer.
func (r *Recorder) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.snapshot()
}

// History returns a copy of actorID's recent entries. A positive window
// restricts the result to entries newer than now − window.
func (r *Recorder) History(actorID string, window time.Duration) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.perActor[actorID]
	if !ok {
		return nil
	}
	all := h.snapshot()
	if window <= 0 {
		return all
	}
	cutoff := r.now().Add(-window)
	out := all[:0]
	for _, e := range all {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// RemoveActor drops actorID's history. Wired to actor-removed notifications
// so audit state never outlives the actor.
func (r *Recorder) RemoveActor(actorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perActor, actorID)
}

// Clear empties the global buffer.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.drain(r.buf.len())
}

// Len returns the number of unflushed entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.len()
}

// snapshotForFlush returns a copy of the buffer plus the ring's eviction
// count at snapshot time.
func (r *Recorder) snapshotForFlush() ([]Entry, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.snapshot(), r.buf.evictions
}

// drainFlushed removes the flushed entries from the front of the buffer.
// Entries the ring evicted since mark are already gone, so only the remainder
// is drained; an entry recorded mid-flush is never touched.
func (r *Recorder) drainFlushed(flushed int, mark uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := flushed - int(r.buf.evictions-mark); n > 0 {
		r.buf.drain(n)
	}
}
