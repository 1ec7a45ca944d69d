package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// recoverFraction is the hysteresis band: ticks must come in below this
// fraction of the threshold before detail is restored.
const recoverFraction = 0.8

// defaultRecoverRun is how many consecutive comfortable ticks are required
// before restoring full detail.
const defaultRecoverRun = 100

// Throttle watches tick durations and drops the recorder's effective level
// from Detailed to Standard while ticks run over the threshold, so the audit
// system cannot become the performance problem it exists to catch. Detail is
// restored only after a run of ticks comfortably below the threshold.
type Throttle struct {
	mu         sync.Mutex
	recorder   *Recorder
	threshold  time.Duration
	recoverRun int
	degraded   bool
	okStreak   int
	logger     *zap.Logger
}

// NewThrottle creates a Throttle controlling recorder.
//
// Precondition: recorder and logger must be non-nil; threshold > 0.
func NewThrottle(recorder *Recorder, threshold time.Duration, logger *zap.Logger) *Throttle {
	return &Throttle{
		recorder:   recorder,
		threshold:  threshold,
		recoverRun: defaultRecoverRun,
		logger:     logger,
	}
}

// Degraded reports whether detail is currently reduced.
func (t *Throttle) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// Observe feeds one tick duration. Wire to Scheduler.ObserveTicks.
func (t *Throttle) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d > t.threshold {
		t.okStreak = 0
		if !t.degraded {
			t.degraded = true
			t.recorder.setEffectiveLevel(LevelStandard)
			t.logger.Warn("audit detail throttled",
				zap.Duration("tick", d),
				zap.Duration("threshold", t.threshold),
			)
		}
		return
	}

	if !t.degraded {
		return
	}
	if float64(d) < float64(t.threshold)*recoverFraction {
		t.okStreak++
		if t.okStreak >= t.recoverRun {
			t.degraded = false
			t.okStreak = 0
			t.recorder.setEffectiveLevel(t.recorder.cfg.Level)
			t.logger.Info("audit detail restored")
		}
	} else {
		t.okStreak = 0
	}
}
