package timing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stormglade/swingtimer/internal/game/actor"
)

// Default scheduler tuning. All overridable through SchedulerOptions.
const (
	DefaultIdleTimeout       = 5 * time.Second
	DefaultSlowTickThreshold = 10 * time.Millisecond

	// Startup probing bounds for the timer backend.
	probeInitialBackoff = 10 * time.Millisecond
	probeMaxBackoff     = time.Second
	probeMaxAttempts    = 30
)

// ErrNotRegistered is returned when scheduling work for an untracked actor.
var ErrNotRegistered = errors.New("actor not registered with scheduler")

// ErrBackendUnavailable is returned when the timer backend never became
// ready within the startup probing bounds.
var ErrBackendUnavailable = errors.New("timer backend unavailable")

// TimerBackend is the periodic-callback subsystem the scheduler installs its
// tick into. The scheduler may be constructed before the backend exists, so
// Start probes Ready with backoff before calling Schedule.
type TimerBackend interface {
	// Ready reports whether Schedule may be called.
	Ready() bool
	// Schedule invokes fn every interval until the returned stop function is
	// called.
	Schedule(interval time.Duration, fn func()) (stop func())
}

// tickerBackend is the default TimerBackend, wrapping a time.Ticker. It is
// always ready.
type tickerBackend struct{}

func (tickerBackend) Ready() bool { return true }

func (tickerBackend) Schedule(interval time.Duration, fn func()) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
	}
}

// PendingResolution is one deferred outcome owned by its participant: the
// hit that lands after the swing animation has already played.
//
// Invariant: ResolveAt >= the scheduling time; resolutions for one actor fire
// in the order they were scheduled.
type PendingResolution struct {
	// Target is the actor the outcome applies to.
	Target *actor.Actor
	// Weapon is the action context the swing was made with.
	Weapon *WeaponEntry
	// ResolveAt is the absolute time the outcome becomes due.
	ResolveAt time.Time
	// Fire applies the outcome. Invoked by the tick loop, outside the
	// scheduler lock.
	Fire func()
}

// participant is one tracked actor's scheduler bookkeeping.
type participant struct {
	actor        *actor.Actor
	lastActivity time.Time
	nextAction   time.Time
	pending      []*PendingResolution // FIFO
}

// PulseFunc is invoked by the tick loop, in global-pulse mode, when a
// participant's next-scheduled-action time elapses. It must re-enter the
// normal action-begin path, including its validation.
type PulseFunc func(a *actor.Actor)

// SchedulerOptions tunes a Scheduler.
type SchedulerOptions struct {
	// TickInterval is the loop rate. Zero means the package TickInterval.
	TickInterval time.Duration
	// IdleTimeout evicts participants with no recent activity. Zero means
	// DefaultIdleTimeout.
	IdleTimeout time.Duration
	// SlowTickThreshold triggers a warning log per tick over it. Zero means
	// DefaultSlowTickThreshold.
	SlowTickThreshold time.Duration
	// Pulse, when non-nil, enables global-pulse mode.
	Pulse PulseFunc
	// Backend overrides the timer backend. Nil means the built-in ticker.
	Backend TimerBackend
	// Clock overrides the time source. Tests use this for determinism.
	Clock func() time.Time
}

// Scheduler owns the set of active participants and advances their deferred
// work on a fixed-rate tick. Registration, scheduling, and activity updates
// are safe to call from arbitrary goroutines; the tick itself runs on the
// backend's single periodic callback.
//
// Invariant: an actor appears at most once among participants.
type Scheduler struct {
	mu           sync.Mutex
	participants map[string]*participant

	interval  time.Duration
	idle      time.Duration
	slowTick  time.Duration
	pulse     PulseFunc
	backend   TimerBackend
	now       func() time.Time
	logger    *zap.Logger
	stats     *TickStats
	observers []func(time.Duration)

	started atomic.Bool
	stop    func()
	stopMu  sync.Mutex
}

// NewScheduler creates a stopped Scheduler.
//
// Precondition: logger must be non-nil.
func NewScheduler(logger *zap.Logger, opts SchedulerOptions) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = TickInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SlowTickThreshold <= 0 {
		opts.SlowTickThreshold = DefaultSlowTickThreshold
	}
	if opts.Backend == nil {
		opts.Backend = tickerBackend{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		participants: make(map[string]*participant),
		interval:     opts.TickInterval,
		idle:         opts.IdleTimeout,
		slowTick:     opts.SlowTickThreshold,
		pulse:        opts.Pulse,
		backend:      opts.Backend,
		now:          opts.Clock,
		logger:       logger,
		stats:        NewTickStats(),
	}
}

// Register starts tracking a as an active participant. Idempotent: a second
// registration only refreshes the activity timestamp.
//
// Precondition: a must be non-nil and valid.
func (s *Scheduler) Register(a *actor.Actor) {
	if !a.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[a.ID]; ok {
		p.lastActivity = s.now()
		return
	}
	s.participants[a.ID] = &participant{
		actor:        a,
		lastActivity: s.now(),
	}
}

// Unregister stops tracking actorID, discarding its pending resolutions.
// No-op for unknown IDs.
func (s *Scheduler) Unregister(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, actorID)
}

// Touch refreshes actorID's last-activity timestamp, deferring idle eviction.
func (s *Scheduler) Touch(actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[actorID]; ok {
		p.lastActivity = s.now()
	}
}

// Schedule appends res to actorID's pending list. Resolutions for one actor
// fire in scheduling order.
//
// Precondition: res.Fire must be non-nil; res.ResolveAt must not precede now.
// Postcondition: Returns ErrNotRegistered for untracked actors.
func (s *Scheduler) Schedule(actorID string, res *PendingResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[actorID]
	if !ok {
		return ErrNotRegistered
	}
	p.pending = append(p.pending, res)
	p.lastActivity = s.now()
	return nil
}

// SetNextAction records when actorID is due to act again, consumed by
// global-pulse mode. Kept in lockstep with the actor's timer state by the
// attack routine so the two never drift.
func (s *Scheduler) SetNextAction(actorID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[actorID]; ok {
		p.nextAction = t
	}
}

// CancelPending removes all pending resolutions actorID scheduled against
// target weapons matching match. A nil match removes everything.
func (s *Scheduler) CancelPending(actorID string, match func(*PendingResolution) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[actorID]
	if !ok {
		return
	}
	if match == nil {
		p.pending = nil
		return
	}
	kept := p.pending[:0]
	for _, res := range p.pending {
		if !match(res) {
			kept = append(kept, res)
		}
	}
	p.pending = kept
}

// IsRegistered reports whether actorID is currently tracked.
func (s *Scheduler) IsRegistered(actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[actorID]
	return ok
}

// ParticipantCount returns the number of tracked actors.
func (s *Scheduler) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// PendingCount returns the number of unresolved entries for actorID.
func (s *Scheduler) PendingCount(actorID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[actorID]; ok {
		return len(p.pending)
	}
	return 0
}

// Stats returns the tick performance window.
func (s *Scheduler) Stats() *TickStats { return s.stats }

// SetPulse enables global-pulse mode with fn as the re-entry path. Must be
// called before Start; resolves the construction cycle between the scheduler
// and the attack routine.
func (s *Scheduler) SetPulse(fn PulseFunc) { s.pulse = fn }

// ObserveTicks registers fn to receive every tick duration. Used by the
// audit auto-throttle. Must be called before Start.
func (s *Scheduler) ObserveTicks(fn func(time.Duration)) {
	s.observers = append(s.observers, fn)
}

// Start probes the timer backend with bounded backoff and installs the
// periodic tick once it is ready. Idempotent: repeated calls never install a
// second callback. Returns ErrBackendUnavailable if the backend never
// becomes ready.
//
// Postcondition: On nil error the tick fires every interval until Stop or
// ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return nil
	}

	backoff := probeInitialBackoff
	for attempt := 0; !s.backend.Ready(); attempt++ {
		if attempt >= probeMaxAttempts {
			s.started.Store(false)
			return ErrBackendUnavailable
		}
		select {
		case <-ctx.Done():
			s.started.Store(false)
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > probeMaxBackoff {
			backoff = probeMaxBackoff
		}
	}

	stop := s.backend.Schedule(s.interval, s.Advance)
	s.stopMu.Lock()
	s.stop = stop
	s.stopMu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.interval),
		zap.Duration("idle_timeout", s.idle),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the tick loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	stop := s.stop
	s.stop = nil
	s.stopMu.Unlock()
	if stop != nil {
		stop()
		s.logger.Info("scheduler stopped")
	}
}

// Advance runs one tick: drop invalid actors, fire due resolutions (FIFO per
// actor), trigger pulses, evict idle participants, and record performance.
// Normally invoked by the timer backend; tests call it directly.
func (s *Scheduler) Advance() {
	start := s.now()

	s.mu.Lock()
	snapshot := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		snapshot = append(snapshot, p)
	}
	s.mu.Unlock()

	var removals []string
	for _, p := range snapshot {
		if !p.actor.Valid() {
			removals = append(removals, p.actor.ID)
			continue
		}

		s.mu.Lock()
		var due []*PendingResolution
		for len(p.pending) > 0 && !start.Before(p.pending[0].ResolveAt) {
			due = append(due, p.pending[0])
			p.pending = p.pending[1:]
		}
		var firePulse bool
		if s.pulse != nil && !p.nextAction.IsZero() && !start.Before(p.nextAction) {
			p.nextAction = time.Time{}
			firePulse = true
		}
		s.mu.Unlock()

		for _, res := range due {
			s.runResolution(p.actor.ID, res)
		}
		if firePulse {
			s.runPulse(p.actor)
		}
	}

	// Apply removals and idle eviction after iteration, never mid-loop.
	s.mu.Lock()
	for _, id := range removals {
		delete(s.participants, id)
	}
	for id, p := range s.participants {
		if start.Sub(p.lastActivity) > s.idle {
			delete(s.participants, id)
		}
	}
	s.mu.Unlock()

	elapsed := s.now().Sub(start)
	s.stats.Observe(elapsed)
	for _, fn := range s.observers {
		fn(elapsed)
	}
	if elapsed > s.slowTick {
		s.logger.Warn("slow tick",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", s.slowTick),
			zap.Int("participants", len(snapshot)),
		)
	}
}

// runResolution fires one due resolution, recovering any panic so a broken
// entry cannot abort the rest of the tick.
func (s *Scheduler) runResolution(actorID string, res *PendingResolution) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pending resolution panicked",
				zap.String("actor_id", actorID),
				zap.Any("panic", r),
			)
		}
	}()
	if res.Fire != nil {
		res.Fire()
	}
}

// runPulse triggers one participant's next action, recovering any panic.
func (s *Scheduler) runPulse(a *actor.Actor) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pulse panicked",
				zap.String("actor_id", a.ID),
				zap.Any("panic", r),
			)
		}
	}()
	s.pulse(a)
}
