package timing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/stormglade/swingtimer/internal/game/actor"
)

// ErrInvalidParty is returned when an attacker or defender is nil or no
// longer in the world.
var ErrInvalidParty = errors.New("attacker or defender is invalid")

// ErrNotEligible is returned when the attacker's swing timer has not elapsed
// or a busy category blocks attacking.
var ErrNotEligible = errors.New("attacker is not eligible to swing")

// HitResolver is the outbound collaborator that decides and applies the
// actual hit or miss outcome. Combat math lives entirely behind it.
type HitResolver interface {
	ResolveHit(ctx context.Context, attacker, defender *actor.Actor, w *WeaponEntry) error
}

// Hooks receives action begin/end notifications for external bookkeeping
// (animation playback, UI feedback, cross-cutting cancellation rules).
// SwingStarted fires synchronously before any delay is applied, so the
// visible effect never lags the input.
type Hooks interface {
	SwingStarted(attacker, defender *actor.Actor, w *WeaponEntry)
	SwingResolved(attacker, defender *actor.Actor, w *WeaponEntry)
	SwingCancelled(attacker *actor.Actor, reason CancelReason)
}

// NopHooks is the no-op Hooks implementation.
type NopHooks struct{}

func (NopHooks) SwingStarted(_, _ *actor.Actor, _ *WeaponEntry)  {}
func (NopHooks) SwingResolved(_, _ *actor.Actor, _ *WeaponEntry) {}
func (NopHooks) SwingCancelled(_ *actor.Actor, _ CancelReason)   {}

// SwingObserver receives pure side observations of swing scheduling and
// resolution, for auditing and shadow comparison. Observers must never
// influence the scheduled timing; any panic they raise is recovered and
// logged.
type SwingObserver interface {
	// ObserveSwing fires when a swing is scheduled.
	ObserveSwing(a *actor.Actor, w *WeaponEntry, p Provider, interval, hitOffset time.Duration)
	// ObserveResolution fires when the deferred hit resolves. expected is the
	// scheduled hit offset; actual is the delay that really elapsed.
	ObserveResolution(a *actor.Actor, w *WeaponEntry, expected, actual time.Duration)
}

// Routine orchestrates one attack from input to deferred resolution: it
// bridges "now" (the animation) and "later" (the hit application) without
// letting the two views of the actor's timing drift apart.
type Routine struct {
	scheduler *Scheduler
	states    *StateTable
	provider  *ProviderRef
	resolver  HitResolver
	hooks     Hooks
	observers []SwingObserver
	logger    *zap.Logger
	now       func() time.Time
}

// RoutineOption customizes a Routine.
type RoutineOption func(*Routine)

// WithHooks installs the notification hooks.
func WithHooks(h Hooks) RoutineOption {
	return func(r *Routine) { r.hooks = h }
}

// WithObservers registers audit/shadow observers.
func WithObservers(obs ...SwingObserver) RoutineOption {
	return func(r *Routine) { r.observers = append(r.observers, obs...) }
}

// WithRoutineClock overrides the time source for tests.
func WithRoutineClock(now func() time.Time) RoutineOption {
	return func(r *Routine) { r.now = now }
}

// NewRoutine creates an attack Routine.
//
// Precondition: all of scheduler, states, provider, resolver, and logger must
// be non-nil.
func NewRoutine(scheduler *Scheduler, states *StateTable, provider *ProviderRef, resolver HitResolver, logger *zap.Logger, opts ...RoutineOption) *Routine {
	r := &Routine{
		scheduler: scheduler,
		states:    states,
		provider:  provider,
		resolver:  resolver,
		hooks:     NopHooks{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecuteAttack starts one swing: plays the animation immediately, schedules
// the hit at now + offset, and stamps the attacker's next-eligible time at
// now + interval. The timer state and the scheduler's next-action bookkeeping
// are updated together so they cannot drift into double-scheduling.
//
// Postcondition: On nil error, exactly one PendingResolution was scheduled
// and the attacker cannot swing again before the computed interval elapses.
func (r *Routine) ExecuteAttack(attacker, defender *actor.Actor, w *WeaponEntry) error {
	if !attacker.Valid() || !defender.Valid() {
		return ErrInvalidParty
	}
	if w == nil {
		w = GlobalDefault()
	}

	state := r.states.Get(attacker.ID)
	if !state.CanPerform(CategoryAttack) {
		return ErrNotEligible
	}

	r.scheduler.Register(attacker)
	r.scheduler.Touch(attacker.ID)
	// Begin is the authoritative gate: a concurrent swing may have claimed the
	// category since CanPerform, and only one caller may win it.
	if !state.Begin(CategoryAttack, w) {
		return ErrNotEligible
	}

	// Visible effect first; the player must never perceive input lag.
	r.hooks.SwingStarted(attacker, defender, w)

	provider := r.provider.Active()
	interval, offset := r.computeTiming(provider, attacker, w)

	swungAt := r.now()
	res := &PendingResolution{
		Target:    defender,
		Weapon:    w,
		ResolveAt: swungAt.Add(offset),
		Fire: func() {
			r.resolveScheduledHit(attacker, defender, w, offset, swungAt)
		},
	}
	if err := r.scheduler.Schedule(attacker.ID, res); err != nil {
		state.Cancel(CategoryAttack, CancelInterrupted)
		return err
	}

	state.SetNextTime(CategoryAttack, interval)
	r.scheduler.SetNextAction(attacker.ID, swungAt.Add(interval))

	r.observeSwing(attacker, w, provider, interval, offset)
	return nil
}

// computeTiming queries the provider, substituting a conservative fallback if
// the provider panics. A broken formula slows the actor down; it never
// breaks the swing.
func (r *Routine) computeTiming(p Provider, a *actor.Actor, w *WeaponEntry) (interval, offset time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			interval = ClampSwing(RoundToTick(time.Duration(w.BaseDelayMs) * time.Millisecond))
			offset = time.Duration(w.HitOffsetMs) * time.Millisecond
			r.logger.Error("timing provider failed, using fallback interval",
				zap.String("provider", p.Name()),
				zap.String("actor_id", a.ID),
				zap.String("weapon", w.ID),
				zap.Duration("fallback", interval),
				zap.Any("panic", rec),
			)
		}
	}()
	return p.SwingInterval(a, w), p.HitOffset(w)
}

// resolveScheduledHit applies a due swing outcome. Called only from the tick
// loop. Both parties are re-validated and every failure is contained: a
// broken resolution must never kill the tick.
func (r *Routine) resolveScheduledHit(attacker, defender *actor.Actor, w *WeaponEntry, expected time.Duration, swungAt time.Time) {
	if !attacker.Valid() || !defender.Valid() {
		r.logger.Debug("dropping resolution for invalid party",
			zap.String("attacker_id", attacker.ID),
			zap.Bool("attacker_valid", attacker.Valid()),
			zap.Bool("defender_valid", defender.Valid()),
		)
		return
	}

	if err := r.resolver.ResolveHit(context.Background(), attacker, defender, w); err != nil {
		r.logger.Error("hit resolution failed",
			zap.String("attacker_id", attacker.ID),
			zap.String("defender_id", defender.ID),
			zap.String("weapon", w.ID),
			zap.Error(err),
		)
		return
	}
	r.hooks.SwingResolved(attacker, defender, w)

	actual := r.now().Sub(swungAt)
	for _, obs := range r.observers {
		r.observeResolution(obs, attacker, w, expected, actual)
	}
}

// CanAttack reports whether a may begin a swing right now. Thin pass-through
// to the actor's timer state, exposed as the scheduler-facing API surface.
func (r *Routine) CanAttack(a *actor.Actor) bool {
	if !a.Valid() {
		return false
	}
	return r.states.Get(a.ID).CanPerform(CategoryAttack)
}

// CancelPendingAttack clears a's attack busy state and discards any pending
// resolutions it has scheduled. Already-dispatched resolutions are not
// interrupted; they re-validate on their own.
func (r *Routine) CancelPendingAttack(a *actor.Actor, reason CancelReason) {
	if a == nil {
		return
	}
	if state, ok := r.states.Peek(a.ID); ok {
		state.Cancel(CategoryAttack, reason)
	}
	r.scheduler.CancelPending(a.ID, nil)
	r.hooks.SwingCancelled(a, reason)
}

// ActorRemoved tears down every trace of actorID: timer state, participant
// entry, and pending resolutions. Wired to the engine's actor-removed
// notification so timing state never outlives the actor it describes.
func (r *Routine) ActorRemoved(actorID string) {
	r.states.Remove(actorID)
	r.scheduler.Unregister(actorID)
}

// observeSwing notifies one scheduling observation, containing any panic.
func (r *Routine) observeSwing(a *actor.Actor, w *WeaponEntry, p Provider, interval, offset time.Duration) {
	for _, obs := range r.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("swing observer panicked", zap.Any("panic", rec))
				}
			}()
			obs.ObserveSwing(a, w, p, interval, offset)
		}()
	}
}

// observeResolution notifies one resolution observation, containing any panic.
func (r *Routine) observeResolution(obs SwingObserver, a *actor.Actor, w *WeaponEntry, expected, actual time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("resolution observer panicked", zap.Any("panic", rec))
		}
	}()
	obs.ObserveResolution(a, w, expected, actual)
}
