package timing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stormglade/swingtimer/internal/game/actor"
	"github.com/stormglade/swingtimer/internal/game/timing"
)

// recordingResolver counts resolved hits and can be forced to fail.
type recordingResolver struct {
	mu   sync.Mutex
	hits []string
	err  error
}

func (r *recordingResolver) ResolveHit(_ context.Context, attacker, _ *actor.Actor, _ *timing.WeaponEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.hits = append(r.hits, attacker.ID)
	return nil
}

func (r *recordingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits)
}

// recordingHooks records the lifecycle notifications in order.
type recordingHooks struct {
	events []string
}

func (h *recordingHooks) SwingStarted(_, _ *actor.Actor, _ *timing.WeaponEntry) {
	h.events = append(h.events, "started")
}

func (h *recordingHooks) SwingResolved(_, _ *actor.Actor, _ *timing.WeaponEntry) {
	h.events = append(h.events, "resolved")
}

func (h *recordingHooks) SwingCancelled(_ *actor.Actor, reason timing.CancelReason) {
	h.events = append(h.events, "cancelled:"+string(reason))
}

// panicProvider always fails, exercising the fallback timing path.
type panicProvider struct{}

func (panicProvider) Name() string { return "broken" }
func (panicProvider) SwingInterval(_ *actor.Actor, _ *timing.WeaponEntry) time.Duration {
	panic("formula exploded")
}
func (panicProvider) HitOffset(_ *timing.WeaponEntry) time.Duration      { panic("formula exploded") }
func (panicProvider) AnimationDuration(_ *timing.WeaponEntry) time.Duration { return 0 }

type routineFixture struct {
	clock     *fakeClock
	scheduler *timing.Scheduler
	states    *timing.StateTable
	provider  *timing.ProviderRef
	resolver  *recordingResolver
	hooks     *recordingHooks
	routine   *timing.Routine
}

func newRoutineFixture(t *testing.T) *routineFixture {
	t.Helper()
	clock := newFakeClock()
	logger := zaptest.NewLogger(t)
	f := &routineFixture{
		clock:     clock,
		scheduler: timing.NewScheduler(logger, timing.SchedulerOptions{Clock: clock.Now, Backend: &manualBackend{}}),
		states:    timing.NewStateTable(logger, timing.WithClock(clock.Now)),
		provider:  timing.NewProviderRef(timing.StatCurveProvider{}),
		resolver:  &recordingResolver{},
		hooks:     &recordingHooks{},
	}
	f.routine = timing.NewRoutine(f.scheduler, f.states, f.provider, f.resolver, logger,
		timing.WithHooks(f.hooks),
		timing.WithRoutineClock(clock.Now),
	)
	return f
}

// TestRoutine_ExecuteAttack verifies the full swing lifecycle: animation hook
// fires immediately, the hit resolves at the offset, the next swing is gated
// by the interval.
func TestRoutine_ExecuteAttack(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	w := testWeapon(46, 2300, 350)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, w))
	assert.Equal(t, []string{"started"}, f.hooks.events,
		"the animation hook must fire synchronously, before any delay")
	assert.True(t, f.scheduler.IsRegistered(attacker.ID))
	assert.Equal(t, 1, f.scheduler.PendingCount(attacker.ID))

	// The hit is due at t+350ms (weapon hit offset).
	f.clock.Advance(300 * time.Millisecond)
	f.scheduler.Advance()
	assert.Zero(t, f.resolver.count(), "the hit must not resolve early")

	f.clock.Advance(50 * time.Millisecond)
	f.scheduler.Advance()
	assert.Equal(t, 1, f.resolver.count(), "the hit resolves once due")
	assert.Equal(t, []string{"started", "resolved"}, f.hooks.events)
}

// TestRoutine_DoubleSwingPrevented verifies the attacker cannot start another
// swing before the computed interval elapses.
func TestRoutine_DoubleSwingPrevented(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	w := testWeapon(46, 2300, 350)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, w))
	assert.ErrorIs(t, f.routine.ExecuteAttack(attacker, defender, w), timing.ErrNotEligible)

	// Quickness 100 on speed 46 yields a 2300ms interval.
	f.clock.Advance(2250 * time.Millisecond)
	assert.False(t, f.routine.CanAttack(attacker))
	f.clock.Advance(50 * time.Millisecond)
	assert.True(t, f.routine.CanAttack(attacker))
	assert.NoError(t, f.routine.ExecuteAttack(attacker, defender, w))
}

// TestRoutine_ConcurrentSwingLosesRace verifies Begin is the authoritative
// gate: when a rival swing claims the attack category after the eligibility
// check but before the claim, the loser is rejected and schedules nothing.
func TestRoutine_ConcurrentSwingLosesRace(t *testing.T) {
	clock := newFakeClock()
	logger := zaptest.NewLogger(t)
	states := timing.NewStateTable(logger, timing.WithClock(clock.Now))
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	w := testWeapon(46, 2300, 350)

	// The scheduler clock is first consulted between the eligibility check and
	// the category claim, so a rival swinging there lands inside the window.
	var rival sync.Once
	scheduler := timing.NewScheduler(logger, timing.SchedulerOptions{
		Backend: &manualBackend{},
		Clock: func() time.Time {
			rival.Do(func() {
				states.Get(attacker.ID).Begin(timing.CategoryAttack, w)
			})
			return clock.Now()
		},
	})
	hooks := &recordingHooks{}
	resolver := &recordingResolver{}
	routine := timing.NewRoutine(scheduler, states, timing.NewProviderRef(timing.StatCurveProvider{}), resolver, logger,
		timing.WithHooks(hooks),
		timing.WithRoutineClock(clock.Now),
	)

	err := routine.ExecuteAttack(attacker, defender, w)
	assert.ErrorIs(t, err, timing.ErrNotEligible,
		"losing the claim must surface as ineligibility")
	assert.Zero(t, scheduler.PendingCount(attacker.ID),
		"the losing swing must schedule nothing")
	assert.Empty(t, hooks.events, "the losing swing must not play the animation")
	assert.True(t, states.Get(attacker.ID).Busy(timing.CategoryAttack),
		"the rival's claim must stand")
}

// TestRoutine_InvalidParty verifies deleted parties are rejected up front.
func TestRoutine_InvalidParty(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	defender.Delete()

	err := f.routine.ExecuteAttack(attacker, defender, testWeapon(46, 2300, 350))
	assert.ErrorIs(t, err, timing.ErrInvalidParty)
}

// TestRoutine_ResolutionRevalidates verifies a hit scheduled against a party
// that dies mid-flight is dropped at resolution time.
func TestRoutine_ResolutionRevalidates(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	w := testWeapon(46, 2300, 350)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, w))
	defender.Delete()

	f.clock.Advance(400 * time.Millisecond)
	f.scheduler.Advance()
	assert.Zero(t, f.resolver.count(), "a dead defender must drop the resolution")
	assert.NotContains(t, f.hooks.events, "resolved")
}

// TestRoutine_ResolverErrorContained verifies a failing resolver suppresses
// the resolved hook but breaks nothing else.
func TestRoutine_ResolverErrorContained(t *testing.T) {
	f := newRoutineFixture(t)
	f.resolver.err = errors.New("combat engine offline")
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, testWeapon(46, 2300, 350)))
	f.clock.Advance(400 * time.Millisecond)
	require.NotPanics(t, f.scheduler.Advance)
	assert.Equal(t, []string{"started"}, f.hooks.events)
}

// TestRoutine_ProviderPanicFallback verifies a broken provider degrades to
// the weapon's flat base delay rather than breaking the swing.
func TestRoutine_ProviderPanicFallback(t *testing.T) {
	f := newRoutineFixture(t)
	f.provider.Swap(panicProvider{})
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	w := testWeapon(46, 2300, 350)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, w),
		"a provider panic must not fail the swing")
	assert.Equal(t, 1, f.scheduler.PendingCount(attacker.ID))

	// Fallback interval equals the clamped base delay: 2300ms.
	state := f.states.Get(attacker.ID)
	expected := f.clock.Now().Add(2300 * time.Millisecond)
	assert.Equal(t, expected, state.NextTime(timing.CategoryAttack))
}

// TestRoutine_CancelPendingAttack verifies cancellation clears both the timer
// state and the scheduler's pending list.
func TestRoutine_CancelPendingAttack(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, testWeapon(46, 2300, 350)))
	f.routine.CancelPendingAttack(attacker, timing.CancelInterrupted)

	assert.Equal(t, 0, f.scheduler.PendingCount(attacker.ID))
	assert.Contains(t, f.hooks.events, "cancelled:interrupted")

	f.clock.Advance(time.Second)
	f.scheduler.Advance()
	assert.Zero(t, f.resolver.count(), "a cancelled swing must never resolve")
}

// TestRoutine_ActorRemoved verifies full teardown of timing state.
func TestRoutine_ActorRemoved(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, testWeapon(46, 2300, 350)))
	f.routine.ActorRemoved(attacker.ID)

	assert.False(t, f.scheduler.IsRegistered(attacker.ID))
	_, ok := f.states.Peek(attacker.ID)
	assert.False(t, ok, "removal must drop the timer state")
}

// TestRoutine_NilWeaponUsesGlobalDefault verifies an unarmed swing falls back
// to the global default entry.
func TestRoutine_NilWeaponUsesGlobalDefault(t *testing.T) {
	f := newRoutineFixture(t)
	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)

	require.NoError(t, f.routine.ExecuteAttack(attacker, defender, nil))
	// Global default: speed 40 at baseline quickness is a 2000ms interval.
	state := f.states.Get(attacker.ID)
	expected := f.clock.Now().Add(2000 * time.Millisecond)
	assert.Equal(t, expected, state.NextTime(timing.CategoryAttack))
}

// panicObserver exercises observer containment.
type panicObserver struct{}

func (panicObserver) ObserveSwing(_ *actor.Actor, _ *timing.WeaponEntry, _ timing.Provider, _, _ time.Duration) {
	panic("observer exploded")
}

func (panicObserver) ObserveResolution(_ *actor.Actor, _ *timing.WeaponEntry, _, _ time.Duration) {
	panic("observer exploded")
}

// TestRoutine_ObserverPanicContained verifies a broken observer can neither
// fail the swing nor the resolution.
func TestRoutine_ObserverPanicContained(t *testing.T) {
	clock := newFakeClock()
	logger := zaptest.NewLogger(t)
	scheduler := timing.NewScheduler(logger, timing.SchedulerOptions{Clock: clock.Now, Backend: &manualBackend{}})
	states := timing.NewStateTable(logger, timing.WithClock(clock.Now))
	resolver := &recordingResolver{}
	routine := timing.NewRoutine(scheduler, states, timing.NewProviderRef(timing.StatCurveProvider{}), resolver, logger,
		timing.WithObservers(panicObserver{}),
		timing.WithRoutineClock(clock.Now),
	)

	attacker := actor.New("Brynn", actor.KindPlayer, 100)
	defender := actor.New("Troll", actor.KindNPC, 100)
	require.NotPanics(t, func() {
		require.NoError(t, routine.ExecuteAttack(attacker, defender, testWeapon(46, 2300, 350)))
	})

	clock.Advance(400 * time.Millisecond)
	require.NotPanics(t, scheduler.Advance)
	assert.Equal(t, 1, resolver.count(), "the hit must resolve despite the observer")
}
