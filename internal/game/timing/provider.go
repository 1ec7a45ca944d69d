// Package timing implements the swing-timing core: interval providers, the
// per-actor timer state machine, the global tick scheduler, and the attack
// routine that bridges immediate animation and deferred hit resolution.
package timing

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/stormglade/swingtimer/internal/game/actor"
)

// Scheduling granularity and clamp bounds for all computed swing intervals.
const (
	// TickInterval is the global scheduler granularity. All computed
	// intervals are rounded to a multiple of it.
	TickInterval = 50 * time.Millisecond

	// MinSwingDelay and MaxSwingDelay clamp every provider result.
	MinSwingDelay = 200 * time.Millisecond
	MaxSwingDelay = 4000 * time.Millisecond
)

// Stat curve parameters for StatCurveProvider.
const (
	// SpeedScaleMs converts a weapon speed value into a base delay.
	SpeedScaleMs = 50

	// QuicknessBaseline is the stat value that yields no bonus or penalty.
	QuicknessBaseline = 100

	// Bonus clamp: above-baseline points are capped harder than
	// below-baseline ones.
	MaxQuicknessBonus   = 25
	MaxQuicknessPenalty = -50

	// Per-point multiplier rates. The curve is steeper above baseline.
	RatePerPointAbove = 0.008
	RatePerPointBelow = 0.004
)

// Provider computes swing timing for one action instance. Implementations
// must be deterministic and side-effect free: the same actor attributes and
// weapon entry always yield the same result, which makes shadow-mode replay
// trivial.
type Provider interface {
	// Name identifies the provider in audit records.
	Name() string
	// SwingInterval returns the delay before the actor may swing again.
	SwingInterval(a *actor.Actor, w *WeaponEntry) time.Duration
	// HitOffset returns the delay between the swing animation starting and
	// the hit resolving.
	HitOffset(w *WeaponEntry) time.Duration
	// AnimationDuration returns how long the swing animation plays.
	AnimationDuration(w *WeaponEntry) time.Duration
}

// RoundToTick rounds d to the nearest TickInterval multiple.
func RoundToTick(d time.Duration) time.Duration {
	return d.Round(TickInterval)
}

// ClampSwing bounds d to [MinSwingDelay, MaxSwingDelay].
func ClampSwing(d time.Duration) time.Duration {
	if d < MinSwingDelay {
		return MinSwingDelay
	}
	if d > MaxSwingDelay {
		return MaxSwingDelay
	}
	return d
}

// quicknessBonus returns the capped stat delta from baseline. Non-players
// always get zero.
func quicknessBonus(a *actor.Actor) int {
	if a == nil || !a.IsPlayer() {
		return 0
	}
	bonus := a.Quickness - QuicknessBaseline
	if bonus > MaxQuicknessBonus {
		return MaxQuicknessBonus
	}
	if bonus < MaxQuicknessPenalty {
		return MaxQuicknessPenalty
	}
	return bonus
}

// StatCurveProvider is the primary interval formula: weapon speed scaled to a
// base delay, then shortened or lengthened by the actor's quickness relative
// to baseline. The curve is asymmetric: each point above baseline buys more
// speed than each point below it costs.
type StatCurveProvider struct{}

// Name implements Provider.
func (StatCurveProvider) Name() string { return "statcurve" }

// SwingInterval implements Provider.
//
// Postcondition: Result is a multiple of TickInterval within
// [MinSwingDelay, MaxSwingDelay].
func (StatCurveProvider) SwingInterval(a *actor.Actor, w *WeaponEntry) time.Duration {
	base := float64(w.Speed) * SpeedScaleMs
	bonus := quicknessBonus(a)
	var mult float64
	if bonus >= 0 {
		mult = 1.0 - float64(bonus)*RatePerPointAbove
	} else {
		mult = 1.0 - float64(bonus)*RatePerPointBelow
	}
	ms := math.Round(base * mult)
	d := RoundToTick(time.Duration(ms) * time.Millisecond)
	return ClampSwing(d)
}

// HitOffset implements Provider.
func (StatCurveProvider) HitOffset(w *WeaponEntry) time.Duration {
	return time.Duration(w.HitOffsetMs) * time.Millisecond
}

// AnimationDuration implements Provider.
func (StatCurveProvider) AnimationDuration(w *WeaponEntry) time.Duration {
	return time.Duration(w.AnimationMs) * time.Millisecond
}

// LegacyProvider is the pre-curve formula kept for shadow comparison: the
// weapon's flat base delay minus a fixed 10 ms per quickness point over
// baseline (uncapped in the original, clamped here only by the global
// bounds). It shares the Provider interface but nothing else with
// StatCurveProvider.
type LegacyProvider struct{}

// Name implements Provider.
func (LegacyProvider) Name() string { return "legacy" }

// SwingInterval implements Provider.
func (LegacyProvider) SwingInterval(a *actor.Actor, w *WeaponEntry) time.Duration {
	ms := w.BaseDelayMs
	if a != nil && a.IsPlayer() {
		ms -= (a.Quickness - QuicknessBaseline) * 10
	}
	d := RoundToTick(time.Duration(ms) * time.Millisecond)
	return ClampSwing(d)
}

// HitOffset implements Provider.
func (LegacyProvider) HitOffset(w *WeaponEntry) time.Duration {
	return time.Duration(w.HitOffsetMs) * time.Millisecond
}

// AnimationDuration implements Provider.
func (LegacyProvider) AnimationDuration(w *WeaponEntry) time.Duration {
	return time.Duration(w.AnimationMs) * time.Millisecond
}

// ProviderRef is a swappable reference to the active Provider. The attack
// routine reads it on every swing, so a provider switch takes effect
// immediately without restarting the scheduler.
type ProviderRef struct {
	p atomic.Pointer[Provider]
}

// NewProviderRef creates a ProviderRef holding p.
//
// Precondition: p must not be nil.
func NewProviderRef(p Provider) *ProviderRef {
	r := &ProviderRef{}
	r.p.Store(&p)
	return r
}

// Active returns the current provider.
func (r *ProviderRef) Active() Provider { return *r.p.Load() }

// Swap installs p as the active provider.
//
// Precondition: p must not be nil.
func (r *ProviderRef) Swap(p Provider) {
	r.p.Store(&p)
}
