// Package actor provides the combatant handles tracked by the timing engine.
// The engine never owns actor lifetime; it holds non-owning references and
// relies on Removed notifications (and liveness checks) to drop state.
package actor

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind distinguishes player-controlled actors from NPCs.
// The zero value (KindUnknown) is intentionally invalid.
type Kind int

const (
	KindUnknown Kind = iota // zero value; intentionally invalid
	KindPlayer
	KindNPC
)

// String returns the human-readable name of the Kind.
func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNPC:
		return "npc"
	default:
		return "unknown"
	}
}

// Actor is a non-owning handle to one combatant. The surrounding game engine
// owns the actor; the timing core only reads attributes and checks liveness.
//
// Invariant: once Delete() has been called, Valid() is false forever.
type Actor struct {
	// ID uniquely identifies the actor instance for the lifetime of the process.
	ID string
	// Name is the display name used in logs and audit records.
	Name string
	// Kind is KindPlayer or KindNPC.
	Kind Kind
	// Quickness is the speed-relevant attribute consumed by timing providers.
	// Baseline is 100; higher is faster.
	Quickness int

	deleted atomic.Bool
}

// New creates a live Actor with a fresh unique ID.
//
// Precondition: name must be non-empty; kind must not be KindUnknown.
// Postcondition: Returns a non-nil Actor with Valid() == true.
func New(name string, kind Kind, quickness int) *Actor {
	return &Actor{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Quickness: quickness,
	}
}

// Valid reports whether the actor still exists in the game world.
// Safe for concurrent use.
func (a *Actor) Valid() bool {
	return a != nil && !a.deleted.Load()
}

// Delete marks the actor as removed from the world. Idempotent.
//
// Postcondition: Valid() returns false.
func (a *Actor) Delete() {
	a.deleted.Store(true)
}

// IsPlayer reports whether the actor is player-controlled. Timing providers
// zero the stat bonus for non-players.
func (a *Actor) IsPlayer() bool {
	return a.Kind == KindPlayer
}
