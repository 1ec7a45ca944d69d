package actor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormglade/swingtimer/internal/game/actor"
)

// TestNew verifies fresh actors are live with unique IDs.
func TestNew(t *testing.T) {
	a := actor.New("Brynn", actor.KindPlayer, 110)
	b := actor.New("Brynn", actor.KindPlayer, 110)

	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "two actors must never share an ID")
	assert.True(t, a.Valid())
	assert.True(t, a.IsPlayer())
	assert.False(t, actor.New("Troll", actor.KindNPC, 100).IsPlayer())
}

// TestDelete verifies deletion is terminal and idempotent, and that a nil
// handle is never valid.
func TestDelete(t *testing.T) {
	a := actor.New("Doomed", actor.KindNPC, 100)
	a.Delete()
	assert.False(t, a.Valid())
	a.Delete()
	assert.False(t, a.Valid(), "Delete must be idempotent")

	var nilActor *actor.Actor
	assert.False(t, nilActor.Valid())
}

// TestKindString verifies the log labels.
func TestKindString(t *testing.T) {
	assert.Equal(t, "player", actor.KindPlayer.String())
	assert.Equal(t, "npc", actor.KindNPC.String())
	assert.Equal(t, "unknown", actor.KindUnknown.String())
}
