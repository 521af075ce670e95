package world

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Idempotent(t *testing.T) {
	s := stateAtTurn(t, 3)

	h1, err := Hash(s)
	require.NoError(t, err)
	h2, err := Hash(s)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, HashPrefix))
}

func TestHash_OrderIndependent(t *testing.T) {
	a := NewWorldState("s", nil)
	a.Board["a"] = "grass"
	a.Board["b"] = "water"
	a.Positions["1"] = Position{1, 1}
	a.Positions["2"] = Position{2, 2}
	a.Effects = []Effect{{ID: "effect-1", Spell: "x"}, {ID: "effect-2", Spell: "y"}}
	a.Objects["1"] = []Object{{ID: "object-1", Kind: "wall"}, {ID: "object-2", Kind: "gate"}}
	a.Intents = []Intent{{ID: "intent-1"}, {ID: "intent-2"}}

	b := NewWorldState("s", nil)
	b.Intents = []Intent{{ID: "intent-2"}, {ID: "intent-1"}}
	b.Objects["1"] = []Object{{ID: "object-2", Kind: "gate"}, {ID: "object-1", Kind: "wall"}}
	b.Effects = []Effect{{ID: "effect-2", Spell: "y"}, {ID: "effect-1", Spell: "x"}}
	b.Positions["2"] = Position{2, 2}
	b.Positions["1"] = Position{1, 1}
	b.Board["b"] = "water"
	b.Board["a"] = "grass"

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_IgnoresStoredHashAndEmptyCollections(t *testing.T) {
	a := NewWorldState("s", nil)
	b := NewWorldState("s", nil)
	b.Hash = "sha256:stale"
	b.Effects = nil
	b.Objects["ghost"] = []Object{}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_ContentSensitive(t *testing.T) {
	a := stateAtTurn(t, 1)
	b := a.Clone()
	b.Positions["7"] = Position{0, 1}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHash_SurvivesJSONRoundTrip(t *testing.T) {
	s := stateAtTurn(t, 2)
	s.Effects = []Effect{{ID: "effect-2", CasterID: "7", Spell: "x", AppliedTurn: 2, ExpiresAtTurn: 5}}
	want, err := Hash(s)
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var decoded WorldState
	require.NoError(t, json.Unmarshal(data, &decoded))

	got, err := Hash(&decoded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPosition_JSON(t *testing.T) {
	data, err := json.Marshal(Position{3, 4})
	require.NoError(t, err)
	assert.JSONEq(t, `[3,4]`, string(data))

	var p Position
	require.NoError(t, json.Unmarshal([]byte(`[5,6]`), &p))
	assert.Equal(t, Position{5, 6}, p)

	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &p))
}
