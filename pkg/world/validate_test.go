package world

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_KnownTypes(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{
			name:   "move with []any position",
			action: Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{"position": []any{3.0, 4.0}}},
		},
		{
			name:   "move with []int position",
			action: Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{"position": []int{3, 4}}},
		},
		{
			name:   "cast_spell",
			action: Action{ActorID: "7", Platform: "discord", Type: ActionCastSpell, Payload: map[string]any{"spell": "fireball"}},
		},
		{
			name:   "build",
			action: Action{ActorID: "7", Platform: "voice", Type: ActionBuild, Payload: map[string]any{"object": "wall"}},
		},
		{
			name:   "attack",
			action: Action{ActorID: "7", Platform: "web", Type: ActionAttack, TargetID: "9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, Validate(tt.action))
		})
	}
}

func TestValidate_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		field  string
	}{
		{"missing actor", Action{Platform: "web", Type: ActionMove, Payload: map[string]any{"position": []int{1, 1}}}, "actor_id"},
		{"missing platform", Action{ActorID: "7", Type: ActionMove, Payload: map[string]any{"position": []int{1, 1}}}, "platform"},
		{"missing type", Action{ActorID: "7", Platform: "web"}, "action_type"},
		{"cast_spell without spell", Action{ActorID: "7", Platform: "web", Type: ActionCastSpell, Payload: map[string]any{}}, "payload.spell"},
		{"cast_spell with nil payload", Action{ActorID: "7", Platform: "web", Type: ActionCastSpell}, "payload.spell"},
		{"cast_spell non-string spell", Action{ActorID: "7", Platform: "web", Type: ActionCastSpell, Payload: map[string]any{"spell": 12}}, "payload.spell"},
		{"move without position", Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{}}, "payload.position"},
		{"move with three coords", Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{"position": []any{1.0, 2.0, 3.0}}}, "payload.position"},
		{"move with fractional coord", Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{"position": []any{1.5, 2.0}}}, "payload.position"},
		{"move with string position", Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{"position": "3,4"}}, "payload.position"},
		{"build without object", Action{ActorID: "7", Platform: "web", Type: ActionBuild, Payload: map[string]any{"object": "  "}}, "payload.object"},
		{"attack without target", Action{ActorID: "7", Platform: "web", Type: ActionAttack}, "target_id"},
		{"attack self", Action{ActorID: "7", Platform: "web", Type: ActionAttack, TargetID: "7"}, "target_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.action)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedAction), "expected ErrMalformedAction, got %v", err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidate_UnknownType(t *testing.T) {
	err := Validate(Action{ActorID: "7", Platform: "web", Type: "teleport", Payload: map[string]any{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownActionType))
	assert.False(t, errors.Is(err, ErrMalformedAction))
	assert.Contains(t, err.Error(), "teleport")
}

func TestVerdictValidate(t *testing.T) {
	assert.NoError(t, Success("ok", 1).Validate())
	assert.NoError(t, Partial("half", 0).Validate())
	assert.Error(t, Failure("", 0.5).Validate(), "empty rationale")
	assert.Error(t, Success("ok", 1.2).Validate(), "confidence above 1")
	assert.Error(t, Success("ok", -0.1).Validate(), "confidence below 0")
	assert.Error(t, Verdict{Outcome: "maybe", Rationale: "x"}.Validate(), "unknown outcome")
}

func TestCapabilityDescriptor(t *testing.T) {
	neutral := NeutralCapabilities("7")
	assert.Equal(t, CapabilitySourceNeutral, neutral.Source)
	assert.Empty(t, neutral.Abilities)
	assert.False(t, neutral.Restricts(ActionAttack))

	caps := CapabilityDescriptor{
		ActorID:    "7",
		Abilities:  []string{"magic"},
		Restricted: []ActionType{ActionAttack},
	}
	assert.True(t, caps.HasAbility("magic"))
	assert.False(t, caps.HasAbility("stealth"))
	assert.True(t, caps.Restricts(ActionAttack))
}
