package world

import (
	"fmt"
)

// DefaultEffectDuration is used when the verdict does not declare one.
const DefaultEffectDuration = 3

// Apply computes the state that follows an action under a verdict.
//
// Apply is pure: it never mutates state and derives every new identifier from
// the resulting turn number, so replaying the ledger reproduces identical
// hashes. A Failure verdict returns state unchanged with an empty delta.
// Unknown action types return ErrUnknownActionType rather than a no-op.
//
// The returned state has TurnNumber advanced by one but no Hash; callers
// hash it after Apply returns.
func Apply(state *WorldState, action Action, verdict Verdict) (*WorldState, Delta, error) {
	if state == nil {
		return nil, Delta{}, fmt.Errorf("cannot apply action to nil state")
	}
	if !action.Type.IsKnown() {
		return nil, Delta{}, &ValidationError{
			Kind:   ErrUnknownActionType,
			Field:  "action_type",
			Reason: fmt.Sprintf("%q has no transition rule", action.Type),
		}
	}
	if err := verdict.Outcome.Validate(); err != nil {
		return nil, Delta{}, err
	}
	if verdict.Outcome == OutcomeFailure {
		return state, Delta{}, nil
	}

	next := state.Clone()
	next.Hash = ""
	next.TurnNumber = state.TurnNumber + 1

	var delta Delta
	delta.EffectsExpired = expireEffects(next)

	var err error
	switch action.Type {
	case ActionMove:
		err = applyMove(next, action, &delta)
	case ActionCastSpell:
		err = applyCastSpell(next, action, verdict, &delta)
	case ActionBuild:
		err = applyBuild(next, action, &delta)
	case ActionAttack:
		err = applyAttack(next, action, &delta)
	}
	if err != nil {
		return nil, Delta{}, err
	}

	return next, delta, nil
}

func applyMove(next *WorldState, action Action, delta *Delta) error {
	pos, err := PayloadPosition(action.Payload, "position")
	if err != nil {
		return err
	}
	next.Positions[action.ActorID] = pos
	delta.Positions = map[string]Position{action.ActorID: pos}
	return nil
}

func applyCastSpell(next *WorldState, action Action, verdict Verdict, delta *Delta) error {
	spell, err := payloadString(action.Payload, "spell")
	if err != nil {
		return err
	}

	duration := verdict.Duration
	if duration == 0 {
		duration = DefaultEffectDuration
	}
	if verdict.Outcome == OutcomePartial {
		duration = max(duration/2, 1)
	}

	effect := Effect{
		ID:            fmt.Sprintf("effect-%d", next.TurnNumber),
		CasterID:      action.ActorID,
		Spell:         spell,
		TargetID:      action.TargetID,
		AppliedTurn:   next.TurnNumber,
		ExpiresAtTurn: next.TurnNumber + duration,
	}
	next.Effects = append(next.Effects, effect)
	delta.EffectsAdded = []Effect{effect}
	return nil
}

func applyBuild(next *WorldState, action Action, delta *Delta) error {
	kind, err := payloadString(action.Payload, "object")
	if err != nil {
		return err
	}

	obj := Object{
		ID:        fmt.Sprintf("object-%d", next.TurnNumber),
		Kind:      kind,
		BuiltTurn: next.TurnNumber,
	}
	next.Objects[action.ActorID] = append(next.Objects[action.ActorID], obj)
	delta.ObjectsAdded = map[string][]Object{action.ActorID: {obj}}
	return nil
}

// applyAttack records intent only. Damage resolution belongs to a
// downstream consumer of the ledger.
func applyAttack(next *WorldState, action Action, delta *Delta) error {
	if action.TargetID == "" {
		return malformed("target_id", "is required for attack")
	}

	intent := Intent{
		ID:         fmt.Sprintf("intent-%d", next.TurnNumber),
		AttackerID: action.ActorID,
		TargetID:   action.TargetID,
		Weapon:     optionalString(action.Payload, "weapon"),
		Turn:       next.TurnNumber,
	}
	next.Intents = append(next.Intents, intent)
	delta.IntentsAdded = []Intent{intent}
	return nil
}

// expireEffects drops effects whose expiry turn has been reached and returns
// their ids.
func expireEffects(next *WorldState) []string {
	var expired []string
	kept := make([]Effect, 0, len(next.Effects))
	for _, e := range next.Effects {
		if e.ExpiresAtTurn <= next.TurnNumber {
			expired = append(expired, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	next.Effects = kept
	return expired
}
