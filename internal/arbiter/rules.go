package arbiter

import (
	"context"
	"fmt"

	"github.com/dyluth/gambit/pkg/world"
)

const (
	baseConfidence       = 0.7
	restrictedConfidence = 0.95
	blockedTerrain       = "wall"
)

// RulesOptions tunes the rule-based engine.
type RulesOptions struct {
	AbilityBoost   float64        // Added to confidence when the actor holds an ability named after the action
	SpellAbility   string         // Ability required for a full-strength cast_spell
	SpellDurations map[string]int // Effect duration per spell; unlisted spells use the transition default
}

// Rules is a deterministic engine. It never errors on a well-formed request.
type Rules struct {
	opts RulesOptions
}

// NewRules creates a rule-based engine.
func NewRules(opts RulesOptions) *Rules {
	if opts.SpellAbility == "" {
		opts.SpellAbility = "magic"
	}
	return &Rules{opts: opts}
}

// Judge implements Arbiter.
//
//   - Restricted action types fail.
//   - Moves onto a wall fail.
//   - cast_spell without the spell ability is partial.
//   - Everything else succeeds; matching abilities raise confidence.
func (r *Rules) Judge(ctx context.Context, req Request) (world.Verdict, error) {
	action := req.Action
	caps := req.Capabilities

	if caps.Restricts(action.Type) {
		return r.stamp(world.Failure(fmt.Sprintf("actor %s is restricted from %s", action.ActorID, action.Type), restrictedConfidence)), nil
	}

	confidence := baseConfidence
	if caps.HasAbility(string(action.Type)) {
		confidence += r.opts.AbilityBoost
	}
	confidence = min(max(confidence, 0), 1)

	switch action.Type {
	case world.ActionMove:
		pos, err := world.PayloadPosition(action.Payload, "position")
		if err != nil {
			return world.Verdict{}, err
		}
		if req.State != nil && req.State.Board[cellKey(pos)] == blockedTerrain {
			return r.stamp(world.Failure(fmt.Sprintf("cell %s is blocked by %s", cellKey(pos), blockedTerrain), confidence)), nil
		}
		return r.stamp(world.Success(fmt.Sprintf("%s moves to %s", action.ActorID, cellKey(pos)), confidence)), nil

	case world.ActionCastSpell:
		spell, _ := action.Payload["spell"].(string)
		verdict := world.Success(fmt.Sprintf("%s casts %s", action.ActorID, spell), min(confidence+r.opts.AbilityBoost, 1))
		if !caps.HasAbility(r.opts.SpellAbility) {
			verdict = world.Partial(fmt.Sprintf("%s casts %s without %s; the effect is weakened", action.ActorID, spell, r.opts.SpellAbility), confidence)
		}
		verdict.Duration = r.opts.SpellDurations[spell]
		return r.stamp(verdict), nil

	case world.ActionBuild:
		kind, _ := action.Payload["object"].(string)
		return r.stamp(world.Success(fmt.Sprintf("%s builds %s", action.ActorID, kind), confidence)), nil

	case world.ActionAttack:
		return r.stamp(world.Success(fmt.Sprintf("%s declares an attack on %s", action.ActorID, action.TargetID), confidence)), nil
	}

	return world.Verdict{}, fmt.Errorf("rules engine cannot judge action type %q", action.Type)
}

func (r *Rules) stamp(v world.Verdict) world.Verdict {
	v.Source = SourceRules
	return v
}

// cellKey formats a position the way board cells are keyed.
func cellKey(p world.Position) string {
	return fmt.Sprintf("%d,%d", p[0], p[1])
}
