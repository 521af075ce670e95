// Package world provides type-safe Go definitions for the Gambit world model
// and the pure functions that act on it.
//
// # Overview
//
// A game session owns exactly one current WorldState. Every action submitted
// by a platform is validated, judged by an arbitration engine, and then fed
// through Apply to produce the next state. Prior states are never mutated:
// Apply always returns a fresh copy, so every turn remains addressable.
//
// # Core Concepts
//
// Actions are structural requests from an actor on some platform (move,
// cast_spell, build, attack). Validate only checks shape, never balance.
//
// Verdicts are the arbiter's judgement: Success, Partial or Failure, with a
// human-readable rationale and a confidence in [0,1].
//
// Ledger entries record every attempt, applied or not. Each entry carries the
// state hash before and after the action and the hash of the previous entry,
// so the ledger forms two chains that VerifyChain can recompute independently.
//
// # Hashing
//
// Hash serializes a state canonically (sorted keys, id-ordered collections,
// hash field excluded) and returns "sha256:<hex>". Two states with the same
// content always hash identically regardless of construction order.
//
// The digest is for tamper-evidence and audit. It is not a signature and
// does not protect against an operator who can rewrite the whole ledger.
//
// # Usage Example
//
//	action := world.Action{
//		ActorID:  "7",
//		Platform: "discord",
//		Type:     world.ActionMove,
//		Payload:  map[string]any{"position": []any{3, 4}},
//	}
//	if err := world.Validate(action); err != nil {
//		return err
//	}
//	next, delta, err := world.Apply(current, action, world.Success("clear path", 0.9))
package world
