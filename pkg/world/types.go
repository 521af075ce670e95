package world

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SessionStatus defines the lifecycle state of a game session.
type SessionStatus string

const (
	// SessionStatusActive sessions accept new actions
	SessionStatusActive SessionStatus = "active"

	// SessionStatusArchived sessions are read-only; they are never deleted
	SessionStatusArchived SessionStatus = "archived"
)

// Validate checks if the SessionStatus is a valid enum value.
func (s SessionStatus) Validate() error {
	switch s {
	case SessionStatusActive, SessionStatusArchived:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", s)
	}
}

// GameSession is the metadata record for one session.
// CurrentTurn is the index of the current WorldState version.
type GameSession struct {
	ID            string        `json:"id"`
	CurrentTurn   int           `json:"current_turn"`
	Status        SessionStatus `json:"status"`
	CurrentHash   string        `json:"current_hash"`
	LedgerLength  int           `json:"ledger_length"`
	LastEntryHash string        `json:"last_entry_hash"`
	Platforms     []string      `json:"platforms"`
	CreatedAtMs   int64         `json:"created_at_ms"`
}

// ActionType enumerates the actions the transition function understands.
type ActionType string

const (
	// ActionMove updates the actor's position
	ActionMove ActionType = "move"

	// ActionCastSpell appends a timed effect
	ActionCastSpell ActionType = "cast_spell"

	// ActionBuild appends an object to the actor's owned objects
	ActionBuild ActionType = "build"

	// ActionAttack records intent only; damage is resolved downstream
	ActionAttack ActionType = "attack"
)

// KnownActionTypes lists every action type in a stable order.
var KnownActionTypes = []ActionType{ActionMove, ActionCastSpell, ActionBuild, ActionAttack}

// IsKnown reports whether t is one of KnownActionTypes.
func (t ActionType) IsKnown() bool {
	for _, known := range KnownActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Action is a request submitted by a platform adapter on behalf of an actor.
type Action struct {
	ActorID  string         `json:"actor_id"`
	Platform string         `json:"platform"`
	Type     ActionType     `json:"action_type"`
	Payload  map[string]any `json:"payload"`
	TargetID string         `json:"target_id,omitempty"`
}

// Position is a board coordinate, serialized as [x, y].
type Position [2]int

// Effect is an active effect created by cast_spell.
type Effect struct {
	ID            string `json:"id"`
	CasterID      string `json:"caster_id"`
	Spell         string `json:"spell"`
	TargetID      string `json:"target_id,omitempty"`
	AppliedTurn   int    `json:"applied_turn"`
	ExpiresAtTurn int    `json:"expires_at_turn"`
}

// Object is something an actor has built.
type Object struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	BuiltTurn int    `json:"built_turn"`
}

// Intent is a recorded attack awaiting downstream resolution.
type Intent struct {
	ID         string `json:"id"`
	AttackerID string `json:"attacker_id"`
	TargetID   string `json:"target_id"`
	Weapon     string `json:"weapon,omitempty"`
	Turn       int    `json:"turn"`
}

// WorldState is an immutable snapshot of a session's shared state.
// Treat values returned from the store or Apply as read-only; use Clone
// before building a derived state.
type WorldState struct {
	SessionID  string              `json:"session_id"`
	TurnNumber int                 `json:"turn_number"`
	Board      map[string]string   `json:"board"`
	Positions  map[string]Position `json:"positions"`
	Effects    []Effect            `json:"effects"`
	Objects    map[string][]Object `json:"objects"`
	Intents    []Intent            `json:"intents"`
	Hash       string              `json:"hash"`
}

// NewWorldState returns the turn-0 state for a session.
func NewWorldState(sessionID string, board map[string]string) *WorldState {
	s := &WorldState{
		SessionID: sessionID,
		Board:     make(map[string]string, len(board)),
		Positions: map[string]Position{},
		Effects:   []Effect{},
		Objects:   map[string][]Object{},
		Intents:   []Intent{},
	}
	for cell, terrain := range board {
		s.Board[cell] = terrain
	}
	return s
}

// Clone returns a deep copy of the state.
func (s *WorldState) Clone() *WorldState {
	c := &WorldState{
		SessionID:  s.SessionID,
		TurnNumber: s.TurnNumber,
		Board:      make(map[string]string, len(s.Board)),
		Positions:  make(map[string]Position, len(s.Positions)),
		Effects:    append([]Effect{}, s.Effects...),
		Objects:    make(map[string][]Object, len(s.Objects)),
		Intents:    append([]Intent{}, s.Intents...),
		Hash:       s.Hash,
	}
	for k, v := range s.Board {
		c.Board[k] = v
	}
	for k, v := range s.Positions {
		c.Positions[k] = v
	}
	for k, v := range s.Objects {
		c.Objects[k] = append([]Object{}, v...)
	}
	return c
}

// Outcome is the tag of a Verdict.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Validate checks if the Outcome is a valid enum value.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
		return nil
	default:
		return fmt.Errorf("unknown outcome: %q", o)
	}
}

// Applies reports whether the outcome advances the turn.
func (o Outcome) Applies() bool {
	return o == OutcomeSuccess || o == OutcomePartial
}

// Verdict is the arbitration engine's judgement of a single action.
type Verdict struct {
	Outcome    Outcome `json:"outcome"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
	Duration   int     `json:"duration,omitempty"` // Effect duration in turns declared by the engine
	Source     string  `json:"source,omitempty"`   // Which arbiter produced the verdict
}

// Success builds a success verdict.
func Success(rationale string, confidence float64) Verdict {
	return Verdict{Outcome: OutcomeSuccess, Rationale: rationale, Confidence: confidence}
}

// Partial builds a partial verdict.
func Partial(rationale string, confidence float64) Verdict {
	return Verdict{Outcome: OutcomePartial, Rationale: rationale, Confidence: confidence}
}

// Failure builds a failure verdict.
func Failure(rationale string, confidence float64) Verdict {
	return Verdict{Outcome: OutcomeFailure, Rationale: rationale, Confidence: confidence}
}

// Validate checks the verdict is well-formed. Arbiter responses that fail
// this check are treated as malformed.
func (v Verdict) Validate() error {
	if err := v.Outcome.Validate(); err != nil {
		return err
	}
	if v.Rationale == "" {
		return fmt.Errorf("verdict rationale cannot be empty")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("verdict confidence must be within [0,1], got %v", v.Confidence)
	}
	if v.Duration < 0 {
		return fmt.Errorf("verdict duration must be >= 0, got %d", v.Duration)
	}
	return nil
}

// CapabilitySource records where a descriptor came from.
type CapabilitySource string

const (
	CapabilitySourceProvider CapabilitySource = "provider"
	CapabilitySourceNeutral  CapabilitySource = "neutral"
)

// CapabilityDescriptor describes what an actor can plausibly do.
// It is owned by an external provider; the orchestrator only embeds copies.
type CapabilityDescriptor struct {
	ActorID    string             `json:"actor_id"`
	Abilities  []string           `json:"abilities"`
	Modifiers  map[string]float64 `json:"modifiers"`
	Restricted []ActionType       `json:"restricted"`
	Source     CapabilitySource   `json:"source"`
}

// NeutralCapabilities is the default descriptor used when the provider
// cannot answer: no abilities, no modifiers, no restrictions.
func NeutralCapabilities(actorID string) CapabilityDescriptor {
	return CapabilityDescriptor{
		ActorID:    actorID,
		Abilities:  []string{},
		Modifiers:  map[string]float64{},
		Restricted: []ActionType{},
		Source:     CapabilitySourceNeutral,
	}
}

// HasAbility reports whether the descriptor lists the ability.
func (c CapabilityDescriptor) HasAbility(ability string) bool {
	for _, a := range c.Abilities {
		if a == ability {
			return true
		}
	}
	return false
}

// Restricts reports whether the actor is barred from the action type.
func (c CapabilityDescriptor) Restricts(t ActionType) bool {
	for _, r := range c.Restricted {
		if r == t {
			return true
		}
	}
	return false
}

// Delta is the change between two consecutive states.
type Delta struct {
	Positions      map[string]Position `json:"positions,omitempty"`
	EffectsAdded   []Effect            `json:"effects_added,omitempty"`
	EffectsExpired []string            `json:"effects_expired,omitempty"`
	ObjectsAdded   map[string][]Object `json:"objects_added,omitempty"`
	IntentsAdded   []Intent            `json:"intents_added,omitempty"`
}

// IsEmpty reports whether the delta carries no change.
func (d Delta) IsEmpty() bool {
	return len(d.Positions) == 0 && len(d.EffectsAdded) == 0 && len(d.EffectsExpired) == 0 &&
		len(d.ObjectsAdded) == 0 && len(d.IntentsAdded) == 0
}

// LedgerEntry records one processed action. Entries are immutable once
// written; corrections are appended as new entries.
type LedgerEntry struct {
	SessionID       string               `json:"session_id"`
	Seq             int                  `json:"seq"`
	TurnNumber      int                  `json:"turn_number"`
	JudgedAtTurn    int                  `json:"judged_at_turn"`
	ActorID         string               `json:"actor_id"`
	Platform        string               `json:"platform"`
	Capabilities    CapabilityDescriptor `json:"capabilities"`
	Action          Action               `json:"action"`
	Verdict         Verdict              `json:"verdict"`
	Applied         bool                 `json:"applied"`
	StateHashBefore string               `json:"state_hash_before"`
	StateHashAfter  string               `json:"state_hash_after"`
	Delta           Delta                `json:"delta"`
	Errors          []string             `json:"errors,omitempty"`
	PrevEntryHash   string               `json:"prev_entry_hash"`
	EntryHash       string               `json:"entry_hash"`
	CreatedAtMs     int64                `json:"created_at_ms"`
}

// Validate checks the entry has the fields every ledger record must carry.
func (e *LedgerEntry) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("ledger entry session_id cannot be empty")
	}
	if e.Seq < 1 {
		return fmt.Errorf("ledger entry seq must be >= 1, got %d", e.Seq)
	}
	if e.TurnNumber < 0 {
		return fmt.Errorf("ledger entry turn_number must be >= 0, got %d", e.TurnNumber)
	}
	if err := e.Verdict.Validate(); err != nil {
		return fmt.Errorf("invalid verdict: %w", err)
	}
	if e.Applied != e.Verdict.Outcome.Applies() {
		return fmt.Errorf("ledger entry applied=%v disagrees with outcome %q", e.Applied, e.Verdict.Outcome)
	}
	if e.StateHashBefore == "" || e.StateHashAfter == "" {
		return fmt.Errorf("ledger entry state hashes cannot be empty")
	}
	if e.EntryHash == "" {
		return fmt.Errorf("ledger entry hash cannot be empty")
	}
	return nil
}

// MarshalJSON renders a position as [x, y].
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int{p[0], p[1]})
}

// UnmarshalJSON parses [x, y].
func (p *Position) UnmarshalJSON(data []byte) error {
	var xy []int
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("position must be [x, y]: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("position must have exactly 2 coordinates, got %d", len(xy))
	}
	p[0], p[1] = xy[0], xy[1]
	return nil
}

// sortedKeys returns map keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StateUpdate is pushed to every platform after an applied action has been
// durably committed. Platforms that miss updates resync from the full state.
type StateUpdate struct {
	SessionID  string `json:"session_id"`
	Seq        int    `json:"seq"`
	TurnNumber int    `json:"turn_number"`
	StateHash  string `json:"state_hash"`
	Delta      Delta  `json:"delta"`
	ActorID    string `json:"actor_id"`
	Origin     string `json:"origin"`
}
