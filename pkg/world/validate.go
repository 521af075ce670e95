package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrMalformedAction marks actions missing required fields or carrying badly typed payloads.
	ErrMalformedAction = errors.New("malformed action")

	// ErrUnknownActionType marks actions whose type is not in KnownActionTypes.
	ErrUnknownActionType = errors.New("unknown action type")
)

// ValidationError describes why an action was rejected before arbitration.
// It matches ErrMalformedAction or ErrUnknownActionType via errors.Is.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func malformed(field, reason string) error {
	return &ValidationError{Kind: ErrMalformedAction, Field: field, Reason: reason}
}

// Validate performs purely structural checks on an action: the type is
// known and the payload fields that type requires are present and well
// typed. It never encodes game-balance rules and has no side effects.
func Validate(a Action) error {
	if strings.TrimSpace(a.ActorID) == "" {
		return malformed("actor_id", "is required")
	}
	if strings.TrimSpace(a.Platform) == "" {
		return malformed("platform", "is required")
	}
	if a.Type == "" {
		return malformed("action_type", "is required")
	}
	if !a.Type.IsKnown() {
		return &ValidationError{
			Kind:   ErrUnknownActionType,
			Field:  "action_type",
			Reason: fmt.Sprintf("%q is not one of %v", a.Type, KnownActionTypes),
		}
	}

	switch a.Type {
	case ActionMove:
		if _, err := PayloadPosition(a.Payload, "position"); err != nil {
			return err
		}
	case ActionCastSpell:
		if _, err := payloadString(a.Payload, "spell"); err != nil {
			return err
		}
	case ActionBuild:
		if _, err := payloadString(a.Payload, "object"); err != nil {
			return err
		}
	case ActionAttack:
		if strings.TrimSpace(a.TargetID) == "" {
			return malformed("target_id", "is required for attack")
		}
		if a.TargetID == a.ActorID {
			return malformed("target_id", "cannot be the attacking actor")
		}
	}

	return nil
}

// PayloadPosition extracts an [x, y] integer pair from the payload.
func PayloadPosition(payload map[string]any, field string) (Position, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return Position{}, malformed("payload."+field, "is required")
	}

	var coords []any
	switch v := raw.(type) {
	case Position:
		return v, nil
	case []int:
		for _, c := range v {
			coords = append(coords, c)
		}
	case []any:
		coords = v
	default:
		return Position{}, malformed("payload."+field, "must be an array of two integers")
	}

	if len(coords) != 2 {
		return Position{}, malformed("payload."+field, fmt.Sprintf("must have exactly 2 coordinates, got %d", len(coords)))
	}

	var p Position
	for i, c := range coords {
		n, ok := toInt(c)
		if !ok {
			return Position{}, malformed("payload."+field, fmt.Sprintf("coordinate %d is not an integer", i))
		}
		p[i] = n
	}
	return p, nil
}

// payloadString extracts a required non-empty string field.
func payloadString(payload map[string]any, field string) (string, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return "", malformed("payload."+field, "is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformed("payload."+field, "must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", malformed("payload."+field, "cannot be empty")
	}
	return s, nil
}

// optionalString returns a string field or "" when absent or not a string.
func optionalString(payload map[string]any, field string) string {
	if s, ok := payload[field].(string); ok {
		return s
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
