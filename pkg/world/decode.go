package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// wireAction is the loose form of an Action as platforms send it. Every field
// is kept raw so one badly typed field never hides the others.
type wireAction struct {
	ActorID  json.RawMessage `json:"actor_id"`
	Platform json.RawMessage `json:"platform"`
	Type     json.RawMessage `json:"action_type"`
	Payload  json.RawMessage `json:"payload"`
	TargetID json.RawMessage `json:"target_id"`
}

// DecodeAction parses a submitted action body. Integer actor and target IDs
// are accepted and normalized to their decimal string form.
//
// The returned Action is always filled in as far as the body allows, so a
// rejected submission can still be recorded against its actor. The error,
// when non-nil, is a *ValidationError matching ErrMalformedAction.
func DecodeAction(data []byte) (Action, error) {
	var wire wireAction
	if err := json.Unmarshal(data, &wire); err != nil {
		return Action{}, malformed("", fmt.Sprintf("body must be a JSON object: %v", err))
	}

	var a Action
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var err error
	a.ActorID, err = decodeID(wire.ActorID, "actor_id")
	keep(err)
	a.TargetID, err = decodeID(wire.TargetID, "target_id")
	keep(err)

	a.Platform, err = decodeString(wire.Platform, "platform")
	keep(err)
	typ, err := decodeString(wire.Type, "action_type")
	keep(err)
	a.Type = ActionType(typ)

	a.Payload, err = decodePayload(wire.Payload)
	keep(err)

	return a, firstErr
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeID accepts a string or an integer.
func decodeID(raw json.RawMessage, field string) (string, error) {
	if isNull(raw) {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", malformed(field, "is not valid JSON")
	}

	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return id.String(), malformed(field, "must be a string or an integer")
		}
		return strconv.FormatInt(n, 10), nil
	default:
		return "", malformed(field, "must be a string or an integer")
	}
}

func decodeString(raw json.RawMessage, field string) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed(field, "must be a string")
	}
	return s, nil
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	if isNull(raw) {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed("payload", "must be a JSON object")
	}
	return payload, nil
}
