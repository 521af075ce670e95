package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dyluth/gambit/pkg/world"
)

// Serialization helpers for converting between Go structs and Redis values
//
// Session metadata is stored as a Redis hash so individual fields (current
// turn, status) can be read and updated in place. World states and ledger
// entries are immutable documents and are stored as JSON strings.

// SessionToHash converts session metadata to a Redis hash.
// Platforms live in their own set and are not part of the hash.
func SessionToHash(s *world.GameSession) map[string]interface{} {
	return map[string]interface{}{
		"id":              s.ID,
		"current_turn":    s.CurrentTurn,
		"status":          string(s.Status),
		"current_hash":    s.CurrentHash,
		"ledger_length":   s.LedgerLength,
		"last_entry_hash": s.LastEntryHash,
		"created_at_ms":   s.CreatedAtMs,
	}
}

// HashToSession converts a Redis hash back to session metadata.
func HashToSession(hash map[string]string) (*world.GameSession, error) {
	turn, err := strconv.Atoi(hash["current_turn"])
	if err != nil {
		return nil, fmt.Errorf("invalid current_turn field: %w", err)
	}

	ledgerLength, err := strconv.Atoi(hash["ledger_length"])
	if err != nil {
		return nil, fmt.Errorf("invalid ledger_length field: %w", err)
	}

	status := world.SessionStatus(hash["status"])
	if err := status.Validate(); err != nil {
		return nil, err
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &world.GameSession{
		ID:            hash["id"],
		CurrentTurn:   turn,
		Status:        status,
		CurrentHash:   hash["current_hash"],
		LedgerLength:  ledgerLength,
		LastEntryHash: hash["last_entry_hash"],
		Platforms:     []string{},
		CreatedAtMs:   createdAtMs,
	}, nil
}

// EncodeState serializes a world state for storage.
func EncodeState(s *world.WorldState) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal world state: %w", err)
	}
	return string(data), nil
}

// DecodeState parses a stored world state, normalizing nil collections.
func DecodeState(data string) (*world.WorldState, error) {
	var s world.WorldState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal world state: %w", err)
	}
	if s.Board == nil {
		s.Board = map[string]string{}
	}
	if s.Positions == nil {
		s.Positions = map[string]world.Position{}
	}
	if s.Effects == nil {
		s.Effects = []world.Effect{}
	}
	if s.Objects == nil {
		s.Objects = map[string][]world.Object{}
	}
	if s.Intents == nil {
		s.Intents = []world.Intent{}
	}
	return &s, nil
}

// EncodeEntry serializes a ledger entry for storage.
func EncodeEntry(e *world.LedgerEntry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	return string(data), nil
}

// DecodeEntry parses a stored ledger entry.
func DecodeEntry(data string) (*world.LedgerEntry, error) {
	var e world.LedgerEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	return &e, nil
}
