package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// HashPrefix tags every digest with its algorithm.
const HashPrefix = "sha256:"

type boardCell struct {
	Cell    string `json:"cell"`
	Terrain string `json:"terrain"`
}

type actorPosition struct {
	ActorID  string   `json:"actor_id"`
	Position Position `json:"position"`
}

type ownedObjects struct {
	OwnerID string   `json:"owner_id"`
	Objects []Object `json:"objects"`
}

// canonicalState fixes field and element order for hashing. Maps become
// key-sorted slices and collections are sorted by id, so construction
// order never reaches the digest.
type canonicalState struct {
	SessionID  string          `json:"session_id"`
	TurnNumber int             `json:"turn_number"`
	Board      []boardCell     `json:"board"`
	Positions  []actorPosition `json:"positions"`
	Effects    []Effect        `json:"effects"`
	Objects    []ownedObjects  `json:"objects"`
	Intents    []Intent        `json:"intents"`
}

// CanonicalBytes returns the canonical serialization of a state.
// The Hash field is excluded.
func CanonicalBytes(s *WorldState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot serialize nil state")
	}

	c := canonicalState{
		SessionID:  s.SessionID,
		TurnNumber: s.TurnNumber,
		Board:      make([]boardCell, 0, len(s.Board)),
		Positions:  make([]actorPosition, 0, len(s.Positions)),
		Effects:    append([]Effect{}, s.Effects...),
		Objects:    make([]ownedObjects, 0, len(s.Objects)),
		Intents:    append([]Intent{}, s.Intents...),
	}
	for _, cell := range sortedKeys(s.Board) {
		c.Board = append(c.Board, boardCell{Cell: cell, Terrain: s.Board[cell]})
	}
	for _, actor := range sortedKeys(s.Positions) {
		c.Positions = append(c.Positions, actorPosition{ActorID: actor, Position: s.Positions[actor]})
	}
	for _, owner := range sortedKeys(s.Objects) {
		objs := append([]Object{}, s.Objects[owner]...)
		if len(objs) == 0 {
			continue
		}
		sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
		c.Objects = append(c.Objects, ownedObjects{OwnerID: owner, Objects: objs})
	}
	sort.Slice(c.Effects, func(i, j int) bool { return c.Effects[i].ID < c.Effects[j].ID })
	sort.Slice(c.Intents, func(i, j int) bool { return c.Intents[i].ID < c.Intents[j].ID })

	return json.Marshal(c)
}

// Hash returns the content digest of a state.
func Hash(s *WorldState) (string, error) {
	b, err := CanonicalBytes(s)
	if err != nil {
		return "", err
	}
	return digest(b), nil
}

// WithHash returns s with its Hash field populated. s itself is not modified.
func WithHash(s *WorldState) (*WorldState, error) {
	h, err := Hash(s)
	if err != nil {
		return nil, err
	}
	c := s.Clone()
	c.Hash = h
	return c, nil
}

// EntryHash returns the digest of a ledger entry with its own EntryHash
// cleared. PrevEntryHash is part of the input, which chains entries.
func EntryHash(e LedgerEntry) (string, error) {
	e.EntryHash = ""
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	return digest(b), nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:])
}
