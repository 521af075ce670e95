package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain runs the actions through Apply and returns sealed ledger entries.
func buildChain(t *testing.T, verdicts []Verdict) []LedgerEntry {
	t.Helper()
	state := stateAtTurn(t, 0)
	var entries []LedgerEntry
	prevHash := ""

	for i, v := range verdicts {
		action := Action{ActorID: "7", Platform: "web", Type: ActionMove, Payload: map[string]any{"position": []int{i, i}}}
		next, delta, err := Apply(state, action, v)
		require.NoError(t, err)
		next, err = WithHash(next)
		require.NoError(t, err)

		entry, err := NewEntry(LedgerEntry{
			SessionID:       "session-1",
			TurnNumber:      state.TurnNumber,
			JudgedAtTurn:    state.TurnNumber,
			Capabilities:    NeutralCapabilities("7"),
			Action:          action,
			Verdict:         v,
			StateHashBefore: state.Hash,
			StateHashAfter:  next.Hash,
			Delta:           delta,
			CreatedAtMs:     int64(1000 + i),
		}, i+1, prevHash)
		require.NoError(t, err)
		require.NoError(t, entry.Validate())

		entries = append(entries, entry)
		prevHash = entry.EntryHash
		state = next
	}
	return entries
}

func TestVerifyChain_Valid(t *testing.T) {
	entries := buildChain(t, []Verdict{
		Success("a", 1), Failure("b", 1), Partial("c", 0.5), Success("d", 1),
	})

	report := VerifyChain(entries)
	assert.True(t, report.Valid, "problems: %v", report.Problems)
	assert.Equal(t, 4, report.Entries)
	assert.Equal(t, 3, report.Applied)
	assert.Equal(t, 3, report.FinalTurn)
	assert.Equal(t, entries[3].StateHashAfter, report.FinalHash)

	// Failure entries keep the state hash
	assert.Equal(t, entries[1].StateHashBefore, entries[1].StateHashAfter)
	assert.Equal(t, entries[1].TurnNumber, entries[2].TurnNumber)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	t.Run("edited verdict", func(t *testing.T) {
		entries := buildChain(t, []Verdict{Success("a", 1), Success("b", 1)})
		entries[0].Verdict.Rationale = "rewritten"
		report := VerifyChain(entries)
		assert.False(t, report.Valid)
		assert.Equal(t, 1, report.Problems[0].Seq)
	})

	t.Run("removed entry", func(t *testing.T) {
		entries := buildChain(t, []Verdict{Success("a", 1), Success("b", 1), Success("c", 1)})
		report := VerifyChain([]LedgerEntry{entries[0], entries[2]})
		assert.False(t, report.Valid)
	})

	t.Run("broken state chain", func(t *testing.T) {
		entries := buildChain(t, []Verdict{Success("a", 1), Success("b", 1)})
		entries[1].StateHashBefore = "sha256:other"
		sealed, err := NewEntry(entries[1], entries[1].Seq, entries[1].PrevEntryHash)
		require.NoError(t, err)
		entries[1] = sealed

		report := VerifyChain(entries)
		assert.False(t, report.Valid)
		assert.Contains(t, report.Problems[0].Reason, "state_hash_before")
	})
}

func TestVerifyChain_Empty(t *testing.T) {
	report := VerifyChain(nil)
	assert.True(t, report.Valid)
	assert.Zero(t, report.Entries)
}

func TestLedgerEntryValidate(t *testing.T) {
	entries := buildChain(t, []Verdict{Success("a", 1)})
	e := entries[0]
	require.NoError(t, e.Validate())

	bad := e
	bad.Applied = false
	assert.Error(t, bad.Validate())

	bad = e
	bad.Seq = 0
	assert.Error(t, bad.Validate())

	bad = e
	bad.EntryHash = ""
	assert.Error(t, bad.Validate())
}
