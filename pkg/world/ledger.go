package world

import "fmt"

// ChainProblem is a single integrity violation found by VerifyChain.
type ChainProblem struct {
	Seq    int    `json:"seq"`
	Reason string `json:"reason"`
}

// ChainReport summarizes a ledger verification.
type ChainReport struct {
	Entries   int            `json:"entries"`
	Applied   int            `json:"applied"`
	FirstTurn int            `json:"first_turn"`
	FinalTurn int            `json:"final_turn"`
	FinalHash string         `json:"final_hash"`
	Valid     bool           `json:"valid"`
	Problems  []ChainProblem `json:"problems,omitempty"`
}

// NewEntry assembles a ledger entry and seals it with its entry hash.
// seq and prevEntryHash come from the session's ledger head.
func NewEntry(base LedgerEntry, seq int, prevEntryHash string) (LedgerEntry, error) {
	base.Seq = seq
	base.PrevEntryHash = prevEntryHash
	base.ActorID = base.Action.ActorID
	base.Platform = base.Action.Platform
	base.Applied = base.Verdict.Outcome.Applies()

	h, err := EntryHash(base)
	if err != nil {
		return LedgerEntry{}, err
	}
	base.EntryHash = h
	return base, nil
}

// VerifyChain recomputes entry hashes and checks both chains over an ordered
// slice of entries:
//
//   - entries[n].PrevEntryHash == entries[n-1].EntryHash
//   - entries[n].StateHashBefore == entries[n-1].StateHashAfter
//   - turns advance by exactly one after each applied entry and never otherwise
//   - non-applied entries leave the state hash unchanged
//
// The slice may start mid-ledger; the first entry's predecessor links are
// then taken on trust.
func VerifyChain(entries []LedgerEntry) ChainReport {
	report := ChainReport{Entries: len(entries), Valid: true}
	if len(entries) == 0 {
		return report
	}
	report.FirstTurn = entries[0].TurnNumber

	problem := func(seq int, format string, args ...any) {
		report.Valid = false
		report.Problems = append(report.Problems, ChainProblem{Seq: seq, Reason: fmt.Sprintf(format, args...)})
	}

	for i, e := range entries {
		recomputed, err := EntryHash(e)
		if err != nil {
			problem(e.Seq, "cannot recompute entry hash: %v", err)
		} else if recomputed != e.EntryHash {
			problem(e.Seq, "entry hash mismatch: stored %s, recomputed %s", e.EntryHash, recomputed)
		}

		if e.Applied != e.Verdict.Outcome.Applies() {
			problem(e.Seq, "applied=%v disagrees with outcome %q", e.Applied, e.Verdict.Outcome)
		}
		if e.Applied {
			report.Applied++
			if e.StateHashAfter == e.StateHashBefore {
				problem(e.Seq, "applied entry did not change state hash")
			}
		} else if e.StateHashAfter != e.StateHashBefore {
			problem(e.Seq, "non-applied entry changed state hash")
		}

		if i == 0 {
			if e.Seq == 1 && e.PrevEntryHash != "" {
				problem(e.Seq, "first entry must not reference a predecessor")
			}
			continue
		}

		prev := entries[i-1]
		if e.Seq != prev.Seq+1 {
			problem(e.Seq, "sequence gap: previous seq %d", prev.Seq)
		}
		if e.PrevEntryHash != prev.EntryHash {
			problem(e.Seq, "prev_entry_hash does not match entry %d", prev.Seq)
		}
		if e.StateHashBefore != prev.StateHashAfter {
			problem(e.Seq, "state_hash_before does not match state_hash_after of entry %d", prev.Seq)
		}
		expectedTurn := prev.TurnNumber
		if prev.Applied {
			expectedTurn++
		}
		if e.TurnNumber != expectedTurn {
			problem(e.Seq, "turn %d, expected %d", e.TurnNumber, expectedTurn)
		}
	}

	last := entries[len(entries)-1]
	report.FinalHash = last.StateHashAfter
	report.FinalTurn = last.TurnNumber
	if last.Applied {
		report.FinalTurn++
	}
	return report
}
