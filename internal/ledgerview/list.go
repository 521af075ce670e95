package ledgerview

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/gambit/internal/resolver"
	"github.com/dyluth/gambit/internal/timespec"
	"github.com/dyluth/gambit/pkg/world"
)

// OutputFormat specifies how the entry list is printed.
type OutputFormat string

const (
	// OutputFormatDefault prints a table
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL prints complete entries as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Source is the part of the store the ledger views read.
type Source interface {
	resolver.EntryIndex
	Ledger(ctx context.Context, sessionID string, sinceTurn int) ([]world.LedgerEntry, error)
}

// FilterCriteria narrows a ledger listing. All filters are ANDed together.
type FilterCriteria struct {
	SinceTurn   int             // Only entries submitted at or after this turn
	Window      timespec.Window // Creation time window
	ActionGlob  string          // Glob over action type, empty = no filter
	ActorID     string          // Exact actor match, empty = no filter
	Platform    string          // Exact platform match, empty = no filter
	Outcome     world.Outcome   // Exact outcome match, empty = no filter
	AppliedOnly bool            // Skip failed and rejected entries
}

// Matches returns true if the entry passes every filter.
func (fc *FilterCriteria) Matches(e world.LedgerEntry) bool {
	if e.TurnNumber < fc.SinceTurn {
		return false
	}
	if !fc.Window.Contains(e.CreatedAtMs) {
		return false
	}
	if fc.ActionGlob != "" {
		matched, err := filepath.Match(fc.ActionGlob, string(e.Action.Type))
		if err != nil || !matched {
			return false
		}
	}
	if fc.ActorID != "" && e.ActorID != fc.ActorID {
		return false
	}
	if fc.Platform != "" && e.Platform != fc.Platform {
		return false
	}
	if fc.Outcome != "" && e.Verdict.Outcome != fc.Outcome {
		return false
	}
	if fc.AppliedOnly && !e.Applied {
		return false
	}
	return true
}

// ListEntries reads a session's ledger, filters it and writes it in the
// requested format. Entries stay in append order.
func ListEntries(ctx context.Context, src Source, sessionID string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	sinceTurn := 0
	if filters != nil {
		sinceTurn = filters.SinceTurn
	}

	all, err := src.Ledger(ctx, sessionID, sinceTurn)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	entries := make([]world.LedgerEntry, 0, len(all))
	for _, e := range all {
		if filters != nil && !filters.Matches(e) {
			continue
		}
		entries = append(entries, e)
	}

	switch format {
	case OutputFormatDefault:
		_, err := FormatTable(w, entries, sessionID, time.Now())
		return err
	case OutputFormatJSONL:
		if err := FormatJSONL(w, entries); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
