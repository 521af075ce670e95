// Package ledgerview renders ledger entries for the gambit CLI.
package ledgerview

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/olekukonko/tablewriter"
)

// FormatTable writes entries as a table and returns the number written.
func FormatTable(w io.Writer, entries []world.LedgerEntry, sessionID string, now time.Time) (int, error) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No ledger entries found for session '%s'\n", sessionID)
		return 0, nil
	}

	fmt.Fprintf(w, "Ledger for session '%s':\n\n", sessionID)

	table := tablewriter.NewWriter(w)
	table.Header("Seq", "Turn", "Entry", "Actor", "Platform", "Action", "Outcome", "Source", "Age", "Detail")
	for _, e := range entries {
		row := []string{
			fmt.Sprintf("%d", e.Seq),
			fmt.Sprintf("%d", e.TurnNumber),
			printer.ShortHash(e.EntryHash),
			e.ActorID,
			e.Platform,
			string(e.Action.Type),
			string(e.Verdict.Outcome),
			formatSource(e.Verdict.Source),
			formatAge(e.CreatedAtMs, now),
			formatDetail(e),
		}
		if err := table.Append(row); err != nil {
			return 0, fmt.Errorf("failed to add ledger row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return 0, fmt.Errorf("failed to render ledger table: %w", err)
	}

	noun := "entry"
	if len(entries) != 1 {
		noun = "entries"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), noun)
	return len(entries), nil
}

// FormatJSONL writes one compact JSON object per entry, suitable for jq.
func FormatJSONL(w io.Writer, entries []world.LedgerEntry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger entry %d: %w", e.Seq, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one entry as indented JSON.
func FormatSingleJSON(w io.Writer, entry *world.LedgerEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatReport writes a chain verification report.
func FormatReport(w io.Writer, sessionID string, report world.ChainReport) {
	status := "VALID"
	if !report.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "Ledger for session '%s' is %s\n", sessionID, status)
	fmt.Fprintf(w, "  entries:    %d (%d applied)\n", report.Entries, report.Applied)
	fmt.Fprintf(w, "  final turn: %d\n", report.FinalTurn)
	fmt.Fprintf(w, "  final hash: %s\n", report.FinalHash)

	if len(report.Problems) == 0 {
		return
	}
	problems := append([]world.ChainProblem(nil), report.Problems...)
	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Seq < problems[j].Seq })
	fmt.Fprintf(w, "\nProblems:\n")
	for _, p := range problems {
		fmt.Fprintf(w, "  seq %d: %s\n", p.Seq, p.Reason)
	}
}

// formatSource shortens a verdict source for display.
func formatSource(source string) string {
	if source == "" {
		return "-"
	}
	return source
}

// formatDetail shows validation errors for rejected entries, otherwise the
// verdict rationale, truncated to 40 characters.
func formatDetail(e world.LedgerEntry) string {
	detail := e.Verdict.Rationale
	if len(e.Errors) > 0 {
		detail = strings.Join(e.Errors, "; ")
	}
	detail = strings.TrimSpace(strings.SplitN(detail, "\n", 2)[0])
	if detail == "" {
		return "-"
	}
	if len(detail) > 40 {
		return detail[:37] + "..."
	}
	return detail
}

// formatAge renders a creation time as "12s ago", "3m ago", "2h ago" or "4d ago".
func formatAge(createdAtMs int64, now time.Time) string {
	if createdAtMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(createdAtMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
