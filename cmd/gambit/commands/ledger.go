package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/gambit/internal/ledgerview"
	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/internal/resolver"
	"github.com/dyluth/gambit/internal/timespec"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/spf13/cobra"
)

var (
	ledgerOutput    string
	ledgerSince     string
	ledgerUntil     string
	ledgerSinceTurn int
	ledgerAction    string
	ledgerActor     string
	ledgerPlatform  string
	ledgerOutcome   string
	ledgerApplied   bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger SESSION_ID [ENTRY_HASH]",
	Short: "Inspect a session's action ledger",
	Long: `Inspect the append-only action ledger of a session, read directly from Redis.

List Mode (no ENTRY_HASH):
  Displays entries matching the filters as a table or JSONL stream.

Get Mode (with ENTRY_HASH):
  Displays one entry as pretty-printed JSON. Accepts a hash prefix of at
  least 6 hex digits, with or without the "sha256:" tag.

Examples:
  # Every entry
  gambit ledger $SESSION

  # Failed actions from the last hour
  gambit ledger $SESSION --outcome failure --since 1h

  # Spells cast by actor 7, as JSONL for jq
  gambit ledger $SESSION --actor 7 --action cast_spell -o jsonl | jq .verdict

  # One entry by short hash
  gambit ledger $SESSION 3fa9c1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().StringVarP(&ledgerOutput, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	ledgerCmd.Flags().StringVar(&ledgerSince, "since", "", "Show entries after time (duration or RFC3339)")
	ledgerCmd.Flags().StringVar(&ledgerUntil, "until", "", "Show entries before time (duration or RFC3339)")
	ledgerCmd.Flags().IntVar(&ledgerSinceTurn, "since-turn", 0, "Show entries submitted at or after this turn")
	ledgerCmd.Flags().StringVar(&ledgerAction, "action", "", "Filter by action type (glob pattern)")
	ledgerCmd.Flags().StringVar(&ledgerActor, "actor", "", "Filter by actor id (exact match)")
	ledgerCmd.Flags().StringVar(&ledgerPlatform, "platform", "", "Filter by platform (exact match)")
	ledgerCmd.Flags().StringVar(&ledgerOutcome, "outcome", "", "Filter by outcome: success, partial or failure")
	ledgerCmd.Flags().BoolVar(&ledgerApplied, "applied", false, "Only entries that changed the world state")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessionID := args[0]

	sc, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	if len(args) == 2 {
		err := ledgerview.GetEntry(ctx, sc, sessionID, args[1], printer.Out)
		var amb *resolver.AmbiguousError
		switch {
		case err == nil:
			return nil
		case resolver.IsNotFoundError(err):
			return printer.Error("ledger entry not found", err.Error(), []string{
				fmt.Sprintf("List the ledger:\n  gambit ledger %s", sessionID),
			})
		case errors.As(err, &amb):
			return printer.Error("ambiguous entry hash", resolver.FormatAmbiguousError(amb), nil)
		default:
			return printer.Error("failed to read ledger entry", err.Error(), nil)
		}
	}

	var format ledgerview.OutputFormat
	switch ledgerOutput {
	case "default":
		format = ledgerview.OutputFormatDefault
	case "jsonl":
		format = ledgerview.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", ledgerOutput),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	window, err := timespec.ParseWindow(ledgerSince, ledgerUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{"Use a duration like 1h30m or an RFC3339 timestamp"})
	}

	outcome := world.Outcome(ledgerOutcome)
	if outcome != "" {
		if err := outcome.Validate(); err != nil {
			return printer.Error("invalid outcome filter", err.Error(), []string{"Valid outcomes: success, partial, failure"})
		}
	}

	if _, err := sc.GetSession(ctx, sessionID); err != nil {
		return printer.Error(
			fmt.Sprintf("session '%s' not found", sessionID),
			fmt.Sprintf("No session with that id exists in namespace '%s'.", namespace),
			[]string{"Check --namespace and the session id"},
		)
	}

	filters := &ledgerview.FilterCriteria{
		SinceTurn:   ledgerSinceTurn,
		Window:      window,
		ActionGlob:  ledgerAction,
		ActorID:     ledgerActor,
		Platform:    ledgerPlatform,
		Outcome:     outcome,
		AppliedOnly: ledgerApplied,
	}
	return ledgerview.ListEntries(ctx, sc, sessionID, format, filters, printer.Out)
}
