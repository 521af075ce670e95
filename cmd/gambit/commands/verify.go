package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/gambit/internal/ledgerview"
	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/internal/session"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/spf13/cobra"
)

var (
	verifyRemote bool
	verifyOutput string
)

var verifyCmd = &cobra.Command{
	Use:   "verify SESSION_ID",
	Short: "Recompute and check a session's hash chain",
	Long: `Verify a session's ledger. By default the CLI reads the genesis state,
the ledger and the session head from Redis and recomputes every entry hash
itself, so a compromised orchestrator cannot vouch for its own ledger.
--remote asks the orchestrator to run the same check instead.

The command fails when the chain is broken.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyRemote, "remote", false, "Ask the orchestrator to verify instead of recomputing locally")
	verifyCmd.Flags().StringVarP(&verifyOutput, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessionID := args[0]

	if verifyOutput != "default" && verifyOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", verifyOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	var report world.ChainReport
	if verifyRemote {
		r, err := apiClient().Verify(ctx, sessionID)
		if err != nil {
			return apiFailure("verify", err)
		}
		report = *r
	} else {
		r, err := verifyLocally(ctx, sessionID)
		if err != nil {
			return err
		}
		report = r
	}

	if verifyOutput == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		printer.Info("%s\n", data)
	} else {
		ledgerview.FormatReport(printer.Out, sessionID, report)
	}

	if !report.Valid {
		return fmt.Errorf("ledger for session %s failed verification", sessionID)
	}
	return nil
}

func verifyLocally(ctx context.Context, sessionID string) (world.ChainReport, error) {
	sc, err := connectStore(ctx)
	if err != nil {
		return world.ChainReport{}, err
	}
	defer sc.Close()

	head, err := sc.GetSession(ctx, sessionID)
	if err != nil {
		return world.ChainReport{}, printer.Error(
			fmt.Sprintf("session '%s' not found", sessionID),
			fmt.Sprintf("Error: %v", err),
			[]string{"Check --namespace and the session id"},
		)
	}

	genesis, err := sc.GetState(ctx, sessionID, 0)
	if err != nil {
		return world.ChainReport{}, printer.Error("genesis state missing", fmt.Sprintf("Error: %v", err), nil)
	}

	entries, err := sc.Ledger(ctx, sessionID, 0)
	if err != nil {
		return world.ChainReport{}, printer.Error("failed to read ledger", err.Error(), nil)
	}

	return session.VerifyAgainst(head, genesis, entries), nil
}
