package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/gambit/internal/api"
	"github.com/dyluth/gambit/internal/printer"
	"github.com/spf13/cobra"
)

var stateTurn int

var stateCmd = &cobra.Command{
	Use:   "state SESSION_ID",
	Short: "Print the world state as JSON",
	Long: `Print the current world state, or the state as it was after a given
turn with --turn.

Examples:
  gambit state $SESSION
  gambit state $SESSION --turn 0 | jq .positions`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

func init() {
	stateCmd.Flags().IntVar(&stateTurn, "turn", -1, "Historical turn to show (default: current)")
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c := apiClient()

	var view *api.StateView
	var err error
	if stateTurn >= 0 {
		view, err = c.StateAt(ctx, args[0], stateTurn)
	} else {
		view, err = c.State(ctx, args[0])
	}
	if err != nil {
		return apiFailure("state", err)
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	printer.Info("%s\n", data)
	return nil
}
