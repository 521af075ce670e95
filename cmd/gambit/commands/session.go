package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/spf13/cobra"
)

var (
	sessionCells  []string
	sessionOutput string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, inspect and archive sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a new session at turn 0",
	Long: `Start a new session. --cell sets the terrain of one "x,y" board cell;
cells with terrain "wall" cannot be moved onto.

Examples:
  gambit session create
  gambit session create --cell 3,4=grass --cell 5,5=wall`,
	Args: cobra.NoArgs,
	RunE: runSessionCreate,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show session metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionArchiveCmd = &cobra.Command{
	Use:   "archive SESSION_ID",
	Short: "Archive a session after its in-flight actions finish",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionArchive,
}

func init() {
	sessionCreateCmd.Flags().StringArrayVar(&sessionCells, "cell", nil, "Board cell terrain as x,y=terrain (repeatable)")
	sessionShowCmd.Flags().StringVarP(&sessionOutput, "output", "o", "default", "Output format: default or json")

	sessionCmd.AddCommand(sessionCreateCmd, sessionShowCmd, sessionArchiveCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	board, err := parseCells(sessionCells)
	if err != nil {
		return printer.Error("invalid --cell", err.Error(), []string{"Example: --cell 3,4=grass"})
	}

	created, err := apiClient().CreateSession(context.Background(), board)
	if err != nil {
		return apiFailure("session create", err)
	}

	printer.Success("Session %s created\n", created.ID)
	printer.Info("  turn: %d\n  hash: %s\n", created.CurrentTurn, created.CurrentHash)
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	s, err := apiClient().Session(context.Background(), args[0])
	if err != nil {
		return apiFailure("session show", err)
	}

	switch sessionOutput {
	case "json":
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		printer.Info("%s\n", data)
	case "default":
		printSession(s)
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", sessionOutput),
			[]string{"Valid formats: default, json"},
		)
	}
	return nil
}

func runSessionArchive(cmd *cobra.Command, args []string) error {
	if err := apiClient().Archive(context.Background(), args[0]); err != nil {
		return apiFailure("session archive", err)
	}
	printer.Success("Session %s archived\n", args[0])
	return nil
}

func printSession(s *world.GameSession) {
	printer.Info("Session %s\n", s.ID)
	printer.Info("  status:    %s\n", s.Status)
	printer.Info("  turn:      %d\n", s.CurrentTurn)
	printer.Info("  hash:      %s\n", s.CurrentHash)
	printer.Info("  ledger:    %d entries\n", s.LedgerLength)
	if len(s.Platforms) == 0 {
		printer.Info("  platforms: -\n")
	} else {
		printer.Info("  platforms: %v\n", s.Platforms)
	}
}

// parseCells turns "x,y=terrain" flags into a board map.
func parseCells(cells []string) (map[string]string, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	board := make(map[string]string, len(cells))
	for _, c := range cells {
		key, terrain, ok := strings.Cut(c, "=")
		if !ok || terrain == "" {
			return nil, fmt.Errorf("%q must be formatted as x,y=terrain", c)
		}
		var x, y int
		if _, err := fmt.Sscanf(key, "%d,%d", &x, &y); err != nil {
			return nil, fmt.Errorf("%q: cell must be two integers x,y", c)
		}
		board[fmt.Sprintf("%d,%d", x, y)] = terrain
	}
	return board, nil
}
