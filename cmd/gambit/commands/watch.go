package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchOutput    string
	watchCount     int
	watchUntilTurn int
	watchTimeout   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [SESSION_ID]",
	Short: "Stream live state updates",
	Long: `Stream state updates as sessions advance. Without SESSION_ID every
session in the namespace is watched.

Output Formats:
  default - One human-readable line per update
  json    - Line-delimited JSON for programmatic processing

Examples:
  gambit watch
  gambit watch $SESSION --output=json > updates.jsonl
  gambit watch $SESSION --until-turn 10 --timeout 1m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "Exit after this many updates (0 = unlimited)")
	watchCmd.Flags().IntVar(&watchUntilTurn, "until-turn", 0, "Block until the session reaches this turn, then exit")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 5*time.Minute, "Timeout for --until-turn")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutput {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	sessionID := ""
	if len(args) == 1 {
		sessionID = args[0]
	}
	if watchUntilTurn > 0 && sessionID == "" {
		return printer.Error("--until-turn needs a session", "Pass the session to wait on.", []string{"gambit watch SESSION_ID --until-turn N"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	if watchUntilTurn > 0 {
		s, err := watch.WaitForTurn(ctx, sc, sessionID, watchUntilTurn, watchTimeout)
		if err != nil {
			return printer.Error("session did not advance", err.Error(), nil)
		}
		printer.Success("Session %s reached turn %d (%s)\n", s.ID, s.CurrentTurn, printer.ShortHash(s.CurrentHash))
		return nil
	}

	sub, err := sc.SubscribeUpdates(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	if format == watch.OutputFormatDefault {
		target := "all sessions"
		if sessionID != "" {
			target = "session " + sessionID
		}
		printer.Step("Watching %s in namespace '%s' (Ctrl+C to stop)\n", target, namespace)
	}

	_, err = watch.Stream(ctx, sub, format, watchCount, printer.Out, printer.Err)
	return err
}
