package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/gambit/internal/arbiter"
	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/pkg/world"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	refereeOnce bool
	refereeWait time.Duration
)

var refereeCmd = &cobra.Command{
	Use:   "referee",
	Short: "Judge queued actions by hand",
	Long: `Act as the human referee for an orchestrator running with
"arbiter.kind: referee". Pending actions are shown one at a time; answer
each with a ruling line:

  <success|partial|failure> [confidence] <rationale>

Confidence defaults to 1.0. Rulings arriving after the orchestrator's
arbiter timeout are discarded and the fallback verdict stands.

Examples:
  gambit referee
  gambit referee --once --wait 2m`,
	Args: cobra.NoArgs,
	RunE: runReferee,
}

func init() {
	refereeCmd.Flags().BoolVar(&refereeOnce, "once", false, "Judge a single request and exit")
	refereeCmd.Flags().DurationVar(&refereeWait, "wait", 30*time.Second, "How long to wait for each request")
	rootCmd.AddCommand(refereeCmd)
}

func runReferee(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	referee := arbiter.NewReferee(sc.Redis(), sc.Namespace())
	in := bufio.NewReader(cmd.InOrStdin())

	printer.Step("Waiting for actions in namespace '%s' (Ctrl+C to stop)\n", namespace)
	for {
		pending, err := referee.NextRequest(ctx, refereeWait)
		switch {
		case errors.Is(err, redis.Nil):
			if refereeOnce {
				return printer.Error("no pending actions", fmt.Sprintf("Nothing was queued within %v.", refereeWait), nil)
			}
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return printer.Error("failed to read referee queue", err.Error(), nil)
		}

		describeRequest(pending)
		verdict, err := readRuling(in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := referee.Respond(ctx, pending.RequestID, verdict); err != nil {
			return printer.Error("failed to deliver ruling", err.Error(), nil)
		}
		printer.Success("Ruled %s on request %s\n", verdict.Outcome, pending.RequestID)

		if refereeOnce {
			return nil
		}
	}
}

func describeRequest(p *arbiter.RefereeRequest) {
	req := p.Request
	printer.Info("\nRequest %s (session %s)\n", p.RequestID, req.SessionID)
	printer.Info("  actor:     %s via %s\n", req.Action.ActorID, req.Action.Platform)
	printer.Info("  action:    %s %v\n", req.Action.Type, req.Action.Payload)
	if req.Action.TargetID != "" {
		printer.Info("  target:    %s\n", req.Action.TargetID)
	}
	printer.Info("  abilities: %v\n", req.Capabilities.Abilities)
	if req.State != nil {
		printer.Info("  turn:      %d\n", req.State.TurnNumber)
	}
	printer.Info("ruling> ")
}

// readRuling reads ruling lines until one parses.
func readRuling(in *bufio.Reader) (world.Verdict, error) {
	for {
		line, err := in.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			verdict, perr := parseRuling(line)
			if perr == nil {
				return verdict, nil
			}
			printer.Warning("%v\nruling> ", perr)
		}
		if err != nil {
			return world.Verdict{}, err
		}
	}
}

// parseRuling parses "<outcome> [confidence] <rationale>".
func parseRuling(line string) (world.Verdict, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return world.Verdict{}, fmt.Errorf("expected: <success|partial|failure> [confidence] <rationale>")
	}

	v := world.Verdict{Outcome: world.Outcome(strings.ToLower(fields[0])), Confidence: 1, Source: arbiter.SourceReferee}
	rest := fields[1:]
	if c, err := strconv.ParseFloat(rest[0], 64); err == nil && len(rest) > 1 {
		v.Confidence = c
		rest = rest[1:]
	}
	v.Rationale = strings.Join(rest, " ")

	if err := v.Validate(); err != nil {
		return world.Verdict{}, err
	}
	return v, nil
}
