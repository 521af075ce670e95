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
	actActor    string
	actPlatform string
	actType     string
	actPayload  string
	actTarget   string
)

var actCmd = &cobra.Command{
	Use:   "act SESSION_ID",
	Short: "Submit an action to a session",
	Long: `Submit one action and print the arbiter's verdict.

Action types: move, cast_spell, build, attack.

Examples:
  gambit act $SESSION --actor 7 --type move --payload '{"position":[3,4]}'
  gambit act $SESSION --actor 7 --type cast_spell --payload '{"spell":"fireball"}' --target 8
  gambit act $SESSION --actor 7 --type build --payload '{"object":"tower"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runAct,
}

func init() {
	actCmd.Flags().StringVar(&actActor, "actor", "", "Acting actor id (required)")
	actCmd.Flags().StringVar(&actPlatform, "platform", "cli", "Originating platform")
	actCmd.Flags().StringVar(&actType, "type", "", "Action type (required)")
	actCmd.Flags().StringVar(&actPayload, "payload", "{}", "Action payload as a JSON object")
	actCmd.Flags().StringVar(&actTarget, "target", "", "Optional target actor id")
	_ = actCmd.MarkFlagRequired("actor")
	_ = actCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(actCmd)
}

func runAct(cmd *cobra.Command, args []string) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(actPayload), &payload); err != nil {
		return printer.Error(
			"invalid payload",
			fmt.Sprintf("--payload must be a JSON object: %v", err),
			[]string{`Example: --payload '{"position":[3,4]}'`},
		)
	}

	action := world.Action{
		ActorID:  actActor,
		Platform: actPlatform,
		Type:     world.ActionType(actType),
		Payload:  payload,
		TargetID: actTarget,
	}

	res, err := apiClient().SubmitAction(context.Background(), args[0], action)
	if err != nil {
		return apiFailure("act", err)
	}

	if res.Error != "" {
		return printer.ErrorWithContext(
			"action rejected",
			res.Error,
			map[string]string{"Turn": fmt.Sprintf("%d", res.TurnNumber), "Entry": printer.ShortHash(res.EntryHash)},
			[]string{"Valid action types: " + knownTypes()},
		)
	}

	printer.Verdict(res.Verdict)
	if res.Applied {
		printer.Success("Applied: turn %d, state %s\n", res.TurnNumber, printer.ShortHash(res.NewStateHash))
	} else {
		printer.Warning("Not applied: turn stays at %d\n", res.TurnNumber)
	}
	printer.Info("  entry: %s (seq %d)\n", res.EntryHash, res.Seq)
	return nil
}

func knownTypes() string {
	names := make([]string, 0, len(world.KnownActionTypes))
	for _, t := range world.KnownActionTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
