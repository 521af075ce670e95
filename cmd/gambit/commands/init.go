package commands

import (
	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter gambit.yml",
	Long: `Write a commented gambit.yml for the orchestrator, using --namespace as
the Redis namespace.

Use --force to overwrite an existing gambit.yml.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing gambit.yml")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write gambit.yml into")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := scaffold.Initialize(initDir, namespace, forceInit, printer.Out)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}
	scaffold.PrintSuccess(printer.Out, path)
	return nil
}
