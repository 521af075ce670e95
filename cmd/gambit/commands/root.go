package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/gambit/internal/client"
	"github.com/dyluth/gambit/internal/config"
	"github.com/dyluth/gambit/internal/printer"
	"github.com/dyluth/gambit/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	serverURL string
	redisURL  string
	namespace string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gambit",
	Short: "Gambit - cross-platform action orchestrator",
	Long: `Gambit coordinates player actions submitted from many platforms (web,
chat, voice) against one shared world state.

Every action is validated, judged by an arbiter, applied to the world state
and recorded in a hash-chained ledger before the change is pushed to every
connected platform.

Commands that change a session talk to the orchestrator's HTTP API
(--server). Inspection commands read the ledger straight from Redis
(--redis-url, --namespace).`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	defaults, err := config.LoadCLIEnv()
	if err != nil {
		defaults = config.CLIEnv{Server: "http://localhost:8080", RedisURL: "redis://localhost:6379", Namespace: "default"}
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaults.Server, "Orchestrator base URL (env GAMBIT_SERVER)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", defaults.RedisURL, "Redis URL for inspection commands (env REDIS_URL)")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", defaults.Namespace, "Orchestrator namespace in Redis (env GAMBIT_NAMESPACE)")
}

// apiClient returns a client for the orchestrator API.
func apiClient() *client.Client {
	return client.New(serverURL, nil)
}

// connectStore opens and pings the namespace's Redis store.
func connectStore(ctx context.Context) (*store.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Could not parse --redis-url %q: %v", redisURL, err),
			[]string{"Use the form redis://host:port/db"},
		)
	}

	sc, err := store.NewClient(opts, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create store client: %w", err)
	}

	if err := sc.Ping(ctx); err != nil {
		sc.Close()
		return nil, printer.ErrorWithContext(
			"Redis not reachable",
			fmt.Sprintf("Error: %v", err),
			map[string]string{"Redis": redisURL, "Namespace": namespace},
			[]string{"Check that the orchestrator's Redis is running and --redis-url points at it"},
		)
	}
	return sc, nil
}

// apiFailure turns an orchestrator call error into a printed CLI error.
func apiFailure(action string, err error) error {
	if client.IsNotFound(err) {
		return printer.Error(
			fmt.Sprintf("%s failed: not found", action),
			err.Error(),
			[]string{"Check the session id (and turn) you passed"},
		)
	}
	return printer.ErrorWithContext(
		fmt.Sprintf("%s failed", action),
		err.Error(),
		map[string]string{"Server": serverURL},
		[]string{"Check that the orchestrator is running:\n  curl " + serverURL + "/healthz"},
	)
}
