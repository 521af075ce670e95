package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/gambit/internal/api"
	"github.com/dyluth/gambit/internal/config"
	"github.com/dyluth/gambit/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load environment variables
	daemonEnv, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 2. Load gambit.yml (or defaults) and apply overrides
	cfg, err := daemonEnv.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 3. Parse Redis URL
	redisOpts, err := redis.ParseURL(daemonEnv.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 4. Create store client
	client, err := store.NewClient(redisOpts, cfg.Namespace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create store client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// 5. Verify Redis connectivity
	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 6. Assemble the session manager
	manager, err := buildManager(cfg, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Orchestrator starting for namespace '%s' (arbiter: %s, capabilities: %s)\n",
		cfg.Namespace, cfg.Arbiter.Kind, cfg.Capabilities.Kind)

	// 7. Start the HTTP API
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(manager, client, cfg.Broadcast.PushTimeout()).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Orchestrator] Listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 8. Wait for shutdown signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	// 9. Stop accepting requests, then drain pending pushes
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Orchestrator] HTTP shutdown error: %v", err)
	}
	manager.Drain()

	fmt.Println("Orchestrator stopped")
}
