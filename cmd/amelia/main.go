// Amelia orchestrator server - drives the Architect/Developer/Reviewer
// workflow state machine and exposes it over HTTP/WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/amelia-dev/amelia/pkg/agents"
	"github.com/amelia-dev/amelia/pkg/api"
	"github.com/amelia-dev/amelia/pkg/config"
	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/drivers"
	"github.com/amelia-dev/amelia/pkg/drivers/grpcdriver"
	"github.com/amelia-dev/amelia/pkg/events"
	"github.com/amelia-dev/amelia/pkg/eventstore"
	"github.com/amelia-dev/amelia/pkg/orchestrator"
	"github.com/amelia-dev/amelia/pkg/retention"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env", "path", envPath, "error", err)
		slog.Info("continuing with existing environment variables")
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("starting amelia", "http_port", httpPort, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("loaded profiles", "count", stats.Profiles, "config_dir", *configDir)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgresql database")

	store := eventstore.New(dbClient.Client, dbClient.DB())

	connManager := events.NewConnectionManager(
		store,
		10*time.Second,
		30*time.Second,
		cfg.Orchestrator.WebSocketIdleTimeout,
	)

	bus := events.NewBus(store, connManager, cfg.Retention.TracePersistenceEnabled)

	workflows := orchestrator.NewWorkflowRepository(dbClient.Client)
	checkpoints := orchestrator.NewCheckpointer(dbClient.Client)

	driverFactory, closeDrivers, err := newDriverFactory(cfg.Defaults)
	if err != nil {
		slog.Error("failed to build driver factory", "error", err)
		os.Exit(1)
	}
	defer closeDrivers()

	orchLog := slog.Default().With("component", "orchestrator")
	orch := orchestrator.NewService(
		workflows,
		checkpoints,
		bus,
		cfg.Profiles,
		cfg.Defaults,
		cfg.Orchestrator,
		driverFactory,
		orchLog,
	)

	retentionSvc := retention.NewService(
		cfg.Retention,
		cfg.Orchestrator,
		store,
		checkpoints,
		slog.Default().With("component", "retention"),
	)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	server := api.NewServer(cfg, dbClient, orch, store, connManager)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("draining active workflows")
	orch.Shutdown(cfg.Orchestrator.GracefulShutdownTimeout)

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http server", "error", err)
	}

	slog.Info("shutdown complete")
}

// newDriverFactory builds the orchestrator.DriverFactory used to resolve a
// Driver for a given agent role + profile. Only the "grpc" backend is wired:
// it dials a single shared AgentDriver sidecar (DRIVER_GRPC_ADDR) regardless
// of role or profile overrides, since the sidecar itself owns per-role model
// routing (§1 treats the driver backend as an external collaborator).
func newDriverFactory(defaults *config.Defaults) (orchestrator.DriverFactory, func(), error) {
	switch defaults.Driver {
	case "grpc", "":
		addr := getEnv("DRIVER_GRPC_ADDR", "localhost:50051")
		client, err := grpcdriver.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial driver sidecar at %s: %w", addr, err)
		}
		factory := func(role agents.Role, profile *config.Profile) (drivers.Driver, error) {
			return client, nil
		}
		return factory, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unsupported driver backend %q", defaults.Driver)
	}
}
