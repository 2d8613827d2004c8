/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reporting-obligation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults -> YAML -> REPORTING_* env -> flags)
  2. Initialize logging
  3. Open the SQLite store
  4. Build the engine service, authorizer and HTTP router
  5. Run the HTTP server and generation scheduler under a suture supervisor

COMMAND-LINE FLAGS:
  --config  YAML config file (default: $CONFIG_PATH or ./config.yaml)
  --port    HTTP server port, overrides server.port
  --db      SQLite database path, overrides database.path
            Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the supervisor cancels every service; the HTTP service
  drains active requests within server.shutdown_timeout, then the store is
  closed.

EXAMPLES:
  # Run with file database
  ./reporting-server --db=./data/reporting.db

  # Run with in-memory database and demo scenarios
  REPORTING_SERVER_SCENARIOS=true ./reporting-server --db=":memory:"

SEE ALSO:
  - config/koanf.go: Configuration layering
  - api/server.go: Router configuration
  - api/scheduler.go: Supervised services
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/warp/reporting-engine/api"
	"github.com/warp/reporting-engine/config"
	"github.com/warp/reporting-engine/logging"
	"github.com/warp/reporting-engine/obligation"
	"github.com/warp/reporting-engine/store/sqlite"
)

var (
	cfgPath string
	port    int
	dbPath  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "reporting-server",
		Short:        "Serve the reporting-obligation period engine",
		SilenceUsage: true,
		RunE:         runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (overrides server.port)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.Component("server")

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc := obligation.NewService(store, obligation.ServiceOptions{
		DueOffsetDays: cfg.Engine.DueOffsetDays,
		DueSoonDays:   cfg.Engine.DueSoonDays,
		AuditWindow:   cfg.Engine.AuditWindow,
		Observer:      api.MetricsObserver{},
	})

	authz, err := api.NewAuthorizer()
	if err != nil {
		return err
	}
	handler := api.NewHandler(svc, authz)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		Scenarios:   cfg.Server.Scenarios,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sup := suture.New("reporting-engine", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Str("event", e.String()).Msg("supervisor event")
		},
		Timeout: cfg.Server.ShutdownTimeout + time.Second,
	})
	sup.Add(api.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	if cfg.Scheduler.Enabled {
		sup.Add(api.NewGenerationScheduler(svc, cfg.Scheduler.Interval, cfg.Scheduler.HorizonMonths))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().
		Str("addr", server.Addr).
		Str("db", cfg.Database.Path).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("server starting")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
