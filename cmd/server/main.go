/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory reimbursement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and the YAML config (environment overrides the file)
  2. Build the logger and the Prometheus registry
  3. Wire store, report client, orchestrator and side channels
  4. Configure HTTP router and start the daily scheduler
  5. Watch the config file for cost and retention changes
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: config.yaml, optional)
  -env     dotenv file (default: .env, optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels a sync in flight)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and backend connections

EXAMPLES:
  # Run with file config
  ./server -config=./config.yaml

  # Run from the environment only
  UPSTREAM_ACCESS_TOKEN=... MARKETPLACE_ID=... ./server -config=""

SEE ALSO:
  - app/app.go: Component wiring
  - api/server.go: Router configuration
  - config/config.go: Settings and environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/warp/reimbursement-engine/api"
	"github.com/warp/reimbursement-engine/app"
	"github.com/warp/reimbursement-engine/config"
	"github.com/warp/reimbursement-engine/observe"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config path")
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Parse()

	config.LoadEnv(*envFile)
	if *configPath != "" {
		if _, err := os.Stat(*configPath); err != nil {
			*configPath = ""
		}
	}

	boot := observe.NewLogger("info", "json", nil)
	loader, err := config.NewLoader(*configPath, boot)
	if err != nil {
		boot.WithError(err).Fatal("failed to load config")
	}
	cfg := loader.Config()

	logger := observe.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger, reg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize")
	}
	defer a.Close()

	// Initialize handler
	handler := api.NewHandler(a.Service, a.Sweeper, a.Syncer, a.Store, a.Costs, logger)
	handler.SetRetentionDays(cfg.Retention.Days)

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Gatherer:       reg,
		Health:         a.Store.Ping,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Scheduler
	scheduler := api.NewSyncScheduler(a.Syncer, a.Sweeper, logger)
	scheduler.Enabled = cfg.Sync.Schedule
	scheduler.CheckInterval = cfg.Sync.CheckInterval
	scheduler.SetRetentionDays(cfg.Retention.Days)
	scheduler.Start()

	// Hot reload of costs and retention
	loader.OnChange(func(next *config.Config) {
		if err := a.ApplyCosts(next.Costs); err != nil {
			logger.WithError(err).Warn("cost reload rejected")
		}
		handler.SetRetentionDays(next.Retention.Days)
		scheduler.SetRetentionDays(next.Retention.Days)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.WithError(err).Warn("config hot reload disabled")
		stopWatch = func() {}
	}
	defer stopWatch()

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Sync.MaxWait + 2*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":      cfg.Server.Addr,
			"database":  cfg.Database.Path,
			"scheduler": cfg.Sync.Schedule,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}

	logger.Info("server stopped")
}
