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

	"github.com/agentgrid-io/agentgrid/internal/auth"
	"github.com/agentgrid-io/agentgrid/internal/compute"
	"github.com/agentgrid-io/agentgrid/internal/config"
	"github.com/agentgrid-io/agentgrid/internal/deploystate"
	"github.com/agentgrid-io/agentgrid/internal/httpapi"
	"github.com/agentgrid-io/agentgrid/internal/logs"
	"github.com/agentgrid-io/agentgrid/internal/metricspoll"
	"github.com/agentgrid-io/agentgrid/internal/observability"
	"github.com/agentgrid-io/agentgrid/internal/realtime"
	"github.com/agentgrid-io/agentgrid/internal/reconcile"
	"github.com/agentgrid-io/agentgrid/internal/storage"
)

var (
	configFile string
	dataDir    string
	listen     string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "agentgrid",
		Short:   "AgentGrid - deployment reconciliation and realtime monitoring for MCP servers",
		Version: version,
		RunE:    runDaemon,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.agentgrid)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	zapLogger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()
	logger := zapLogger.Sugar()

	logger.Infow("Starting agentgrid",
		"version", version,
		"listen", cfg.Listen,
		"provisioner", cfg.ProvisionerURL,
		"data_dir", cfg.DataDir)

	store, err := storage.NewBoltStore(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("Failed to close storage", "error", err)
		}
	}()

	metrics := observability.NewMetricsManager(logger)
	metrics.SetUptime(time.Now())

	authSvc := auth.NewService(cfg, store, logger)
	provisioner := compute.NewClient(cfg.ProvisionerURL, logger)
	states := deploystate.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := compute.NewStatusFeed(provisioner, states, logger, cfg.StatusPollInterval)
	feed.Start(ctx)

	engine := reconcile.NewEngine(store, provisioner, logger, metrics)

	hub := realtime.NewHub(realtime.Options{
		Persistence:    store,
		Compute:        provisioner,
		Store:          states,
		Authenticator:  authSvc,
		Authorizer:     authSvc,
		Logger:         logger,
		Metrics:        metrics,
		StatusInterval: cfg.StatusPollInterval,
	})

	poller := metricspoll.New(states, store, provisioner, metrics, logger, cfg.MetricsPollInterval)
	poller.Start(ctx)

	api := httpapi.NewServer(httpapi.Options{
		Persistence:   store,
		Catalogs:      store,
		Store:         states,
		Authenticator: authSvc,
		Authorizer:    authSvc,
		Reconciler:    engine,
		Hub:           hub,
		Metrics:       metrics,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Errorw("HTTP server failed", "error", err)
	}

	// Shutdown order: realtime connections first so no subscription touches
	// a stopping component, then the background loops, then the listener.
	// Storage closes last, via defer.
	hub.Shutdown()
	poller.Stop()
	feed.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP shutdown incomplete", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if cfg.Logging == nil {
		cfg.Logging = config.DefaultConfig().Logging
	}
	return cfg, nil
}
