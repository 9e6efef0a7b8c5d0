package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetcdn/internal/metrics"
	"github.com/BadgerOps/assetcdn/internal/resource"
	"github.com/BadgerOps/assetcdn/internal/server"
	"github.com/BadgerOps/assetcdn/internal/store"
)

var (
	serveListen string
	serveDBPath string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP resolution API",
		Long: `Start the HTTP server exposing resolution, mirror health and metrics.

The first health-check round starts in the background; /api/resolve answers
immediately, using the primary mirror until the round lands. Completed rounds
are recorded in SQLite (in memory unless server.db_path or --db is set).`,
		Example: `  assetcdn serve
  assetcdn serve --listen 0.0.0.0:9000
  assetcdn serve --db /var/lib/assetcdn/history.db`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (default server.listen)")
	cmd.Flags().StringVar(&serveDBPath, "db", "", "SQLite file for health history (default server.db_path)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	listen := globalCfg.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}
	dbPath := globalCfg.Server.DBPath
	if serveDBPath != "" {
		dbPath = serveDBPath
	}

	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	mt := metrics.New()
	mgr, err := newManager(resource.WithRecorder(st), resource.WithMetrics(mt))
	if err != nil {
		return err
	}

	logger.Info("server starting", "listen", listen, "mode", mgr.Mode(), "mirrors", len(mgr.Endpoints()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	go func() {
		if err := mgr.Initialize(ctx); err != nil {
			logger.Warn("initial health check interrupted", "error", err)
			return
		}
		logger.Info("initial health check finished", "took", time.Since(started).Round(time.Millisecond))
	}()

	srv := server.NewServer(mgr, st, mt, logger)

	errChan := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
	}

	return nil
}
