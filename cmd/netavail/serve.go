package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"netavail/internal/database"
	"netavail/internal/metrics"
	"netavail/internal/monitoring"
	"netavail/internal/web"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pollers and the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"config_file": configFile,
		"port":        cfg.Server.Port,
		"accounts":    len(cfg.Accounts),
	}).Info("Starting netavail")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	engine, err := monitoring.NewEngine(cfg, store, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to initialize monitoring engine: %w", err)
	}

	webServer := web.NewServer(cfg, engine, metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitoring engine: %w", err)
	}
	if err := webServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown reported an error")
	}
	engine.Stop()

	logrus.Info("Shutdown complete")
	return nil
}
