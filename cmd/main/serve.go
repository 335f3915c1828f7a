package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tabscope/internal/api"
	"tabscope/internal/config"
	"tabscope/internal/db"
	"tabscope/internal/db/repositories"
	"tabscope/internal/logging"
	"tabscope/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the context store API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	repos := repositories.New(database)

	retention := services.NewRetentionService(repos)
	if err := retention.Start(cfg.RetentionCron); err != nil {
		return fmt.Errorf("failed to start retention sweeps: %w", err)
	}
	defer retention.Stop()

	// Shut down on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("Received signal %v, shutting down", sig)
		cancel()
	}()

	server := api.New(cfg, database)
	return server.Start(ctx)
}
