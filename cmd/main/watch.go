package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"tabscope/internal/classifier"
	"tabscope/internal/config"
	"tabscope/internal/delivery"
	"tabscope/internal/logging"
	"tabscope/internal/monitor"
	"tabscope/internal/observers"
	"tabscope/pkg/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail a signal stream and deliver captured activity to the collector",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatcher()
	},
}

func runWatcher() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cache, err := buildIdentityCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to build identity cache: %w", err)
	}
	defer cache.Close()

	source := observers.NewTailSource(afero.NewOsFs(), cfg.SignalFile)
	sender := delivery.NewClient(cfg.CollectorURL, cfg.CollectorKey)

	mon := monitor.New(source, sender, monitor.Options{
		UserID:        cfg.UserID,
		IdentityCache: cache,
		Metadata: models.SessionMetadata{
			Browser: "tabscope-watch",
		},
	})

	mon.Start()
	logging.Info("Watching %s, delivering to %s", cfg.SignalFile, cfg.CollectorURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("Received signal %v, stopping capture", sig)

	mon.Stop()
	source.Close()
	return nil
}

// buildIdentityCache picks the cache driver from config: a redis URL selects
// the shared redis cache, otherwise identities stay process-local.
func buildIdentityCache(cfg *config.Config) (classifier.Cache, error) {
	if cfg.RedisURL == "" {
		return classifier.NewCache(classifier.CacheMemory)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return classifier.NewCache(classifier.CacheRedis, classifier.WithRedisClient(redis.NewClient(opts)))
}
