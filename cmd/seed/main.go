package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/roary/feed/internal/cache"
	"github.com/roary/feed/internal/db"
	"github.com/roary/feed/internal/seed"
	"github.com/roary/feed/pkg/config"
	"github.com/roary/feed/pkg/logging"
)

func main() {
	envErr := godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Roary seeder")
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("Could not read .env", zap.Error(envErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	repo := db.NewRepository(database.DB)
	n, err := seed.New(db.NewPostRepository(repo), db.NewUserRepository(repo), nil, logger).Run(ctx)
	if err != nil {
		logger.Fatal("Seeding failed", zap.Error(err))
	}
	if n == 0 {
		return
	}

	// A timeline cached before the seed would hide the new posts
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, timeline not reset", zap.Error(err))
		return
	}
	defer redisCache.Close()
	if err := redisCache.TimelineReset(ctx); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		logger.Warn("Failed to reset timeline", zap.Error(err))
	}

	logger.Info("Seeder exited", zap.Int("posts", n))
}
