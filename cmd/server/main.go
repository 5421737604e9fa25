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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/roary/feed/internal/api"
	"github.com/roary/feed/internal/cache"
	"github.com/roary/feed/internal/db"
	"github.com/roary/feed/internal/feed"
	"github.com/roary/feed/pkg/config"
	"github.com/roary/feed/pkg/logging"
	"github.com/roary/feed/pkg/telemetry"
)

func main() {
	// A missing .env is fine; the environment may already be set.
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
	logger.Info("Starting Roary feed server")
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("Could not read .env", zap.Error(envErr))
	}

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// The feed keeps serving from the database when Redis is unreachable.
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, serving from the database only", zap.Error(err))
		redisCache = nil
	}
	defer redisCache.Close()

	repo := db.NewRepository(database.DB)
	posts := db.NewPostRepository(repo)
	users := db.NewUserRepository(repo)
	if err := db.RegisterMetrics(telemetry.Meter(), posts, users); err != nil {
		logger.Warn("Failed to register database metrics", zap.Error(err))
	}

	engine := feed.NewEngine(posts, redisCache, feed.ConfigFrom(&cfg.Feed), logger)

	// Warm the timeline so the first reader does not pay for it
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 10*time.Second)
	if n, err := engine.PopulateTimelineCache(warmCtx, cfg.Feed.TimelineLimit); err != nil {
		logger.Warn("Timeline warm-up failed", zap.Error(err))
	} else {
		logger.Info("Timeline warmed", zap.Int("entries", n))
	}
	cancelWarm()

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api.NewRouter(engine, map[string]api.HealthChecker{
		"database": database,
		"cache":    redisCache,
	}).SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
