package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roary/feed/internal/cache"
	"github.com/roary/feed/internal/feed"
	"github.com/roary/feed/pkg/logging"
	"github.com/roary/feed/pkg/telemetry"
)

const healthTimeout = 2 * time.Second

// HealthChecker is a dependency /health reports on
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	posts  *PostsAPI
	checks map[string]HealthChecker
	logger *zap.Logger
}

// NewRouter creates a new API router. checks are reported by /health under their keys.
func NewRouter(engine *feed.Engine, checks map[string]HealthChecker) *Router {
	logger := logging.WithComponent("api-router")
	return &Router{
		posts:  NewPostsAPI(engine, logger),
		checks: checks,
		logger: logger,
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.Use(RequestID(), AccessLog(r.logger))

	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)
	engine.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	api := engine.Group("/api")
	api.GET("/ping", r.pingHandler)
	api.GET("/posts", r.posts.ListPosts)
	api.GET("/posts/search", r.posts.SearchPosts)
	api.GET("/posts/:id", r.posts.GetPost)
	api.GET("/users/:username/posts", r.posts.UserPosts)

	authed := api.Group("", requireAuthor(r.logger))
	authed.POST("/posts", r.posts.CreatePost)
	authed.PUT("/posts/:id", r.posts.UpdatePost)
	authed.DELETE("/posts/:id", r.posts.DeletePost)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := make(map[string]string, len(r.checks))
	for _, name := range names {
		err := r.checks[name].Health(ctx)
		switch {
		case err == nil:
			components[name] = "ok"
		case errors.Is(err, cache.ErrCacheDisabled):
			components[name] = "disabled"
		default:
			components[name] = "unavailable"
			status = http.StatusServiceUnavailable
			r.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
		}
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "roary-feed",
		"components": components,
	})
}

func (r *Router) pingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pong": true,
		"ts":   time.Now().Unix(),
	})
}
