// Package api serves the status API of the pipeline.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jon4hz/jellyfetch/internal/api/auth"
	"github.com/jon4hz/jellyfetch/internal/api/handler"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg       *config.Config
	ginEngine *gin.Engine
	handler   *handler.Handler
}

// New creates the API server. limiter and cacheManager may be nil.
func New(cfg *config.Config, p handler.Pipeline, db database.DB, limiter *ratelimit.Limiter, cacheManager *cache.Manager) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if p == nil || db == nil {
		return nil, fmt.Errorf("pipeline and database are required")
	}

	s := &Server{
		cfg:       cfg,
		ginEngine: gin.New(),
		handler:   handler.New(p, db, limiter, cacheManager),
	}
	s.ginEngine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.ginEngine.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	s.ginEngine.GET("/health", s.handler.Health)
	s.ginEngine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.ginEngine.Group("/api")
	api.Use(auth.RequireAPIKey(s.cfg.APIKey))

	api.GET("/status", s.handler.Status)
	api.GET("/queues", s.handler.Queues)

	api.GET("/items", s.handler.ListItems)
	api.POST("/items", s.handler.AddItem)
	api.GET("/items/:id", s.handler.GetItem)
	api.POST("/items/:id/unblacklist", s.handler.Unblacklist)
	api.GET("/blacklist", s.handler.Blacklist)

	api.GET("/verifications/failed", s.handler.FailedVerifications)

	jobs := api.Group("/jobs")
	jobs.GET("", s.handler.GetSchedulerJobs)
	jobs.POST("/:id/run", s.handler.RunSchedulerJob)
	jobs.POST("/:id/enable", s.handler.EnableSchedulerJob)
	jobs.POST("/:id/disable", s.handler.DisableSchedulerJob)

	api.GET("/ratelimit", s.handler.RateLimits)
	api.POST("/ratelimit/reset", s.handler.ResetRateLimits)

	api.GET("/cache/stats", s.handler.GetCacheStats)
	api.POST("/cache/clear", s.handler.ClearCache)
}

// Handler returns the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

// Run serves the API until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting status API", "listen", s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status API failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger logs every request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
