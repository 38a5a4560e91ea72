package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/inbox"
	"github.com/organ-match-server/internal/metrics"
	"github.com/organ-match-server/internal/middleware"
	"github.com/organ-match-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Options carries the collaborators of the HTTP layer besides the services. Stream and Metrics
// are optional; their routes are only registered when set.
type Options struct {
	Inbox   inbox.Store
	Stream  http.Handler
	Metrics *metrics.Recorder
	Logger  *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	services      *service.Services
	opts          Options
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, services *service.Services, opts Options) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))
	if opts.Metrics != nil {
		router.Use(middleware.Metrics(opts.Metrics))
	}
	if cfg.RateLimit.Enabled {
		router.Use(middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Handler())
	}

	server := &Server{
		configManager: configManager,
		services:      services,
		opts:          opts,
		logger:        logger,
		router:        router,
	}

	server.setupRoutes(cfg.Server.RequestTimeout)

	return server
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(requestTimeout time.Duration) {
	s.router.GET("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")

	// The stream is long-lived, so it stays outside the request timeout.
	if s.opts.Stream != nil {
		v1.GET("/notifications/stream", gin.WrapH(s.opts.Stream))
	}

	timed := v1.Group("", middleware.RequestTimeout(requestTimeout))
	{
		timed.POST("/matches/auto-match", s.handleAutoMatch)
		timed.POST("/matches/:id/transition", s.handleTransition)

		timed.POST("/surgeries/:id/vitals", s.handleVitalReading)
		timed.POST("/surgeries/:id/reports", s.handleSurgicalReport)
		timed.PUT("/surgeries/:id", s.handleSaveSurgery)

		timed.GET("/recipients/:id/priority", s.handleGetPriority)
		timed.POST("/recipients/:id/priority/recompute", s.handleRecomputePriority)

		timed.PUT("/hospitals/:id", s.handleSaveHospital)
		timed.PUT("/persons/:id", s.handleSavePerson)
		timed.PUT("/profiles/:id", s.handleSaveProfile)

		if s.opts.Inbox != nil {
			timed.GET("/notifications", s.handleListNotifications)
			timed.POST("/notifications/:id/read", s.handleMarkRead)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}
