package mcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/cache"
	"github.com/organ-match-server/internal/config"
	"github.com/organ-match-server/internal/inbox"
	"github.com/organ-match-server/internal/metrics"
	"github.com/organ-match-server/internal/repository"
	"github.com/organ-match-server/internal/service"
)

// LiteServer is a self-contained MCP server that needs no external services.
// Records live in a SQLite file under the data directory and priorities are cached in process.
type LiteServer struct {
	config  *config.LiteConfig
	store   *repository.SQLiteStore
	server  *Server
	metrics *metrics.Recorder
	logger  *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithRecordStore sets the SQLite store instead of opening one under the data directory.
func WithRecordStore(store *repository.SQLiteStore) LiteServerOption {
	return func(s *LiteServer) error {
		s.store = store
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *config.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config:  cfg,
		metrics: metrics.NewRecorder(),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if server.logger == nil {
		server.logger = config.NewLogger(cfg.Logging())
	}

	if server.store == nil {
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := repository.NewSQLiteStore(cfg.DatabasePath(), server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
		server.store = store
	}

	inboxStore, err := inbox.NewSQLiteStore(server.store.DB())
	if err != nil {
		server.store.Close()
		return nil, fmt.Errorf("failed to create inbox store: %w", err)
	}

	services := service.NewServices(service.Dependencies{
		Store:        server.store,
		Logger:       server.logger,
		Cache:        cache.NewLRUCache(cfg.CacheMaxItems, cfg.CacheTTL),
		Observer:     server.metrics,
		StoreTimeout: cfg.StoreTimeout,
	}, cfg.AutoMatchWorkers)

	server.server = NewServer(services, inboxStore, Options{
		Name:    "organ-match-server-lite",
		Version: Version,
		Logger:  server.logger,
		Metrics: server.metrics,
	})

	server.logger.WithFields(logrus.Fields{
		"database":  server.store.Path(),
		"transport": cfg.Transport,
	}).Info("Lite server initialized")
	return server, nil
}

// Server returns the MCP server the lite server runs.
func (s *LiteServer) Server() *Server {
	return s.server
}

// Start serves MCP over the configured transport and blocks until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting organ match MCP server (lite)")
	return s.server.Run(ctx, s.config.Transport, fmt.Sprintf(":%d", s.config.HTTPPort))
}

// Close releases the record store.
func (s *LiteServer) Close() error {
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close record store: %w", err)
	}
	return nil
}
