// Package app wires the PostgreSQL-backed runtime shared by the server binaries.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/cache"
	"github.com/organ-match-server/internal/database"
	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/inbox"
	"github.com/organ-match-server/internal/metrics"
	"github.com/organ-match-server/internal/repository"
	"github.com/organ-match-server/internal/service"
	"github.com/organ-match-server/internal/stream"
)

// Runtime holds the collaborators built from one configuration.
type Runtime struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	DB       *database.DB
	Store    *repository.PostgresStore
	Inbox    *inbox.PostgresStore
	Cache    domain.PriorityCache
	Hub      *stream.Hub
	Metrics  *metrics.Recorder
	Services *service.Services

	closeCache func() error
}

// Open connects to PostgreSQL, applies pending migrations when auto_migrate is set and
// builds the services over the result. The caller must Close the runtime.
func Open(ctx context.Context, configManager domain.ConfigManager, logger *logrus.Logger) (*Runtime, error) {
	cfg := configManager.GetConfig()
	dbConfig := database.ConfigFromDomain(configManager.GetDatabaseConfig())

	if cfg.Database.AutoMigrate {
		if err := Migrate(ctx, dbConfig.URL(), logger); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(ctx, dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	inboxStore, err := inbox.NewPostgresStoreFromURL(dbConfig.URL())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open inbox store: %w", err)
	}

	priorityCache, closeCache := cache.New(ctx, cfg.Cache, logger)
	hub := stream.NewHub(logger)
	recorder := metrics.NewRecorder()
	store := repository.NewPostgresStore(db.Pool, logger)

	services := service.NewServices(service.Dependencies{
		Store:        store,
		Logger:       logger,
		Publisher:    hub,
		Cache:        priorityCache,
		Observer:     recorder,
		StoreTimeout: cfg.Engine.StoreTimeout,
	}, cfg.Engine.AutoMatchWorkers)

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Store:      store,
		Inbox:      inboxStore,
		Cache:      priorityCache,
		Hub:        hub,
		Metrics:    recorder,
		Services:   services,
		closeCache: closeCache,
	}, nil
}

// Migrate applies every pending schema migration to the database at databaseURL.
func Migrate(ctx context.Context, databaseURL string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create migration runner: %w", err)
	}
	defer runner.Close()

	if err := runner.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the cache, the inbox connection and the pool, in that order.
func (r *Runtime) Close() error {
	var firstErr error
	if r.closeCache != nil {
		if err := r.closeCache(); err != nil {
			firstErr = fmt.Errorf("failed to close cache: %w", err)
		}
	}
	if err := r.Inbox.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close inbox store: %w", err)
	}
	r.DB.Close()
	return firstErr
}
