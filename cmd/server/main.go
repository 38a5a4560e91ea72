package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/organ-match-server/internal/api"
	"github.com/organ-match-server/internal/app"
	"github.com/organ-match-server/internal/config"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Open(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize runtime")
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release runtime")
		}
	}()

	server := api.NewServer(configManager, rt.Services, api.Options{
		Inbox:   rt.Inbox,
		Stream:  rt.Hub,
		Metrics: rt.Metrics,
		Logger:  logger,
	})

	logger.WithField("port", cfg.Server.Port).Info("Starting organ match server")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
