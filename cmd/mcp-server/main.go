// Package main runs the MCP tool surface over the PostgreSQL deployment, sharing the
// database and cache with the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/organ-match-server/internal/app"
	"github.com/organ-match-server/internal/config"
	"github.com/organ-match-server/internal/mcp"
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
	logging := cfg.Logging
	if cfg.MCP.TransportType != mcp.TransportHTTP {
		logging.Output = "stderr"
	}
	logger := config.NewLogger(logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Open(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize runtime")
	}
	defer rt.Close()

	server := mcp.NewServer(rt.Services, rt.Inbox, mcp.Options{
		Name:    cfg.MCP.ServerName,
		Version: cfg.MCP.ServerVersion,
		Logger:  logger,
		Metrics: rt.Metrics,
	})

	addr := fmt.Sprintf("%s:%d", cfg.MCP.HTTPHost, cfg.MCP.HTTPPort)
	if err := server.Run(ctx, cfg.MCP.TransportType, addr); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("MCP server stopped")
}
