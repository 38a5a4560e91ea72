// Package mcp exposes the match orchestrators as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/inbox"
	"github.com/organ-match-server/internal/metrics"
	"github.com/organ-match-server/internal/service"
)

// Version is advertised to MCP clients.
const Version = "1.0.0"

// Supported transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Options configures a Server. Metrics is optional.
type Options struct {
	Name    string
	Version string
	Logger  *logrus.Logger
	Metrics *metrics.Recorder
}

// Server wraps the MCP SDK server and the tool handlers.
type Server struct {
	services  *service.Services
	inbox     inbox.Store
	metrics   *metrics.Recorder
	logger    *logrus.Logger
	mcpServer *mcp.Server
}

// NewServer creates a new MCP server with every tool registered.
func NewServer(services *service.Services, inboxStore inbox.Store, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "organ-match-server"
	}
	if opts.Version == "" {
		opts.Version = Version
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		services: services,
		inbox:    inboxStore,
		metrics:  opts.Metrics,
		logger:   logger,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    opts.Name,
			Version: opts.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Run serves MCP over the named transport until ctx is cancelled. addr is only used by the
// HTTP transport.
func (s *Server) Run(ctx context.Context, transport, addr string) error {
	switch transport {
	case "", TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to run stdio transport: %w", err)
		}
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unsupported transport type: %s", transport)
	}
}

// HTTPHandler returns the streamable HTTP handler, plus /metrics when a recorder is set.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Serving MCP over HTTP")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start HTTP transport: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
