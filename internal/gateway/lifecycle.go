package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/haasonsaas/trialchat/internal/config"
	"github.com/haasonsaas/trialchat/internal/mcp"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("gateway already started")

// Start connects the MCP servers, registers their tools, starts the config
// watcher and begins serving HTTP. It returns once the listener is open.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return ErrAlreadyStarted
	}
	s.startTime = time.Now()

	runCtx, cancel := context.WithCancel(context.Background())

	if err := s.mcpManager.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start MCP manager: %w", err)
	}
	registered := mcp.RegisterTools(s.registry, s.mcpManager, s.interceptor)
	s.logger.Info("tools registered", "mcp_tools", len(registered), "total", len(s.registry.Names()))

	if s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, s.logger, s.applyConfig)
		if err != nil {
			s.logger.Warn("config hot reload disabled", "error", err)
		} else {
			s.watcher = watcher
			go watcher.Run(runCtx)
		}
	}

	addr := s.config.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		s.closeBackground()
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}
	s.httpServer = server
	s.listener = listener
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}(s.done)

	s.logger.Info("starting http server", "addr", listener.Addr().String(), "version", s.version)
	return nil
}

// Stop drains HTTP requests until ctx ends, cancels in-flight runs and
// disconnects the MCP servers.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, cancel, done := s.httpServer, s.cancel, s.done
	s.httpServer, s.listener, s.cancel, s.done = nil, nil, nil, nil
	s.mu.Unlock()

	s.logger.Info("stopping server", "uptime", time.Since(s.startTime).Round(time.Second))

	var shutdownErr error
	if server != nil {
		shutdownErr = server.Shutdown(ctx)
		if shutdownErr != nil {
			s.logger.Warn("http server shutdown error", "error", shutdownErr)
		}
	}
	// Streams still open after the drain are cancelled here.
	if cancel != nil {
		cancel()
	}
	if server != nil && shutdownErr != nil {
		_ = server.Close() //nolint:errcheck
	}
	if done != nil {
		<-done
	}

	s.closeBackground()
	return shutdownErr
}

func (s *Server) closeBackground() {
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("config watcher close error", "error", err)
		}
		s.watcher = nil
	}
	if err := s.mcpManager.Stop(); err != nil {
		s.logger.Warn("mcp shutdown error", "error", err)
	}
}

// applyConfig applies the reloadable part of a new configuration. Only the
// truncation limits change live; everything else needs a restart.
func (s *Server) applyConfig(cfg *config.Config) {
	next := cfg.Truncation.Interceptor()
	prev := s.interceptor.Config()
	s.interceptor.Update(next)

	s.logger.Info("truncation settings reloaded",
		"max_tokens", s.interceptor.Config().MaxTokens,
		"max_array_items", s.interceptor.Config().MaxArrayItems,
		"enabled_tools", next.EnabledTools,
	)
	if next.Verbose != prev.Verbose {
		s.logger.Warn("truncation.verbose changes take effect after a restart")
	}
	if !slices.Equal(cfg.Server.CORSOrigins, s.config.Server.CORSOrigins) || cfg.Server.Addr() != s.config.Server.Addr() {
		s.logger.Warn("server settings changed; restart to apply them")
	}
}
