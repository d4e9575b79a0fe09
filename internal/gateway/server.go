// Package gateway provides the trialchat HTTP server.
//
// The server owns the agent loop, the tool registry and the MCP connections,
// and exposes agent runs as server-sent events and WebSocket turn streams.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/agent/providers"
	"github.com/haasonsaas/trialchat/internal/config"
	"github.com/haasonsaas/trialchat/internal/mcp"
	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/internal/ratelimit"
	"github.com/haasonsaas/trialchat/internal/stream"
	"github.com/haasonsaas/trialchat/internal/tools"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "Clinical Trial Analysis Chat API"

// Server is the trialchat gateway.
type Server struct {
	config     *config.Config
	configPath string
	version    string
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	provider    agent.LLMProvider
	registry    *agent.ToolRegistry
	interceptor *agent.Interceptor
	mcpManager  *mcp.Manager
	loop        *agent.AgenticLoop
	driver      *stream.Driver
	limiter     *ratelimit.Limiter
	upgrader    websocket.Upgrader
	handler     http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	watcher    *config.Watcher
	cancel     context.CancelFunc
	done       chan struct{}
	startTime  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithProvider replaces the provider chain built from the config.
func WithProvider(provider agent.LLMProvider) Option {
	return func(s *Server) { s.provider = provider }
}

// WithMetrics records HTTP, run and tool metrics and serves them on the
// configured metrics path.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithTracer enables request, run and tool spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// WithVersion sets the version reported by the root endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// NewServer creates a gateway from cfg.
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  cfg,
		version: "dev",
		logger:  logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.provider == nil {
		provider, err := providers.NewChain(
			cfg.LLM.DefaultProvider,
			cfg.LLM.FallbackChain,
			cfg.LLM.ProviderSettings(),
			cfg.LLM.FailoverSettings(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("create LLM provider: %w", err)
		}
		s.provider = provider
	}

	s.registry = agent.NewToolRegistry()
	s.interceptor = agent.NewInterceptor(cfg.Truncation.Interceptor(), logger, s.metrics)
	RegisterLocalTools(s.registry, s.interceptor, cfg)

	s.mcpManager = mcp.NewManager(&cfg.MCP, logger)
	s.mcpManager.SetTracer(s.tracer)

	s.loop = agent.NewAgenticLoop(s.provider, s.registry, cfg.LLM.LoopConfig())
	s.loop.SetObservability(logger, s.metrics, s.tracer)
	s.driver = &stream.Driver{Runner: s.loop, Logger: logger, Metrics: s.metrics}

	s.limiter = ratelimit.NewLimiter(cfg.Server.RateLimit)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	return s, nil
}

// RegisterLocalTools registers the enabled built-in tools behind the
// truncation interceptor.
func RegisterLocalTools(registry *agent.ToolRegistry, interceptor *agent.Interceptor, cfg *config.Config) {
	if cfg.Tools.Statistics.IsEnabled() {
		registry.Register(interceptor.Wrap(tools.NewStatisticsTool(), nil))
	}
	if cfg.Tools.Compliance.IsEnabled() {
		registry.Register(interceptor.Wrap(tools.NewComplianceTool(), nil))
	}
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Tools returns the tool registry shared by all runs.
func (s *Server) Tools() *agent.ToolRegistry {
	return s.registry
}

// Interceptor returns the truncation interceptor wrapping every tool.
func (s *Server) Interceptor() *agent.Interceptor {
	return s.interceptor
}

// Addr returns the listen address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
