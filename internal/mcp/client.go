package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/trialchat/internal/observability"
)

// maxToolPages bounds tools/list pagination against a misbehaving server.
const maxToolPages = 50

// Client is an MCP client that connects to a single server.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger
	tracer    *observability.Tracer

	mu         sync.RWMutex
	tools      []*MCPTool
	serverInfo ServerInfo
}

// NewClient creates a new MCP client.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return newClientWithTransport(cfg, NewTransport(cfg, logger), logger)
}

func newClientWithTransport(cfg *ServerConfig, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: transport,
		logger:    logger.With("mcp_server", cfg.ID),
	}
}

// SetTracer enables mcp.call spans.
func (c *Client) SetTracer(tracer *observability.Tracer) {
	c.tracer = tracer
}

// Connect establishes the connection, performs the initialize handshake and
// lists the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo{Name: "trialchat", Version: "1.0.0"},
	})
	if err != nil {
		c.transport.Close() //nolint:errcheck
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close() //nolint:errcheck
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()
	c.logger.Info("connected to MCP server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if initResult.Capabilities.Tools == nil {
		c.logger.Debug("server does not offer tools")
		return nil
	}
	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn("failed to list tools", "error", err)
	}
	return nil
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected returns whether the client is connected.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// RefreshTools reloads the cached tool list, following pagination.
func (c *Client) RefreshTools(ctx context.Context) error {
	var tools []*MCPTool
	var cursor string
	for page := 0; page < maxToolPages; page++ {
		result, err := c.transport.Call(ctx, "tools/list", ListToolsParams{Cursor: cursor})
		if err != nil {
			return err
		}
		var resp ListToolsResult
		if err := json.Unmarshal(result, &resp); err != nil {
			return fmt.Errorf("parse tools/list: %w", err)
		}
		tools = append(tools, resp.Tools...)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	c.logger.Debug("refreshed tools", "count", len(tools))
	return nil
}

// Tools returns the cached tools.
func (c *Client) Tools() []*MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*MCPTool(nil), c.tools...)
}

// CallTool calls a tool on the MCP server. arguments must be a JSON object
// or empty.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	ctx, span := c.tracer.TraceMCPCall(ctx, c.config.ID, "tools/call")
	defer span.End()
	c.tracer.SetAttributes(span, "mcp.tool", name)

	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}
	result, err := c.transport.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		c.tracer.RecordError(span, err)
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		c.tracer.RecordError(span, err)
		return nil, fmt.Errorf("parse result: %w", err)
	}
	c.tracer.SetAttributes(span, "mcp.is_error", callResult.IsError)
	return &callResult, nil
}
