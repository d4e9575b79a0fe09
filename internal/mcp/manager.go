package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/trialchat/internal/observability"
)

// Config holds the MCP manager configuration.
type Config struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Servers []*ServerConfig `yaml:"servers" json:"servers,omitempty"`
}

// Validate checks every server entry and rejects duplicate IDs.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for i, server := range c.Servers {
		if server == nil {
			return fmt.Errorf("servers[%d] is empty", i)
		}
		if err := server.Validate(); err != nil {
			return err
		}
		if _, dup := seen[server.ID]; dup {
			return fmt.Errorf("duplicate server ID %q", server.ID)
		}
		seen[server.ID] = struct{}{}
	}
	return nil
}

// Manager manages the connections to the configured MCP servers. Each
// server gets one connection and one lock; callers that hold ConnLock keep a
// single request in flight on it.
type Manager struct {
	config *Config
	logger *slog.Logger
	tracer *observability.Tracer

	mu      sync.RWMutex
	clients map[string]*Client
	locks   map[string]*sync.Mutex
}

// NewManager creates a new MCP manager.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	return &Manager{
		config:  cfg,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
		locks:   make(map[string]*sync.Mutex),
	}
}

// SetTracer enables mcp.call spans on clients connected afterwards.
func (m *Manager) SetTracer(tracer *observability.Tracer) {
	m.tracer = tracer
}

// Start connects to every configured server. A server that fails to connect
// is logged and skipped so the others remain usable.
func (m *Manager) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Debug("MCP disabled")
		return nil
	}

	for _, serverCfg := range m.config.Servers {
		if err := m.Connect(ctx, serverCfg.ID); err != nil {
			m.logger.Error("failed to connect to MCP server",
				"server", serverCfg.ID,
				"error", err)
		}
	}
	return nil
}

// Stop disconnects from all MCP servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client",
				"server", id,
				"error", err)
		}
		delete(m.clients, id)
	}
	return nil
}

// Connect connects to a specific MCP server by ID.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	var serverCfg *ServerConfig
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			serverCfg = cfg
			break
		}
	}
	if serverCfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}
	if err := serverCfg.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	_, exists := m.clients[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := NewClient(serverCfg, m.logger)
	client.SetTracer(m.tracer)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	if _, ok := m.locks[serverID]; !ok {
		m.locks[serverID] = &sync.Mutex{}
	}
	m.mu.Unlock()

	m.logger.Info("MCP server ready",
		"server", serverID,
		"name", client.ServerInfo().Name,
		"tools", len(client.Tools()))
	return nil
}

// Disconnect disconnects from a specific MCP server.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[serverID]
	if !exists {
		return nil
	}
	delete(m.clients, serverID)
	if err := client.Close(); err != nil {
		return err
	}
	m.logger.Info("disconnected from MCP server", "server", serverID)
	return nil
}

// Client returns the client for a specific server.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// ConnLock returns the lock guarding serverID's connection.
func (m *Manager) ConnLock(serverID string) sync.Locker {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[serverID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[serverID] = lock
	}
	return lock
}

// ServerIDs returns the connected server IDs in sorted order.
func (m *Manager) ServerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServerConfig returns the configuration of serverID.
func (m *Manager) ServerConfig(serverID string) (*ServerConfig, bool) {
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			return cfg, true
		}
	}
	return nil, false
}

// AllTools returns all tools from all connected servers.
func (m *Manager) AllTools() map[string][]*MCPTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]*MCPTool)
	for id, client := range m.clients {
		if tools := client.Tools(); len(tools) > 0 {
			result[id] = tools
		}
	}
	return result
}

// CallTool calls a tool on a specific server.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments json.RawMessage) (*ToolCallResult, error) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, fmt.Errorf("server %q: %w", serverID, ErrNotConnected)
	}
	return client.CallTool(ctx, toolName, arguments)
}

// FindTool finds a tool by name across all servers.
// Returns the server ID and tool definition, or empty string if not found.
func (m *Manager) FindTool(name string) (serverID string, tool *MCPTool) {
	for _, id := range m.ServerIDs() {
		client, ok := m.Client(id)
		if !ok {
			continue
		}
		for _, t := range client.Tools() {
			if t.Name == name {
				return id, t
			}
		}
	}
	return "", nil
}

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Transport string     `json:"transport"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

// Status returns the status of all configured servers.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.config.Servers))
	for _, cfg := range m.config.Servers {
		status := ServerStatus{
			ID:        cfg.ID,
			Name:      cfg.Name,
			Transport: string(cfg.Transport),
		}
		if status.Transport == "" {
			status.Transport = string(TransportStdio)
		}
		if client, exists := m.clients[cfg.ID]; exists {
			status.Connected = client.Connected()
			status.Server = client.ServerInfo()
			status.Tools = len(client.Tools())
		}
		statuses = append(statuses, status)
	}
	return statuses
}
