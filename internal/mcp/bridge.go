package mcp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/haasonsaas/trialchat/internal/agent"
)

const maxToolNameLen = 64

var validToolName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ToolCaller defines the MCP tool execution contract used by the bridge.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments json.RawMessage) (*ToolCallResult, error)
}

// ToolBridge wraps an MCP tool and exposes it as an agent tool.
type ToolBridge struct {
	caller   ToolCaller
	serverID string
	tool     *MCPTool
	name     string

	// conn is held during calls when the bridge is registered without an
	// interceptor to do it.
	conn sync.Locker
}

// NewToolBridge creates a bridge tool registered under name.
func NewToolBridge(caller ToolCaller, serverID string, tool *MCPTool, name string) *ToolBridge {
	return &ToolBridge{
		caller:   caller,
		serverID: serverID,
		tool:     tool,
		name:     name,
	}
}

// Name returns the tool name registered with the LLM provider.
func (b *ToolBridge) Name() string {
	return b.name
}

// ServerID returns the server the tool lives on.
func (b *ToolBridge) ServerID() string {
	return b.serverID
}

// Description returns the MCP tool description.
func (b *ToolBridge) Description() string {
	desc := strings.TrimSpace(b.tool.Description)
	if desc == "" {
		desc = strings.TrimSpace(b.tool.Title)
	}
	if desc == "" {
		return fmt.Sprintf("Tool %s from the %s server", b.tool.Name, b.serverID)
	}
	return desc
}

// Schema returns the MCP tool input schema.
func (b *ToolBridge) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

// Execute invokes the MCP tool. A tool-level failure reported by the server
// becomes an error result; transport failures are returned as errors.
func (b *ToolBridge) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if len(params) > 0 && !json.Valid(params) {
		return nil, fmt.Errorf("%s: arguments are not valid JSON", b.name)
	}
	if b.conn != nil {
		b.conn.Lock()
		defer b.conn.Unlock()
	}

	result, err := b.caller.CallTool(ctx, b.serverID, b.tool.Name, params)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", b.serverID, b.tool.Name, err)
	}

	content, isError := formatToolCallResult(result)
	out := &agent.ToolResult{Content: content, IsError: isError}
	if !isError && len(result.StructuredContent) > 0 {
		out.Data = result.StructuredContent
	}
	return out, nil
}

// RegisterTools registers every tool of the connected servers with registry
// and returns the registered names. Tools keep their own name unless it
// collides with another tool or is not a valid function name. With a
// non-nil interceptor each tool is wrapped for truncation and serialized on
// its server's connection.
func RegisterTools(registry *agent.ToolRegistry, mgr *Manager, interceptor *agent.Interceptor) []string {
	if registry == nil || mgr == nil {
		return nil
	}

	entries := listToolsSorted(mgr)
	counts := make(map[string]int, len(entries))
	for _, entry := range entries {
		counts[entry.tool.Name]++
	}

	used := make(map[string]struct{}, len(entries))
	for _, name := range registry.Names() {
		used[name] = struct{}{}
	}

	registered := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.tool.Name
		_, taken := used[name]
		if taken || counts[name] > 1 || !validToolName.MatchString(name) {
			name = safeToolName(entry.serverID, entry.tool.Name, used)
		} else {
			used[name] = struct{}{}
		}

		bridge := NewToolBridge(mgr, entry.serverID, entry.tool, name)
		var tool agent.Tool = bridge
		if interceptor != nil {
			tool = interceptor.Wrap(bridge, mgr.ConnLock(entry.serverID))
		} else {
			bridge.conn = mgr.ConnLock(entry.serverID)
		}
		registry.Register(tool)
		registered = append(registered, name)
	}
	return registered
}

type toolEntry struct {
	serverID string
	tool     *MCPTool
}

func listToolsSorted(mgr *Manager) []toolEntry {
	all := mgr.AllTools()
	if len(all) == 0 {
		return nil
	}

	serverIDs := make([]string, 0, len(all))
	for id := range all {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)

	var entries []toolEntry
	for _, serverID := range serverIDs {
		tools := all[serverID]
		sort.Slice(tools, func(i, j int) bool {
			return tools[i].Name < tools[j].Name
		})
		for _, tool := range tools {
			entries = append(entries, toolEntry{serverID: serverID, tool: tool})
		}
	}
	return entries
}

func safeToolName(serverID, toolName string, used map[string]struct{}) string {
	base := sanitizeToolPart(serverID) + "_" + sanitizeToolPart(toolName)
	name := base
	if len(name) > maxToolNameLen {
		name = truncateWithHash(base, serverID, toolName)
	}
	if _, exists := used[name]; exists {
		name = dedupeWithHash(name, serverID, toolName)
	}
	used[name] = struct{}{}
	return name
}

func sanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func toolNameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func truncateWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	trimLen := maxToolNameLen - len(suffix)
	if trimLen > len(base) {
		trimLen = len(base)
	}
	return base[:trimLen] + suffix
}

func dedupeWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	name := base + suffix
	if len(name) <= maxToolNameLen {
		return name
	}
	return truncateWithHash(base, serverID, toolName)
}

// formatToolCallResult renders a result for the model. All-text content is
// joined with newlines; anything else is passed on as the result's JSON.
func formatToolCallResult(result *ToolCallResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if len(result.Content) == 0 {
		if len(result.StructuredContent) > 0 {
			return string(result.StructuredContent), result.IsError
		}
		return "", result.IsError
	}

	allText := true
	var combined strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		if item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}

	if allText && combined.Len() > 0 {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}
