package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/trialchat/internal/truncation"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with a vendor API
// (Anthropic, OpenAI, Gemini) while presenting a unified streaming interface
// to the loop.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different runs.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:     "claude-sonnet-4-20250514",
//	    System:    "You are a clinical trial data analyst.",
//	    Messages:  []CompletionMessage{
//	        {Role: "user", Content: "How many subjects enrolled in NCT04368728?"},
//	    },
//	    MaxTokens: 4096,
//	}
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt. Most vendor APIs take it separately from
	// the messages.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tools the LLM can request to execute.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the generated response. If 0, the provider default is used.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	Role string `json:"role"`

	// Content is the text content of the message (may be empty for tool-only messages)
	Content string `json:"content,omitempty"`

	// ToolCalls contains any tool execution requests from the assistant
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Each chunk carries one of: partial text, a complete tool call, the done
// signal, or an error. Processing example:
//
//	for chunk := range chunks {
//	    switch {
//	    case chunk.Error != nil:
//	        return chunk.Error
//	    case chunk.ToolCall != nil:
//	        calls = append(calls, *chunk.ToolCall)
//	    case chunk.Text != "":
//	        fmt.Print(chunk.Text)
//	    case chunk.Done:
//	        break
//	    }
//	}
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// InputTokens and OutputTokens are only populated in the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool defines the interface for executable agent tools.
//
// Local analysis tools, MCP-bridged tools and the truncating wrappers all
// satisfy it.
//
//	type Echo struct{}
//
//	func (Echo) Name() string        { return "echo" }
//	func (Echo) Description() string { return "Echoes its input" }
//	func (Echo) Schema() json.RawMessage {
//	    return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
//	}
//	func (Echo) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
//	    return &ToolResult{Content: string(params)}, nil
//	}
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
//
// Failures the model should see are reported with IsError=true rather than
// a Go error, so the LLM can handle them.
type ToolResult struct {
	// Content is the tool's output as sent to the model.
	Content string `json:"content"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`

	// Data is the structured result when the tool produced one. Content is
	// derived from it; the truncating wrappers bound Data in preference to
	// Content so structure survives.
	Data any `json:"-"`

	// Truncation is set by the truncating wrappers when Content was bounded.
	Truncation *truncation.Outcome `json:"-"`
}

// ResponseChunk is one item of a run's output stream.
//
// Text chunks arrive in generation order. ToolCall and ToolResult chunks
// report tool activity. The last chunk of a successful run carries Message
// with the final assistant text; a failed run ends with Error.
type ResponseChunk struct {
	Text       string              `json:"text,omitempty"`
	ToolCall   *models.ToolCall    `json:"tool_call,omitempty"`
	ToolResult *models.ToolResult  `json:"tool_result,omitempty"`
	Message    *models.ChatMessage `json:"message,omitempty"`
	Error      error               `json:"-"`
}
