package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn of conversation as sent by a client.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RunRequest is the inbound body of an agent run.
// The last message is the new user turn; everything before it is history.
type RunRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// Errors returned by RunRequest.Validate.
var (
	ErrNoMessages    = errors.New("messages must not be empty")
	ErrEmptyPrompt   = errors.New("last message content must not be empty")
	ErrUnknownRole   = errors.New("unknown message role")
	ErrPromptNotUser = errors.New("last message must be a user turn")
)

// Validate checks that the request carries a usable prompt.
func (r *RunRequest) Validate() error {
	if r == nil || len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for _, msg := range r.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return ErrUnknownRole
		}
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return ErrPromptNotUser
	}
	if strings.TrimSpace(last.Content) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Prompt returns the new user turn.
func (r *RunRequest) Prompt() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// History returns every message before the new user turn.
func (r *RunRequest) History() []ChatMessage {
	if r == nil || len(r.Messages) < 2 {
		return nil
	}
	return r.Messages[:len(r.Messages)-1]
}

// ToolCall represents a tool invocation request from the LLM.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
