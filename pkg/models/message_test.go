package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}
	for _, tt := range tests {
		if string(tt.constant) != tt.expected {
			t.Errorf("Role = %q, want %q", tt.constant, tt.expected)
		}
	}
}

func TestRunRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"single prompt", `{"messages":[{"role":"user","content":"hi"}]}`, nil},
		{"with history", `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"},{"role":"user","content":"c"}]}`, nil},
		{"empty", `{"messages":[]}`, ErrNoMessages},
		{"missing", `{}`, ErrNoMessages},
		{"blank prompt", `{"messages":[{"role":"user","content":"  "}]}`, ErrEmptyPrompt},
		{"assistant last", `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`, ErrPromptNotUser},
		{"bad role", `{"messages":[{"role":"robot","content":"a"}]}`, ErrUnknownRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req RunRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			err := req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunRequestPromptAndHistory(t *testing.T) {
	req := RunRequest{Messages: []ChatMessage{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "answer"},
		{Role: RoleUser, Content: "second"},
	}}

	if got := req.Prompt(); got != "second" {
		t.Errorf("Prompt() = %q, want %q", got, "second")
	}
	history := req.History()
	if len(history) != 2 {
		t.Fatalf("History() len = %d, want 2", len(history))
	}
	if history[1].Content != "answer" {
		t.Errorf("History()[1] = %q, want %q", history[1].Content, "answer")
	}

	single := RunRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "only"}}}
	if single.History() != nil {
		t.Errorf("History() = %v, want nil", single.History())
	}
}
