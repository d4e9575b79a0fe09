package agent

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		typ  ToolErrorType
		want bool
	}{
		{ToolErrorTimeout, true},
		{ToolErrorNetwork, true},
		{ToolErrorRateLimit, true},
		{ToolErrorNotFound, false},
		{ToolErrorInvalidInput, false},
		{ToolErrorExecution, false},
		{ToolErrorPanic, false},
		{ToolErrorUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolError_Error(t *testing.T) {
	err := NewToolError("execute_query", errors.New("connection refused")).
		WithType(ToolErrorNetwork).
		WithToolCallID("call-123")
	err.Attempts = 3

	errStr := err.Error()
	for _, want := range []string{"tool:network", "execute_query", "connection refused", "attempts=3"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error string %q should contain %q", errStr, want)
		}
	}
}

func TestNewToolError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ToolErrorType
	}{
		{"timeout", errors.New("context deadline exceeded"), ToolErrorTimeout},
		{"network", errors.New("dial tcp: connection refused"), ToolErrorNetwork},
		{"rate_limit", errors.New("HTTP 429 too many requests"), ToolErrorRateLimit},
		{"not found", fmt.Errorf("lookup: %w", ErrToolNotFound), ToolErrorNotFound},
		{"invalid input", fmt.Errorf("%w: missing sql", ErrInvalidToolInput), ToolErrorInvalidInput},
		{"panic", ErrToolPanic, ToolErrorPanic},
		{"other", errors.New("some random error"), ToolErrorExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolError("tool", tt.err)
			if err.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", err.Type, tt.wantType)
			}
			if err.Retryable != tt.wantType.IsRetryable() {
				t.Errorf("Retryable = %v", err.Retryable)
			}
		})
	}
}

func TestToolError_Unwrap(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewToolError("tool", ErrToolTimeout))
	if !errors.Is(err, ErrToolTimeout) {
		t.Error("errors.Is should find the cause")
	}
	toolErr, ok := GetToolError(err)
	if !ok || toolErr.ToolName != "tool" {
		t.Fatalf("GetToolError() = %v, %v", toolErr, ok)
	}
	if !IsToolRetryable(err) {
		t.Error("timeout should be retryable")
	}
	if IsToolRetryable(errors.New("bad sql")) {
		t.Error("plain execution error should not be retryable")
	}
}

func TestLoopError(t *testing.T) {
	tests := []struct {
		name string
		err  *LoopError
		want string
	}{
		{
			name: "message",
			err:  &LoopError{Phase: PhaseStream, Iteration: 2, Message: "reached max iterations: 2", Cause: ErrMaxIterations},
			want: "loop error at stream (iteration 2): reached max iterations: 2",
		},
		{
			name: "cause",
			err:  &LoopError{Phase: PhaseExecuteTools, Iteration: 1, Cause: errors.New("boom")},
			want: "loop error at execute_tools (iteration 1): boom",
		},
		{
			name: "bare",
			err:  &LoopError{Phase: PhaseInit},
			want: "loop error at init (iteration 0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	if !errors.Is(tests[0].err, ErrMaxIterations) {
		t.Error("LoopError should unwrap to its cause")
	}
}
