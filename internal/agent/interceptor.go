package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/internal/truncation"
)

// InterceptorConfig controls how tool results are bounded before they reach
// the model.
type InterceptorConfig struct {
	// MaxTokens is the per-result token budget. Zero means the default.
	MaxTokens int

	// MaxArrayItems caps every array in a structured result. Zero means the default.
	MaxArrayItems int

	// EnabledTools limits truncation to the named tools. Nil means every
	// tool; an empty non-nil slice means none.
	EnabledTools []string

	// Verbose makes wrapped tools return the JSON envelope instead of the
	// bare bounded content.
	Verbose bool
}

// interceptorState is one settings snapshot. enabled is nil when every tool
// is bounded.
type interceptorState struct {
	truncator truncation.Truncator
	enabled   map[string]struct{}
	verbose   bool
	config    InterceptorConfig
}

func (s *interceptorState) applies(toolName string) bool {
	if s.enabled == nil {
		return true
	}
	_, ok := s.enabled[toolName]
	return ok
}

// Interceptor holds the truncation settings shared by every wrapped tool.
// Settings are swapped atomically, so each call sees one consistent snapshot
// even while a reload is in progress.
type Interceptor struct {
	state   atomic.Pointer[interceptorState]
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewInterceptor creates an interceptor. logger and metrics may be nil.
func NewInterceptor(cfg InterceptorConfig, logger *slog.Logger, metrics *observability.Metrics) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Interceptor{
		logger:  logger.With("component", "truncation"),
		metrics: metrics,
	}
	i.Update(cfg)
	return i
}

// Update replaces the settings used by subsequent calls. Calls already past
// their snapshot finish with the old settings.
func (i *Interceptor) Update(cfg InterceptorConfig) {
	limits := truncation.Limits{MaxTokens: cfg.MaxTokens, MaxArrayItems: cfg.MaxArrayItems}.WithDefaults()
	cfg.MaxTokens = limits.MaxTokens
	cfg.MaxArrayItems = limits.MaxArrayItems

	var enabled map[string]struct{}
	if cfg.EnabledTools != nil {
		enabled = make(map[string]struct{}, len(cfg.EnabledTools))
		for _, name := range cfg.EnabledTools {
			enabled[name] = struct{}{}
		}
		cfg.EnabledTools = slices.Clone(cfg.EnabledTools)
		slices.Sort(cfg.EnabledTools)
	}

	i.state.Store(&interceptorState{
		truncator: truncation.NewTruncator(limits, i.logger),
		enabled:   enabled,
		verbose:   cfg.Verbose,
		config:    cfg,
	})
}

// Config returns the settings currently in effect, with defaults applied.
func (i *Interceptor) Config() InterceptorConfig {
	return i.state.Load().config
}

// Applies reports whether results of toolName are bounded under the current settings.
func (i *Interceptor) Applies(toolName string) bool {
	return i.state.Load().applies(toolName)
}

// Wrap returns tool wrapped for truncation. The mode is chosen from the
// Verbose setting at wrap time. A non-nil conn is held for the duration of
// each call, which keeps a single request in flight per external connection.
func (i *Interceptor) Wrap(tool Tool, conn sync.Locker) Tool {
	if i.state.Load().verbose {
		return &VerboseTruncatingTool{inner: tool, conn: conn, interceptor: i}
	}
	return &TruncatingTool{inner: tool, conn: conn, interceptor: i}
}

// bound runs the orchestrator on result. ok is false when the result must
// pass through untouched.
func (i *Interceptor) bound(toolName string, result *ToolResult) (truncation.Outcome, bool) {
	if result == nil || result.IsError {
		return truncation.Outcome{}, false
	}
	state := i.state.Load()
	if !state.applies(toolName) {
		return truncation.Outcome{}, false
	}

	var raw any = result.Content
	if result.Data != nil {
		raw = result.Data
	}
	outcome := state.truncator.Bound(raw)
	if !outcome.WasTruncated {
		return outcome, false
	}

	i.metrics.RecordTruncation(toolName, string(outcome.Metadata.Strategy), outcome.BytesSaved())
	i.logger.Debug("tool result truncated",
		"tool", toolName,
		"strategy", outcome.Metadata.Strategy,
		"original_tokens", outcome.Metadata.OriginalTokens,
		"truncated_tokens", outcome.Metadata.TruncatedTokens,
	)
	return outcome, true
}

func executeLocked(ctx context.Context, conn sync.Locker, tool Tool, params json.RawMessage) (*ToolResult, error) {
	if conn != nil {
		conn.Lock()
		defer conn.Unlock()
	}
	return tool.Execute(ctx, params)
}

// TruncatingTool bounds its wrapped tool's results and hands the model the
// bounded content.
type TruncatingTool struct {
	inner       Tool
	conn        sync.Locker
	interceptor *Interceptor
}

func (t *TruncatingTool) Name() string            { return t.inner.Name() }
func (t *TruncatingTool) Description() string     { return t.inner.Description() }
func (t *TruncatingTool) Schema() json.RawMessage { return t.inner.Schema() }

// Unwrap returns the wrapped tool.
func (t *TruncatingTool) Unwrap() Tool { return t.inner }

// Execute runs the wrapped tool and bounds its result.
func (t *TruncatingTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	result, err := executeLocked(ctx, t.conn, t.inner, params)
	if err != nil {
		return result, err
	}
	outcome, ok := t.interceptor.bound(t.inner.Name(), result)
	if !ok {
		return result, nil
	}
	return &ToolResult{
		Content:    outcome.ModelContent,
		Data:       result.Data,
		Truncation: &outcome,
	}, nil
}

// VerboseTruncatingTool bounds its wrapped tool's results and hands the
// model a JSON envelope carrying the bounded content, the truncation
// accounting and the full result.
type VerboseTruncatingTool struct {
	inner       Tool
	conn        sync.Locker
	interceptor *Interceptor
}

func (t *VerboseTruncatingTool) Name() string            { return t.inner.Name() }
func (t *VerboseTruncatingTool) Description() string     { return t.inner.Description() }
func (t *VerboseTruncatingTool) Schema() json.RawMessage { return t.inner.Schema() }

// Unwrap returns the wrapped tool.
func (t *VerboseTruncatingTool) Unwrap() Tool { return t.inner }

// Execute runs the wrapped tool and wraps a bounded result in the envelope.
func (t *VerboseTruncatingTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	result, err := executeLocked(ctx, t.conn, t.inner, params)
	if err != nil {
		return result, err
	}
	name := t.inner.Name()
	outcome, ok := t.interceptor.bound(name, result)
	if !ok {
		return result, nil
	}

	content, err := truncation.NewEnvelope(name, outcome).JSON()
	if err != nil {
		t.interceptor.logger.Warn("envelope encoding failed; returning bounded content", "tool", name, "error", err)
		content = outcome.ModelContent
	}
	return &ToolResult{
		Content:    content,
		Data:       result.Data,
		Truncation: &outcome,
	}, nil
}

// Unwrapper is implemented by tools that decorate another tool.
type Unwrapper interface {
	Unwrap() Tool
}

// IsTruncating reports whether tool is one of the truncating wrappers.
func IsTruncating(tool Tool) bool {
	switch tool.(type) {
	case *TruncatingTool, *VerboseTruncatingTool:
		return true
	}
	return false
}
