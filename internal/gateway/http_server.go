package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/internal/stream"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// maxRequestBytes bounds inbound run requests.
const maxRequestBytes = 4 << 20

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/health", s.handleHealthz)
	mux.HandleFunc("GET /api/tools", s.handleTools)

	mux.Handle("POST /agent/run", s.rateLimit(s.handleAgentRun))
	mux.Handle("POST /api/agent/run", s.rateLimit(s.handleAgentRun))
	mux.Handle("GET /agent/ws", s.rateLimit(s.handleAgentWebSocket))

	if s.metrics != nil && s.config.Observability.Metrics.IsEnabled() {
		mux.Handle("GET "+s.config.Observability.Metrics.Path, s.metrics.Handler())
	}

	return chain(mux,
		requestIDMiddleware,
		s.observeMiddleware,
		corsMiddleware(s.config.Server.CORSOrigins),
	)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
		"version": s.version,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Truncated   bool   `json:"truncated"`
}

// DescribeTools lists the registered tools sorted by name.
func DescribeTools(registry *agent.ToolRegistry, interceptor *agent.Interceptor) []ToolInfo {
	registered := registry.AsLLMTools()
	infos := make([]ToolInfo, 0, len(registered))
	for _, tool := range registered {
		infos = append(infos, ToolInfo{
			Name:        tool.Name(),
			Description: tool.Description(),
			Truncated:   interceptor.Applies(tool.Name()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	cfg := s.interceptor.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": DescribeTools(s.registry, s.interceptor),
		"truncation": map[string]any{
			"max_tokens":      cfg.MaxTokens,
			"max_array_items": cfg.MaxArrayItems,
			"verbose":         cfg.Verbose,
		},
	})
}

// handleAgentRun streams one agent run as server-sent events.
func (s *Server) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sink, err := stream.NewSSESink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger := s.logger.With("request_id", observability.GetRequestID(r.Context()))
	logger.Info("agent run started", "transport", "sse", "messages", len(req.Messages))
	if err := s.driver.Drive(r.Context(), sink, req); err != nil {
		logger.Info("agent stream ended early", "transport", "sse", "error", err)
	}
}

func decodeRunRequest(body io.Reader) (*models.RunRequest, error) {
	var req models.RunRequest
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
