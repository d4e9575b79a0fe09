package gateway

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/internal/stream"
)

const (
	wsRequestWait = 30 * time.Second
	wsCloseWait   = time.Second
)

// handleAgentWebSocket runs one agent turn per connection. The client sends
// a single request frame and receives the turn stream as text frames. A
// client that disconnects mid-run cancels the run.
func (s *Server) handleAgentWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	logger := s.logger.With("request_id", observability.GetRequestID(r.Context()), "transport", "websocket")

	_ = conn.SetReadDeadline(time.Now().Add(wsRequestWait)) //nolint:errcheck
	_, frame, err := conn.ReadMessage()
	if err != nil {
		logger.Debug("websocket closed before a request arrived", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	req, err := decodeRunRequest(bytes.NewReader(frame))
	if err != nil {
		closeWebSocket(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads detect the client going away; frames after the request are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info("agent run started", "messages", len(req.Messages))
	if err := s.driver.Drive(ctx, stream.NewWebSocketSink(conn), req); err != nil {
		logger.Info("agent stream ended early", "error", err)
		return
	}
	closeWebSocket(conn, websocket.CloseNormalClosure, "")
}

func closeWebSocket(conn *websocket.Conn, code int, reason string) {
	// Close reasons are limited to 123 bytes.
	if len(reason) > 123 {
		reason = reason[:123]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait)) //nolint:errcheck
}
