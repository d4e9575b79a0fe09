package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/trialchat/pkg/models"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

func encode(event models.StreamEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// SSESink writes events as server-sent events, one "data:" line per event,
// flushing after each so deltas render as they arrive.
type SSESink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSESink sets the event-stream headers on w.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &SSESink{w: w, flusher: flusher}, nil
}

// Send implements Sink.
func (s *SSESink) Send(ctx context.Context, event models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// DecodeSSE reads a turn stream written by SSESink.
func DecodeSSE(r io.Reader) ([]models.StreamEvent, error) {
	var events []models.StreamEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event models.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return events, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

const wsWriteWait = 10 * time.Second

// WebSocketSink writes one text frame per event.
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSink wraps an upgraded connection. The caller owns conn.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Send implements Sink.
func (s *WebSocketSink) Send(ctx context.Context, event models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Recorder collects events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

// Send implements Sink.
func (r *Recorder) Send(ctx context.Context, event models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StreamEvent(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []models.StreamEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]models.StreamEventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

// Text returns the concatenated delta content.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, ev := range r.events {
		if ev.Delta != nil {
			buf.WriteString(ev.Delta.Content)
		}
	}
	return buf.String()
}
