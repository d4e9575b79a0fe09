// Package stream turns one agent run into an ordered turn stream:
//
//	run_start, message_delta*, (message_done | error), run_done
//
// Clients parse this sequence as a contract, so the Emitter refuses any
// transition that would break it and Drive guarantees run_done is written
// last whatever happened before it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/pkg/models"
)

var (
	// ErrInvalidTransition is returned when an event would break the stream order.
	ErrInvalidTransition = errors.New("invalid stream transition")

	// ErrEncode is returned by sinks when an event cannot be serialized.
	// Nothing has been written when it is returned.
	ErrEncode = errors.New("stream event encoding failed")
)

// Sink receives events in order. Implementations must not reorder or batch
// events; a returned error other than ErrEncode means the client is gone.
type Sink interface {
	Send(ctx context.Context, event models.StreamEvent) error
}

// State is the emitter's position in the stream.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDone
	StateFailed
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Emitter writes the events of a single run to a sink and enforces their order.
// It is safe for concurrent use, though a run normally drives it from one goroutine.
type Emitter struct {
	sink    Sink
	metrics *observability.Metrics

	mu      sync.Mutex
	state   State
	sinkErr error
}

// NewEmitter creates an emitter in StateIdle. metrics may be nil.
func NewEmitter(sink Sink, metrics *observability.Metrics) *Emitter {
	return &Emitter{sink: sink, metrics: metrics}
}

// State returns the current state.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the sink failure that stopped the emitter, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sinkErr
}

// Start emits run_start. Idle → Running.
func (e *Emitter) Start(ctx context.Context) error {
	return e.transition(ctx, models.RunStartEvent(), StateRunning, StateIdle)
}

// Delta emits one text fragment. Running → Running.
func (e *Emitter) Delta(ctx context.Context, content string) error {
	return e.transition(ctx, models.MessageDeltaEvent(content), StateRunning, StateRunning)
}

// Done emits the final assistant message. Running → Done.
func (e *Emitter) Done(ctx context.Context, content string) error {
	return e.transition(ctx, models.MessageDoneEvent(content), StateDone, StateRunning)
}

// Fail emits an error event in place of message_done. Running → Failed.
func (e *Emitter) Fail(ctx context.Context, message string) error {
	return e.transition(ctx, models.ErrorEvent(message), StateFailed, StateRunning)
}

// Finish emits run_done. Done | Failed → Terminal.
func (e *Emitter) Finish(ctx context.Context) error {
	return e.transition(ctx, models.RunDoneEvent(), StateTerminal, StateDone, StateFailed)
}

func (e *Emitter) transition(ctx context.Context, event models.StreamEvent, to State, from ...State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sinkErr != nil {
		return e.sinkErr
	}
	allowed := false
	for _, s := range from {
		if e.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event.Type, e.state)
	}

	if err := e.sink.Send(ctx, event); err != nil {
		if !errors.Is(err, ErrEncode) {
			e.sinkErr = err
		}
		return err
	}
	e.state = to
	e.metrics.RecordStreamEvent(string(event.Type))
	return nil
}

// CheckSequence reports whether events form one complete turn stream.
func CheckSequence(events []models.StreamEvent) error {
	if len(events) < 3 {
		return fmt.Errorf("stream has %d events, want at least 3", len(events))
	}
	if events[0].Type != models.StreamEventRunStart {
		return fmt.Errorf("first event is %s, want %s", events[0].Type, models.StreamEventRunStart)
	}
	last := len(events) - 1
	if events[last].Type != models.StreamEventRunDone {
		return fmt.Errorf("last event is %s, want %s", events[last].Type, models.StreamEventRunDone)
	}
	for i, ev := range events[1 : last-1] {
		if ev.Type != models.StreamEventMessageDelta {
			return fmt.Errorf("event %d is %s, want %s", i+1, ev.Type, models.StreamEventMessageDelta)
		}
	}
	if !events[last-1].IsTerminal() {
		return fmt.Errorf("event %d is %s, want message_done or error", last-1, events[last-1].Type)
	}
	return nil
}
