package stream

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/trialchat/internal/agent"
	"github.com/haasonsaas/trialchat/internal/observability"
	"github.com/haasonsaas/trialchat/pkg/models"
)

// ErrNoFinalMessage is reported when a run ends without an error or a final message.
var ErrNoFinalMessage = errors.New("agent run ended without a final message")

// Runner starts one agent run. *agent.AgenticLoop implements it.
type Runner interface {
	Run(ctx context.Context, req *models.RunRequest) (<-chan *agent.ResponseChunk, error)
}

// Driver turns agent runs into turn streams.
type Driver struct {
	Runner  Runner
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Drive runs req on runner and writes the turn stream to sink.
func Drive(ctx context.Context, sink Sink, runner Runner, req *models.RunRequest) error {
	return (&Driver{Runner: runner}).Drive(ctx, sink, req)
}

// Drive runs req and writes its turn stream to sink.
//
// Text fragments are forwarded as message_delta in the order they are
// produced. Any failure of the run becomes a single error event. run_done is
// always written last. The returned error is non-nil only when the client
// went away (ctx ended or the sink failed); in that case the run is
// cancelled and nothing more is written.
func (d *Driver) Drive(ctx context.Context, sink Sink, req *models.RunRequest) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stream")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	em := NewEmitter(sink, d.Metrics)
	if err := em.Start(runCtx); err != nil {
		return err
	}

	runErr := d.consume(runCtx, em, req)
	if err := ctx.Err(); err != nil {
		logger.Debug("client disconnected; stream abandoned", "state", em.State())
		return err
	}
	if err := em.Err(); err != nil {
		logger.Debug("sink failed; stream abandoned", "state", em.State(), "error", err)
		return err
	}

	if em.State() == StateRunning {
		if runErr == nil {
			runErr = ErrNoFinalMessage
		}
		logger.Warn("agent run failed", "error", runErr)
		if err := em.Fail(runCtx, errorMessage(runErr)); err != nil {
			return err
		}
	}
	return em.Finish(runCtx)
}

// consume forwards the run's output. It returns the run's failure, or a sink
// error that stopped forwarding; on success the emitter is left in StateDone.
func (d *Driver) consume(ctx context.Context, em *Emitter, req *models.RunRequest) error {
	chunks, err := d.Runner.Run(ctx, req)
	if err != nil {
		return err
	}
	defer drain(chunks)

	var final *models.ChatMessage
	var runErr error
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			runErr = chunk.Error
		case chunk.Message != nil:
			final = chunk.Message
		case chunk.Text != "":
			if err := em.Delta(ctx, chunk.Text); err != nil {
				return err
			}
		}
	}
	if runErr != nil {
		return runErr
	}
	if final == nil {
		return ErrNoFinalMessage
	}
	return em.Done(ctx, final.Content)
}

// errorMessage renders a run failure for the client. Loop errors are
// reported by their cause so the message matches what failed.
func errorMessage(err error) string {
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		if loopErr.Message != "" {
			return loopErr.Message
		}
		if loopErr.Cause != nil {
			err = loopErr.Cause
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "agent run failed"
}

func drain(ch <-chan *agent.ResponseChunk) {
	go func() {
		for range ch {
		}
	}()
}
