package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/rules"
)

var ErrExecutionHandleNil = errors.New("execution handle is nil")

// Outcome of a turn as seen from its handle.
const (
	OutcomeRunning   = "running"
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ExecutionHandle is one turn running in the background of a Session. The identity
// fields and the decision are fixed when the turn starts; the done event and error
// become readable once Done is closed.
type ExecutionHandle struct {
	SessionID string
	TurnID    string
	Message   string
	Decision  rules.Decision
	Started   time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// written once, before done is closed
	out      *events.EventDone
	err      error
	finished time.Time
}

func newExecutionHandle(sessionID, turnID, message string, decision rules.Decision, cancel context.CancelFunc) *ExecutionHandle {
	return &ExecutionHandle{
		SessionID: sessionID,
		TurnID:    turnID,
		Message:   message,
		Decision:  decision,
		Started:   time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (h *ExecutionHandle) finish(out *events.EventDone, err error) {
	h.out = out
	h.err = err
	h.finished = time.Now()
	close(h.done)
}

// Cancel stops the turn. Calling it on a finished turn does nothing.
func (h *ExecutionHandle) Cancel() {
	if h == nil || h.cancel == nil {
		return
	}
	h.cancel()
}

// Done is closed when the turn has finished, successfully or not.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the turn finishes and returns its done event or error.
func (h *ExecutionHandle) Wait() (*events.EventDone, error) {
	if h == nil {
		return nil, ErrExecutionHandleNil
	}
	<-h.done
	return h.out, h.err
}

// WaitContext is Wait bounded by ctx. When ctx ends first the turn keeps running and
// the context error is returned.
func (h *ExecutionHandle) WaitContext(ctx context.Context) (*events.EventDone, error) {
	if h == nil {
		return nil, ErrExecutionHandleNil
	}
	select {
	case <-h.done:
		return h.out, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the turn's result without blocking. ok is false while it runs.
func (h *ExecutionHandle) Result() (out *events.EventDone, err error, ok bool) {
	if h == nil {
		return nil, ErrExecutionHandleNil, true
	}
	select {
	case <-h.done:
		return h.out, h.err, true
	default:
		return nil, nil, false
	}
}

func (h *ExecutionHandle) IsRunning() bool {
	_, _, ok := h.Result()
	return !ok
}

// Outcome is one of OutcomeRunning, OutcomeDone, OutcomeFailed, OutcomeCancelled.
func (h *ExecutionHandle) Outcome() string {
	_, err, ok := h.Result()
	switch {
	case !ok:
		return OutcomeRunning
	case err == nil:
		return OutcomeDone
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// Elapsed is the turn's running time so far, or its total once finished.
func (h *ExecutionHandle) Elapsed() time.Duration {
	if _, _, ok := h.Result(); ok && !h.finished.IsZero() {
		return h.finished.Sub(h.Started)
	}
	return time.Since(h.Started)
}
