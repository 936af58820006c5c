package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Queue.Push once the queue is closed.
	ErrClosed = errors.New("stream closed")

	// ErrCancelled closes a queue whose consumer went away.
	ErrCancelled = errors.New("stream cancelled by consumer")

	// ErrBusy rejects a prompt when every worker slot is taken.
	ErrBusy = errors.New("too many prompts in progress")
)

// StreamSetupError reports a prompt that failed before any event was produced.
// No stream exists when it is returned.
type StreamSetupError struct {
	SessionID string
	Err       error
}

func (e *StreamSetupError) Error() string {
	return fmt.Sprintf("prompt setup failed for session %s: %v", e.SessionID, e.Err)
}

func (e *StreamSetupError) Unwrap() error { return e.Err }

// StreamRuntimeError is the close reason of a stream whose engine signalled
// an error. Consumers see it in-band as an error chunk plus end of turn.
type StreamRuntimeError struct {
	SessionID string
	Err       error
}

func (e *StreamRuntimeError) Error() string {
	return fmt.Sprintf("prompt failed for session %s: %v", e.SessionID, e.Err)
}

func (e *StreamRuntimeError) Unwrap() error { return e.Err }

// DeliveryFailure describes an event that could not be queued because the
// stream was already closed. It is logged and dropped, never returned.
type DeliveryFailure struct {
	SessionID string
	Kind      Kind
	Err       error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("dropped %s event for session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }
