// Package stream turns a blocking, callback-driven prompt call into an
// ordered, cancellable sequence of events.
package stream

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/HyphaGroup/acpbridge/internal/protocol"
)

/*
PROMPT STREAM ARCHITECTURE

    protocol loop                 Bridge.Start                 worker goroutine
    ─────────────                 ────────────                 ────────────────
    session/prompt ───────────> split content, admit,
                                Prepare (setup errors here)
                                spawn worker ───────────────> StreamPrompt(ctx, prompt, sink)
                  <─────────── *Stream (returns at once)          │ OnToken   → Push(update)
    for ev := range Events() <──────── Queue <────────────────────│ OnComplete→ Push(end_turn), Close
                                                                  │ OnError   → Push("Error: ..."),
                                                                  │             Push(end_turn), Close(err)

1. THE WORKER NEVER SHARES A GOROUTINE WITH THE CONSUMER. The engine call
   blocks for the whole turn; running it where the queue is drained would
   serialize every token into one final block.

2. PUSH NEVER BLOCKS. The queue is unbounded, so engine callbacks are never
   throttled by a slow client. Admission is bounded instead: at most
   maxConcurrent workers exist at once.

3. SETUP VS RUNTIME ERRORS. Anything that fails before the worker starts is
   returned from Start as *StreamSetupError and no stream exists. Anything
   after that becomes stream content followed by end_turn.

4. CANCELLATION IS COOPERATIVE. Cancel closes the consumer side and cancels
   the worker's ctx. An engine that ignores ctx runs to completion; its
   remaining callbacks are dropped and logged.

5. EXACTLY ONE CLOSE. The first terminal signal (complete, error, cancel)
   closes the queue; later ones are ignored.
*/

// Stream is the consumer side of one prompt invocation.
type Stream struct {
	id        string
	sessionID string
	q         *Queue
	cancel    context.CancelFunc
	done      chan struct{}

	consumed     atomic.Bool
	cancelled    atomic.Bool
	terminalRead atomic.Bool
	result       Result
}

func newStream(id, sessionID string, cancel context.CancelFunc) *Stream {
	return &Stream{
		id:        id,
		sessionID: sessionID,
		q:         NewQueue(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// ID returns the stream identifier used in logs.
func (s *Stream) ID() string { return s.id }

// SessionID returns the session the stream belongs to.
func (s *Stream) SessionID() string { return s.sessionID }

// Events returns the stream's events in emission order. The sequence can be
// consumed once; later iterations yield nothing. Breaking out of the loop
// before the terminal event cancels the stream.
func (s *Stream) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			return
		}
		for {
			e, ok, _ := s.q.Next(context.Background())
			if !ok {
				return
			}
			if e.Kind == KindResponse {
				s.terminalRead.Store(true)
			}
			if !yield(e) {
				s.Cancel()
				return
			}
		}
	}
}

// Cancel abandons the stream. No further events are delivered and the
// worker's context is cancelled. Once the engine has ended the turn, Cancel
// is a no-op and the queued end of turn stays readable. It reports whether
// the stream was abandoned.
func (s *Stream) Cancel() bool {
	if s.terminalRead.Load() || s.q.Closed() {
		return false
	}
	if !s.cancelled.CompareAndSwap(false, true) {
		return false
	}
	s.q.Abandon()
	s.cancel()
	return true
}

// Cancelled reports whether Cancel took effect.
func (s *Stream) Cancelled() bool { return s.cancelled.Load() }

// StopReason is the reason to report for this turn: cancelled if the
// consumer cancelled before the turn ended, end_turn otherwise.
func (s *Stream) StopReason() protocol.StopReason {
	if s.Cancelled() {
		return protocol.StopCancelled
	}
	return protocol.StopEndTurn
}

// Err returns the reason the stream closed: nil for a clean close,
// *StreamRuntimeError after an engine error, ErrCancelled after Cancel.
func (s *Stream) Err() error { return s.q.Err() }

// Done is closed once the worker has returned.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the worker has returned or ctx ends.
func (s *Stream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the worker outcome. Valid after Done is closed.
func (s *Stream) Result() Result {
	<-s.done
	return s.result
}

// Stats returns queue statistics for the stream.
func (s *Stream) Stats() QueueStats { return s.q.Stats() }
