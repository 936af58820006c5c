package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/HyphaGroup/acpbridge/internal/engine"
	"github.com/HyphaGroup/acpbridge/internal/logger"
	"github.com/HyphaGroup/acpbridge/internal/metrics"
	"github.com/HyphaGroup/acpbridge/internal/protocol"
)

// Prompter runs one blocking prompt call.
type Prompter interface {
	StreamPrompt(ctx context.Context, prompt engine.Prompt, sink engine.TokenSink) error
}

// Request describes one prompt invocation.
type Request struct {
	SessionID string
	Session   Prompter
	Content   []protocol.ContentBlock

	// OnFinish runs on the worker goroutine once the stream is closed and
	// before Done is signalled.
	OnFinish func(Result)
}

// Result summarizes a finished worker.
type Result struct {
	StreamID   string
	SessionID  string
	Prompt     engine.Prompt
	Reply      string
	StopReason protocol.StopReason
	Err        error
	Tokens     int
	Dropped    int64
	StartedAt  time.Time
	Duration   time.Duration
}

// Bridge starts prompt workers. A nil semaphore means no admission limit.
type Bridge struct {
	workers *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewBridge creates a bridge that runs at most maxConcurrent workers at once.
// maxConcurrent <= 0 disables the limit.
func NewBridge(maxConcurrent int) *Bridge {
	b := &Bridge{}
	if maxConcurrent > 0 {
		b.workers = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return b
}

// Start validates and admits req, then runs the prompt on its own goroutine.
// It returns without waiting for any output.
func (b *Bridge) Start(ctx context.Context, req Request) (*Stream, error) {
	ctx = logger.WithSessionID(ctx, req.SessionID)
	if req.Session == nil {
		return nil, &StreamSetupError{SessionID: req.SessionID, Err: errors.New("no backing session")}
	}

	prompt := BuildPrompt(ctx, req.Content)

	if b.workers != nil && !b.workers.TryAcquire(1) {
		metrics.RecordPromptRejected("busy")
		return nil, &StreamSetupError{SessionID: req.SessionID, Err: ErrBusy}
	}

	if p, ok := req.Session.(engine.Preparer); ok {
		if err := p.Prepare(ctx, prompt); err != nil {
			b.release()
			metrics.RecordPromptRejected("setup")
			return nil, &StreamSetupError{SessionID: req.SessionID, Err: err}
		}
	}

	// The worker outlives the request that started it.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := newStream(uuid.New().String()[:8], req.SessionID, cancel)
	sink := &streamSink{stream: s, ctx: wctx}

	b.wg.Add(1)
	metrics.RecordPromptStart()
	logger.DebugContext(ctx, "prompt stream started", "stream_id", s.id, "links", len(prompt.ResourceLinks))

	go b.run(wctx, req, prompt, s, sink)
	return s, nil
}

func (b *Bridge) run(ctx context.Context, req Request, prompt engine.Prompt, s *Stream, sink *streamSink) {
	defer b.wg.Done()
	start := time.Now()

	err := invoke(ctx, req.Session, prompt, sink)
	if !sink.finish(err) && err != nil {
		logger.WarnContext(ctx, "prompt engine returned an error after ending the turn", "stream_id", s.id, "error", err)
	}

	s.cancel()
	b.release()

	s.result = sink.result(s, prompt, start)
	status := "ok"
	switch {
	case s.Cancelled():
		status = "cancelled"
	case s.result.Err != nil:
		status = "error"
	}
	metrics.RecordPromptEnd(string(s.result.StopReason), status, s.result.Duration)
	logger.DebugContext(ctx, "prompt stream finished", "stream_id", s.id, "status", status,
		"tokens", s.result.Tokens, "dropped", s.result.Dropped, "duration", s.result.Duration)

	if req.OnFinish != nil {
		req.OnFinish(s.result)
	}
	close(s.done)
}

// invoke runs the engine call, turning a panic into an error.
func invoke(ctx context.Context, p Prompter, prompt engine.Prompt, sink engine.TokenSink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prompt engine panic: %v", r)
		}
	}()
	return p.StreamPrompt(ctx, prompt, sink)
}

func (b *Bridge) release() {
	if b.workers != nil {
		b.workers.Release(1)
	}
}

// Wait blocks until every worker has returned or ctx ends.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BuildPrompt joins the text blocks with newlines in order and collects
// resource links separately. Other block types are skipped.
func BuildPrompt(ctx context.Context, blocks []protocol.ContentBlock) engine.Prompt {
	var texts []string
	var links []engine.ResourceLink
	for _, b := range blocks {
		switch b.Type {
		case protocol.ContentText:
			texts = append(texts, b.Text)
		case protocol.ContentResourceLink:
			links = append(links, engine.ResourceLink{
				Name:        b.Name,
				URI:         b.URI,
				Title:       b.Title,
				Description: b.Description,
				MimeType:    b.MimeType,
				Size:        b.Size,
			})
			logger.DebugContext(ctx, "resource link attached", "uri", b.URI, "name", b.Name)
		default:
			logger.DebugContext(ctx, "skipping unsupported content block", "type", b.Type)
		}
	}
	return engine.Prompt{Text: strings.Join(texts, "\n"), ResourceLinks: links}
}

// streamSink relays engine callbacks into the stream's queue. Callbacks are
// serialized, so queue order is callback order.
type streamSink struct {
	stream *Stream
	ctx    context.Context

	mu         sync.Mutex
	finished   bool
	reply      strings.Builder
	tokens     int
	runtimeErr error
	warned     bool
}

func (k *streamSink) OnToken(text string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.finished {
		k.drop(KindUpdate, ErrClosed)
		return
	}
	k.tokens++
	k.reply.WriteString(text)
	if k.deliver(UpdateEvent(text)) {
		metrics.RecordToken()
	}
}

func (k *streamSink) OnComplete() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.finished {
		logger.DebugContext(k.ctx, "ignoring completion after end of turn", "stream_id", k.stream.id)
		return
	}
	k.finished = true
	k.deliver(ResponseEvent(protocol.StopEndTurn))
	k.stream.q.Close(nil)
}

func (k *streamSink) OnError(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.finished {
		logger.DebugContext(k.ctx, "ignoring error after end of turn", "stream_id", k.stream.id, "error", err)
		return
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	k.finished = true
	k.runtimeErr = &StreamRuntimeError{SessionID: k.stream.sessionID, Err: err}
	logger.WarnContext(k.ctx, "prompt failed", "stream_id", k.stream.id, "error", err)

	k.deliver(UpdateEvent("Error: " + err.Error()))
	k.deliver(ResponseEvent(protocol.StopEndTurn))
	k.stream.q.Close(k.runtimeErr)
}

// finish ends the turn if the engine returned without doing so. It reports
// whether this call ended it.
func (k *streamSink) finish(err error) bool {
	k.mu.Lock()
	done := k.finished
	k.mu.Unlock()
	if done {
		return false
	}
	if err != nil {
		k.OnError(err)
	} else {
		k.OnComplete()
	}
	return true
}

func (k *streamSink) deliver(e Event) bool {
	if _, err := k.stream.q.Push(e); err != nil {
		k.drop(e.Kind, err)
		return false
	}
	return true
}

// drop logs a DeliveryFailure. The first one per stream is a warning.
func (k *streamSink) drop(kind Kind, err error) {
	metrics.RecordDeliveryDrop()
	df := &DeliveryFailure{SessionID: k.stream.sessionID, Kind: kind, Err: err}
	if !k.warned {
		k.warned = true
		logger.WarnContext(k.ctx, "consumer gone, dropping events", "stream_id", k.stream.id, "error", df)
		return
	}
	logger.DebugContext(k.ctx, "event dropped", "stream_id", k.stream.id, "error", df)
}

func (k *streamSink) result(s *Stream, prompt engine.Prompt, start time.Time) Result {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Result{
		StreamID:   s.id,
		SessionID:  s.sessionID,
		Prompt:     prompt,
		Reply:      k.reply.String(),
		StopReason: s.StopReason(),
		Err:        k.runtimeErr,
		Tokens:     k.tokens,
		Dropped:    s.q.Stats().Dropped,
		StartedAt:  start,
		Duration:   time.Since(start),
	}
}
