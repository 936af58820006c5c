// Package echo is a development engine that streams the prompt back to the
// client one word at a time.
package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HyphaGroup/acpbridge/internal/engine"
)

// FailWord makes a prompt fail mid-stream when it appears as a word.
const FailWord = "fail"

// ErrRequestedFailure is reported when a prompt contains FailWord.
var ErrRequestedFailure = errors.New("echo: failure requested by prompt")

// Config holds echo engine settings.
type Config struct {
	// TokenDelay is slept before every token.
	TokenDelay time.Duration
}

// Engine echoes prompts.
type Engine struct {
	cfg Config
}

// New creates an echo engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Info implements engine.PromptEngine.
func (e *Engine) Info() engine.Info {
	return engine.Info{Name: "echo", Version: "1"}
}

// NewSession implements engine.PromptEngine.
func (e *Engine) NewSession(ctx context.Context, id, workingDir string, metadata map[string]string) (engine.Session, error) {
	if strings.TrimSpace(workingDir) == "" {
		return nil, fmt.Errorf("%w: empty path", engine.ErrInvalidWorkingDir)
	}
	return &Session{id: id, delay: e.cfg.TokenDelay}, nil
}

// Close implements engine.PromptEngine.
func (e *Engine) Close() error { return nil }

// Session is one echo session. It counts the turns it has served.
type Session struct {
	id    string
	delay time.Duration

	mu    sync.Mutex
	turns int
}

// Turns returns how many prompts the session has completed.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// StreamPrompt implements engine.Session.
func (s *Session) StreamPrompt(ctx context.Context, prompt engine.Prompt, sink engine.TokenSink) error {
	words := strings.Fields(prompt.Text)
	for i, w := range words {
		if s.delay > 0 {
			select {
			case <-ctx.Done():
				sink.OnError(ctx.Err())
				return nil
			case <-time.After(s.delay):
			}
		} else if err := ctx.Err(); err != nil {
			sink.OnError(err)
			return nil
		}

		if strings.EqualFold(w, FailWord) {
			sink.OnError(ErrRequestedFailure)
			return nil
		}
		if i < len(words)-1 {
			w += " "
		}
		sink.OnToken(w)
	}

	if len(prompt.ResourceLinks) > 0 {
		names := make([]string, 0, len(prompt.ResourceLinks))
		for _, l := range prompt.ResourceLinks {
			name := l.Name
			if name == "" {
				name = l.URI
			}
			names = append(names, name)
		}
		sink.OnToken("\n[resources: " + strings.Join(names, ", ") + "]")
	}

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()
	sink.OnComplete()
	return nil
}
