// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/HyphaGroup/acpbridge/internal/engine"
)

// MockEngine is a test double for engine.PromptEngine.
// It records calls and allows configuring responses for testing.
type MockEngine struct {
	mu sync.Mutex

	// Configurable responses
	NewSessionError error
	PrepareError    error
	Tokens          []string
	StreamError     error
	// Block holds every prompt until the channel is closed or ctx ends.
	Block chan struct{}
	// NewSessionBlock holds NewSession the same way.
	NewSessionBlock chan struct{}

	// Call tracking
	NewSessionCalls []NewSessionCall
	PromptCalls     []engine.Prompt
	Closed          bool
}

// NewSessionCall records a NewSession call.
type NewSessionCall struct {
	ID         string
	WorkingDir string
	Metadata   map[string]string
}

// NewMockEngine creates a mock engine that answers every prompt with "ok".
func NewMockEngine(t *testing.T) *MockEngine {
	t.Helper()
	return &MockEngine{Tokens: []string{"ok"}}
}

// Info implements engine.PromptEngine.
func (m *MockEngine) Info() engine.Info {
	return engine.Info{Name: "mock", Version: "test"}
}

// NewSession implements engine.PromptEngine.
func (m *MockEngine) NewSession(ctx context.Context, id, workingDir string, metadata map[string]string) (engine.Session, error) {
	m.mu.Lock()
	m.NewSessionCalls = append(m.NewSessionCalls, NewSessionCall{ID: id, WorkingDir: workingDir, Metadata: metadata})
	err := m.NewSessionError
	block := m.NewSessionBlock
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &mockSession{engine: m}, nil
}

// SessionCount returns how many NewSession calls were made.
func (m *MockEngine) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.NewSessionCalls)
}

// Close implements engine.PromptEngine.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Prompts returns a copy of the prompts streamed so far.
func (m *MockEngine) Prompts() []engine.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Prompt(nil), m.PromptCalls...)
}

type mockSession struct {
	engine *MockEngine
}

// Prepare implements engine.Preparer.
func (s *mockSession) Prepare(ctx context.Context, prompt engine.Prompt) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.engine.PrepareError
}

// StreamPrompt implements engine.Session.
func (s *mockSession) StreamPrompt(ctx context.Context, prompt engine.Prompt, sink engine.TokenSink) error {
	m := s.engine
	m.mu.Lock()
	m.PromptCalls = append(m.PromptCalls, prompt)
	tokens := append([]string(nil), m.Tokens...)
	streamErr := m.StreamError
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			sink.OnError(ctx.Err())
			return nil
		}
	}

	for _, t := range tokens {
		sink.OnToken(t)
	}
	if streamErr != nil {
		sink.OnError(streamErr)
		return nil
	}
	sink.OnComplete()
	return nil
}
