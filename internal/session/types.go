package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HyphaGroup/acpbridge/internal/engine"
)

// BlankPromptReply answers a prompt with no text.
const BlankPromptReply = "Please provide a prompt."

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPromptInFlight rejects a second concurrent prompt on one session.
	ErrPromptInFlight = errors.New("a prompt is already running for this session")

	// ErrRateLimited rejects a prompt over the session's rate limit.
	ErrRateLimited = errors.New("prompt rate limit exceeded")

	// ErrTooManySessions rejects session creation at the configured cap.
	ErrTooManySessions = errors.New("maximum number of sessions reached")

	// ErrManagerClosed rejects session creation after Close.
	ErrManagerClosed = errors.New("session manager closed")
)

// SessionCreationError reports a backing session that could not be allocated.
type SessionCreationError struct {
	WorkingDir string
	Err        error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("cannot create session for %q: %v", e.WorkingDir, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// State is one protocol session and the backing engine session it owns.
type State struct {
	ID         string
	WorkingDir string
	Metadata   map[string]string
	CreatedAt  time.Time

	backing engine.Session

	mu           sync.Mutex
	inFlight     bool
	lastActivity time.Time
	prompts      int
}

func newState(id, workingDir string, metadata map[string]string, backing engine.Session) *State {
	now := time.Now()
	return &State{
		ID:           id,
		WorkingDir:   workingDir,
		Metadata:     metadata,
		CreatedAt:    now,
		backing:      backing,
		lastActivity: now,
	}
}

// StreamPrompt runs one prompt against the backing session. It blocks for
// the whole turn; callers choose the goroutine. A blank prompt is answered
// directly without reaching the engine.
func (s *State) StreamPrompt(ctx context.Context, prompt engine.Prompt, sink engine.TokenSink) error {
	if isBlank(prompt) {
		sink.OnToken(BlankPromptReply)
		sink.OnComplete()
		return nil
	}
	return s.backing.StreamPrompt(ctx, prompt, sink)
}

// Prepare forwards to the backing session when it supports setup checks.
func (s *State) Prepare(ctx context.Context, prompt engine.Prompt) error {
	if isBlank(prompt) {
		return nil
	}
	if p, ok := s.backing.(engine.Preparer); ok {
		return p.Prepare(ctx, prompt)
	}
	return nil
}

// isBlank reports a prompt with no text. Resource links alone do not count.
func isBlank(prompt engine.Prompt) bool {
	return strings.TrimSpace(prompt.Text) == ""
}

// Backing returns the engine session handle.
func (s *State) Backing() engine.Session { return s.backing }

// Touch records activity now.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last prompt start or finish.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// InFlight reports whether a prompt is running.
func (s *State) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Prompts returns how many prompts have been started on the session.
func (s *State) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// begin marks a prompt as running. The returned func is safe to call more
// than once.
func (s *State) begin() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrPromptInFlight
	}
	s.inFlight = true
	s.prompts++
	s.lastActivity = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inFlight = false
			s.lastActivity = time.Now()
			s.mu.Unlock()
		})
	}, nil
}
