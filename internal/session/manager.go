package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/acpbridge/internal/engine"
	"github.com/HyphaGroup/acpbridge/internal/logger"
	"github.com/HyphaGroup/acpbridge/internal/metrics"
	"github.com/HyphaGroup/acpbridge/internal/validation"
)

// Options bounds the sessions a Manager keeps.
type Options struct {
	// MaxSessions caps registered sessions. Zero means no cap.
	MaxSessions int

	// PromptsPerSecond and PromptBurst rate-limit prompts per session.
	// Zero PromptsPerSecond disables the limit.
	PromptsPerSecond float64
	PromptBurst      int

	// IdleTimeout is how long a session may go without a prompt before the
	// reaper removes it. Zero disables reaping.
	IdleTimeout time.Duration

	// ReapSchedule is a cron expression ("*/5 * * * *" or "@every 5m") for
	// the idle reaper. Empty disables it.
	ReapSchedule string

	// OnRemove runs after a session is unregistered, outside the manager lock.
	OnRemove func(id string, reaped bool)
}

// Manager owns every session created over the connection.
type Manager struct {
	engine  engine.PromptEngine
	opts    Options
	limiter *RateLimiter
	reaper  *cron.Cron

	mu       sync.RWMutex
	sessions map[string]*State
	reserved int // slots held by in-progress Create calls
	closed   bool
}

// NewManager creates a manager backed by eng and starts its idle reaper.
func NewManager(eng engine.PromptEngine, opts Options) (*Manager, error) {
	m := &Manager{
		engine:   eng,
		opts:     opts,
		limiter:  NewRateLimiter(opts.PromptsPerSecond, opts.PromptBurst),
		sessions: make(map[string]*State),
	}

	if opts.ReapSchedule != "" && opts.IdleTimeout > 0 {
		reaper, err := newReaper(opts.ReapSchedule, func() { m.ReapIdle(time.Now()) })
		if err != nil {
			return nil, err
		}
		m.reaper = reaper
		m.reaper.Start()
	}
	return m, nil
}

// Create validates the working directory, asks the engine for a backing
// session and registers it under a new ID.
func (m *Manager) Create(ctx context.Context, workingDir string, metadata map[string]string) (*State, error) {
	st, err := m.create(ctx, workingDir, metadata)
	if err != nil {
		metrics.RecordSessionCreated("error")
		logger.WarnContext(ctx, "session creation failed", "cwd", workingDir, "error", err)
		return nil, &SessionCreationError{WorkingDir: workingDir, Err: err}
	}
	metrics.RecordSessionCreated("ok")
	logger.InfoContext(logger.WithSessionID(ctx, st.ID), "session created", "cwd", st.WorkingDir)
	return st, nil
}

func (m *Manager) create(ctx context.Context, workingDir string, metadata map[string]string) (*State, error) {
	dir, err := validation.ValidateWorkingDir(workingDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidWorkingDir, err)
	}
	if err := validation.ValidateMetadata(metadata); err != nil {
		return nil, err
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	backing, err := m.engine.NewSession(ctx, id, dir, metadata)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved--
	if err != nil {
		return nil, err
	}
	if m.closed {
		return nil, ErrManagerClosed
	}
	st := newState(id, dir, metadata, backing)
	m.sessions[id] = st
	return st, nil
}

// reserve holds a capacity slot while the engine allocates a backing session.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.capacityLocked(); err != nil {
		return err
	}
	m.reserved++
	return nil
}

func (m *Manager) capacityLocked() error {
	if m.closed {
		return ErrManagerClosed
	}
	if m.opts.MaxSessions > 0 && len(m.sessions)+m.reserved >= m.opts.MaxSessions {
		return fmt.Errorf("%w (%d)", ErrTooManySessions, m.opts.MaxSessions)
	}
	return nil
}

// Get returns a session by ID
func (m *Manager) Get(id string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return st, nil
}

// BeginPrompt admits a prompt on session id. The returned release func must
// be called when the prompt's worker has finished.
func (m *Manager) BeginPrompt(id string) (*State, func(), error) {
	st, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if !m.limiter.Allow(id) {
		return nil, nil, ErrRateLimited
	}
	release, err := st.begin()
	if err != nil {
		return nil, nil, err
	}
	return st, release, nil
}

// Remove unregisters a session. It reports whether the session existed.
func (m *Manager) Remove(id string) bool {
	return m.remove(id, false)
}

func (m *Manager) remove(id string, reaped bool) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.limiter.Forget(id)
		metrics.RecordSessionRemoved(reaped)
		if m.opts.OnRemove != nil {
			m.opts.OnRemove(id, reaped)
		}
	}
	return ok
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns all sessions, oldest first
func (m *Manager) List() []*State {
	m.mu.RLock()
	out := make([]*State, 0, len(m.sessions))
	for _, st := range m.sessions {
		out = append(out, st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close stops the reaper and drops every session.
func (m *Manager) Close() {
	if m.reaper != nil {
		<-m.reaper.Stop().Done()
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.closed = true
	m.mu.Unlock()

	for _, id := range ids {
		m.remove(id, false)
	}
}
