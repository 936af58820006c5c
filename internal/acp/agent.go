// Package acp adapts the session manager and stream bridge to the Agent
// Client Protocol operations.
package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/HyphaGroup/acpbridge/internal/history"
	"github.com/HyphaGroup/acpbridge/internal/logger"
	"github.com/HyphaGroup/acpbridge/internal/metrics"
	"github.com/HyphaGroup/acpbridge/internal/protocol"
	"github.com/HyphaGroup/acpbridge/internal/session"
	"github.com/HyphaGroup/acpbridge/internal/stream"
	"github.com/HyphaGroup/acpbridge/internal/validation"
)

// Agent answers ACP requests for one connection.
type Agent struct {
	info     protocol.Implementation
	sessions *session.Manager
	bridge   *stream.Bridge
	history  *history.Store

	mu     sync.Mutex
	active map[string]*stream.Stream // sessionID -> running prompt
}

// New creates an agent. store may be nil to disable transcripts.
func New(info protocol.Implementation, sessions *session.Manager, bridge *stream.Bridge, store *history.Store) *Agent {
	return &Agent{
		info:     info,
		sessions: sessions,
		bridge:   bridge,
		history:  store,
		active:   make(map[string]*stream.Stream),
	}
}

// Initialize reports the agent's identity and capabilities.
func (a *Agent) Initialize(ctx context.Context, req protocol.InitializeRequest) protocol.InitializeResponse {
	info := a.info
	logger.DebugContext(ctx, "initialize", "client_protocol", req.ProtocolVersion)
	return protocol.InitializeResponse{
		ProtocolVersion: protocol.ProtocolVersion,
		AgentCapabilities: &protocol.AgentCapabilities{
			LoadSession:        false,
			PromptCapabilities: &protocol.PromptCapabilities{},
		},
		AgentInfo:   &info,
		AuthMethods: []protocol.AuthMethod{},
	}
}

// NewSession creates a session rooted at req.CWD.
func (a *Agent) NewSession(ctx context.Context, req protocol.NewSessionRequest) (protocol.NewSessionResponse, error) {
	st, err := a.sessions.Create(ctx, req.CWD, metadataFrom(req.Meta))
	if err != nil {
		return protocol.NewSessionResponse{}, err
	}

	if a.history != nil {
		rec := &history.SessionRecord{
			ID:         st.ID,
			WorkingDir: st.WorkingDir,
			Metadata:   st.Metadata,
			CreatedAt:  st.CreatedAt,
		}
		if err := a.history.RecordSession(rec); err != nil {
			logger.WarnContext(logger.WithSessionID(ctx, st.ID), "failed to record session", "error", err)
		}
	}
	return protocol.NewSessionResponse{SessionID: st.ID}, nil
}

// Prompt starts a prompt turn and returns its stream without waiting for
// any output. Unknown sessions fail with session.ErrSessionNotFound.
func (a *Agent) Prompt(ctx context.Context, req protocol.PromptRequest) (*stream.Stream, error) {
	if err := validation.ValidateSessionID(req.SessionID); err != nil {
		return nil, &ParamsError{Method: protocol.MethodSessionPrompt, Err: err}
	}
	ctx = logger.WithSessionID(ctx, req.SessionID)

	st, release, err := a.sessions.BeginPrompt(req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRateLimited):
			metrics.RecordPromptRejected("rate_limited")
		case errors.Is(err, session.ErrPromptInFlight):
			metrics.RecordPromptRejected("in_flight")
		}
		return nil, err
	}

	// Held across Start so OnFinish cannot run before the stream is tracked.
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.bridge.Start(ctx, stream.Request{
		SessionID: req.SessionID,
		Session:   st,
		Content:   req.Prompt,
		OnFinish: func(r stream.Result) {
			a.finish(r)
			release()
		},
	})
	if err != nil {
		release()
		return nil, err
	}
	a.active[req.SessionID] = s
	return s, nil
}

// Cancel cancels the running prompt of sessionID. It reports whether a
// prompt was cancelled.
func (a *Agent) Cancel(ctx context.Context, sessionID string) bool {
	a.mu.Lock()
	s := a.active[sessionID]
	a.mu.Unlock()
	if s == nil {
		logger.DebugContext(ctx, "cancel for session with no running prompt", "session_id", sessionID)
		return false
	}
	ok := s.Cancel()
	if ok {
		logger.InfoContext(logger.WithSessionID(ctx, sessionID), "prompt cancelled", "stream_id", s.ID())
	}
	return ok
}

// CancelAll cancels every running prompt.
func (a *Agent) CancelAll() {
	a.mu.Lock()
	streams := make([]*stream.Stream, 0, len(a.active))
	for _, s := range a.active {
		streams = append(streams, s)
	}
	a.mu.Unlock()

	for _, s := range streams {
		s.Cancel()
	}
}

// Active returns the number of running prompts.
func (a *Agent) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

func (a *Agent) finish(r stream.Result) {
	a.mu.Lock()
	if cur := a.active[r.SessionID]; cur != nil && cur.ID() == r.StreamID {
		delete(a.active, r.SessionID)
	}
	a.mu.Unlock()

	if a.history == nil {
		return
	}
	turn := &history.Turn{
		SessionID:  r.SessionID,
		StreamID:   r.StreamID,
		Prompt:     r.Prompt.Text,
		Reply:      r.Reply,
		StopReason: string(r.StopReason),
		Tokens:     r.Tokens,
		StartedAt:  r.StartedAt,
		Duration:   r.Duration,
	}
	for _, l := range r.Prompt.ResourceLinks {
		turn.ResourceLinks = append(turn.ResourceLinks, l.URI)
	}
	if r.Err != nil {
		turn.Error = r.Err.Error()
	}
	if err := a.history.RecordTurn(turn); err != nil {
		logger.Error("Failed to record turn for session %s: %v", r.SessionID, err)
	}
}

// metadataFrom flattens _meta into string values.
func metadataFrom(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
