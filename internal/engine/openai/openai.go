// Package openai streams prompts through an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/HyphaGroup/acpbridge/internal/engine"
)

// ErrMissingAPIKey is returned by Prepare when no API key is configured.
var ErrMissingAPIKey = errors.New("openai: api key is not configured")

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.ChatModelGPT4oMini

// Config holds engine settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxRetries   int
	// MaxHistory caps the remembered user/assistant turns per session. Zero keeps all.
	MaxHistory int
}

// Engine creates chat sessions against one client.
type Engine struct {
	client openai.Client
	cfg    Config
}

// New creates an engine from cfg.
func New(cfg Config) *Engine {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Engine{client: openai.NewClient(opts...), cfg: cfg}
}

// Info implements engine.PromptEngine.
func (e *Engine) Info() engine.Info {
	return engine.Info{Name: "openai", Version: e.cfg.Model}
}

// NewSession implements engine.PromptEngine.
func (e *Engine) NewSession(ctx context.Context, id, workingDir string, metadata map[string]string) (engine.Session, error) {
	if strings.TrimSpace(workingDir) == "" {
		return nil, fmt.Errorf("%w: empty path", engine.ErrInvalidWorkingDir)
	}
	return &Session{engine: e, id: id, workingDir: workingDir}, nil
}

// Close implements engine.PromptEngine.
func (e *Engine) Close() error { return nil }

// Session keeps the chat history of one protocol session.
type Session struct {
	engine     *Engine
	id         string
	workingDir string

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

// Prepare implements engine.Preparer.
func (s *Session) Prepare(ctx context.Context, prompt engine.Prompt) error {
	if s.engine.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// HistoryLen returns the number of remembered messages.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// StreamPrompt implements engine.Session.
func (s *Session) StreamPrompt(ctx context.Context, prompt engine.Prompt, sink engine.TokenSink) error {
	user := openai.UserMessage(userContent(prompt))
	params := openai.ChatCompletionNewParams{
		Model:    s.engine.cfg.Model,
		Messages: s.messages(user),
	}

	stream := s.engine.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			reply.WriteString(ch.Delta.Content)
			sink.OnToken(ch.Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			sink.OnError(ctxErr)
			return nil
		}
		sink.OnError(fmt.Errorf("openai streaming error: %w", err))
		return nil
	}

	s.remember(user, openai.AssistantMessage(reply.String()))
	sink.OnComplete()
	return nil
}

func (s *Session) messages(user openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.history)+2)
	if sp := s.engine.cfg.SystemPrompt; sp != "" {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, s.history...)
	return append(msgs, user)
}

func (s *Session) remember(user, assistant openai.ChatCompletionMessageParamUnion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, user, assistant)
	if max := s.engine.cfg.MaxHistory; max > 0 && len(s.history) > 2*max {
		s.history = append([]openai.ChatCompletionMessageParamUnion(nil), s.history[len(s.history)-2*max:]...)
	}
}

// userContent renders the prompt text followed by a list of attached resources.
func userContent(p engine.Prompt) string {
	if len(p.ResourceLinks) == 0 {
		return p.Text
	}
	var b strings.Builder
	b.WriteString(p.Text)
	b.WriteString("\n\nAttached resources:")
	for _, l := range p.ResourceLinks {
		b.WriteString("\n- ")
		if l.Name != "" {
			b.WriteString(l.Name)
			b.WriteString(" ")
		}
		b.WriteString("<")
		b.WriteString(l.URI)
		b.WriteString(">")
		if l.MimeType != "" {
			b.WriteString(" ")
			b.WriteString(l.MimeType)
		}
		if l.Description != "" {
			b.WriteString(": ")
			b.WriteString(l.Description)
		}
	}
	return b.String()
}
