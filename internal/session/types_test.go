package session

import (
	"context"
	"errors"
	"testing"

	"github.com/HyphaGroup/acpbridge/internal/engine"
)

type sinkRecorder struct {
	tokens   []string
	complete bool
}

func (r *sinkRecorder) OnToken(text string) { r.tokens = append(r.tokens, text) }
func (r *sinkRecorder) OnComplete()         { r.complete = true }
func (r *sinkRecorder) OnError(error)       {}

type countingSession struct {
	calls      int
	prepareErr error
}

func (c *countingSession) StreamPrompt(ctx context.Context, p engine.Prompt, sink engine.TokenSink) error {
	c.calls++
	sink.OnComplete()
	return nil
}

func (c *countingSession) Prepare(ctx context.Context, p engine.Prompt) error { return c.prepareErr }

func TestStateBlankPrompt(t *testing.T) {
	backing := &countingSession{prepareErr: errors.New("should not be called")}
	st := newState("id", "/tmp", nil, backing)

	for _, text := range []string{"", "   ", "\n\t"} {
		sink := &sinkRecorder{}
		if err := st.Prepare(context.Background(), engine.Prompt{Text: text}); err != nil {
			t.Errorf("Prepare(%q) error = %v, want nil", text, err)
		}
		if err := st.StreamPrompt(context.Background(), engine.Prompt{Text: text}, sink); err != nil {
			t.Fatalf("StreamPrompt(%q) error = %v", text, err)
		}
		if len(sink.tokens) != 1 || sink.tokens[0] != BlankPromptReply || !sink.complete {
			t.Errorf("StreamPrompt(%q) tokens = %v complete = %v, want blank reply", text, sink.tokens, sink.complete)
		}
	}
	if backing.calls != 0 {
		t.Errorf("backing calls = %d, want 0", backing.calls)
	}
}

func TestStateBlankPromptWithLinks(t *testing.T) {
	backing := &countingSession{prepareErr: errors.New("should not be called")}
	st := newState("id", "/tmp", nil, backing)
	prompt := engine.Prompt{
		Text:          "  ",
		ResourceLinks: []engine.ResourceLink{{Name: "a.go", URI: "file:///a.go"}},
	}

	if err := st.Prepare(context.Background(), prompt); err != nil {
		t.Errorf("Prepare() error = %v, want nil", err)
	}
	sink := &sinkRecorder{}
	if err := st.StreamPrompt(context.Background(), prompt, sink); err != nil {
		t.Fatalf("StreamPrompt() error = %v", err)
	}
	if len(sink.tokens) != 1 || sink.tokens[0] != BlankPromptReply || !sink.complete {
		t.Errorf("tokens = %v complete = %v, want blank reply", sink.tokens, sink.complete)
	}
	if backing.calls != 0 {
		t.Errorf("backing calls = %d, want 0", backing.calls)
	}
}

func TestStateDelegates(t *testing.T) {
	backing := &countingSession{prepareErr: errors.New("no key")}
	st := newState("id", "/tmp", nil, backing)

	if err := st.Prepare(context.Background(), engine.Prompt{Text: "hi"}); err == nil {
		t.Error("Prepare() error = nil, want backing error")
	}
	if err := st.StreamPrompt(context.Background(), engine.Prompt{Text: "hi"}, &sinkRecorder{}); err != nil {
		t.Fatalf("StreamPrompt() error = %v", err)
	}
	if backing.calls != 1 {
		t.Errorf("backing calls = %d, want 1", backing.calls)
	}
	if st.Backing() != engine.Session(backing) {
		t.Error("Backing() returned a different handle")
	}
}
