package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyphaGroup/acpbridge/internal/engine"
)

type recordingSink struct {
	mu       sync.Mutex
	tokens   []string
	complete bool
	err      error
}

func (r *recordingSink) OnToken(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, text)
}

func (r *recordingSink) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = true
}

func (r *recordingSink) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// chunkServer streams one chat.completion.chunk per delta and records the
// message count of each request.
func chunkServer(t *testing.T, deltas ...string) (*httptest.Server, *[]int) {
	t.Helper()
	var mu sync.Mutex
	counts := []int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []json.RawMessage `json:"messages"`
			Stream   bool              `json:"stream"`
		}
		_ = json.Unmarshal(body, &req)
		mu.Lock()
		counts = append(counts, len(req.Messages))
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			content, _ := json.Marshal(d)
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":null}]}\n\n", content)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &counts
}

func TestStreamPromptForwardsDeltas(t *testing.T) {
	srv, counts := chunkServer(t, "Hel", "lo")
	e := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "test", SystemPrompt: "be brief"})

	s, err := e.NewSession(context.Background(), "s1", "/tmp/proj", nil)
	require.NoError(t, err)
	require.NoError(t, s.(engine.Preparer).Prepare(context.Background(), engine.Prompt{Text: "hi"}))

	sink := &recordingSink{}
	require.NoError(t, s.StreamPrompt(context.Background(), engine.Prompt{Text: "hi"}, sink))

	assert.Equal(t, []string{"Hel", "lo"}, sink.tokens)
	assert.True(t, sink.complete)
	assert.NoError(t, sink.err)
	assert.Equal(t, 2, s.(*Session).HistoryLen())

	sink = &recordingSink{}
	require.NoError(t, s.StreamPrompt(context.Background(), engine.Prompt{Text: "again"}, sink))
	assert.Equal(t, []int{2, 4}, *counts)
}

func TestStreamPromptReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	e := New(Config{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	s, err := e.NewSession(context.Background(), "s1", "/tmp/proj", nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, s.StreamPrompt(context.Background(), engine.Prompt{Text: "hi"}, sink))
	assert.False(t, sink.complete)
	require.Error(t, sink.err)
	assert.Contains(t, sink.err.Error(), "openai streaming error")
	assert.Equal(t, 0, s.(*Session).HistoryLen())
}

func TestPrepareRequiresAPIKey(t *testing.T) {
	s, err := New(Config{}).NewSession(context.Background(), "s1", "/tmp/proj", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.(engine.Preparer).Prepare(context.Background(), engine.Prompt{}), ErrMissingAPIKey)
}

func TestUserContentListsResources(t *testing.T) {
	got := userContent(engine.Prompt{
		Text: "summarize",
		ResourceLinks: []engine.ResourceLink{
			{Name: "a.go", URI: "file:///a.go", MimeType: "text/x-go"},
			{URI: "file:///b.md", Description: "notes"},
		},
	})
	want := "summarize\n\nAttached resources:\n- a.go <file:///a.go> text/x-go\n- <file:///b.md>: notes"
	assert.Equal(t, want, got)
	assert.True(t, strings.HasPrefix(userContent(engine.Prompt{Text: "x"}), "x"))
}

func TestHistoryIsCapped(t *testing.T) {
	e := New(Config{APIKey: "k", MaxHistory: 1})
	s := &Session{engine: e, id: "s1"}
	for i := 0; i < 3; i++ {
		s.remember(openai.UserMessage(fmt.Sprint(i)), openai.AssistantMessage("r"))
	}
	assert.Equal(t, 2, s.HistoryLen())
}
