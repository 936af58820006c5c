package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyphaGroup/acpbridge/internal/acp"
	"github.com/HyphaGroup/acpbridge/internal/engine/echo"
	"github.com/HyphaGroup/acpbridge/internal/protocol"
	"github.com/HyphaGroup/acpbridge/internal/session"
	"github.com/HyphaGroup/acpbridge/internal/stream"
)

type harness struct {
	t      *testing.T
	in     *io.PipeWriter
	msgs   chan jsonrpc.Message
	done   chan error
	cancel context.CancelFunc
}

func startServer(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	m, err := session.NewManager(echo.New(echo.Config{TokenDelay: delay}), session.Options{})
	require.NoError(t, err)
	agent := acp.New(protocol.Implementation{Name: "rpc-test", Version: "1.0.0"}, m, stream.NewBridge(4), nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:      t,
		in:     inW,
		msgs:   make(chan jsonrpc.Message, 256),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { h.done <- NewServer(agent, inR, outW).Serve(ctx) }()
	go func() {
		defer close(h.msgs)
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			line := bytes.Clone(sc.Bytes())
			msg, err := jsonrpc.DecodeMessage(line)
			if err != nil {
				// Errors for unparseable input carry no id.
				var anon struct {
					Error *jsonrpc.Error `json:"error"`
				}
				if json.Unmarshal(line, &anon) != nil || anon.Error == nil {
					continue
				}
				msg = &jsonrpc.Response{Error: anon.Error}
			}
			h.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outR.Close()
		m.Close()
	})
	return h
}

func (h *harness) sendRaw(line string) {
	h.t.Helper()
	_, err := io.WriteString(h.in, line+"\n")
	require.NoError(h.t, err)
}

func (h *harness) send(id int64, method string, params any) {
	h.t.Helper()
	data, err := json.Marshal(params)
	require.NoError(h.t, err)
	req := &jsonrpc.Request{Method: method, Params: data}
	if id > 0 {
		req.ID, err = jsonrpc.MakeID(float64(id))
		require.NoError(h.t, err)
	}
	enc, err := jsonrpc.EncodeMessage(req)
	require.NoError(h.t, err)
	h.sendRaw(string(enc))
}

func (h *harness) next() jsonrpc.Message {
	h.t.Helper()
	select {
	case msg, ok := <-h.msgs:
		require.True(h.t, ok, "output closed")
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for message")
		return nil
	}
}

// response skips notifications until the next response.
func (h *harness) response() *jsonrpc.Response {
	h.t.Helper()
	for {
		if resp, ok := h.next().(*jsonrpc.Response); ok {
			return resp
		}
	}
}

func (h *harness) call(id int64, method string, params any, out any) {
	h.t.Helper()
	h.send(id, method, params)
	resp := h.response()
	require.Equal(h.t, id, resp.ID.Raw())
	require.NoError(h.t, resp.Error)
	if out != nil {
		require.NoError(h.t, json.Unmarshal(resp.Result, out))
	}
}

func (h *harness) callError(id int64, method string, params any) *jsonrpc.Error {
	h.t.Helper()
	h.send(id, method, params)
	resp := h.response()
	require.Equal(h.t, id, resp.ID.Raw())
	var we *jsonrpc.Error
	require.True(h.t, errors.As(resp.Error, &we), "expected error response, got %v", resp.Error)
	return we
}

func (h *harness) newSession() string {
	h.t.Helper()
	var resp protocol.NewSessionResponse
	h.call(1000, protocol.MethodSessionNew, map[string]any{"cwd": h.t.TempDir(), "mcpServers": []any{}}, &resp)
	require.NotEmpty(h.t, resp.SessionID)
	return resp.SessionID
}

func TestInitialize(t *testing.T) {
	h := startServer(t, 0)

	var resp protocol.InitializeResponse
	h.call(1, protocol.MethodInitialize, map[string]any{
		"protocolVersion":    1,
		"clientCapabilities": map[string]any{"fs": map[string]any{"readTextFile": true}},
	}, &resp)

	assert.Equal(t, protocol.ProtocolVersion, resp.ProtocolVersion)
	require.NotNil(t, resp.AgentInfo)
	assert.Equal(t, "rpc-test", resp.AgentInfo.Name)
	assert.NotNil(t, resp.AuthMethods)
}

func TestPromptStreamsUpdatesBeforeResponse(t *testing.T) {
	h := startServer(t, 0)
	id := h.newSession()

	h.send(2, protocol.MethodSessionPrompt, map[string]any{
		"sessionId": id,
		"prompt":    []any{map[string]any{"type": "text", "text": "hello world"}},
	})

	var texts []string
	for {
		msg := h.next()
		if resp, ok := msg.(*jsonrpc.Response); ok {
			require.NoError(t, resp.Error)
			assert.Equal(t, int64(2), resp.ID.Raw())
			var pr protocol.PromptResponse
			require.NoError(t, json.Unmarshal(resp.Result, &pr))
			assert.Equal(t, protocol.StopEndTurn, pr.StopReason)
			break
		}
		note := msg.(*jsonrpc.Request)
		require.Equal(t, protocol.MethodSessionUpdate, note.Method)
		assert.False(t, note.IsCall())

		var sn protocol.SessionNotification
		require.NoError(t, json.Unmarshal(note.Params, &sn))
		assert.Equal(t, id, sn.SessionID)
		assert.Equal(t, protocol.UpdateAgentMessageChunk, sn.Update.Type)
		require.NotNil(t, sn.Update.Content)
		texts = append(texts, sn.Update.Content.Text)
	}
	assert.Equal(t, []string{"hello ", "world"}, texts)
}

func TestPromptRuntimeErrorIsInBand(t *testing.T) {
	h := startServer(t, 0)
	id := h.newSession()

	h.send(3, protocol.MethodSessionPrompt, map[string]any{
		"sessionId": id,
		"prompt":    []any{map[string]any{"type": "text", "text": "fail"}},
	})

	var texts []string
	for {
		msg := h.next()
		if resp, ok := msg.(*jsonrpc.Response); ok {
			require.NoError(t, resp.Error)
			var pr protocol.PromptResponse
			require.NoError(t, json.Unmarshal(resp.Result, &pr))
			assert.Equal(t, protocol.StopEndTurn, pr.StopReason)
			break
		}
		var sn protocol.SessionNotification
		require.NoError(t, json.Unmarshal(msg.(*jsonrpc.Request).Params, &sn))
		texts = append(texts, sn.Update.Content.Text)
	}
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "Error: "), texts[0])
}

func TestCancelPrompt(t *testing.T) {
	h := startServer(t, 20*time.Millisecond)
	id := h.newSession()

	h.send(4, protocol.MethodSessionPrompt, map[string]any{
		"sessionId": id,
		"prompt":    []any{map[string]any{"type": "text", "text": strings.Repeat("word ", 200)}},
	})

	first := h.next()
	_, isNote := first.(*jsonrpc.Request)
	require.True(t, isNote, "expected an update before cancelling")

	h.send(0, protocol.MethodSessionCancel, map[string]any{"sessionId": id})

	resp := h.response()
	require.NoError(t, resp.Error)
	assert.Equal(t, int64(4), resp.ID.Raw())
	var pr protocol.PromptResponse
	require.NoError(t, json.Unmarshal(resp.Result, &pr))
	assert.Equal(t, protocol.StopCancelled, pr.StopReason)
}

func TestErrorCodes(t *testing.T) {
	h := startServer(t, 0)

	we := h.callError(5, "session/load", map[string]any{"sessionId": "x"})
	assert.Equal(t, int64(jsonrpc.CodeMethodNotFound), we.Code)

	we = h.callError(6, protocol.MethodSessionNew, map[string]any{"mcpServers": []any{}})
	assert.Equal(t, int64(jsonrpc.CodeInvalidParams), we.Code)

	we = h.callError(7, protocol.MethodSessionNew, map[string]any{"cwd": 42})
	assert.Equal(t, int64(jsonrpc.CodeInvalidParams), we.Code)

	we = h.callError(8, protocol.MethodSessionNew, map[string]any{"cwd": "relative/dir"})
	assert.Equal(t, int64(jsonrpc.CodeInternalError), we.Code)

	we = h.callError(9, protocol.MethodSessionPrompt, map[string]any{
		"sessionId": uuid.New().String(),
		"prompt":    []any{map[string]any{"type": "text", "text": "hi"}},
	})
	assert.Equal(t, int64(jsonrpc.CodeInvalidParams), we.Code)

	we = h.callError(10, protocol.MethodSessionPrompt, map[string]any{"sessionId": uuid.New().String()})
	assert.Equal(t, int64(jsonrpc.CodeInvalidParams), we.Code)
}

func TestMalformedInput(t *testing.T) {
	h := startServer(t, 0)

	h.sendRaw("this is not json")
	resp := h.response()
	var we *jsonrpc.Error
	require.True(t, errors.As(resp.Error, &we))
	assert.Equal(t, int64(jsonrpc.CodeParseError), we.Code)

	h.sendRaw(`{"jsonrpc":"1.0","id":1,"method":"initialize"}`)
	resp = h.response()
	require.True(t, errors.As(resp.Error, &we))
	assert.Equal(t, int64(jsonrpc.CodeInvalidRequest), we.Code)

	// The loop survives bad input.
	var init protocol.InitializeResponse
	h.call(11, protocol.MethodInitialize, map[string]any{"protocolVersion": 1}, &init)
	assert.Equal(t, protocol.ProtocolVersion, init.ProtocolVersion)
}

func TestNotificationsGetNoResponse(t *testing.T) {
	h := startServer(t, 0)

	h.send(0, "session/unknown", map[string]any{})
	h.send(0, protocol.MethodSessionCancel, map[string]any{"sessionId": uuid.New().String()})
	h.sendRaw("")

	h.send(12, protocol.MethodInitialize, map[string]any{"protocolVersion": 1})
	resp, ok := h.next().(*jsonrpc.Response)
	require.True(t, ok)
	assert.Equal(t, int64(12), resp.ID.Raw())
}

func TestServeReturnsOnEOF(t *testing.T) {
	h := startServer(t, 0)
	require.NoError(t, h.in.Close())

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after EOF")
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	h := startServer(t, 20*time.Millisecond)
	id := h.newSession()
	h.send(13, protocol.MethodSessionPrompt, map[string]any{
		"sessionId": id,
		"prompt":    []any{map[string]any{"type": "text", "text": strings.Repeat("word ", 200)}},
	})
	h.next()

	h.cancel()
	resp := h.response()
	var pr protocol.PromptResponse
	require.NoError(t, json.Unmarshal(resp.Result, &pr))
	assert.Equal(t, protocol.StopCancelled, pr.StopReason)

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestWireError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int64
	}{
		{"params", &acp.ParamsError{Method: "x", Err: errors.New("bad")}, jsonrpc.CodeInvalidParams},
		{"unknown session", session.ErrSessionNotFound, jsonrpc.CodeInvalidParams},
		{"busy", &stream.StreamSetupError{Err: stream.ErrBusy}, jsonrpc.CodeInternalError},
		{"in flight", session.ErrPromptInFlight, jsonrpc.CodeInternalError},
		{"wire", &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "nope"}, jsonrpc.CodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			we := wireError(tt.err)
			assert.Equal(t, tt.want, we.Code)
			assert.Equal(t, tt.err.Error(), we.Message)
		})
	}
}
