package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyphaGroup/acpbridge/internal/protocol"
)

func TestDecodeNewSessionParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"minimal", `{"cwd":"/work"}`, false},
		{"with mcp servers", `{"cwd":"/work","mcpServers":[{"name":"fs","command":"mcp-fs","args":[],"env":[]}]}`, false},
		{"with meta", `{"cwd":"/work","_meta":{"client":"zed","n":1}}`, false},
		{"unknown field", `{"cwd":"/work","futureField":true}`, false},
		{"missing cwd", `{"mcpServers":[]}`, true},
		{"cwd wrong type", `{"cwd":7}`, true},
		{"not an object", `["/work"]`, true},
		{"invalid json", `{"cwd":`, true},
		{"empty params", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeParams[protocol.NewSessionRequest](protocol.MethodSessionNew, json.RawMessage(tt.raw))
			if tt.wantErr {
				var pe *ParamsError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, protocol.MethodSessionNew, pe.Method)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/work", got.CWD)
		})
	}
}

func TestDecodePromptParams(t *testing.T) {
	raw := `{
		"sessionId": "abc",
		"prompt": [
			{"type": "text", "text": "hello", "annotations": {"priority": 1}},
			{"type": "resource_link", "uri": "file:///a.go", "name": "a.go", "size": 120},
			{"type": "resource", "resource": {"uri": "file:///b.go", "text": "package b"}}
		]
	}`

	got, err := DecodeParams[protocol.PromptRequest](protocol.MethodSessionPrompt, json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc", got.SessionID)
	require.Len(t, got.Prompt, 3)
	assert.Equal(t, "hello", got.Prompt[0].Text)
	assert.Equal(t, int64(120), got.Prompt[1].Size)
	assert.JSONEq(t, `{"uri": "file:///b.go", "text": "package b"}`, string(got.Prompt[2].Resource))

	_, err = DecodeParams[protocol.PromptRequest](protocol.MethodSessionPrompt, json.RawMessage(`{"sessionId":"abc"}`))
	assert.Error(t, err, "prompt is required")

	_, err = DecodeParams[protocol.PromptRequest](protocol.MethodSessionPrompt, json.RawMessage(`{"sessionId":"abc","prompt":[{"text":"no type"}]}`))
	assert.Error(t, err, "content block type is required")

	_, err = DecodeParams[protocol.PromptRequest](protocol.MethodSessionPrompt, json.RawMessage(`{"sessionId":"abc","prompt":[{"type":"resource_link","size":1.5}]}`))
	assert.Error(t, err, "size must be an integer")
}

func TestDecodeInitializeParams(t *testing.T) {
	got, err := DecodeParams[protocol.InitializeRequest](protocol.MethodInitialize,
		json.RawMessage(`{"protocolVersion":1,"clientCapabilities":{"fs":{"readTextFile":true,"writeTextFile":false},"terminal":true}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProtocolVersion)
	require.NotNil(t, got.ClientCapabilities)
	assert.True(t, got.ClientCapabilities.Terminal)

	_, err = DecodeParams[protocol.InitializeRequest](protocol.MethodInitialize, json.RawMessage(`{"protocolVersion":"1"}`))
	assert.Error(t, err)
}
