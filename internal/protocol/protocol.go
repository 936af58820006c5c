// Package protocol holds the Agent Client Protocol wire types served by the
// agent side of the bridge.
package protocol

import "encoding/json"

// ProtocolVersion is the ACP version this agent speaks.
const ProtocolVersion = 1

// Method names
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"
	MethodSessionCancel = "session/cancel"
	MethodSessionUpdate = "session/update"
)

// Content block types
const (
	ContentText         = "text"
	ContentImage        = "image"
	ContentAudio        = "audio"
	ContentResourceLink = "resource_link"
	ContentResource     = "resource"
)

// Session update types
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
)

// StopReason ends a prompt turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopRefusal   StopReason = "refusal"
	StopCancelled StopReason = "cancelled"
)

// --- Initialize ---

// InitializeRequest is sent by the client to establish the connection.
type InitializeRequest struct {
	ProtocolVersion    int                 `json:"protocolVersion"`
	ClientCapabilities *ClientCapabilities `json:"clientCapabilities,omitempty"`
	ClientInfo         *Implementation     `json:"clientInfo,omitempty"`
}

// InitializeResponse is returned by the agent with its capabilities.
type InitializeResponse struct {
	ProtocolVersion   int                `json:"protocolVersion"`
	AgentCapabilities *AgentCapabilities `json:"agentCapabilities,omitempty"`
	AgentInfo         *Implementation    `json:"agentInfo,omitempty"`
	AuthMethods       []AuthMethod       `json:"authMethods"`
}

// Implementation identifies a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities advertises what the client supports.
type ClientCapabilities struct {
	Fs       *FsCapability `json:"fs,omitempty"`
	Terminal bool          `json:"terminal,omitempty"`
}

// FsCapability describes file system capabilities.
type FsCapability struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

// AgentCapabilities advertises what the agent supports.
type AgentCapabilities struct {
	LoadSession        bool                `json:"loadSession"`
	PromptCapabilities *PromptCapabilities `json:"promptCapabilities,omitempty"`
}

// PromptCapabilities lists optional content types accepted in prompts.
// Text and resource links are always accepted.
type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// AuthMethod describes an authentication method.
type AuthMethod struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// --- Session ---

// NewSessionRequest creates a new conversation session.
type NewSessionRequest struct {
	CWD        string            `json:"cwd"`
	McpServers []json.RawMessage `json:"mcpServers,omitempty"`
	Meta       map[string]any    `json:"_meta,omitempty"`
}

// NewSessionResponse returns the created session info.
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// --- Prompt ---

// PromptRequest sends a user prompt to the agent.
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResponse indicates the prompt turn has completed.
type PromptResponse struct {
	StopReason StopReason `json:"stopReason"`
}

// CancelNotification is sent by the client to cancel a prompt.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// --- Content ---

// ContentBlock represents typed content in prompts and messages.
// Discriminated by the Type field.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image / audio
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`

	// resource_link
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        int64  `json:"size,omitempty"`

	// resource
	Resource json.RawMessage `json:"resource,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// --- Session Update ---

// SessionNotification is the params for a session/update notification.
type SessionNotification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// SessionUpdate is a discriminated union of update types. Only message
// chunks are produced by this agent.
type SessionUpdate struct {
	Type    string        `json:"sessionUpdate"`
	Content *ContentBlock `json:"content,omitempty"`
}
