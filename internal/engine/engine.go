// Package engine defines the prompt engine abstraction the bridge drives.
//
// engine.go - PromptEngine, Session and TokenSink contracts
//
// This file contains:
// - TokenSink, the callback capability an engine reports progress through
// - PromptEngine and Session, the backing engine and its per-session handle
// - Prompt and ResourceLink, the input of one prompt invocation
// - Preparer, an optional synchronous setup hook

package engine

import (
	"context"
	"errors"
)

// TokenSink receives incremental output from a running prompt.
//
// An engine calls OnToken zero or more times and then exactly one of
// OnComplete or OnError. Implementations must be safe to call from a
// goroutine other than the one consuming the results.
type TokenSink interface {
	OnToken(text string)
	OnComplete()
	OnError(err error)
}

// ResourceLink references a resource the client attached to a prompt.
type ResourceLink struct {
	Name        string
	URI         string
	Title       string
	Description string
	MimeType    string
	Size        int64
}

// Prompt is the input of one prompt invocation.
type Prompt struct {
	Text          string
	ResourceLinks []ResourceLink
}

// Info identifies a backing engine.
type Info struct {
	Name    string
	Version string
}

// PromptEngine allocates backing sessions.
type PromptEngine interface {
	Info() Info

	// NewSession allocates a backing session for id rooted at workingDir.
	NewSession(ctx context.Context, id, workingDir string, metadata map[string]string) (Session, error)

	// Close releases any resources held by the engine
	Close() error
}

// Session is the backing session handle owned by one protocol session.
type Session interface {
	// StreamPrompt blocks while output is produced through sink. ctx is a
	// cooperative cancellation signal; engines that ignore it run to
	// completion. A non-nil return is a runtime error and reaches the
	// client in-band; reject a prompt up front with Preparer instead.
	StreamPrompt(ctx context.Context, prompt Prompt, sink TokenSink) error
}

// Preparer is implemented by sessions that can reject a prompt before
// streaming starts. Prepare runs on the caller's goroutine.
type Preparer interface {
	Prepare(ctx context.Context, prompt Prompt) error
}

// ErrInvalidWorkingDir is returned by engines that refuse a working directory.
var ErrInvalidWorkingDir = errors.New("invalid working directory")
