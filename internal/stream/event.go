package stream

import (
	"time"

	"github.com/HyphaGroup/acpbridge/internal/protocol"
)

// Kind discriminates Event.
type Kind int

const (
	// KindUpdate carries a content chunk.
	KindUpdate Kind = iota
	// KindResponse is the terminal event of a stream.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Event is one unit of prompt output, in emission order.
type Event struct {
	Index      int
	Timestamp  time.Time
	Kind       Kind
	Chunk      protocol.ContentBlock
	StopReason protocol.StopReason
}

// UpdateEvent wraps text as a session update.
func UpdateEvent(text string) Event {
	return Event{Kind: KindUpdate, Chunk: protocol.TextBlock(text)}
}

// ResponseEvent ends a stream with reason.
func ResponseEvent(reason protocol.StopReason) Event {
	return Event{Kind: KindResponse, StopReason: reason}
}

// Update converts an update event to its wire form.
func (e Event) Update() protocol.SessionUpdate {
	chunk := e.Chunk
	return protocol.SessionUpdate{Type: protocol.UpdateAgentMessageChunk, Content: &chunk}
}
