// ABOUTME: Protocol events yielded by the stream decoder for chat and search-agent streams.
// ABOUTME: Event is a sealed interface; Chunk, Status, DomainItem, Complete and Error are its variants.
package stream

import (
	"encoding/json"

	"github.com/2389-research/overwatch/model"
)

// Event is one decoded protocol event. The unexported marker method keeps the
// set of variants closed to this package.
type Event interface {
	event()
}

// Chunk is an incremental text fragment to append to the response.
type Chunk struct {
	Text string
}

// Status is a human-readable progress note from a search-agent stream.
type Status struct {
	Message string
}

// DomainItem is a fully formed record surfaced mid-stream.
type DomainItem struct {
	Item model.SecurityEvent
}

// Complete is the terminal success marker. Payload holds the raw record when
// the backend sent more than a bare completion flag.
type Complete struct {
	Message string
	Payload json.RawMessage
}

// Error is the terminal failure marker.
type Error struct {
	Message string
}

func (Chunk) event()      {}
func (Status) event()     {}
func (DomainItem) event() {}
func (Complete) event()   {}
func (Error) event()      {}

var (
	_ Event = Chunk{}
	_ Event = Status{}
	_ Event = DomainItem{}
	_ Event = Complete{}
	_ Event = Error{}
)

// IsTerminal reports whether no further events may follow e.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Complete, Error:
		return true
	default:
		return false
	}
}

// ProtocolError is an explicit error record sent by the backend.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return "stream reported an error"
	}
	return "stream reported an error: " + e.Message
}
