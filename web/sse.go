// ABOUTME: Server-sent event writer that relays panel progress to the browser as named events.
// ABOUTME: sseSurface adapts the writer to the dashboard chat and search surfaces.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/model"
)

// Relay event names.
const (
	eventRender = "render"
	eventStatus = "status"
	eventItem   = "item"
	eventDone   = "done"
	eventError  = "error"
)

type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter writes the stream headers. It fails if w cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

type renderPayload struct {
	HTML string `json:"html"`
}

type donePayload struct {
	HTML       string `json:"html"`
	Incomplete bool   `json:"incomplete"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type itemPayload struct {
	N     int                 `json:"n"`
	Event model.SecurityEvent `json:"event"`
}

type searchDonePayload struct {
	Summary    string                `json:"summary,omitempty"`
	Events     []model.SecurityEvent `json:"events"`
	Incomplete bool                  `json:"incomplete"`
}

// sseSurface implements dashboard.Surface and dashboard.SearchSurface.
type sseSurface struct {
	out *sseWriter
}

var (
	_ dashboard.Surface       = sseSurface{}
	_ dashboard.SearchSurface = sseSurface{}
)

func (s sseSurface) Start() {
	s.out.send(eventRender, renderPayload{})
}

func (s sseSurface) Replace(html string) {
	s.out.send(eventRender, renderPayload{HTML: html})
}

func (s sseSurface) Finish(html string, incomplete bool) {
	s.out.send(eventDone, donePayload{HTML: html, Incomplete: incomplete})
}

func (s sseSurface) Fail(message string) {
	s.out.send(eventError, messagePayload{Message: message})
}

func (s sseSurface) Status(message string) {
	s.out.send(eventStatus, messagePayload{Message: message})
}

func (s sseSurface) Item(n int, event model.SecurityEvent) {
	s.out.send(eventItem, itemPayload{N: n, Event: event})
}

func (s sseSurface) Complete(result *dashboard.SearchResult) {
	events := result.Events
	if events == nil {
		events = []model.SecurityEvent{}
	}
	s.out.send(eventDone, searchDonePayload{
		Summary:    result.Summary,
		Events:     events,
		Incomplete: !result.Completed,
	})
}
