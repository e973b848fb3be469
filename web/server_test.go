// ABOUTME: Tests for the relay server: page, health, event filtering, panel streaming, and integration.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389-research/overwatch/client"
	"github.com/2389-research/overwatch/model"
	"github.com/2389-research/overwatch/stream"
)

type fakeBackend struct {
	chatFn     func(ctx context.Context, message string) (*stream.Session, error)
	chat       []string
	search     []string
	openErr    error
	events     []model.SecurityEvent
	healthErr  error
	deleted    []model.EventID
	integrated []model.SecurityEvent
	lastMax    int
}

func body(records []string) io.ReadCloser {
	var b strings.Builder
	for _, r := range records {
		b.WriteString("data: " + r + "\n\n")
	}
	return io.NopCloser(strings.NewReader(b.String()))
}

func (f *fakeBackend) ChatStream(ctx context.Context, message string) (*stream.Session, error) {
	if f.chatFn != nil {
		return f.chatFn(ctx, message)
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return stream.NewSession(ctx, body(f.chat)), nil
}

func (f *fakeBackend) SearchStream(ctx context.Context, _ string, maxEvents int) (*stream.Session, error) {
	f.lastMax = maxEvents
	if f.openErr != nil {
		return nil, f.openErr
	}
	return stream.NewSession(ctx, body(f.search)), nil
}

func (f *fakeBackend) Events(context.Context) ([]model.SecurityEvent, error) {
	return f.events, nil
}

func (f *fakeBackend) DeleteEvent(_ context.Context, id model.EventID) error {
	for _, e := range f.events {
		if e.ID == id {
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return client.ErrorFromStatusCode(http.StatusNotFound, "/api/delete-event/{id}", "not found")
}

func (f *fakeBackend) IntegrateSearchEvents(_ context.Context, events []model.SecurityEvent) (client.IntegrationResult, error) {
	f.integrated = append(f.integrated, events...)
	return client.IntegrationResult{Success: true, AddedCount: len(events)}, nil
}

func (f *fakeBackend) Health(context.Context) (client.Health, error) {
	if f.healthErr != nil {
		return client.Health{}, f.healthErr
	}
	return client.Health{Status: "healthy"}, nil
}

func newTestServer(t *testing.T, b *fakeBackend) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{Backend: b})
	require.NoError(t, err)
	return s
}

// testClient is the client id do sends on every request.
const testClient = "5f0c6a1e-3b7d-4c2a-9e8f-1a2b3c4d5e6f"

func do(s *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	return doAs(s, testClient, method, target, form)
}

// doAs issues a request carrying the given client id; an empty id sends no header.
func doAs(s *Server, clientID, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if clientID != "" {
		req.Header.Set(ClientHeader, clientID)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	Name string
	Data map[string]any
}

func parseSSE(t *testing.T, raw string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(raw, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var evt sseEvent
		for _, line := range strings.Split(block, "\n") {
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				evt.Name = name
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				require.NoError(t, json.Unmarshal([]byte(data), &evt.Data))
			}
		}
		out = append(out, evt)
	}
	return out
}

func names(events []sseEvent) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Name)
	}
	return out
}

func TestNewServerRequiresBackend(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHome(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	rec := do(s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `data-panel="main"`)
	assert.Contains(t, rec.Body.String(), `data-panel="overlay"`)
	assert.Contains(t, rec.Body.String(), `value="5"`)
	assert.Regexp(t, `data-client="[0-9a-f-]{36}"`, rec.Body.String())

	again := do(s, http.MethodGet, "/", nil)
	assert.NotEqual(t, extractClient(rec.Body.String()), extractClient(again.Body.String()), "each page load gets its own client id")
}

func extractClient(page string) string {
	const attr = `data-client="`
	i := strings.Index(page, attr)
	if i < 0 {
		return ""
	}
	rest := page[i+len(attr):]
	return rest[:strings.IndexByte(rest, '"')]
}

func TestHealth(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b)

	rec := do(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"healthy"}`, rec.Body.String())

	b.healthErr = errors.New("down")
	rec = do(s, http.MethodGet, "/health", nil)
	assert.JSONEq(t, `{"status":"ok","backend":"unreachable"}`, rec.Body.String())
}

func TestEventsFiltering(t *testing.T) {
	b := &fakeBackend{events: []model.SecurityEvent{
		{ID: "1", Title: "Tanker seized", Category: "maritime", Severity: "high", Location: "Hormuz, Iran", Timestamp: "2025-03-02T00:00:00Z"},
		{ID: "2", Title: "Flood", Category: "climate", Severity: "low", Location: "Dhaka, Bangladesh", Timestamp: "2025-03-03T00:00:00Z"},
		{ID: "3", Title: "Chip fab fire", Category: "supply-chain", Severity: "critical", Location: "Hsinchu, Taiwan", Timestamp: "2025-03-01T00:00:00Z"},
	}}
	s := newTestServer(t, b)

	var resp eventsResponse
	rec := do(s, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 3)
	assert.Equal(t, model.EventID("2"), resp.Events[0].ID, "newest first by default")
	assert.Equal(t, 2, resp.Metrics.HighSeverity)
	assert.Equal(t, []string{"climate", "maritime", "supply-chain"}, resp.Categories)

	rec = do(s, http.MethodGet, "/api/events?severity=high,critical&sort=severity", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, model.EventID("3"), resp.Events[0].ID)
	assert.Equal(t, model.EventID("1"), resp.Events[1].ID)

	rec = do(s, http.MethodGet, "/api/events?type=maritime&search=TANKER", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Hormuz", resp.RegionChart[0].Label)

	rec = do(s, http.MethodGet, "/api/events?region=nowhere", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Events)
	assert.Empty(t, resp.Events)
}

func TestDeleteEvent(t *testing.T) {
	b := &fakeBackend{events: []model.SecurityEvent{{ID: "1", Title: "A"}}}
	s := newTestServer(t, b)

	rec := do(s, http.MethodDelete, "/api/events/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.EventID{"1"}, b.deleted)

	rec = do(s, http.MethodDelete, "/api/events/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRelay(t *testing.T) {
	b := &fakeBackend{chat: []string{`{"chunk":"**Two** events"}`, `{"chunk":" in Kyiv"}`, `{"done":true}`}}
	s := newTestServer(t, b)

	rec := do(s, http.MethodPost, "/panels/main/chat", url.Values{"message": {"summarize"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"render", "render", "render", "done"}, names(events))
	last := events[len(events)-1]
	assert.Contains(t, last.Data["html"], "<strong>Two</strong> events in Kyiv")
	assert.Equal(t, false, last.Data["incomplete"])
}

func TestChatRelayTruncated(t *testing.T) {
	b := &fakeBackend{chat: []string{`{"chunk":"partial"}`}}
	s := newTestServer(t, b)

	rec := do(s, http.MethodPost, "/panels/overlay/chat", url.Values{"message": {"hi"}})
	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "done", last.Name)
	assert.Equal(t, true, last.Data["incomplete"])
}

func TestChatRelayErrors(t *testing.T) {
	b := &fakeBackend{chat: []string{`{"error":"model unavailable"}`}}
	s := newTestServer(t, b)

	rec := do(s, http.MethodPost, "/panels/main/chat", url.Values{"message": {"hi"}})
	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Name)
	assert.Equal(t, "Error: model unavailable", last.Data["message"])

	b.openErr = errors.New("refused")
	rec = do(s, http.MethodPost, "/panels/main/chat", url.Values{"message": {"hi"}})
	events = parseSSE(t, rec.Body.String())
	last = events[len(events)-1]
	assert.Equal(t, "error", last.Name)
	assert.Equal(t, "Sorry, I encountered an error. Please try again.", last.Data["message"])
}

func TestChatRelayBadRequests(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	rec := do(s, http.MethodPost, "/panels/sidebar/chat", url.Values{"message": {"hi"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodPost, "/panels/main/chat", url.Values{"message": {"  "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/panels/main/search", url.Values{"query": {"ports"}, "max_events": {"zero"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRelay(t *testing.T) {
	b := &fakeBackend{search: []string{
		`{"type":"status","message":"Searching"}`,
		`{"type":"event","event":{"id":"ws-1","title":"Strike","severity":"high"}}`,
		`{"type":"complete","message":"Found 1"}`,
	}}
	s := newTestServer(t, b)

	rec := do(s, http.MethodPost, "/panels/overlay/search", url.Values{"query": {"ports"}, "max_events": {"3"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, b.lastMax)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"status", "item", "done"}, names(events))
	assert.Equal(t, "Searching", events[0].Data["message"])
	assert.EqualValues(t, 1, events[1].Data["n"])
	done := events[2].Data
	assert.Equal(t, "Found 1", done["summary"])
	assert.Equal(t, false, done["incomplete"])
	assert.Len(t, done["events"], 1)
}

func TestSearchRelayDefaultMax(t *testing.T) {
	b := &fakeBackend{search: []string{`{"type":"complete"}`}}
	s := newTestServer(t, b)
	do(s, http.MethodPost, "/panels/main/search", url.Values{"query": {"ports"}})
	assert.Equal(t, client.DefaultMaxSearchEvents, b.lastMax)
}

func TestIntegrate(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b)

	req := httptest.NewRequest(http.MethodPost, "/api/integrate-search-events", strings.NewReader(`[{"id":"ws-1","title":"Strike"}]`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"added_count":1`)
	require.Len(t, b.integrated, 1)

	req = httptest.NewRequest(http.MethodPost, "/api/integrate-search-events", strings.NewReader(`[]`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/integrate-search-events", strings.NewReader(`{"not":"a list"}`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPanel(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})
	rec := do(s, http.MethodPost, "/panels/main/cancel", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, s.clients.len(), "cancel does not create a client")

	rec = do(s, http.MethodPost, "/panels/sidebar/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanelRequestsRequireClientID(t *testing.T) {
	s := newTestServer(t, &fakeBackend{chat: []string{`{"done":true}`}})

	for _, id := range []string{"", "not-a-uuid"} {
		rec := doAs(s, id, http.MethodPost, "/panels/main/chat", url.Values{"message": {"hi"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "client %q", id)
		rec = doAs(s, id, http.MethodPost, "/panels/main/search", url.Values{"query": {"ports"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "client %q", id)
		rec = doAs(s, id, http.MethodPost, "/panels/main/cancel", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "client %q", id)
	}
	assert.Equal(t, 0, s.clients.len())
}

func TestChatRelayPanelsArePerClient(t *testing.T) {
	const (
		clientA = "0b8f3a52-6f2e-4d8a-a1c3-2f4e5d6c7b8a"
		clientB = "9d1e2f3a-4b5c-4d6e-8f7a-8b9c0d1e2f3a"
	)
	pr, pw := io.Pipe()
	opened := make(chan struct{})
	b := &fakeBackend{chat: []string{`{"chunk":"fast"}`, `{"done":true}`}}
	b.chatFn = func(ctx context.Context, message string) (*stream.Session, error) {
		if message == "slow" {
			close(opened)
			return stream.NewSession(ctx, pr), nil
		}
		return stream.NewSession(ctx, body(b.chat)), nil
	}
	s := newTestServer(t, b)

	// Client A holds the main panel open on a stream that has not finished.
	recA := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		recA <- doAs(s, clientA, http.MethodPost, "/panels/main/chat", url.Values{"message": {"slow"}})
	}()
	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("client A stream never opened")
	}

	// Client B uses the same panel name, then cancels it.
	rec := doAs(s, clientB, http.MethodPost, "/panels/main/chat", url.Values{"message": {"fast"}})
	eventsB := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, eventsB)
	lastB := eventsB[len(eventsB)-1]
	assert.Equal(t, "done", lastB.Name)
	assert.Equal(t, false, lastB.Data["incomplete"])

	rec = doAs(s, clientB, http.MethodPost, "/panels/main/cancel", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, s.clients.len())

	// A's stream is still live and completes normally.
	_, err := io.WriteString(pw, "data: {\"chunk\":\"slow reply\"}\n\ndata: {\"done\":true}\n\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	var a *httptest.ResponseRecorder
	select {
	case a = <-recA:
	case <-time.After(5 * time.Second):
		t.Fatal("client A relay did not finish")
	}
	eventsA := parseSSE(t, a.Body.String())
	require.NotEmpty(t, eventsA)
	lastA := eventsA[len(eventsA)-1]
	assert.Equal(t, "done", lastA.Name)
	assert.Equal(t, false, lastA.Data["incomplete"])
	assert.Contains(t, lastA.Data["html"], "slow reply")
}
