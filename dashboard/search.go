// ABOUTME: SearchResult collects the events a web search preview discovered, in arrival order.
// ABOUTME: Integrate hands the collected events to the backend for storage.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/overwatch/client"
	"github.com/2389-research/overwatch/model"
)

// ErrNothingToIntegrate is returned by Integrate when no events were found.
var ErrNothingToIntegrate = errors.New("search found no events to integrate")

// Integrator stores discovered events. *client.Client implements it.
type Integrator interface {
	IntegrateSearchEvents(ctx context.Context, events []model.SecurityEvent) (client.IntegrationResult, error)
}

// SearchResult is the outcome of one web search preview.
type SearchResult struct {
	Query     string
	Events    []model.SecurityEvent
	Statuses  []string
	Summary   string
	Payload   json.RawMessage
	Completed bool
	Truncated bool
}

// NewSearchResult creates an empty result for query.
func NewSearchResult(query string) *SearchResult {
	return &SearchResult{Query: query}
}

// Add appends a discovered event. Events without an ID get a ULID so they
// can be told apart before the backend assigns its own.
func (r *SearchResult) Add(event model.SecurityEvent) model.SecurityEvent {
	if event.ID == "" {
		event.ID = model.EventID("ws-" + ulid.Make().String())
	}
	r.Events = append(r.Events, event)
	return event
}

// Integrate posts the discovered events to the backend.
func (r *SearchResult) Integrate(ctx context.Context, dst Integrator) (client.IntegrationResult, error) {
	if len(r.Events) == 0 {
		return client.IntegrationResult{}, ErrNothingToIntegrate
	}
	return dst.IntegrateSearchEvents(ctx, r.Events)
}
