// ABOUTME: Backend HTTP client: opens chat and web-search SSE streams and calls the JSON endpoints.
// ABOUTME: Streams are returned as stream.Session values; failures before streaming are TransportErrors.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389-research/overwatch/model"
	"github.com/2389-research/overwatch/stream"
)

// DefaultMaxSearchEvents is the search result cap the backend applies when
// none is given.
const DefaultMaxSearchEvents = 5

const (
	chatStreamPath   = "/api/chat-stream"
	searchStreamPath = "/api/web-search-stream"
	eventsPath       = "/api/events"
	geoDataPath      = "/api/geo-data"
	healthPath       = "/api/health"
	integratePath    = "/api/integrate-search-events"
	deleteEventPath  = "/api/delete-event/{id}"
)

// Client talks to the event backend.
type Client struct {
	api           *resty.Client
	streamer      *resty.Client
	streamTimeout time.Duration
	retry         RetryPolicy
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout bounds each non-streaming request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.api.SetTimeout(d)
	}
}

// WithStreamTimeout bounds the whole lifetime of a stream. Zero means no limit.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.streamTimeout = d
	}
}

// WithRetryPolicy sets the policy applied to requests before any stream data is read.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithLogger sets the client logger. Sessions opened by the client inherit it.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient sends requests through copies of hc, sharing its transport.
// The streaming copy never has a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		base := c.api.BaseURL
		timeout := c.api.GetClient().Timeout
		apiHC, streamHC := *hc, *hc
		streamHC.Timeout = 0
		c.api = resty.NewWithClient(&apiHC).SetBaseURL(base).SetTimeout(timeout)
		c.streamer = resty.NewWithClient(&streamHC).SetBaseURL(base)
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		api:      resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		streamer: resty.New().SetBaseURL(baseURL),
		retry:    NoRetry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client")
	return c
}

// ChatStream posts message to the chat endpoint and returns the open stream.
func (c *Client) ChatStream(ctx context.Context, message string) (*stream.Session, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	return c.openStream(ctx, chatStreamPath, map[string]string{"message": message})
}

// SearchStream posts query to the web search endpoint. maxEvents <= 0 uses
// DefaultMaxSearchEvents.
func (c *Client) SearchStream(ctx context.Context, query string, maxEvents int) (*stream.Session, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxSearchEvents
	}
	return c.openStream(ctx, searchStreamPath, map[string]string{
		"query":      query,
		"max_events": strconv.Itoa(maxEvents),
	})
}

func (c *Client) openStream(ctx context.Context, path string, form map[string]string) (*stream.Session, error) {
	var (
		streamCtx context.Context
		cancel    context.CancelFunc
	)
	if c.streamTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, c.streamTimeout)
	} else {
		streamCtx, cancel = context.WithCancel(ctx)
	}

	var body io.ReadCloser
	err := Retry(ctx, c.retry, func() error {
		resp, err := c.streamer.R().
			SetContext(streamCtx).
			SetHeader("Accept", "text/event-stream").
			SetFormData(form).
			SetDoNotParseResponse(true).
			Post(path)
		if err != nil {
			return c.networkError(ctx, path, err)
		}
		raw := resp.RawBody()
		if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
			detail := readDetail(raw)
			return ErrorFromStatusCode(resp.StatusCode(), path, detail)
		}
		body = raw
		return nil
	})
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("stream request failed", "path", path, "err", err)
		return nil, err
	}

	session := stream.NewSession(streamCtx, body,
		stream.WithSessionLogger(c.logger),
		stream.WithOnClose(cancel),
	)
	c.logger.Debug("stream opened", "path", path, "session", session.ID)
	return session, nil
}

// Events fetches the stored event list.
func (c *Client) Events(ctx context.Context) ([]model.SecurityEvent, error) {
	var out struct {
		Events []model.SecurityEvent `json:"events"`
	}
	if err := c.getJSON(ctx, eventsPath, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// GeoData fetches the map overlay document as raw JSON.
func (c *Client) GeoData(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.getJSON(ctx, geoDataPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health is the backend health report.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp,omitempty"`
	Services  map[string]string `json:"services,omitempty"`
}

// Health fetches the backend health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.getJSON(ctx, healthPath, &out)
	return out, err
}

// IntegrationResult reports what the backend stored from a batch of search events.
type IntegrationResult struct {
	Success     bool                  `json:"success"`
	AddedCount  int                   `json:"added_count"`
	TotalEvents int                   `json:"total_events"`
	AddedEvents []model.SecurityEvent `json:"added_events,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// IntegrateSearchEvents stores discovered events in the backend's event list.
func (c *Client) IntegrateSearchEvents(ctx context.Context, events []model.SecurityEvent) (IntegrationResult, error) {
	var out struct {
		Result IntegrationResult `json:"integration_result"`
	}
	if events == nil {
		events = []model.SecurityEvent{}
	}
	err := c.do(ctx, integratePath, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(events).SetResult(&out).Post(integratePath)
	})
	if err != nil {
		return IntegrationResult{}, err
	}
	if !out.Result.Success && out.Result.Error != "" {
		return out.Result, fmt.Errorf("integrate search events: %s", out.Result.Error)
	}
	return out.Result, nil
}

// DeleteEvent removes the stored event with the given ID.
func (c *Client) DeleteEvent(ctx context.Context, id model.EventID) error {
	if id == "" {
		return errors.New("delete event: empty id")
	}
	return c.do(ctx, deleteEventPath, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", string(id)).Delete(deleteEventPath)
	})
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, path, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(out).Get(path)
	})
}

// do runs one JSON request under the retry policy and maps failures to
// TransportErrors.
func (c *Client) do(ctx context.Context, path string, send func(*resty.Request) (*resty.Response, error)) error {
	return Retry(ctx, c.retry, func() error {
		resp, err := send(c.api.R().SetContext(ctx).SetHeader("Accept", "application/json"))
		if err != nil {
			return c.networkError(ctx, path, err)
		}
		if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
			return ErrorFromStatusCode(resp.StatusCode(), path, errorDetail(resp.Body()))
		}
		return nil
	})
}

func (c *Client) networkError(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil {
		return &TransportError{Message: "request to " + path + " cancelled", Cause: ctx.Err()}
	}
	return &NetworkError{TransportError: TransportError{Message: "request to " + path + " failed", Cause: err}}
}

// readDetail drains a small error body and closes it.
func readDetail(body io.ReadCloser) string {
	if body == nil {
		return ""
	}
	defer body.Close()
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return errorDetail(data)
}

// errorDetail pulls the "detail" field from an error response body, falling
// back to the trimmed body text.
func errorDetail(data []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(payload.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(data))
}
