// ABOUTME: Panel drives one chat surface: opens a stream, renders partial markdown, and finalizes.
// ABOUTME: The main chat and the map overlay chat are two Panels with independent state.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389-research/overwatch/markdown"
	"github.com/2389-research/overwatch/model"
	"github.com/2389-research/overwatch/stream"
)

// Messages shown on a surface when a stream cannot produce an answer.
const (
	ChatFailedMessage   = "Sorry, I encountered an error. Please try again."
	SearchFailedMessage = "Search failed. Please try again."
)

// Streamer opens backend streams. *client.Client implements it.
type Streamer interface {
	ChatStream(ctx context.Context, message string) (*stream.Session, error)
	SearchStream(ctx context.Context, query string, maxEvents int) (*stream.Session, error)
}

// Surface is where a chat panel shows its response.
type Surface interface {
	// Start shows a streaming placeholder.
	Start()
	// Replace swaps the shown content for a newer partial render.
	Replace(html string)
	// Finish shows the final render. incomplete is set when the stream
	// ended without a terminal record or was cancelled.
	Finish(html string, incomplete bool)
	// Fail replaces the content with an error message.
	Fail(message string)
}

// FinalOnly is implemented by surfaces that cannot repaint partial renders.
// When FinalOnly reports true, Panel skips rendering partials for them and
// never calls Replace.
type FinalOnly interface {
	FinalOnly() bool
}

// SearchSurface is where a search preview shows progress and discovered events.
type SearchSurface interface {
	Status(message string)
	Item(n int, event model.SecurityEvent)
	Complete(result *SearchResult)
	Fail(message string)
}

// ChatResult summarizes a finished chat stream.
type ChatResult struct {
	SessionID string
	Outcome   stream.Outcome
	Text      string
	HTML      string
}

// Panel is one chat surface's controller. Starting a new request cancels the
// one in flight on the same Panel.
type Panel struct {
	Name string

	streamer Streamer
	renderer *markdown.Renderer
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// NewPanel creates a Panel that renders through renderer.
func NewPanel(name string, streamer Streamer, renderer *markdown.Renderer, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{
		Name:     name,
		streamer: streamer,
		renderer: renderer,
		logger:   logger.With("component", "dashboard.panel", "panel", name),
	}
}

// begin cancels any in-flight request and returns a context for the new one.
func (p *Panel) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.mu.Unlock()

	return ctx, func() {
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}
}

// Cancel stops the in-flight request, if any.
func (p *Panel) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Busy reports whether a request is in flight.
func (p *Panel) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Chat streams a reply to message into surf. Every path ends with exactly one
// call to surf.Finish or surf.Fail.
func (p *Panel) Chat(ctx context.Context, message string, surf Surface) (ChatResult, error) {
	ctx, done := p.begin(ctx)
	defer done()

	surf.Start()
	session, err := p.streamer.ChatStream(ctx, message)
	if err != nil {
		p.logger.Warn("chat request failed", "err", err)
		surf.Fail(ChatFailedMessage)
		return ChatResult{}, err
	}
	defer session.Close()

	state := markdown.NewState(p.renderer)
	partials := true
	if f, ok := surf.(FinalOnly); ok && f.FinalOnly() {
		partials = false
	}
	result := ChatResult{SessionID: session.ID}
	for {
		evt, err := session.Next()
		if err != nil {
			result.Outcome = session.Outcome()
			result.Text = session.Text()
			switch {
			case session.Outcome() == stream.OutcomeTruncated:
				result.HTML = state.Finalize(result.Text)
				surf.Finish(result.HTML, true)
				p.logger.Info("chat stream truncated", "session", session.ID, "bytes", len(result.Text))
				return result, nil
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, stream.ErrSessionClosed):
				result.HTML = state.Finalize(result.Text)
				surf.Finish(result.HTML, true)
				p.logger.Info("chat stream cancelled", "session", session.ID, "err", err)
				return result, err
			default:
				surf.Fail(ChatFailedMessage)
				p.logger.Warn("chat stream read failed", "session", session.ID, "err", err)
				return result, err
			}
		}

		switch e := evt.(type) {
		case stream.Chunk:
			if partials {
				surf.Replace(state.Update(session.Text()))
			}
		case stream.Error:
			result.Outcome = stream.OutcomeFailed
			result.Text = session.Text()
			surf.Fail("Error: " + e.Message)
			return result, &stream.ProtocolError{Message: e.Message}
		case stream.Complete:
			result.Outcome = stream.OutcomeComplete
			result.Text = session.Text()
			result.HTML = state.Finalize(result.Text)
			surf.Finish(result.HTML, false)
			return result, nil
		}
	}
}

// Search streams a web search preview into surf and returns the collected
// result. maxEvents <= 0 uses the backend default.
func (p *Panel) Search(ctx context.Context, query string, maxEvents int, surf SearchSurface) (*SearchResult, error) {
	ctx, done := p.begin(ctx)
	defer done()

	result := NewSearchResult(query)
	session, err := p.streamer.SearchStream(ctx, query, maxEvents)
	if err != nil {
		p.logger.Warn("search request failed", "err", err)
		surf.Fail(SearchFailedMessage)
		return result, err
	}
	defer session.Close()

	for {
		evt, err := session.Next()
		if err != nil {
			if session.Outcome() == stream.OutcomeTruncated {
				result.Truncated = true
				surf.Complete(result)
				return result, nil
			}
			p.logger.Warn("search stream ended early", "session", session.ID, "err", err)
			surf.Fail(SearchFailedMessage)
			return result, err
		}

		switch e := evt.(type) {
		case stream.Status:
			result.Statuses = append(result.Statuses, e.Message)
			surf.Status(e.Message)
		case stream.DomainItem:
			item := result.Add(e.Item)
			surf.Item(len(result.Events), item)
		case stream.Error:
			msg := e.Message
			if msg == "" {
				msg = SearchFailedMessage
			}
			surf.Fail(msg)
			return result, &stream.ProtocolError{Message: e.Message}
		case stream.Complete:
			result.Completed = true
			result.Summary = e.Message
			result.Payload = e.Payload
			surf.Complete(result)
			return result, nil
		}
	}
}
