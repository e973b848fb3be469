// ABOUTME: Session owns one streamed HTTP response: its body, decoder, and accumulated chunk text.
// ABOUTME: Guarantees the body is released on completion, protocol error, read failure, or context cancellation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by Next after the session has been closed
// without reaching the end of the stream.
var ErrSessionClosed = errors.New("stream session closed")

// Outcome describes how a session ended.
type Outcome int

const (
	OutcomePending   Outcome = iota // still streaming
	OutcomeComplete                 // terminal success record received
	OutcomeFailed                   // terminal error record received
	OutcomeTruncated                // stream closed without a terminal record
	OutcomeAborted                  // read failure, cancellation, or early Close
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	case OutcomeTruncated:
		return "truncated"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Session is the lifetime of one streamed request. It is not safe for
// concurrent use except for Close, which may be called from any goroutine.
type Session struct {
	ID string

	ctx     context.Context
	body    io.ReadCloser
	decoder *Decoder
	logger  *slog.Logger

	text    strings.Builder
	outcome Outcome
	err     error

	closeOnce sync.Once
	closeErr  error
	stopWatch func() bool
	onClose   []func()
	mu        sync.Mutex
	closed    bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger for the session and its decoder.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOnClose registers a function to run once the body has been released.
func WithOnClose(fn func()) SessionOption {
	return func(s *Session) {
		if fn != nil {
			s.onClose = append(s.onClose, fn)
		}
	}
}

// NewSession wraps body. Cancelling ctx closes the body, which unblocks any
// read in progress.
func NewSession(ctx context.Context, body io.ReadCloser, opts ...SessionOption) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		ctx:    ctx,
		body:   body,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "stream.session", "session", s.ID)
	s.decoder = NewDecoder(body, WithLogger(s.logger))
	s.mu.Lock()
	s.stopWatch = context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	s.mu.Unlock()
	return s
}

// Next returns the next event. Chunk text is appended to Text before Next
// returns. At the end of the stream Next returns io.EOF and Outcome reports
// whether the stream completed, failed, or was truncated. The body is closed
// as soon as the session reaches any end state.
func (s *Session) Next() (Event, error) {
	if s.outcome != OutcomePending {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	if s.isClosed() {
		s.finish(OutcomeAborted, s.abortErr())
		return nil, s.err
	}

	evt, err := s.decoder.Next()
	switch {
	case errors.Is(err, io.EOF) && (s.isClosed() || s.ctx.Err() != nil):
		s.finish(OutcomeAborted, s.abortErr())
		return nil, s.err
	case errors.Is(err, io.EOF):
		s.finish(OutcomeTruncated, nil)
		s.logger.Debug("stream ended without terminal record", "bytes", s.text.Len())
		return nil, io.EOF
	case err != nil:
		if s.isClosed() || s.ctx.Err() != nil {
			err = s.abortErr()
		}
		s.finish(OutcomeAborted, err)
		return nil, err
	}

	switch e := evt.(type) {
	case Chunk:
		s.text.WriteString(e.Text)
	case Complete:
		s.finish(OutcomeComplete, nil)
	case Error:
		s.finish(OutcomeFailed, nil)
	}
	return evt, nil
}

// Text returns the concatenation of every chunk seen so far.
func (s *Session) Text() string {
	return s.text.String()
}

// Outcome reports how the session ended, or OutcomePending while streaming.
func (s *Session) Outcome() Outcome {
	return s.outcome
}

// Err returns the error that aborted the session, if any.
func (s *Session) Err() error {
	return s.err
}

// Close releases the response body. It is idempotent and safe to call
// concurrently with Next; a blocked read returns once the body is closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stop := s.stopWatch
		s.mu.Unlock()

		if stop != nil {
			stop()
		}
		s.closeErr = s.body.Close()
		for _, fn := range s.onClose {
			fn()
		}
		s.logger.Debug("stream session closed")
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// abortErr explains why a closed session stopped early.
func (s *Session) abortErr() error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return ErrSessionClosed
}

func (s *Session) finish(outcome Outcome, err error) {
	s.outcome = outcome
	s.err = err
	_ = s.Close()
}
