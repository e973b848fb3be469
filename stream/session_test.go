// ABOUTME: Tests for Session: accumulated text, outcomes, and body release on every exit path.
package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingBody records how many times it was closed.
type trackingBody struct {
	io.Reader
	closes atomic.Int32
}

func (b *trackingBody) Close() error {
	b.closes.Add(1)
	return nil
}

func newBody(s string) *trackingBody {
	return &trackingBody{Reader: strings.NewReader(s)}
}

func drain(t *testing.T, s *Session) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		evt, err := s.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, evt)
	}
}

func TestSessionCompletes(t *testing.T) {
	body := newBody("data: {\"chunk\":\"hello\"}\ndata: {\"chunk\":\" world\"}\ndata: {\"done\":true}\n")
	s := NewSession(context.Background(), body)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, "hello world", s.Text())
	assert.Equal(t, OutcomeComplete, s.Outcome())
	assert.NoError(t, s.Err())
	assert.EqualValues(t, 1, body.closes.Load())

	require.NoError(t, s.Close())
	assert.EqualValues(t, 1, body.closes.Load(), "Close is idempotent")
}

func TestSessionTextGrowsPerChunk(t *testing.T) {
	s := NewSession(context.Background(), newBody("data: {\"chunk\":\"a\"}\ndata: {\"chunk\":\"b\"}\n"))
	defer s.Close()

	_, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", s.Text())
	_, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "ab", s.Text())
}

func TestSessionSilentTruncation(t *testing.T) {
	body := newBody("data: {\"chunk\":\"only chunk\"}\n")
	s := NewSession(context.Background(), body)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []Event{Chunk{Text: "only chunk"}}, events)
	assert.Equal(t, OutcomeTruncated, s.Outcome())
	assert.Equal(t, "only chunk", s.Text())
	assert.NoError(t, s.Err())
	assert.EqualValues(t, 1, body.closes.Load())
}

func TestSessionProtocolError(t *testing.T) {
	body := newBody("data: {\"chunk\":\"a\"}\ndata: {\"error\":\"rate limited\"}\ndata: {\"chunk\":\"b\"}\n")
	s := NewSession(context.Background(), body)

	events, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, Error{Message: "rate limited"}, events[len(events)-1])
	assert.Equal(t, OutcomeFailed, s.Outcome())
	assert.Equal(t, "a", s.Text())
	assert.EqualValues(t, 1, body.closes.Load())
}

func TestSessionCancelMidRead(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	var onClose atomic.Int32
	s := NewSession(ctx, pr, WithOnClose(func() { onClose.Add(1) }))

	go func() {
		_, _ = pw.Write([]byte("data: {\"chunk\":\"first\"}\n"))
	}()
	evt, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Chunk{Text: "first"}, evt)

	// The next read blocks until cancellation closes the pipe.
	errc := make(chan error, 1)
	go func() {
		_, err := s.Next()
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock after cancellation")
	}
	assert.Equal(t, OutcomeAborted, s.Outcome())
	assert.Equal(t, "first", s.Text())
	assert.EqualValues(t, 1, onClose.Load())

	_, err = s.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := newBody("data: {\"chunk\":\"a\"}\n")
	s := NewSession(ctx, body)

	require.Eventually(t, func() bool { return body.closes.Load() == 1 }, time.Second, time.Millisecond)
	_, err := s.Next()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, s.Outcome())
}

func TestSessionCloseBeforeEnd(t *testing.T) {
	body := newBody("data: {\"chunk\":\"a\"}\ndata: {\"chunk\":\"b\"}\n")
	s := NewSession(context.Background(), body)

	_, err := s.Next()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, OutcomeAborted, s.Outcome())
	assert.EqualValues(t, 1, body.closes.Load())
}

func TestSessionReadFailure(t *testing.T) {
	boom := errors.New("unexpected EOF from proxy")
	body := &trackingBody{Reader: io.MultiReader(strings.NewReader("data: {\"chunk\":\"a\"}\n"), errReader{boom})}
	s := NewSession(context.Background(), body)

	_, err := drain(t, s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeAborted, s.Outcome())
	assert.Equal(t, "a", s.Text())
	assert.EqualValues(t, 1, body.closes.Load())
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestSessionIDsAreUnique(t *testing.T) {
	a := NewSession(context.Background(), newBody(""))
	b := NewSession(context.Background(), newBody(""))
	defer a.Close()
	defer b.Close()
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "truncated", OutcomeTruncated.String())
	assert.Equal(t, "outcome(99)", Outcome(99).String())
}

func TestProtocolErrorMessage(t *testing.T) {
	assert.Equal(t, "stream reported an error: boom", (&ProtocolError{Message: "boom"}).Error())
	assert.Equal(t, "stream reported an error", (&ProtocolError{}).Error())
}
