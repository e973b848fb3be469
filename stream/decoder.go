// ABOUTME: Decoder turns a newline-delimited "data: <json>" byte stream into typed protocol events.
// ABOUTME: Reassembles lines across read boundaries, skips malformed records, and stops at the first terminal event.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/2389-research/overwatch/model"
)

const (
	dataPrefix      = "data: "
	defaultReadSize = 4096

	// DefaultMaxLineSize caps one record line, line feed excluded.
	DefaultMaxLineSize = 1 << 20

	// maxEmptyReads bounds consecutive (0, nil) reads before giving up,
	// matching bufio's tolerance.
	maxEmptyReads = 100
)

// ErrLineTooLong is returned when a record line exceeds the decoder's limit.
var ErrLineTooLong = errors.New("stream line too long")

// Decoder reads protocol events from an io.Reader. It performs at most one
// read at a time and never reads past a terminal event.
type Decoder struct {
	r       io.Reader
	readBuf []byte
	pending []byte // bytes after the last line feed, not yet a full line
	maxLine int
	eof     bool
	done    bool
	logger  *slog.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithReadSize sets the size of each read from the underlying reader.
func WithReadSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.readBuf = make([]byte, n)
		}
	}
}

// WithMaxLineSize sets the longest record line the decoder will buffer.
func WithMaxLineSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:       r,
		maxLine: DefaultMaxLineSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.readBuf == nil {
		d.readBuf = make([]byte, defaultReadSize)
	}
	return d
}

// Next returns the next protocol event. It returns io.EOF after a terminal
// event has been returned or when the stream ends. Running out of input
// without a terminal event also yields io.EOF; callers distinguish that case
// by whether they saw Complete or Error.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.done {
			return nil, io.EOF
		}

		if line, ok := d.nextLine(); ok {
			if len(line) > d.maxLine {
				return nil, d.tooLong()
			}
			if evt := d.decodeLine(line); evt != nil {
				d.done = IsTerminal(evt)
				return evt, nil
			}
			continue
		}
		if len(d.pending) > d.maxLine {
			return nil, d.tooLong()
		}

		if d.eof {
			// A final record without a trailing line feed still counts.
			d.done = true
			if len(d.pending) > 0 {
				line := d.pending
				d.pending = nil
				if evt := d.decodeLine(line); evt != nil {
					return evt, nil
				}
			}
			return nil, io.EOF
		}

		if err := d.fill(); err != nil {
			d.done = true
			return nil, err
		}
	}
}

// All returns an iterator over the remaining events. Iteration stops after
// the terminal event, at end of stream, or after yielding a read error.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			evt, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(evt, err) || err != nil {
				return
			}
		}
	}
}

// tooLong ends the stream; nothing after an oversized line can be trusted
// to start on a record boundary.
func (d *Decoder) tooLong() error {
	d.done = true
	d.pending = nil
	return fmt.Errorf("read stream: %w (limit %d bytes)", ErrLineTooLong, d.maxLine)
}

// nextLine pops one complete line (without its line feed) off the pending buffer.
func (d *Decoder) nextLine() ([]byte, bool) {
	idx := bytes.IndexByte(d.pending, '\n')
	if idx < 0 {
		return nil, false
	}
	line := d.pending[:idx]
	d.pending = d.pending[idx+1:]
	return line, true
}

// fill performs a single read and appends the result to the pending buffer.
// Splitting on raw bytes means a multi-byte character cut by a read boundary
// simply waits in the buffer for its remaining bytes.
func (d *Decoder) fill() error {
	for empty := 0; empty < maxEmptyReads; empty++ {
		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.pending = append(d.pending, d.readBuf[:n]...)
		}
		if errors.Is(err, io.EOF) {
			d.eof = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
	return fmt.Errorf("read stream: %w", io.ErrNoProgress)
}

// record is the union of every record shape either stream dialect sends.
type record struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Chunk   string          `json:"chunk"`
	Done    bool            `json:"done"`
	Error   json.RawMessage `json:"error"`
	Event   json.RawMessage `json:"event"`
}

// decodeLine maps one line to an event. Lines that are not data records,
// fail to parse, or have an unrecognized shape yield nil.
func (d *Decoder) decodeLine(line []byte) Event {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil
	}
	payload := line[len(dataPrefix):]
	if !utf8.Valid(payload) {
		payload = bytes.ToValidUTF8(payload, []byte("\uFFFD"))
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		d.logger.Debug("skipping malformed stream record", "component", "stream.decoder", "err", err)
		return nil
	}

	switch rec.Type {
	case "":
		return chatEvent(rec)
	case "status":
		return Status{Message: rec.Message}
	case "event":
		if len(rec.Event) == 0 || string(rec.Event) == "null" {
			return nil
		}
		var item model.SecurityEvent
		if err := json.Unmarshal(rec.Event, &item); err != nil {
			d.logger.Debug("skipping malformed event record", "component", "stream.decoder", "err", err)
			return nil
		}
		return DomainItem{Item: item}
	case "complete":
		raw := make(json.RawMessage, len(payload))
		copy(raw, payload)
		return Complete{Message: rec.Message, Payload: raw}
	case "error":
		return Error{Message: rec.Message}
	default:
		return nil
	}
}

// chatEvent maps the untyped chat dialect. An error field wins over done,
// and done wins over chunk; empty chunks carry nothing and are dropped.
func chatEvent(rec record) Event {
	if msg := errorText(rec.Error); msg != "" {
		return Error{Message: msg}
	}
	if rec.Done {
		return Complete{}
	}
	if rec.Chunk != "" {
		return Chunk{Text: rec.Chunk}
	}
	return nil
}

// errorText renders an error field. Strings are used as-is; any other
// non-null, non-false value is kept in its JSON form.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch string(raw) {
	case "null", "false", `""`:
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
