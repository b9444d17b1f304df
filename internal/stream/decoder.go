// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the line-delimited server-sent event stream of a
// chat answer into content tokens.
//
// The decoder keeps a single residual buffer: every chunk read from the
// body is appended, complete lines are consumed, and the trailing partial
// line waits for the next chunk. Token output is therefore independent of
// how the network splits the bytes.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// =============================================================================
// FRAME CONSTANTS
// =============================================================================

const (
	// DataPrefix marks a data frame line.
	DataPrefix = "data: "

	// Terminator is the data payload that ends the stream.
	Terminator = "[DONE]"

	// readChunkSize is the size of a single Read from the body.
	readChunkSize = 4 * 1024
)

// =============================================================================
// FRAME TYPES
// =============================================================================

// FrameKind distinguishes data frames from the terminator.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameTerminator
)

// Frame is one complete "data: " line. Frames are never stored.
type Frame struct {
	Kind    FrameKind
	Payload string
}

// payload is the JSON body of a data frame. The backend sends either
// {"content": "..."} or, when inference fails, {"error": "..."}.
type payload struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Stats counts what the decoder saw. Malformed frames never abort decoding,
// so these counters are the only trace they leave.
type Stats struct {
	Frames       int
	Tokens       int
	Ignored      int
	Malformed    int
	RemoteErrors int
	Terminated   bool
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for malformed-frame debug lines.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// WithMalformedHook is called for every data frame whose payload is not JSON.
func WithMalformedHook(fn func(payload string, err error)) Option {
	return func(d *Decoder) {
		d.onMalformed = fn
	}
}

// WithErrorFrameHook is called for every frame carrying an error field.
func WithErrorFrameHook(fn func(message string)) Option {
	return func(d *Decoder) {
		d.onRemoteError = fn
	}
}

// WithOnClose is called exactly once when the decoder reaches a terminal
// state or is closed, whichever happens first.
func WithOnClose(fn func()) Option {
	return func(d *Decoder) {
		d.onClose = fn
	}
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder pulls tokens from an event stream. A Decoder is not safe for
// concurrent use; Close may be called from any goroutine.
type Decoder struct {
	r     io.Reader
	chunk []byte

	// buf[off:] is the unconsumed residual.
	buf []byte
	off int

	eof  bool
	done bool
	err  error

	stats Stats

	logger        zerolog.Logger
	onMalformed   func(string, error)
	onRemoteError func(string)
	onClose       func()
	closeOnce     sync.Once
}

// NewDecoder creates a decoder reading from r. If r is an io.Closer it is
// closed when the stream ends.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:      r,
		chunk:  make([]byte, readChunkSize),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next content token. It returns io.EOF after the
// terminator frame or at end of body; a partial line left at end of body
// is discarded. Read failures are returned unchanged and are sticky.
func (d *Decoder) Next() (string, error) {
	for {
		if d.done {
			if d.err != nil {
				return "", d.err
			}
			return "", io.EOF
		}

		if i := bytes.IndexByte(d.buf[d.off:], '\n'); i >= 0 {
			line := d.buf[d.off : d.off+i]
			d.off += i + 1
			if token, ok := d.handleLine(line); ok {
				return token, nil
			}
			continue
		}

		if d.eof {
			d.finish(nil)
			continue
		}

		d.fill()
	}
}

// fill reads one chunk and appends it to the residual.
func (d *Decoder) fill() {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}

	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.buf = append(d.buf, d.chunk[:n]...)
	}
	switch {
	case err == io.EOF:
		d.eof = true
	case err != nil:
		d.finish(err)
	}
}

// handleLine processes one complete line and reports whether it yielded a token.
func (d *Decoder) handleLine(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 {
		return "", false
	}

	frame, ok := ParseLine(string(line))
	if !ok {
		d.stats.Ignored++
		return "", false
	}
	d.stats.Frames++

	if frame.Kind == FrameTerminator {
		d.stats.Terminated = true
		d.finish(nil)
		return "", false
	}

	var p payload
	if err := json.Unmarshal([]byte(frame.Payload), &p); err != nil {
		d.stats.Malformed++
		d.logger.Debug().Err(err).Str("payload", frame.Payload).Msg("skipping malformed stream frame")
		if d.onMalformed != nil {
			d.onMalformed(frame.Payload, err)
		}
		return "", false
	}

	if p.Error != "" {
		d.stats.RemoteErrors++
		d.logger.Debug().Str("error", p.Error).Msg("stream frame carried an error")
		if d.onRemoteError != nil {
			d.onRemoteError(p.Error)
		}
	}

	if p.Content == "" {
		if p.Error == "" {
			d.stats.Ignored++
		}
		return "", false
	}

	d.stats.Tokens++
	return p.Content, true
}

// finish moves the decoder to its terminal state and releases the body.
func (d *Decoder) finish(err error) {
	d.done = true
	d.err = err
	d.buf = nil
	d.off = 0
	d.release()
}

func (d *Decoder) release() {
	d.closeOnce.Do(func() {
		if c, ok := d.r.(io.Closer); ok {
			c.Close()
		}
		if d.onClose != nil {
			d.onClose()
		}
	})
}

// Close stops decoding and releases the underlying body.
func (d *Decoder) Close() error {
	d.release()
	return nil
}

// Stats returns the counters collected so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// =============================================================================
// HELPERS
// =============================================================================

// ParseLine classifies one complete line (without its newline). It returns
// false for lines that are not data frames.
func ParseLine(line string) (Frame, bool) {
	data, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return Frame{}, false
	}
	if data == Terminator {
		return Frame{Kind: FrameTerminator}, true
	}
	return Frame{Kind: FrameData, Payload: data}, true
}

// Collect drains d and returns the concatenated tokens. On failure the
// partial text received so far is returned along with the error.
func Collect(d *Decoder) (string, error) {
	var sb strings.Builder
	for {
		token, err := d.Next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(token)
	}
}
