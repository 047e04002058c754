package io

import (
	"bytes"
	"errors"
)

var (
	ErrLineTooLong   = errors.New("smtp: line too long")
	ErrBadLineEnding = errors.New("smtp: line not terminated by CRLF")
)

// DefaultMaxLine is the RFC 5321 text line limit, CRLF included.
const DefaultMaxLine = 1000

// LineBuffer assembles CRLF-terminated lines from partial reads.
// Bytes are appended with Write as they arrive and complete lines are taken
// out with Next; an incomplete tail stays buffered until more data comes in.
type LineBuffer struct {
	// Max is the longest accepted line including CRLF. Zero means DefaultMaxLine.
	Max int

	buf      []byte
	draining bool
}

// Write appends raw bytes read from the wire. It never fails.
func (b *LineBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Next returns the next complete line without its CRLF terminator.
// ok is false when no complete line is buffered yet.
//
// An over-long line yields ErrLineTooLong once and the rest of it is
// discarded up to the next LF, so the caller stays in sync with the peer.
// A line ending in a bare LF yields ErrBadLineEnding.
func (b *LineBuffer) Next() (line string, ok bool, err error) {
	limit := b.Max
	if limit <= 0 {
		limit = DefaultMaxLine
	}

	for {
		i := bytes.IndexByte(b.buf, '\n')
		if b.draining {
			if i < 0 {
				b.buf = b.buf[:0]
				return "", false, nil
			}
			b.consume(i + 1)
			b.draining = false
			continue
		}

		if i < 0 {
			if len(b.buf) > limit {
				b.buf = b.buf[:0]
				b.draining = true
				return "", false, ErrLineTooLong
			}
			return "", false, nil
		}

		raw := b.buf[:i+1]
		if len(raw) > limit {
			b.consume(i + 1)
			return "", false, ErrLineTooLong
		}
		if len(raw) < 2 || raw[len(raw)-2] != '\r' {
			b.consume(i + 1)
			return "", false, ErrBadLineEnding
		}
		line = string(raw[:len(raw)-2])
		b.consume(i + 1)
		return line, true, nil
	}
}

// Buffered returns the number of bytes waiting for a line terminator.
func (b *LineBuffer) Buffered() int {
	return len(b.buf)
}

// HasLine reports whether a line terminator is buffered, so Next will
// return a line or an error without more input.
func (b *LineBuffer) HasLine() bool {
	return bytes.IndexByte(b.buf, '\n') >= 0
}

// Reset drops everything buffered.
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
	b.draining = false
}

func (b *LineBuffer) consume(n int) {
	m := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:m]
}
