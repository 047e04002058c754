// Package wire converts messages to and from their SMTP DATA form and
// assembles multi-line SMTP replies.
//
// The framed form produced by Frame is the logical message text: folded
// header lines, an empty line and the body re-wrapped to the line width.
// Stuff turns it into the transmitted form by escaping lines that start
// with a dot; receivers undo that per line with Unstuff before handing the
// text back to Parse.
package wire

import (
	"bytes"
	"errors"
	"strings"
)

// DefaultWidth is the column at which header and body lines are wrapped.
const DefaultWidth = 78

// Terminator ends the DATA section.
var Terminator = []byte(".\r\n")

var crlf = []byte("\r\n")

// ErrMalformedHeader is returned by Parse for a header line without a colon
// or a continuation line before the first header.
var ErrMalformedHeader = errors.New("smtp: malformed header line")

// Field is one header entry.
type Field struct {
	Key   string
	Value string
}

func isWSP(c byte) bool {
	return c == ' ' || c == '\t'
}

// FoldHeader renders "Key: value" as one or more CRLF-terminated lines no
// longer than width where possible. Lines are only broken in front of
// existing whitespace, which then starts the continuation line. A CRLF
// already present in value is kept as a fold point; a space is inserted
// after it when the next byte is not whitespace. A token longer than width
// is written unbroken.
func FoldHeader(key, value string, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}

	var b strings.Builder
	for i, seg := range strings.Split(key+": "+value, "\r\n") {
		if i > 0 && (seg == "" || !isWSP(seg[0])) {
			seg = " " + seg
		}
		foldSegment(&b, seg, width)
	}
	return b.String()
}

func foldSegment(b *strings.Builder, seg string, width int) {
	for len(seg) > width {
		cut := -1
		for i := width; i > 0; i-- {
			if isWSP(seg[i]) {
				cut = i
				break
			}
		}
		if cut < 0 {
			j := strings.IndexAny(seg[width+1:], " \t")
			if j < 0 {
				break
			}
			cut = width + 1 + j
		}
		b.WriteString(seg[:cut])
		b.WriteString("\r\n")
		seg = seg[cut:]
	}
	b.WriteString(seg)
	b.WriteString("\r\n")
}

// Unfold returns the value a receiver sees after unfolding a header that
// was folded by FoldHeader: every CRLF is removed, and one that was not
// followed by whitespace becomes a single space.
func Unfold(value string) string {
	if !strings.Contains(value, "\r\n") {
		return value
	}
	var b strings.Builder
	for {
		i := strings.Index(value, "\r\n")
		if i < 0 {
			b.WriteString(value)
			return b.String()
		}
		b.WriteString(value[:i])
		value = value[i+2:]
		if value == "" || !isWSP(value[0]) {
			b.WriteByte(' ')
		}
	}
}

// WrapBody splits body on CRLF and cuts every line into chunks of at most
// width bytes, each terminated by CRLF. Empty lines are kept; an empty body
// yields no lines.
func WrapBody(body []byte, width int) []byte {
	if len(body) == 0 {
		return nil
	}
	if width <= 0 {
		width = DefaultWidth
	}

	out := make([]byte, 0, len(body)+len(body)/width*2+2)
	for _, row := range bytes.Split(body, crlf) {
		if len(row) == 0 {
			out = append(out, crlf...)
			continue
		}
		for len(row) > 0 {
			n := min(width, len(row))
			out = append(out, row[:n]...)
			out = append(out, crlf...)
			row = row[n:]
		}
	}
	return out
}

// Frame renders fields and body into the logical message text.
func Frame(fields []Field, body []byte, width int) []byte {
	var b bytes.Buffer
	for _, f := range fields {
		b.WriteString(FoldHeader(f.Key, f.Value, width))
	}
	b.Write(crlf)
	b.Write(WrapBody(body, width))
	return b.Bytes()
}

// Stuff escapes every line of data that starts with a dot by doubling it.
func Stuff(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	atLineStart := true
	for _, c := range data {
		if atLineStart && c == '.' {
			out = append(out, '.')
		}
		out = append(out, c)
		atLineStart = c == '\n'
	}
	return out
}

// Unstuff reverses Stuff for a single received line.
func Unstuff(line string) string {
	if strings.HasPrefix(line, ".") {
		return line[1:]
	}
	return line
}

// Parse splits logical message text into unfolded header fields and the
// body. The CRLF ending the last body line is dropped, so Parse reverses
// Frame for bodies whose lines fit within the frame width.
func Parse(data []byte) ([]Field, []byte, error) {
	var block, body []byte
	switch {
	case bytes.HasPrefix(data, crlf):
		body = data[2:]
	default:
		i := bytes.Index(data, []byte("\r\n\r\n"))
		if i < 0 {
			block = bytes.TrimSuffix(data, crlf)
		} else {
			block = data[:i]
			body = data[i+4:]
		}
	}
	body = bytes.TrimSuffix(body, crlf)

	var fields []Field
	if len(block) > 0 {
		for _, line := range strings.Split(string(block), "\r\n") {
			if line != "" && isWSP(line[0]) {
				if len(fields) == 0 {
					return nil, nil, ErrMalformedHeader
				}
				fields[len(fields)-1].Value += line
				continue
			}
			key, value, ok := strings.Cut(line, ":")
			if !ok || key == "" {
				return nil, nil, ErrMalformedHeader
			}
			fields = append(fields, Field{Key: strings.TrimRight(key, " \t"), Value: value})
		}
	}
	// FoldHeader writes "Key: value"; the space may have moved to a
	// continuation line.
	for i := range fields {
		fields[i].Value = strings.TrimPrefix(fields[i].Value, " ")
	}
	return fields, bytes.Clone(body), nil
}
