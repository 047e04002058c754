package mail

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/synqronlabs/courier/utils"
)

// Builder provides a fluent API for composing a Message.
type Builder struct {
	msg  *Message
	to   []Address
	text *string
	errs []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{msg: NewMessage()}
}

// From sets the From header.
func (b *Builder) From(address string) *Builder {
	a, err := ParseAddress(address)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("from: %w", err))
		return b
	}
	b.msg.Header.Set("From", a.String())
	return b
}

// To adds recipients to the To header.
func (b *Builder) To(addresses ...string) *Builder {
	for _, address := range addresses {
		a, err := ParseAddress(address)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("to: %w", err))
			continue
		}
		b.to = append(b.to, a)
	}
	return b
}

// Subject sets the Subject header, encoding non-ASCII text as an RFC 2047
// encoded-word.
func (b *Builder) Subject(subject string) *Builder {
	if utils.ContainsNonASCII(subject) {
		subject = mime.QEncoding.Encode("utf-8", subject)
	}
	b.msg.Header.Set("Subject", subject)
	return b
}

// Date sets the Date header. Build uses the current time when unset.
func (b *Builder) Date(t time.Time) *Builder {
	b.msg.Header.Set("Date", t.Format(time.RFC1123Z))
	return b
}

// MessageID sets the Message-ID header, adding angle brackets if needed.
func (b *Builder) MessageID(id string) *Builder {
	if !strings.HasPrefix(id, "<") {
		id = "<" + id + ">"
	}
	b.msg.Header.Set("Message-ID", id)
	return b
}

// Header adds an arbitrary header field.
func (b *Builder) Header(key, value string) *Builder {
	b.msg.Header.Add(key, value)
	return b
}

// Text sets a text/plain body.
func (b *Builder) Text(text string) *Builder {
	b.text = &text
	return b
}

// Build validates the collected fields and returns the message. From and
// at least one recipient are required.
func (b *Builder) Build() (*Message, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if !b.msg.Header.Has("From") {
		return nil, fmt.Errorf("%w: missing From", ErrInvalidAddress)
	}
	if len(b.to) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidAddress)
	}

	msg := b.msg.Clone()
	list := make([]string, len(b.to))
	for i, a := range b.to {
		list[i] = a.String()
	}
	msg.Header.Set("To", strings.Join(list, ", "))
	if !msg.Header.Has("Date") {
		msg.Header.Add("Date", time.Now().Format(time.RFC1123Z))
	}
	if !msg.Header.Has("Message-ID") {
		from, _ := msg.From()
		msg.Header.Add("Message-ID", "<"+utils.NewID()+"@"+from.Domain()+">")
	}
	if b.text != nil {
		msg.SetText(*b.text)
	}
	return msg, nil
}
