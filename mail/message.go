// Package mail holds the message model shared by the client and the
// server: an ordered header list, a body with its transfer encoding, and
// mailbox addresses.
package mail

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/synqronlabs/courier/utils"
	"github.com/synqronlabs/courier/wire"
)

// maxUnencodedLine is the longest body line sent without an encoding.
const maxUnencodedLine = 998

// Message is a header list plus a decoded body. Codec selects the
// Content-Transfer-Encoding used when the message is framed; nil means 7bit.
type Message struct {
	// ID is assigned by the server that accepted the message.
	ID     string
	Header Header
	Body   []byte
	Codec  Codec
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{}
}

// SetText sets a text/plain body. Line endings are normalized to CRLF and
// the transfer encoding is chosen from the content: 7bit for short ASCII
// lines, 8bit for short lines with UTF-8, quoted-printable otherwise.
func (m *Message) SetText(text string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", "\r\n")
	m.Body = []byte(text)

	codec := codecs[Encoding7Bit]
	if utils.ContainsNonASCII(text) {
		codec = codecs[Encoding8Bit]
	}
	for line := range strings.SplitSeq(text, "\r\n") {
		if len(line) > maxUnencodedLine {
			codec = codecs[EncodingQuotedPrintable]
			break
		}
	}
	m.Codec = codec

	for _, f := range []wire.Field{
		{Key: "MIME-Version", Value: "1.0"},
		{Key: "Content-Type", Value: mime.FormatMediaType("text/plain", map[string]string{"charset": "utf-8"})},
		{Key: "Content-Transfer-Encoding", Value: codec.Name()},
	} {
		m.Header.Remove(f.Key)
		m.Header.Add(f.Key, f.Value)
	}
}

func (m *Message) codec() Codec {
	if m.Codec == nil {
		return codecs[Encoding7Bit]
	}
	return m.Codec
}

// Frame renders the message as logical SMTP DATA text with lines wrapped at
// width; see wire.Frame.
func (m *Message) Frame(width int) []byte {
	return wire.Frame(m.Header, m.codec().Encode(m.Body), width)
}

// Parse builds a message from logical DATA text, decoding the body with the
// codec named by its Content-Transfer-Encoding. An unknown encoding leaves
// the body as received.
func Parse(data []byte) (*Message, error) {
	fields, body, err := wire.Parse(data)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: Header(fields), Body: body}

	if cte := m.Header.Get("Content-Transfer-Encoding"); cte != "" {
		codec, ok := LookupCodec(cte)
		if !ok {
			return m, nil
		}
		decoded, err := codec.Decode(body)
		if err != nil {
			return nil, fmt.Errorf("mail: decoding %s body: %w", codec.Name(), err)
		}
		m.Body = decoded
		m.Codec = codec
	}
	return m, nil
}

// From returns the address in the From header.
func (m *Message) From() (Address, error) {
	return ParseAddress(m.Header.Get("From"))
}

// To returns the addresses in all To headers.
func (m *Message) To() ([]Address, error) {
	var out []Address
	for _, v := range m.Header.Values("To") {
		list, err := ParseAddressList(v)
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	return &Message{
		ID:     m.ID,
		Header: append(Header(nil), m.Header...),
		Body:   bytes.Clone(m.Body),
		Codec:  m.Codec,
	}
}

var wordDecoder = new(mime.WordDecoder)

// DecodeHeaderValue decodes RFC 2047 encoded-words for display. Values
// that fail to decode are returned unchanged.
func DecodeHeaderValue(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
