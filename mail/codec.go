package mail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"
)

// Codec converts a body between its decoded form and the form named by a
// Content-Transfer-Encoding.
type Codec interface {
	Name() string
	Encode(body []byte) []byte
	Decode(data []byte) ([]byte, error)
}

// Content transfer encodings known to LookupCodec.
const (
	Encoding7Bit            = "7bit"
	Encoding8Bit            = "8bit"
	EncodingBinary          = "binary"
	EncodingBase64          = "base64"
	EncodingQuotedPrintable = "quoted-printable"
)

// ErrUnknownCodec is returned when a stored message names an encoding that
// has no codec.
var ErrUnknownCodec = errors.New("mail: unknown transfer encoding")

var codecs = map[string]Codec{
	Encoding7Bit:            identityCodec(Encoding7Bit),
	Encoding8Bit:            identityCodec(Encoding8Bit),
	EncodingBinary:          identityCodec(EncodingBinary),
	EncodingBase64:          base64Codec{},
	EncodingQuotedPrintable: quotedPrintableCodec{},
}

// LookupCodec returns the codec for a Content-Transfer-Encoding value.
func LookupCodec(name string) (Codec, bool) {
	c, ok := codecs[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

type identityCodec string

func (c identityCodec) Name() string                     { return string(c) }
func (identityCodec) Encode(body []byte) []byte          { return body }
func (identityCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// base64LineLength is the RFC 2045 limit for encoded lines.
const base64LineLength = 76

type base64Codec struct{}

func (base64Codec) Name() string { return EncodingBase64 }

func (base64Codec) Encode(body []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(body)
	var out bytes.Buffer
	for len(enc) > base64LineLength {
		out.WriteString(enc[:base64LineLength])
		out.WriteString("\r\n")
		enc = enc[base64LineLength:]
	}
	out.WriteString(enc)
	return out.Bytes()
}

func (base64Codec) Decode(data []byte) ([]byte, error) {
	clean := bytes.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, data)
	out := make([]byte, base64.StdEncoding.DecodedLen(len(clean)))
	n, err := base64.StdEncoding.Decode(out, clean)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type quotedPrintableCodec struct{}

func (quotedPrintableCodec) Name() string { return EncodingQuotedPrintable }

func (quotedPrintableCodec) Encode(body []byte) []byte {
	var out bytes.Buffer
	w := quotedprintable.NewWriter(&out)
	w.Write(body)
	w.Close()
	return out.Bytes()
}

func (quotedPrintableCodec) Decode(data []byte) ([]byte, error) {
	return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
}
