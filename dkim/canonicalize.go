package dkim

import (
	"bytes"
	"strings"
)

// headerData is one header field as it appears in the message.
type headerData struct {
	lkey string
	// raw is the complete field including name, folding and final CRLF.
	raw []byte
}

// splitMessage returns the header fields of message and the offset where
// the body starts.
func splitMessage(message []byte) ([]headerData, int, error) {
	var headers []headerData
	offset := 0
	for offset < len(message) {
		end := bytes.Index(message[offset:], crlf)
		if end < 0 {
			return nil, 0, ErrHeaderMalformed
		}
		line := message[offset : offset+end+2]
		offset += len(line)

		if len(line) == 2 {
			return headers, offset, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, 0, ErrHeaderMalformed
			}
			last := &headers[len(headers)-1]
			last.raw = append(last.raw, line...)
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, 0, ErrHeaderMalformed
		}
		key := strings.TrimRight(string(line[:colon]), " \t")
		headers = append(headers, headerData{
			lkey: strings.ToLower(key),
			raw:  bytes.Clone(line),
		})
	}
	// Headers without a body.
	return headers, offset, nil
}

var crlf = []byte("\r\n")

func isWSP(c byte) bool { return c == ' ' || c == '\t' }

// canonicalizeHeaderRelaxed lowercases the name, unfolds the value,
// collapses whitespace runs to one space and trims the value.
func canonicalizeHeaderRelaxed(header string) (string, error) {
	idx := strings.IndexByte(header, ':')
	if idx < 0 {
		return "", ErrHeaderMalformed
	}
	name := strings.ToLower(strings.TrimRight(header[:idx], " \t"))
	value := strings.TrimSuffix(header[idx+1:], "\r\n")
	value = strings.ReplaceAll(value, "\r\n", "")

	var b strings.Builder
	b.Grow(len(value))
	prevWS := false
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isWSP(c) {
			if !prevWS {
				b.WriteByte(' ')
			}
			prevWS = true
			continue
		}
		b.WriteByte(c)
		prevWS = false
	}
	return name + ":" + strings.TrimSpace(b.String()), nil
}

func canonicalHeader(canon Canonicalization, raw string) (string, error) {
	if canon == CanonSimple {
		return strings.TrimSuffix(raw, "\r\n"), nil
	}
	return canonicalizeHeaderRelaxed(raw)
}

// headerHashInput builds the data covered by b=: each header named in
// signed, then the signature field itself without a trailing CRLF. A name
// listed n times selects the n-th instance counting from the bottom of the
// header; names without a remaining instance contribute nothing.
func headerHashInput(canon Canonicalization, headers []headerData, signed []string, sigField string) ([]byte, error) {
	byName := make(map[string][]headerData)
	for i := len(headers) - 1; i >= 0; i-- {
		byName[headers[i].lkey] = append(byName[headers[i].lkey], headers[i])
	}

	var b bytes.Buffer
	for _, key := range signed {
		lkey := strings.ToLower(strings.TrimSpace(key))
		instances := byName[lkey]
		if len(instances) == 0 {
			continue
		}
		byName[lkey] = instances[1:]

		c, err := canonicalHeader(canon, string(instances[0].raw))
		if err != nil {
			return nil, err
		}
		b.WriteString(c)
		b.Write(crlf)
	}

	c, err := canonicalHeader(canon, sigField)
	if err != nil {
		return nil, err
	}
	b.WriteString(c)
	return b.Bytes(), nil
}

// canonicalBody applies body canonicalization. Trailing empty lines are
// dropped and a non-empty body always ends in CRLF; under simple
// canonicalization an empty body becomes a single CRLF.
func canonicalBody(canon Canonicalization, body []byte) []byte {
	lines := bytes.Split(body, crlf)
	if canon == CanonRelaxed {
		for i, line := range lines {
			lines[i] = relaxLine(line)
		}
	}
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		if canon == CanonSimple {
			return bytes.Clone(crlf)
		}
		return nil
	}

	var b bytes.Buffer
	b.Grow(len(body) + 2)
	for _, line := range lines {
		b.Write(line)
		b.Write(crlf)
	}
	return b.Bytes()
}

// relaxLine collapses whitespace runs to one space and drops trailing
// whitespace.
func relaxLine(line []byte) []byte {
	out := make([]byte, 0, len(line))
	prevWS := false
	for _, c := range line {
		if isWSP(c) {
			prevWS = true
			continue
		}
		if prevWS {
			out = append(out, ' ')
		}
		out = append(out, c)
		prevWS = false
	}
	return out
}
