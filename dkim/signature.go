package dkim

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// tag is one tag=value pair of a DKIM-Signature or key record.
type tag struct {
	name  string
	value string
}

// tagList keeps tags in the order they were written.
type tagList []tag

// parseTagList splits "a=1; b=2" into tags. Folding whitespace around names
// and values is removed; a later duplicate replaces an earlier one.
func parseTagList(s string) tagList {
	var l tagList
	for part := range strings.SplitSeq(s, ";") {
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(stripFWS(name))
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if i := l.index(name); i >= 0 {
			l[i].value = value
			continue
		}
		l = append(l, tag{name: name, value: value})
	}
	return l
}

func (l tagList) index(name string) int {
	for i, t := range l {
		if t.name == name {
			return i
		}
	}
	return -1
}

func (l tagList) get(name string) (string, bool) {
	if i := l.index(name); i >= 0 {
		return l[i].value, true
	}
	return "", false
}

func stripFWS(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func splitColon(s string) []string {
	var out []string
	for v := range strings.SplitSeq(stripFWS(s), ":") {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Signature holds the tags of a DKIM-Signature header. Times and Length are
// -1 when absent.
type Signature struct {
	Version          int
	Algorithm        string
	Canonicalization string
	Domain           string
	Selector         string
	Headers          []string
	QueryMethods     []string
	Timestamp        int64
	Expiration       int64
	Length           int64
	BodyHash         []byte
	Data             []byte
}

func newSignature() *Signature {
	return &Signature{Version: 1, Timestamp: -1, Expiration: -1, Length: -1}
}

// Canons returns the header and body canonicalizations; an absent body part
// defaults to simple.
func (s *Signature) Canons() (header, body Canonicalization) {
	h, b, ok := strings.Cut(s.Canonicalization, "/")
	if h == "" {
		h = string(CanonSimple)
	}
	if !ok {
		b = string(CanonSimple)
	}
	return Canonicalization(h), Canonicalization(b)
}

// signatureFromTags converts validated tags into a Signature. It returns
// the name of the first tag whose value does not parse.
func signatureFromTags(l tagList) (*Signature, string) {
	sig := newSignature()
	var err error
	for _, t := range l {
		switch t.name {
		case "v":
			sig.Version, err = strconv.Atoi(t.value)
		case "a":
			sig.Algorithm = strings.ToLower(t.value)
		case "c":
			sig.Canonicalization = strings.ToLower(stripFWS(t.value))
		case "d":
			sig.Domain = strings.ToLower(t.value)
		case "s":
			sig.Selector = t.value
		case "h":
			sig.Headers = splitColon(t.value)
		case "q":
			sig.QueryMethods = splitColon(t.value)
		case "t":
			sig.Timestamp, err = strconv.ParseInt(t.value, 10, 64)
		case "x":
			sig.Expiration, err = strconv.ParseInt(t.value, 10, 64)
		case "l":
			sig.Length, err = strconv.ParseInt(t.value, 10, 64)
		case "bh":
			sig.BodyHash, err = base64.StdEncoding.DecodeString(stripFWS(t.value))
		case "b":
			sig.Data, err = base64.StdEncoding.DecodeString(stripFWS(t.value))
		}
		if err != nil {
			return nil, t.name
		}
	}
	return sig, ""
}

// headerWriter folds a header value at whole tags, continuing lines with a
// tab.
type headerWriter struct {
	b       strings.Builder
	lineLen int
}

const foldWidth = 76

func (w *headerWriter) add(text string) {
	if w.b.Len() > 0 {
		if w.lineLen+1+len(text) > foldWidth {
			w.b.WriteString("\r\n\t")
			w.lineLen = 1
		} else {
			w.b.WriteByte(' ')
			w.lineLen++
		}
	}
	w.b.WriteString(text)
	w.lineLen += len(text)
}

// addWrap writes data that may be broken anywhere, such as base64.
func (w *headerWriter) addWrap(data string) {
	for len(data) > 0 {
		n := foldWidth - w.lineLen
		if n <= 0 {
			w.b.WriteString("\r\n\t")
			w.lineLen = 1
			continue
		}
		n = min(n, len(data))
		w.b.WriteString(data[:n])
		w.lineLen += n
		data = data[n:]
	}
}

// Value renders the header value, folded so that the first line fits
// after a field name of nameLen bytes plus ": ". When withData is false
// the b= tag is left empty, as required for the signing input.
func (s *Signature) Value(nameLen int, withData bool) string {
	w := &headerWriter{}
	w.lineLen = nameLen + 2

	w.add(fmt.Sprintf("v=%d;", s.Version))
	w.add("a=" + s.Algorithm + ";")
	if len(s.QueryMethods) > 0 {
		w.add("q=" + strings.Join(s.QueryMethods, ":") + ";")
	}
	w.add("s=" + s.Selector + ";")
	if s.Timestamp >= 0 {
		w.add(fmt.Sprintf("t=%d;", s.Timestamp))
	}
	if s.Expiration >= 0 {
		w.add(fmt.Sprintf("x=%d;", s.Expiration))
	}
	if s.Canonicalization != "" {
		w.add("c=" + s.Canonicalization + ";")
	}
	for i, h := range s.Headers {
		if i == 0 {
			h = "h=" + h
		}
		if i < len(s.Headers)-1 {
			h += ":"
		} else {
			h += ";"
		}
		w.add(h)
	}
	w.add("d=" + s.Domain + ";")
	if s.Length >= 0 {
		w.add(fmt.Sprintf("l=%d;", s.Length))
	}
	w.add("bh=" + base64.StdEncoding.EncodeToString(s.BodyHash) + ";")
	w.add("b=")
	if withData {
		w.addWrap(base64.StdEncoding.EncodeToString(s.Data))
	}
	return w.b.String()
}

// stripSignatureData removes the value of the b= tag from a raw header
// field, keeping everything else byte for byte.
func stripSignatureData(field string) string {
	colon := strings.IndexByte(field, ':')
	if colon < 0 {
		return field
	}
	i := colon + 1
	for i < len(field) {
		for i < len(field) && (isWSP(field[i]) || field[i] == '\r' || field[i] == '\n') {
			i++
		}
		end := strings.IndexByte(field[i:], ';')
		if end < 0 {
			end = len(field)
		} else {
			end += i
		}
		name, _, ok := strings.Cut(field[i:end], "=")
		if ok && strings.TrimSpace(stripFWS(name)) == "b" {
			eq := i + strings.IndexByte(field[i:end], '=') + 1
			return field[:eq] + field[end:]
		}
		i = end + 1
	}
	return field
}
