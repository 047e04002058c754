package mail

import (
	"strings"

	"github.com/synqronlabs/courier/wire"
)

// Header is an ordered list of header fields. Keys compare
// case-insensitively; order is kept because it matters for re-serialization
// and for DKIM.
type Header []wire.Field

// upperTokens stay fully uppercase when normalizing header keys.
var upperTokens = map[string]bool{
	"DKIM": true,
	"ID":   true,
	"MIME": true,
	"SPF":  true,
	"X":    true,
}

// NormalizeCasing returns key with each hyphen separated word capitalized,
// e.g. "content-type" becomes "Content-Type" and "x-dkim-id" becomes
// "X-DKIM-ID".
func NormalizeCasing(key string) string {
	words := strings.Split(key, "-")
	for i, w := range words {
		upper := strings.ToUpper(w)
		if upperTokens[upper] || w == "" {
			words[i] = upper
			continue
		}
		words[i] = upper[:1] + strings.ToLower(upper[1:])
	}
	return strings.Join(words, "-")
}

// Add appends a field.
func (h *Header) Add(key, value string) {
	*h = append(*h, wire.Field{Key: NormalizeCasing(key), Value: value})
}

// Prepend inserts a field at the top, where trace and authentication
// results belong.
func (h *Header) Prepend(key, value string) {
	*h = append(Header{{Key: NormalizeCasing(key), Value: value}}, *h...)
}

// Set replaces the first field named key and removes any others.
// Without an existing field, the new one is prepended.
func (h *Header) Set(key, value string) {
	found := false
	out := (*h)[:0]
	for _, f := range *h {
		if strings.EqualFold(f.Key, key) {
			if found {
				continue
			}
			f = wire.Field{Key: NormalizeCasing(key), Value: value}
			found = true
		}
		out = append(out, f)
	}
	*h = out
	if !found {
		h.Prepend(key, value)
	}
}

// Remove deletes every field named key.
func (h *Header) Remove(key string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Key, key) {
			out = append(out, f)
		}
	}
	*h = out
}

// Has reports whether a field named key exists.
func (h Header) Has(key string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			return true
		}
	}
	return false
}

// Get returns the trimmed value of the first field named key, or "".
func (h Header) Get(key string) string {
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			return strings.TrimSpace(f.Value)
		}
	}
	return ""
}

// Values returns the trimmed values of all fields named key, in order.
func (h Header) Values(key string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			values = append(values, strings.TrimSpace(f.Value))
		}
	}
	return values
}

// Keys returns the normalized keys of all fields, in order.
func (h Header) Keys() []string {
	keys := make([]string, len(h))
	for i, f := range h {
		keys[i] = NormalizeCasing(f.Key)
	}
	return keys
}
