package spf

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// expand expands the macros of a domain-spec (RFC 7208 section 7) for the
// current domain. Results longer than 253 octets lose leading labels.
func (e *evaluator) expand(pattern, domain string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(pattern) {
			return "", fmt.Errorf("%w: trailing %%", ErrMacroSyntax)
		}
		switch pattern[i] {
		case '%':
			b.WriteByte('%')
		case '_':
			b.WriteByte(' ')
		case '-':
			b.WriteString("%20")
		case '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated macro in %q", ErrMacroSyntax, pattern)
			}
			v, err := e.macro(pattern[i+1:i+end], domain)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			i += end
		default:
			return "", fmt.Errorf("%w: bad escape %%%c", ErrMacroSyntax, pattern[i])
		}
	}

	out := strings.ToLower(strings.TrimSuffix(b.String(), "."))
	for len(out) > 253 {
		_, rest, ok := strings.Cut(out, ".")
		if !ok {
			break
		}
		out = rest
	}
	return out, nil
}

// macro expands the body of one %{...} macro: a letter, an optional count
// of labels to keep, an optional "r" to reverse and optional delimiters.
func (e *evaluator) macro(body, domain string) (string, error) {
	if body == "" {
		return "", fmt.Errorf("%w: empty macro", ErrMacroSyntax)
	}
	letter := body[0]
	var value string
	switch letter | 0x20 {
	case 's':
		value = e.local + "@" + e.sender
	case 'l':
		value = e.local
	case 'o':
		value = e.sender
	case 'd':
		value = domain
	case 'i':
		value = e.dottedIP()
	case 'p':
		value = "unknown"
	case 'v':
		value = "in-addr"
		if e.ip.To4() == nil {
			value = "ip6"
		}
	case 'h':
		value = e.helo
	case 'c':
		value = e.ip.String()
	case 'r':
		value = e.receiver
	default:
		return "", fmt.Errorf("%w: unknown macro letter %q", ErrMacroSyntax, letter)
	}

	rest := body[1:]
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	keep := 0
	if digits > 0 {
		n, err := strconv.Atoi(rest[:digits])
		if err != nil || n == 0 {
			return "", fmt.Errorf("%w: bad label count in %q", ErrMacroSyntax, body)
		}
		keep = n
	}
	rest = rest[digits:]
	reverse := false
	if rest != "" && rest[0]|0x20 == 'r' {
		reverse = true
		rest = rest[1:]
	}
	delims := "."
	if rest != "" {
		if strings.Trim(rest, ".-+,/_=") != "" {
			return "", fmt.Errorf("%w: bad delimiters in %q", ErrMacroSyntax, body)
		}
		delims = rest
	}

	if keep > 0 || reverse || delims != "." {
		parts := strings.FieldsFunc(value, func(r rune) bool {
			return strings.ContainsRune(delims, r)
		})
		if reverse {
			slices.Reverse(parts)
		}
		if keep > 0 && keep < len(parts) {
			parts = parts[len(parts)-keep:]
		}
		value = strings.Join(parts, ".")
	}

	// Uppercase letters request URL escaping.
	if letter >= 'A' && letter <= 'Z' {
		value = url.QueryEscape(value)
	}
	return value, nil
}

// dottedIP renders the remote IP for the "i" macro: dotted quad for IPv4,
// dot separated nibbles for IPv6.
func (e *evaluator) dottedIP() string {
	if ip4 := e.ip.To4(); ip4 != nil {
		return ip4.String()
	}
	const hexDigits = "0123456789abcdef"
	ip6 := e.ip.To16()
	nibbles := make([]string, 0, 32)
	for _, b := range ip6 {
		nibbles = append(nibbles, string(hexDigits[b>>4]), string(hexDigits[b&0xf]))
	}
	return strings.Join(nibbles, ".")
}
