package spf

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Record is a parsed "v=spf1" TXT record.
type Record struct {
	Directives []Directive

	// Redirect and Explanation hold the redirect= and exp= modifiers.
	Redirect    string
	Explanation string
}

// Directive is one qualified mechanism, e.g. "-ip4:192.0.2.0/24".
type Directive struct {
	// Qualifier is '+', '-', '~' or '?'.
	Qualifier byte

	// Mechanism is one of all, include, a, mx, ptr, ip4, ip6 or exists.
	Mechanism string

	// DomainSpec is the target of include, a, mx, ptr and exists. It may
	// contain macros. Empty means the current domain.
	DomainSpec string

	// IP is the network of ip4 and ip6.
	IP net.IP

	// IP4CIDR and IP6CIDR are prefix lengths, -1 when absent.
	IP4CIDR int
	IP6CIDR int
}

// status maps the qualifier to the result of a match.
func (d Directive) status() Status {
	switch d.Qualifier {
	case '-':
		return StatusFail
	case '~':
		return StatusSoftfail
	case '?':
		return StatusNeutral
	}
	return StatusPass
}

// String renders the directive as it would appear in a record.
func (d Directive) String() string {
	var b strings.Builder
	if d.Qualifier != 0 && d.Qualifier != '+' {
		b.WriteByte(d.Qualifier)
	}
	b.WriteString(d.Mechanism)
	switch {
	case d.IP != nil:
		b.WriteByte(':')
		b.WriteString(d.IP.String())
	case d.DomainSpec != "":
		b.WriteByte(':')
		b.WriteString(d.DomainSpec)
	}
	if d.IP4CIDR >= 0 {
		fmt.Fprintf(&b, "/%d", d.IP4CIDR)
	}
	if d.IP6CIDR >= 0 {
		if d.Mechanism != "ip6" {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "/%d", d.IP6CIDR)
	}
	return b.String()
}

// String renders the record for publishing.
func (r *Record) String() string {
	parts := []string{"v=spf1"}
	for _, d := range r.Directives {
		parts = append(parts, d.String())
	}
	if r.Redirect != "" {
		parts = append(parts, "redirect="+r.Redirect)
	}
	if r.Explanation != "" {
		parts = append(parts, "exp="+r.Explanation)
	}
	return strings.Join(parts, " ")
}

// ParseRecord parses a TXT record. isSPF is false when the text is not an
// SPF record, which callers skip without error.
func ParseRecord(txt string) (r *Record, isSPF bool, err error) {
	const version = "v=spf1"
	if len(txt) < len(version) || !strings.EqualFold(txt[:len(version)], version) {
		return nil, false, nil
	}
	rest := txt[len(version):]
	if rest != "" && rest[0] != ' ' {
		return nil, false, nil
	}

	r = &Record{}
	for term := range strings.FieldsSeq(rest) {
		if name, value, ok := strings.Cut(term, "="); ok && isName(name) {
			switch strings.ToLower(name) {
			case "redirect":
				if r.Redirect != "" {
					return nil, true, fmt.Errorf("%w: duplicate redirect", ErrRecordSyntax)
				}
				r.Redirect = value
			case "exp":
				if r.Explanation != "" {
					return nil, true, fmt.Errorf("%w: duplicate exp", ErrRecordSyntax)
				}
				r.Explanation = value
			}
			// Unknown modifiers are ignored.
			continue
		}
		d, err := parseDirective(term)
		if err != nil {
			return nil, true, err
		}
		r.Directives = append(r.Directives, d)
	}
	return r, true, nil
}

func isName(s string) bool {
	if s == "" || !isAlpha(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isAlpha(c) && !(c >= '0' && c <= '9') && c != '-' && c != '_' && c != '.' {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func parseDirective(term string) (Directive, error) {
	d := Directive{Qualifier: '+', IP4CIDR: -1, IP6CIDR: -1}
	switch term[0] {
	case '+', '-', '~', '?':
		d.Qualifier = term[0]
		term = term[1:]
	}

	end := strings.IndexAny(term, ":/")
	if end < 0 {
		end = len(term)
	}
	d.Mechanism = strings.ToLower(term[:end])
	arg := term[end:]

	bad := func(why string) (Directive, error) {
		return Directive{}, fmt.Errorf("%w: %s in %q", ErrRecordSyntax, why, term)
	}

	switch d.Mechanism {
	case "all":
		if arg != "" {
			return bad("all takes no argument")
		}
	case "include", "exists":
		if !strings.HasPrefix(arg, ":") || len(arg) == 1 {
			return bad("domain required")
		}
		d.DomainSpec = arg[1:]
	case "a", "mx", "ptr":
		if strings.HasPrefix(arg, ":") {
			domain, cidr, _ := strings.Cut(arg[1:], "/")
			if domain == "" {
				return bad("empty domain")
			}
			d.DomainSpec = domain
			arg = ""
			if strings.Contains(term[end+1:], "/") {
				arg = "/" + cidr
			}
		}
		if arg != "" {
			if d.Mechanism == "ptr" {
				return bad("ptr takes no prefix length")
			}
			var err error
			if d.IP4CIDR, d.IP6CIDR, err = parseDualCIDR(arg); err != nil {
				return bad(err.Error())
			}
		}
	case "ip4", "ip6":
		if !strings.HasPrefix(arg, ":") {
			return bad("address required")
		}
		addr, cidr, hasCIDR := strings.Cut(arg[1:], "/")
		ip := net.ParseIP(addr)
		if ip == nil || (d.Mechanism == "ip4") != (ip.To4() != nil && !strings.Contains(addr, ":")) {
			return bad("bad address")
		}
		d.IP = ip
		if hasCIDR {
			max := 32
			if d.Mechanism == "ip6" {
				max = 128
			}
			n, err := strconv.Atoi(cidr)
			if err != nil || n < 0 || n > max {
				return bad("bad prefix length")
			}
			if d.Mechanism == "ip4" {
				d.IP4CIDR = n
			} else {
				d.IP6CIDR = n
			}
		}
	default:
		return bad("unknown mechanism")
	}
	return d, nil
}

// parseDualCIDR parses "/n", "//m" or "/n//m".
func parseDualCIDR(s string) (int, int, error) {
	v4, v6 := -1, -1
	four, six, hasSix := strings.Cut(s, "//")
	if four != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(four, "/"))
		if err != nil || !strings.HasPrefix(four, "/") || n < 0 || n > 32 {
			return 0, 0, fmt.Errorf("bad ip4 prefix length %q", four)
		}
		v4 = n
	}
	if hasSix {
		n, err := strconv.Atoi(six)
		if err != nil || n < 0 || n > 128 {
			return 0, 0, fmt.Errorf("bad ip6 prefix length %q", six)
		}
		v6 = n
	}
	return v4, v6, nil
}
