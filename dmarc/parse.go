package dmarc

import (
	"fmt"
	"strconv"
	"strings"
)

// recordPrefix must open every DMARC record.
const recordPrefix = "v=DMARC1;"

// ParseRecord parses a TXT record. isDMARC is false when the text is not a
// DMARC record at all, in which case it should be skipped silently.
func ParseRecord(txt string) (record *Record, isDMARC bool, err error) {
	if !strings.HasPrefix(txt, recordPrefix) {
		return nil, false, nil
	}

	r := &Record{ADKIM: AlignRelaxed, ASPF: AlignRelaxed, Percentage: 100}
	seen := map[string]bool{}
	for part := range strings.SplitSeq(txt[len(recordPrefix):], ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, true, fmt.Errorf("%w: tag %q has no value", ErrSyntax, part)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if seen[name] {
			return nil, true, fmt.Errorf("%w: duplicate tag %q", ErrSyntax, name)
		}
		seen[name] = true

		switch name {
		case "p":
			r.Policy = Policy(strings.ToLower(value))
			if !validPolicy(r.Policy) {
				return nil, true, fmt.Errorf("%w: bad policy %q", ErrSyntax, value)
			}
		case "sp":
			r.SubdomainPolicy = Policy(strings.ToLower(value))
			if !validPolicy(r.SubdomainPolicy) {
				return nil, true, fmt.Errorf("%w: bad subdomain policy %q", ErrSyntax, value)
			}
		case "adkim", "aspf":
			a := Align(strings.ToLower(value))
			if a != AlignRelaxed && a != AlignStrict {
				return nil, true, fmt.Errorf("%w: bad alignment %q", ErrSyntax, value)
			}
			if name == "adkim" {
				r.ADKIM = a
			} else {
				r.ASPF = a
			}
		case "pct":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 100 {
				return nil, true, fmt.Errorf("%w: bad percentage %q", ErrSyntax, value)
			}
			r.Percentage = n
		case "rua":
			r.AggregateReportAddresses = splitURIs(value)
		case "ruf":
			r.FailureReportAddresses = splitURIs(value)
		}
		// Unknown tags are ignored.
	}
	if !seen["p"] {
		return nil, true, fmt.Errorf("%w: p missing", ErrSyntax)
	}
	return r, true, nil
}

func splitURIs(s string) []string {
	var out []string
	for u := range strings.SplitSeq(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// String renders the record for publishing, omitting default values.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteString("v=DMARC1; p=")
	b.WriteString(string(r.Policy))

	write := func(do bool, tag, value string) {
		if do {
			fmt.Fprintf(&b, "; %s=%s", tag, value)
		}
	}
	write(r.SubdomainPolicy != PolicyEmpty, "sp", string(r.SubdomainPolicy))
	write(len(r.AggregateReportAddresses) > 0, "rua", strings.Join(r.AggregateReportAddresses, ","))
	write(len(r.FailureReportAddresses) > 0, "ruf", strings.Join(r.FailureReportAddresses, ","))
	write(r.ADKIM == AlignStrict, "adkim", string(r.ADKIM))
	write(r.ASPF == AlignStrict, "aspf", string(r.ASPF))
	write(r.Percentage != 100, "pct", strconv.Itoa(r.Percentage))
	return b.String()
}
