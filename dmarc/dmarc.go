// Package dmarc looks up the DMARC policy (RFC 7489) a sending domain
// publishes under "_dmarc.<domain>".
//
// Only the policy is used: alignment and reporting are parsed so that a
// record round-trips, but no reports are sent.
//
//	res, err := dmarc.Lookup(ctx, resolver, "example.com")
//	if err == nil && res.Policy().Enforced() {
//	    // the domain asks receivers to act on failures
//	}
package dmarc

import "errors"

var (
	// ErrNoRecord is returned when neither the domain nor its
	// organizational domain publishes a usable record.
	ErrNoRecord = errors.New("dmarc: no DMARC DNS record found")

	// ErrSyntax is returned by ParseRecord for malformed records.
	ErrSyntax = errors.New("dmarc: malformed DMARC DNS record")

	// ErrDNS wraps lookup failures other than "not found".
	ErrDNS = errors.New("dmarc: DNS lookup error")
)

// Policy is the action a domain requests for mail that fails DMARC.
type Policy string

const (
	// PolicyEmpty is only valid for Record.SubdomainPolicy.
	PolicyEmpty      Policy = ""
	PolicyNone       Policy = "none"
	PolicyQuarantine Policy = "quarantine"
	PolicyReject     Policy = "reject"
)

// Enforced reports whether the policy asks receivers to act on failing
// mail. "none" is monitoring only.
func (p Policy) Enforced() bool {
	return p == PolicyQuarantine || p == PolicyReject
}

func validPolicy(p Policy) bool {
	switch p {
	case PolicyNone, PolicyQuarantine, PolicyReject:
		return true
	}
	return false
}

// Align is an identifier alignment mode.
type Align string

const (
	AlignRelaxed Align = "r"
	AlignStrict  Align = "s"
)

// Record is a parsed DMARC TXT record.
type Record struct {
	Policy          Policy
	SubdomainPolicy Policy

	ADKIM Align
	ASPF  Align

	// Percentage of failing mail the policy applies to, 0 to 100.
	Percentage int

	AggregateReportAddresses []string
	FailureReportAddresses   []string
}

// Result describes where a record was found.
type Result struct {
	// Domain is the domain the record was published for. It is the
	// organizational domain when the queried domain had none.
	Domain string
	Record *Record

	// Fallback is set when Domain is the organizational domain.
	Fallback bool

	// Authentic is true when the answer was DNSSEC validated.
	Authentic bool
}

// Policy returns the policy that applies to the queried domain: the
// subdomain policy when the record came from the organizational domain
// and sets one, otherwise the main policy.
func (r Result) Policy() Policy {
	if r.Record == nil {
		return PolicyEmpty
	}
	if r.Fallback && r.Record.SubdomainPolicy != PolicyEmpty {
		return r.Record.SubdomainPolicy
	}
	return r.Record.Policy
}
