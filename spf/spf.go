// Package spf evaluates Sender Policy Framework records (RFC 7208): may
// this IP send mail for that domain?
//
//	status := spf.Check(ctx, resolver, spf.Args{
//	    RemoteIP:       net.ParseIP("192.0.2.1"),
//	    MailFromLocal:  "user",
//	    MailFromDomain: "example.com",
//	    HelloDomain:    "mail.example.com",
//	})
//
// Explanations (exp=) are parsed but never fetched.
package spf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/synqronlabs/courier/dns"
)

var (
	ErrNoRecord           = errors.New("spf: no SPF record found")
	ErrMultipleRecords    = errors.New("spf: multiple SPF records found")
	ErrRecordSyntax       = errors.New("spf: malformed SPF record")
	ErrTooManyDNSRequests = errors.New("spf: exceeded maximum DNS lookups")
	ErrTooManyVoidLookups = errors.New("spf: exceeded maximum void lookups")
	ErrMacroSyntax        = errors.New("spf: macro syntax error")
	ErrInvalidDomain      = errors.New("spf: invalid domain name")
	ErrRedirectNoRecord   = errors.New("spf: redirect target has no SPF record")
)

// Evaluation limits from RFC 7208 section 4.6.4.
const (
	dnsRequestsMax = 10
	voidLookupsMax = 2
	mxPtrLimit     = 10
)

// Status is the result of an SPF check.
type Status string

const (
	StatusNone      Status = "none"
	StatusNeutral   Status = "neutral"
	StatusPass      Status = "pass"
	StatusFail      Status = "fail"
	StatusSoftfail  Status = "softfail"
	StatusTemperror Status = "temperror"
	StatusPermerror Status = "permerror"
)

// Args identify the sender being checked.
type Args struct {
	RemoteIP net.IP

	// MailFromLocal and MailFromDomain split the MAIL FROM address. With an
	// empty domain (a bounce) the HELO identity is checked instead.
	MailFromLocal  string
	MailFromDomain string

	HelloDomain string

	// LocalHostname is the receiving host, for the "r" macro.
	LocalHostname string

	// Logger receives the reason behind error results. Nil discards it.
	Logger *slog.Logger
}

// Check evaluates the sender's SPF record against the remote IP.
func Check(ctx context.Context, resolver dns.Resolver, args Args) Status {
	status, err := Verify(ctx, resolver, args)
	if err != nil && args.Logger != nil {
		args.Logger.Debug("SPF evaluation",
			slog.String("domain", args.MailFromDomain),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
	}
	return status
}

// Verify is Check that also returns the error behind a none, temperror or
// permerror result.
func Verify(ctx context.Context, resolver dns.Resolver, args Args) (Status, error) {
	e := &evaluator{ctx: ctx, resolver: resolver, ip: args.RemoteIP}
	e.local, e.sender = args.MailFromLocal, args.MailFromDomain
	if e.sender == "" {
		e.sender = args.HelloDomain
		e.local = ""
	}
	if e.local == "" {
		e.local = "postmaster"
	}
	e.helo = args.HelloDomain
	e.receiver = args.LocalHostname
	if e.receiver == "" {
		e.receiver = "unknown"
	}
	if e.ip == nil {
		return StatusNone, errors.New("spf: no remote IP")
	}
	return e.checkHost(strings.ToLower(strings.TrimSuffix(e.sender, ".")))
}

type evaluator struct {
	ctx      context.Context
	resolver dns.Resolver
	ip       net.IP

	local    string
	sender   string
	helo     string
	receiver string

	dnsRequests int
	voidLookups int
}

func validDomain(domain string) bool {
	if domain == "" || len(domain) > 253 || !strings.Contains(domain, ".") {
		return false
	}
	for label := range strings.SplitSeq(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
	}
	return true
}

// lookupRecord returns the single SPF record of domain.
func (e *evaluator) lookupRecord(domain string) (*Record, Status, error) {
	res, err := e.resolver.LookupTXT(e.ctx, domain)
	if err != nil {
		if dns.IsNotFound(err) {
			return nil, StatusNone, ErrNoRecord
		}
		return nil, StatusTemperror, err
	}
	var found *Record
	for _, txt := range res.Records {
		r, isSPF, err := ParseRecord(txt)
		if !isSPF {
			continue
		}
		if err != nil {
			return nil, StatusPermerror, err
		}
		if found != nil {
			return nil, StatusPermerror, ErrMultipleRecords
		}
		found = r
	}
	if found == nil {
		return nil, StatusNone, ErrNoRecord
	}
	return found, StatusNone, nil
}

// checkHost is the check_host() function of RFC 7208 section 4.
func (e *evaluator) checkHost(domain string) (Status, error) {
	if !validDomain(domain) {
		return StatusNone, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	record, status, err := e.lookupRecord(domain)
	if record == nil {
		return status, err
	}

	for _, d := range record.Directives {
		match, err := e.matches(d, domain)
		if err != nil {
			if errors.Is(err, errTemporary) {
				return StatusTemperror, err
			}
			return StatusPermerror, err
		}
		if match {
			return d.status(), nil
		}
	}

	if record.Redirect == "" {
		return StatusNeutral, nil
	}
	if err := e.countLookup(); err != nil {
		return StatusPermerror, err
	}
	target, err := e.expand(record.Redirect, domain)
	if err != nil {
		return StatusPermerror, err
	}
	status, err = e.checkHost(target)
	if status == StatusNone {
		return StatusPermerror, fmt.Errorf("%w: %s", ErrRedirectNoRecord, target)
	}
	return status, err
}

// errTemporary marks mechanism errors that yield temperror.
var errTemporary = errors.New("spf: temporary DNS failure")

func (e *evaluator) countLookup() error {
	e.dnsRequests++
	if e.dnsRequests > dnsRequestsMax {
		return ErrTooManyDNSRequests
	}
	return nil
}

// lookupErr classifies a mechanism's DNS error. Not found is a void lookup
// and only an error once the void limit is exceeded.
func (e *evaluator) lookupErr(err error) error {
	if err == nil {
		return nil
	}
	if dns.IsNotFound(err) {
		e.voidLookups++
		if e.voidLookups > voidLookupsMax {
			return ErrTooManyVoidLookups
		}
		return nil
	}
	return fmt.Errorf("%w: %w", errTemporary, err)
}

func (e *evaluator) matches(d Directive, domain string) (bool, error) {
	switch d.Mechanism {
	case "all":
		return true, nil
	case "ip4", "ip6":
		return e.inNetwork(d.IP, d), nil
	}

	if err := e.countLookup(); err != nil {
		return false, err
	}
	target := domain
	if d.DomainSpec != "" {
		var err error
		if target, err = e.expand(d.DomainSpec, domain); err != nil {
			return false, err
		}
	}

	switch d.Mechanism {
	case "include":
		status, err := e.checkHost(target)
		switch status {
		case StatusPass:
			return true, nil
		case StatusFail, StatusSoftfail, StatusNeutral:
			return false, nil
		case StatusTemperror:
			return false, fmt.Errorf("%w: include %s: %w", errTemporary, target, err)
		}
		return false, fmt.Errorf("include %s: %w", target, err)

	case "a":
		return e.hostMatches(target, d)

	case "mx":
		res, err := e.resolver.LookupMX(e.ctx, target)
		if err != nil {
			return false, e.lookupErr(err)
		}
		if len(res.Records) > mxPtrLimit {
			return false, fmt.Errorf("spf: %s has more than %d MX records", target, mxPtrLimit)
		}
		for _, mx := range res.Records {
			if match, err := e.hostMatches(strings.TrimSuffix(mx.Host, "."), d); match || err != nil {
				return match, err
			}
		}
		return false, nil

	case "ptr":
		return e.ptrMatches(target)

	case "exists":
		res, err := e.resolver.LookupIP(e.ctx, target)
		if err != nil {
			return false, e.lookupErr(err)
		}
		for _, ip := range res.Records {
			if ip.To4() != nil {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: unknown mechanism %q", ErrRecordSyntax, d.Mechanism)
}

func (e *evaluator) hostMatches(host string, d Directive) (bool, error) {
	res, err := e.resolver.LookupIP(e.ctx, host)
	if err != nil {
		return false, e.lookupErr(err)
	}
	for _, ip := range res.Records {
		if e.inNetwork(ip, d) {
			return true, nil
		}
	}
	return false, nil
}

// ptrMatches validates the remote IP's PTR names and reports whether one
// of them is target or a subdomain of it. Lookup failures are no match.
func (e *evaluator) ptrMatches(target string) (bool, error) {
	res, err := e.resolver.LookupAddr(e.ctx, e.ip)
	if err != nil {
		return false, nil
	}
	names := res.Records
	if len(names) > mxPtrLimit {
		names = names[:mxPtrLimit]
	}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		if name != target && !strings.HasSuffix(name, "."+target) {
			continue
		}
		ips, err := e.resolver.LookupIP(e.ctx, name)
		if err != nil {
			continue
		}
		for _, ip := range ips.Records {
			if ip.Equal(e.ip) {
				return true, nil
			}
		}
	}
	return false, nil
}

// inNetwork reports whether the remote IP is within ip's network, using
// the directive's prefix length for the address family.
func (e *evaluator) inNetwork(ip net.IP, d Directive) bool {
	if remote4 := e.ip.To4(); remote4 != nil {
		ip4 := ip.To4()
		if ip4 == nil {
			return false
		}
		ones := 32
		if d.IP4CIDR >= 0 {
			ones = d.IP4CIDR
		}
		mask := net.CIDRMask(ones, 32)
		return ip4.Mask(mask).Equal(remote4.Mask(mask))
	}
	if ip.To4() != nil {
		return false
	}
	ones := 128
	if d.IP6CIDR >= 0 {
		ones = d.IP6CIDR
	}
	mask := net.CIDRMask(ones, 128)
	return ip.To16().Mask(mask).Equal(e.ip.To16().Mask(mask))
}
