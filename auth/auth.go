// Package auth decides whether an inbound message is authentic enough to
// accept. It combines a DNS blocklist check with DKIM, SPF and the sender
// domain's DMARC policy into a Verdict.
//
// Every passing method counts once. A message that reaches
// Pipeline.PassesRequired is accepted; one that does not is rejected only
// when the sender domain publishes p=reject, or publishes no enforced
// DMARC policy and SPF fails outright.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/synqronlabs/courier/dkim"
	"github.com/synqronlabs/courier/dmarc"
	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/metrics"
	"github.com/synqronlabs/courier/spf"
	"github.com/synqronlabs/courier/wire"
)

// Headers an accepted message carries its results in, in the order they
// appear at the top of the message.
const (
	HeaderName      = "X-Authenticity"
	HeaderPolicy    = "X-Authenticity-Policy"
	HeaderBlocklist = "X-Authenticity-Blocklist"
	HeaderPasses    = "X-Authenticity-Passes"
)

// DefaultPassesRequired is used when Pipeline.PassesRequired is zero.
const DefaultPassesRequired = 1

// SPFNotChecked is Verdict.SPF when DKIM alone met the threshold.
const SPFNotChecked = "not checked"

// Decision is the outcome of the pipeline.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionReject  Decision = "reject"
	DecisionBlocked Decision = "blocked"
)

// Pipeline holds what message evaluation needs. The zero value is not
// usable; Resolver is required.
type Pipeline struct {
	Resolver dns.Resolver

	// PassesRequired is the number of passing methods needed to accept
	// a message unconditionally.
	PassesRequired int

	// BlocklistZones are DNSBL zones queried in order, e.g.
	// "zen.spamhaus.org".
	BlocklistZones []string

	// LocalHostname identifies this host to SPF macros.
	LocalHostname string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics, when set, records each check's result.
	Metrics metrics.Collector
}

// Input describes one received message.
type Input struct {
	RemoteIP    net.IP
	HelloDomain string

	// MailFrom is the envelope sender mailbox (local@domain).
	MailFrom string

	// Data is the message as received, unstuffed.
	Data []byte
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) metrics() metrics.Collector {
	if p.Metrics != nil {
		return p.Metrics
	}
	return &metrics.NoopCollector{}
}

func (p *Pipeline) passesRequired() int {
	if p.PassesRequired > 0 {
		return p.PassesRequired
	}
	return DefaultPassesRequired
}

// Evaluate runs the blocklist check and the authentication methods and
// returns the decision.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) Verdict {
	log := p.logger()

	if listed, reason := p.Blocklisted(ctx, in.RemoteIP); listed {
		log.Info("sender blocklisted",
			slog.String("ip", in.RemoteIP.String()),
			slog.String("reason", reason),
		)
		return Verdict{
			DKIM:        dkim.ReasonNotPresent,
			SPF:         SPFNotChecked,
			Blocklisted: true,
			BlockReason: reason,
			Decision:    DecisionBlocked,
		}
	}

	local, domain := splitMailbox(in.MailFrom)
	v := Verdict{}
	m := p.metrics()

	if res, err := dmarc.Lookup(ctx, p.Resolver, domain); err == nil {
		v.DMARCPolicy = string(res.Policy())
		v.DMARCUsed = res.Policy().Enforced()
		m.DMARCCheckCompleted(domain, v.DMARCPolicy)
	} else {
		log.Debug("DMARC lookup", slog.String("domain", domain), slog.Any("error", err))
		m.DMARCCheckCompleted(domain, "none")
	}

	v.DKIM = dkim.Summary(dkim.Verify(ctx, p.Resolver, in.Data, domain))
	m.DKIMCheckCompleted(domain, dkimResult(v.DKIM))
	if v.DKIM == dkim.ReasonPass {
		v.Passes++
	}

	required := p.passesRequired()
	if v.Passes < required {
		status := spf.Check(ctx, p.Resolver, spf.Args{
			RemoteIP:       in.RemoteIP,
			MailFromLocal:  local,
			MailFromDomain: domain,
			HelloDomain:    in.HelloDomain,
			LocalHostname:  p.LocalHostname,
			Logger:         log,
		})
		v.SPF = string(status)
		m.SPFCheckCompleted(domain, v.SPF)
		if countsAsPass(status, v.DMARCUsed) {
			v.Passes++
		}
	} else {
		v.SPF = SPFNotChecked
	}

	v.Decision = DecisionAccept
	if v.Passes < required {
		if v.DMARCPolicy == string(dmarc.PolicyReject) || !v.DMARCUsed && v.SPF == string(spf.StatusFail) {
			v.Decision = DecisionReject
		}
	}

	log.Debug("message authenticity",
		slog.String("dkim", v.DKIM),
		slog.String("spf", v.SPF),
		slog.String("dmarc", v.DMARCPolicy),
		slog.Int("passes", v.Passes),
		slog.String("decision", string(v.Decision)),
	)
	return v
}

// countsAsPass reports whether an SPF result counts towards the pass
// total. softfail is treated as neutral and errors as none; none passes
// only when the domain enforces DMARC.
func countsAsPass(status spf.Status, dmarcUsed bool) bool {
	switch status {
	case spf.StatusPass:
		return true
	case spf.StatusNone, spf.StatusTemperror, spf.StatusPermerror:
		return dmarcUsed
	}
	return false
}

// dkimResult folds a DKIM summary into a bounded label value.
func dkimResult(summary string) string {
	switch summary {
	case dkim.ReasonPass:
		return "pass"
	case dkim.ReasonNotPresent:
		return "none"
	}
	return "fail"
}

func splitMailbox(mailbox string) (local, domain string) {
	i := strings.LastIndexByte(mailbox, '@')
	if i < 0 {
		return "", strings.ToLower(mailbox)
	}
	return mailbox[:i], strings.ToLower(mailbox[i+1:])
}

// Verdict is the result of evaluating a message.
type Verdict struct {
	// DKIM is the dkim.Summary of the message's signatures.
	DKIM string

	// SPF is the spf.Status, or SPFNotChecked.
	SPF string

	// DMARCUsed is true when the sender domain enforces its policy.
	DMARCUsed   bool
	DMARCPolicy string

	Blocklisted bool
	BlockReason string

	Passes   int
	Decision Decision
}

// Accepted reports whether the message should be accepted.
func (v Verdict) Accepted() bool { return v.Decision == DecisionAccept }

// Authenticity renders the X-Authenticity header value.
func (v Verdict) Authenticity() string {
	return fmt.Sprintf("DKIM=%s; SPF=%s", v.DKIM, v.SPF)
}

// Headers returns every intermediate result as a header field, starting
// with X-Authenticity.
func (v Verdict) Headers() []wire.Field {
	policy := v.DMARCPolicy
	if policy == "" {
		policy = "absent"
	}
	enforced := "unused"
	if v.DMARCUsed {
		enforced = "enforced"
	}
	listed := "not listed"
	if v.Blocklisted {
		listed = "listed (" + v.BlockReason + ")"
	}
	return []wire.Field{
		{Key: HeaderName, Value: v.Authenticity()},
		{Key: HeaderPolicy, Value: fmt.Sprintf("DMARC=%s; %s", policy, enforced)},
		{Key: HeaderBlocklist, Value: "DNSBL=" + listed},
		{Key: HeaderPasses, Value: strconv.Itoa(v.Passes)},
	}
}

// RejectText is the text of the 550 reply for a rejected or blocked
// message.
func (v Verdict) RejectText() string {
	if v.Blocklisted {
		return "Blocked: " + v.BlockReason
	}
	suffix := "is unused"
	if v.DMARCPolicy == string(dmarc.PolicyReject) {
		suffix = "policy is reject"
	}
	return fmt.Sprintf("Authentication failed (%s) and DMARC %s", v.Authenticity(), suffix)
}
