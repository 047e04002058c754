package dmarc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/courier/dns"
)

// Lookup returns the first valid record published at "_dmarc.<domain>".
// When the domain has none, the organizational domain (one label below
// its public suffix) is queried instead.
//
// Records that are not DMARC, or that fail to parse, are skipped.
func Lookup(ctx context.Context, resolver dns.Resolver, domain string) (Result, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	res, err := lookupRecord(ctx, resolver, domain)
	if !errors.Is(err, ErrNoRecord) {
		return res, err
	}

	org := OrganizationalDomain(domain)
	if org == domain {
		return res, err
	}
	res, err = lookupRecord(ctx, resolver, org)
	res.Fallback = true
	return res, err
}

func lookupRecord(ctx context.Context, resolver dns.Resolver, domain string) (Result, error) {
	res := Result{Domain: domain}
	answer, err := resolver.LookupTXT(ctx, "_dmarc."+domain)
	res.Authentic = answer.Authentic
	if err != nil {
		if dns.IsNotFound(err) {
			return res, ErrNoRecord
		}
		return res, fmt.Errorf("%w: %w", ErrDNS, err)
	}
	for _, txt := range answer.Records {
		r, isDMARC, err := ParseRecord(txt)
		if !isDMARC || err != nil {
			continue
		}
		res.Record = r
		return res, nil
	}
	return res, ErrNoRecord
}

// OrganizationalDomain returns the registrable domain of domain, e.g.
// "example.co.uk" for "mail.example.co.uk". Domains the public suffix list
// cannot split are returned unchanged.
func OrganizationalDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return ""
	}
	org, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return org
}
