// Package dns provides the DNS lookups used for mail routing and sender
// authentication: MX targets, DKIM key records, DMARC policies, SPF records
// and DNS blocklist queries.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	mdns "github.com/miekg/dns"
)

// Lookup errors. Implementations map their transport specific failures to these.
var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSTimeout  = errors.New("dns: timeout")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
)

// Result holds the records of a lookup and whether they were DNSSEC validated.
type Result[T any] struct {
	Records   []T
	Authentic bool
}

// Resolver performs the lookups needed by the mail engine.
// Names may be given with or without the trailing dot.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) (Result[string], error)
	LookupIP(ctx context.Context, domain string) (Result[net.IP], error)
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
}

// IsNotFound reports whether err means the name or record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a lookup timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a server failure.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the lookup later may succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}

// BlocklistName returns the query name of ip in a DNS blocklist zone,
// e.g. "4.3.2.1.zen.example." for 1.2.3.4. Only IPv4 is supported.
func BlocklistName(ip net.IP, zone string) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("dns: blocklist lookup requires IPv4, got %v", ip)
	}
	arpa, err := mdns.ReverseAddr(v4.String())
	if err != nil {
		return "", fmt.Errorf("dns: reverse name for %v: %w", ip, err)
	}
	return strings.TrimSuffix(arpa, "in-addr.arpa.") + ensureAbsolute(zone), nil
}
