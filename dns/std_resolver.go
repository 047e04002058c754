package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver implements Resolver with the standard library resolver.
// It cannot validate DNSSEC, so Authentic is always false.
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver backed by net.DefaultResolver.
func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

func (r *StdResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	records, err := r.resolver.LookupTXT(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[string]{}, convertError(err)
	}
	if len(records) == 0 {
		return Result[string]{}, ErrDNSNotFound
	}
	return Result[string]{Records: records}, nil
}

func (r *StdResolver) LookupIP(ctx context.Context, domain string) (Result[net.IP], error) {
	ips, err := r.resolver.LookupIP(ctx, "ip", strings.TrimSuffix(domain, "."))
	if err != nil {
		return Result[net.IP]{}, convertError(err)
	}
	if len(ips) == 0 {
		return Result[net.IP]{}, ErrDNSNotFound
	}
	return Result[net.IP]{Records: ips}, nil
}

func (r *StdResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	records, err := r.resolver.LookupMX(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[*net.MX]{}, convertError(err)
	}
	if len(records) == 0 {
		return Result[*net.MX]{}, ErrDNSNotFound
	}
	return Result[*net.MX]{Records: records}, nil
}

func (r *StdResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}
	names, err := r.resolver.LookupAddr(ctx, ip.String())
	if err != nil {
		return Result[string]{}, convertError(err)
	}
	if len(names) == 0 {
		return Result[string]{}, ErrDNSNotFound
	}
	for i, name := range names {
		names[i] = ensureAbsolute(name)
	}
	return Result[string]{Records: names}, nil
}

// convertError maps *net.DNSError onto the package errors.
func convertError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ErrDNSNotFound
		case dnsErr.IsTimeout:
			return ErrDNSTimeout
		case dnsErr.IsTemporary:
			return ErrDNSServFail
		}
	}
	return fmt.Errorf("dns lookup failed: %w", err)
}
