package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver for tests. Record maps are keyed by FQDN with
// the trailing dot; PTR is keyed by the IP string.
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string
	TXT  map[string][]string
	MX   map[string][]*net.MX

	// Fail lists lookups that return ErrDNSServFail, as "type name",
	// e.g. "txt example.com.".
	Fail []string

	// AllAuthentic is reported as Result.Authentic for every answer.
	AllAuthentic bool
}

var _ Resolver = MockResolver{}

func (r MockResolver) check(ctx context.Context, qtype, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if slices.Contains(r.Fail, qtype+" "+name) {
		return ErrDNSServFail
	}
	return nil
}

func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureAbsolute(name)
	res := Result[string]{Authentic: r.AllAuthentic}
	if err := r.check(ctx, "txt", fqdn); err != nil {
		return res, err
	}
	records := r.TXT[fqdn]
	if len(records) == 0 {
		return res, ErrDNSNotFound
	}
	res.Records = records
	return res, nil
}

func (r MockResolver) LookupIP(ctx context.Context, domain string) (Result[net.IP], error) {
	fqdn := ensureAbsolute(domain)
	res := Result[net.IP]{Authentic: r.AllAuthentic}
	if err := r.check(ctx, "a", fqdn); err != nil {
		return res, err
	}
	if err := r.check(ctx, "aaaa", fqdn); err != nil {
		return res, err
	}
	for _, s := range r.A[fqdn] {
		res.Records = append(res.Records, net.ParseIP(s))
	}
	for _, s := range r.AAAA[fqdn] {
		res.Records = append(res.Records, net.ParseIP(s))
	}
	if len(res.Records) == 0 {
		return res, ErrDNSNotFound
	}
	return res, nil
}

func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureAbsolute(name)
	res := Result[*net.MX]{Authentic: r.AllAuthentic}
	if err := r.check(ctx, "mx", fqdn); err != nil {
		return res, err
	}
	records := r.MX[fqdn]
	if len(records) == 0 {
		return res, ErrDNSNotFound
	}
	res.Records = records
	return res, nil
}

func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	res := Result[string]{Authentic: r.AllAuthentic}
	if err := r.check(ctx, "ptr", ip.String()); err != nil {
		return res, err
	}
	records := r.PTR[ip.String()]
	if len(records) == 0 {
		return res, ErrDNSNotFound
	}
	res.Records = records
	return res, nil
}
