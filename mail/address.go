package mail

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"slices"
	"strings"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/courier/dns"
)

var (
	ErrInvalidAddress = errors.New("mail: invalid address")
	ErrNullMX         = errors.New("mail: domain does not accept mail")
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Mailbox string
}

// ParseAddress parses "local@domain" or "Name <local@domain>".
func ParseAddress(s string) (Address, error) {
	a, err := netmail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address{Name: a.Name, Mailbox: a.Address}, nil
}

// ParseAddressList parses a comma separated list of addresses.
func ParseAddressList(s string) ([]Address, error) {
	list, err := netmail.ParseAddressList(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	out := make([]Address, len(list))
	for i, a := range list {
		out[i] = Address{Name: a.Name, Mailbox: a.Address}
	}
	return out, nil
}

// Domain returns the part of the mailbox after the last "@".
func (a Address) Domain() string {
	i := strings.LastIndexByte(a.Mailbox, '@')
	if i < 0 {
		return ""
	}
	return a.Mailbox[i+1:]
}

// LocalPart returns the part of the mailbox before the last "@".
func (a Address) LocalPart() string {
	i := strings.LastIndexByte(a.Mailbox, '@')
	if i < 0 {
		return a.Mailbox
	}
	return a.Mailbox[:i]
}

// ASCIIDomain returns the domain in A-label form for DNS lookups.
func (a Address) ASCIIDomain() (string, error) {
	d, err := idna.Lookup.ToASCII(a.Domain())
	if err != nil {
		return "", fmt.Errorf("%w: domain %q: %v", ErrInvalidAddress, a.Domain(), err)
	}
	return strings.ToLower(d), nil
}

// String renders the address for a header, e.g. `"Name" <a@b>`.
func (a Address) String() string {
	if a.Name == "" {
		return "<" + a.Mailbox + ">"
	}
	return (&netmail.Address{Name: a.Name, Address: a.Mailbox}).String()
}

// Targets returns the hosts to try when delivering to this address: the MX
// hosts by ascending preference, or the domain itself when it has no MX.
// A null MX (RFC 7505) yields ErrNullMX.
func (a Address) Targets(ctx context.Context, resolver dns.Resolver) ([]string, error) {
	if a.Domain() == "" {
		return nil, fmt.Errorf("%w: %q has no domain", ErrInvalidAddress, a.Mailbox)
	}
	domain, err := a.ASCIIDomain()
	if err != nil {
		return nil, err
	}

	res, err := resolver.LookupMX(ctx, domain)
	if dns.IsNotFound(err) {
		return []string{domain}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mail: MX lookup for %s: %w", domain, err)
	}

	if len(res.Records) == 0 {
		return []string{domain}, nil
	}
	records := slices.Clone(res.Records)
	slices.SortStableFunc(records, func(x, y *net.MX) int {
		return cmp.Compare(x.Pref, y.Pref)
	})

	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			if len(records) == 1 {
				return nil, ErrNullMX
			}
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}
