package mail

import (
	"context"
	"errors"
	"net"
	"slices"
	"testing"

	"github.com/synqronlabs/courier/dns"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		mailbox string
		domain  string
		local   string
		wantErr bool
	}{
		{in: "a@example.com", mailbox: "a@example.com", domain: "example.com", local: "a"},
		{in: "Alice <alice@example.com>", name: "Alice", mailbox: "alice@example.com", domain: "example.com", local: "alice"},
		{in: " <bob@example.org> ", mailbox: "bob@example.org", domain: "example.org", local: "bob"},
		{in: "not an address", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress: %v", err)
			}
			if a.Name != tt.name || a.Mailbox != tt.mailbox {
				t.Errorf("got %+v", a)
			}
			if a.Domain() != tt.domain || a.LocalPart() != tt.local {
				t.Errorf("Domain/LocalPart = %q/%q", a.Domain(), a.LocalPart())
			}
		})
	}
}

func TestParseAddressList(t *testing.T) {
	list, err := ParseAddressList("a@example.com, Bob <b@example.com>")
	if err != nil {
		t.Fatalf("ParseAddressList: %v", err)
	}
	var got []string
	for _, a := range list {
		got = append(got, a.Mailbox)
	}
	if !slices.Equal(got, []string{"a@example.com", "b@example.com"}) {
		t.Errorf("got %v", got)
	}
}

func TestAddressString(t *testing.T) {
	if got := (Address{Mailbox: "a@b.example"}).String(); got != "<a@b.example>" {
		t.Errorf("String() = %q", got)
	}
	if got := (Address{Name: "Alice", Mailbox: "a@b.example"}).String(); got != `"Alice" <a@b.example>` {
		t.Errorf("String() = %q", got)
	}
}

func TestASCIIDomain(t *testing.T) {
	a := Address{Mailbox: "user@bücher.example"}
	got, err := a.ASCIIDomain()
	if err != nil {
		t.Fatalf("ASCIIDomain: %v", err)
	}
	if got != "xn--bcher-kva.example" {
		t.Errorf("ASCIIDomain() = %q", got)
	}
}

func TestTargets(t *testing.T) {
	resolver := dns.MockResolver{
		MX: map[string][]*net.MX{
			"example.com.": {
				{Host: "mx2.example.com.", Pref: 20},
				{Host: "mx1.example.com.", Pref: 10},
				{Host: "mx3.example.com.", Pref: 20},
			},
			"null.example.": {{Host: ".", Pref: 0}},
		},
		Fail: []string{"mx broken.example."},
	}
	ctx := context.Background()

	tests := []struct {
		mailbox string
		want    []string
		err     error
	}{
		{mailbox: "a@example.com", want: []string{"mx1.example.com", "mx2.example.com", "mx3.example.com"}},
		{mailbox: "a@nomx.example", want: []string{"nomx.example"}},
		{mailbox: "a@null.example", err: ErrNullMX},
		{mailbox: "a@broken.example", err: dns.ErrDNSServFail},
		{mailbox: "nodomain", err: ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.mailbox, func(t *testing.T) {
			got, err := Address{Mailbox: tt.mailbox}.Targets(ctx, resolver)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Targets: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Targets() = %v, want %v", got, tt.want)
			}
		})
	}
}
