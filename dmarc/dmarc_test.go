package dmarc

import (
	"context"
	"errors"
	"testing"

	"github.com/synqronlabs/courier/dns"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		txt     string
		isDMARC bool
		wantErr bool
		want    Record
	}{
		{
			name:    "minimal",
			txt:     "v=DMARC1; p=reject",
			isDMARC: true,
			want:    Record{Policy: PolicyReject, ADKIM: AlignRelaxed, ASPF: AlignRelaxed, Percentage: 100},
		},
		{
			name:    "all tags",
			txt:     "v=DMARC1; p=Quarantine; sp=none; adkim=s; aspf=r; pct=20; rua=mailto:a@example.com, mailto:b@example.com; ruf=mailto:f@example.com; fo=1",
			isDMARC: true,
			want: Record{
				Policy:                   PolicyQuarantine,
				SubdomainPolicy:          PolicyNone,
				ADKIM:                    AlignStrict,
				ASPF:                     AlignRelaxed,
				Percentage:               20,
				AggregateReportAddresses: []string{"mailto:a@example.com", "mailto:b@example.com"},
				FailureReportAddresses:   []string{"mailto:f@example.com"},
			},
		},
		{name: "not dmarc", txt: "v=spf1 -all"},
		{name: "prefix without semicolon", txt: "v=DMARC1 p=reject"},
		{name: "p missing", txt: "v=DMARC1; rua=mailto:a@example.com", isDMARC: true, wantErr: true},
		{name: "bad policy", txt: "v=DMARC1; p=maybe", isDMARC: true, wantErr: true},
		{name: "bad pct", txt: "v=DMARC1; p=none; pct=101", isDMARC: true, wantErr: true},
		{name: "duplicate", txt: "v=DMARC1; p=none; p=reject", isDMARC: true, wantErr: true},
		{name: "no value", txt: "v=DMARC1; p=none; adkim", isDMARC: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, isDMARC, err := ParseRecord(tt.txt)
			if isDMARC != tt.isDMARC {
				t.Fatalf("isDMARC = %v, want %v", isDMARC, tt.isDMARC)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrSyntax) {
					t.Fatalf("err = %v, want ErrSyntax", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !isDMARC {
				return
			}
			if r.String() != tt.want.String() {
				t.Errorf("record = %q, want %q", r.String(), tt.want.String())
			}
		})
	}
}

func TestRecordString(t *testing.T) {
	r := &Record{Policy: PolicyReject, ADKIM: AlignStrict, ASPF: AlignRelaxed, Percentage: 50}
	want := "v=DMARC1; p=reject; adkim=s; pct=50"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	parsed, _, err := ParseRecord(want)
	if err != nil || parsed.String() != want {
		t.Errorf("reparse = %v, %v", parsed, err)
	}
}

func TestPolicyEnforced(t *testing.T) {
	for p, want := range map[Policy]bool{
		PolicyEmpty:      false,
		PolicyNone:       false,
		PolicyQuarantine: true,
		PolicyReject:     true,
	} {
		if p.Enforced() != want {
			t.Errorf("%q.Enforced() = %v", p, !want)
		}
	}
}

func TestLookup(t *testing.T) {
	resolver := dns.MockResolver{
		TXT: map[string][]string{
			"_dmarc.example.com.":      {"v=spf1 -all", "v=DMARC1; rua=mailto:x@example.com", "v=DMARC1; p=reject; sp=quarantine"},
			"_dmarc.monitor.example.":  {"v=DMARC1; p=none"},
			"_dmarc.example.co.uk.":    {"v=DMARC1; p=quarantine"},
			"_dmarc.mail.example.org.": {"v=DMARC1; p=none"},
			"_dmarc.example.org.":      {"v=DMARC1; p=reject"},
		},
		Fail: []string{"txt _dmarc.broken.example."},
	}

	tests := []struct {
		name     string
		domain   string
		wantErr  error
		domainAt string
		fallback bool
		policy   Policy
	}{
		{name: "first valid record", domain: "example.com", domainAt: "example.com", policy: PolicyReject},
		{name: "trailing dot and case", domain: "Example.COM.", domainAt: "example.com", policy: PolicyReject},
		{name: "monitor only", domain: "monitor.example", domainAt: "monitor.example", policy: PolicyNone},
		{name: "organizational fallback uses sp", domain: "mail.example.com", domainAt: "example.com", fallback: true, policy: PolicyQuarantine},
		{name: "fallback without sp", domain: "a.b.example.co.uk", domainAt: "example.co.uk", fallback: true, policy: PolicyQuarantine},
		{name: "exact record wins", domain: "mail.example.org", domainAt: "mail.example.org", policy: PolicyNone},
		{name: "none anywhere", domain: "nothing.example.net", wantErr: ErrNoRecord},
		{name: "server failure", domain: "broken.example", wantErr: ErrDNS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Lookup(context.Background(), resolver, tt.domain)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if res.Policy().Enforced() {
					t.Error("failed lookup must not enforce a policy")
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if res.Domain != tt.domainAt || res.Fallback != tt.fallback {
				t.Errorf("found at %q (fallback %v), want %q (%v)", res.Domain, res.Fallback, tt.domainAt, tt.fallback)
			}
			if res.Policy() != tt.policy {
				t.Errorf("Policy() = %q, want %q", res.Policy(), tt.policy)
			}
		})
	}
}

func TestOrganizationalDomain(t *testing.T) {
	tests := map[string]string{
		"example.com":       "example.com",
		"Sub.Example.COM.":  "example.com",
		"a.b.example.co.uk": "example.co.uk",
		"":                  "",
	}
	for in, want := range tests {
		if got := OrganizationalDomain(in); got != want {
			t.Errorf("OrganizationalDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
