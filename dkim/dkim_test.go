package dkim

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	msgauth "github.com/emersion/go-msgauth/dkim"

	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/mail"
)

var testKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

func testResolver(t *testing.T) dns.MockResolver {
	t.Helper()
	record, err := KeyRecord(&testKey().PublicKey)
	if err != nil {
		t.Fatalf("KeyRecord: %v", err)
	}
	return dns.MockResolver{
		TXT: map[string][]string{
			"mail._domainkey.example.com.": {record},
		},
	}
}

func testMessage() *mail.Message {
	m := mail.NewMessage()
	m.Header.Add("From", "<alice@example.com>")
	m.Header.Add("To", "<bob@example.org>")
	m.Header.Add("Subject", "Hello   there, this subject is long enough that it will certainly be folded")
	m.Header.Add("Date", time.Now().Add(-time.Hour).Format(time.RFC1123Z))
	m.SetText("Hi Bob,\r\n\r\n.a line with a dot\r\ntrailing space   \r\n\r\n\r\n")
	return m
}

func signedFrame(t *testing.T, s *Signer) []byte {
	t.Helper()
	m := testMessage()
	if err := s.SignMessage(m, 78); err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	return m.Frame(78)
}

func newSigner() *Signer {
	return &Signer{Domain: "example.com", Selector: "mail", Key: testKey()}
}

func TestSignVerify(t *testing.T) {
	tests := []struct {
		name   string
		header Canonicalization
		body   Canonicalization
		hash   crypto.Hash
	}{
		{"relaxed/simple", CanonRelaxed, CanonSimple, crypto.SHA256},
		{"simple/simple", CanonSimple, CanonSimple, crypto.SHA256},
		{"relaxed/relaxed", CanonRelaxed, CanonRelaxed, crypto.SHA256},
		{"simple/relaxed sha1", CanonSimple, CanonRelaxed, crypto.SHA1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSigner()
			s.HeaderCanon, s.BodyCanon, s.Hash = tt.header, tt.body, tt.hash
			framed := signedFrame(t, s)

			results := Verify(context.Background(), testResolver(t), framed, "example.com")
			if len(results) != 1 {
				t.Fatalf("got %d results", len(results))
			}
			r := results[0]
			if r.Status != StatusPass || r.Reason != ReasonPass {
				t.Fatalf("result = %+v", r)
			}
			if r.Domain != "example.com" || r.Selector != "mail" {
				t.Errorf("domain/selector = %q/%q", r.Domain, r.Selector)
			}
			if Summary(results) != "pass" {
				t.Errorf("Summary = %q", Summary(results))
			}
		})
	}
}

func TestSignatureValueFolding(t *testing.T) {
	value, err := newSigner().Sign(testMessage().Frame(78))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	lines := strings.Split(FieldName+": "+value, "\r\n")
	if len(lines) < 2 {
		t.Fatalf("expected a folded value, got %q", value)
	}
	for i, line := range lines {
		if len(line) > foldWidth {
			t.Errorf("line %d has %d chars: %q", i, len(line), line)
		}
		if i > 0 && !strings.HasPrefix(line, "\t") {
			t.Errorf("continuation %d does not start with a tab: %q", i, line)
		}
	}
	if !strings.Contains(value, "c=relaxed/simple;") || !strings.Contains(value, "q=dns/txt;") {
		t.Errorf("missing default tags in %q", value)
	}
}

func TestVerifyMutation(t *testing.T) {
	framed := signedFrame(t, newSigner())
	tests := []struct {
		name   string
		mutate func([]byte) []byte
		reason string
	}{
		{
			name: "signed header",
			mutate: func(b []byte) []byte {
				return bytes.Replace(b, []byte("To: <bob@example.org>"), []byte("To: <eve@example.org>"), 1)
			},
			reason: ReasonSignatureMismatch,
		},
		{
			name: "body",
			mutate: func(b []byte) []byte {
				return bytes.Replace(b, []byte("Hi Bob"), []byte("Hi Eve"), 1)
			},
			reason: ReasonBodyHash,
		},
		{
			name: "appended body line",
			mutate: func(b []byte) []byte {
				return append(bytes.Clone(b), "P.S. send money\r\n"...)
			},
			reason: ReasonBodyHash,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(framed)
			if bytes.Equal(mutated, framed) {
				t.Fatal("mutation did not change the message")
			}
			results := Verify(context.Background(), testResolver(t), mutated, "example.com")
			if len(results) != 1 || results[0].Reason != tt.reason || results[0].Status != StatusFail {
				t.Errorf("results = %+v, want reason %q", results, tt.reason)
			}
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	s := newSigner()
	s.Expiration = time.Minute
	framed := signedFrame(t, s)

	orig := timeNow
	timeNow = func() time.Time { return orig().Add(2 * time.Minute) }
	defer func() { timeNow = orig }()

	results := Verify(context.Background(), testResolver(t), framed, "example.com")
	if got := Summary(results); got != ReasonExpired {
		t.Errorf("Summary = %q, want %q", got, ReasonExpired)
	}
}

func TestVerifyPredatesDate(t *testing.T) {
	m := testMessage()
	m.Header.Set("Date", time.Now().Add(time.Hour).Format(time.RFC1123Z))
	if err := newSigner().SignMessage(m, 78); err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	results := Verify(context.Background(), testResolver(t), m.Frame(78), "example.com")
	if got := Summary(results); got != ReasonPredates {
		t.Errorf("Summary = %q, want %q", got, ReasonPredates)
	}
}

// craft frames a message whose only signature has the given value.
func craft(value string) []byte {
	m := testMessage()
	m.Header.Prepend(FieldName, value)
	return m.Frame(78)
}

func TestVerifyTagRules(t *testing.T) {
	const bh = "bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="
	tests := []struct {
		name   string
		value  string
		sender string
		reason string
	}{
		{"a missing", "v=1; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", "a missing"},
		{"b missing", "v=1; a=rsa-sha256; " + bh + "; d=example.com; h=from; s=mail", "example.com", "b missing"},
		{"bh missing", "v=1; a=rsa-sha256; b=AA==; d=example.com; h=from; s=mail", "example.com", "bh missing"},
		{"d missing", "v=1; a=rsa-sha256; b=AA==; " + bh + "; h=from; s=mail", "example.com", "d missing"},
		{"h missing", "v=1; a=rsa-sha256; b=AA==; " + bh + "; d=example.com; s=mail", "example.com", "h missing"},
		{"s missing", "v=1; a=rsa-sha256; b=AA==; " + bh + "; d=example.com; h=from", "example.com", "s missing"},
		{"version", "v=2; a=rsa-sha256; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", ReasonVersion},
		{"no version", "a=rsa-sha256; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", ReasonVersion},
		{"query", "v=1; a=rsa-sha256; q=http/well-known; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", ReasonQuery},
		{"domain", "v=1; a=rsa-sha256; b=AA==; " + bh + "; d=example.net; h=from; s=mail", "example.com", ReasonDomainMismatch},
		{"public suffix", "v=1; a=rsa-sha256; b=AA==; " + bh + "; d=com; h=from; s=mail", "com", ReasonDomainMismatch},
		{"expired", "v=1; a=rsa-sha256; x=1000; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", ReasonExpired},
		{"algorithm", "v=1; a=ed25519-sha256; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", ReasonAlgorithm},
		{"header canon", "v=1; a=rsa-sha256; c=nofws/simple; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", "nofws canonicalization unsupported"},
		{"body canon", "v=1; a=rsa-sha256; c=relaxed/fancy; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", "fancy canonicalization unsupported"},
		{"body hash", "v=1; a=rsa-sha256; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", ReasonBodyHash},
		{"bad timestamp", "v=1; a=rsa-sha256; t=soon; b=AA==; " + bh + "; d=example.com; h=from; s=mail", "example.com", "t invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Verify(context.Background(), testResolver(t), craft(tt.value), tt.sender)
			if len(results) != 1 {
				t.Fatalf("got %d results", len(results))
			}
			if results[0].Reason != tt.reason {
				t.Errorf("reason = %q, want %q", results[0].Reason, tt.reason)
			}
			if results[0].Status == StatusPass {
				t.Error("unexpected pass")
			}
		})
	}
}

func TestVerifyKeyLookup(t *testing.T) {
	framed := signedFrame(t, newSigner())
	good, _ := KeyRecord(&testKey().PublicKey)
	p := good[strings.Index(good, "p="):]

	tests := []struct {
		name    string
		records []string
		fail    bool
		reason  string
		status  Status
	}{
		{"none", nil, false, ReasonNoPublicKey, StatusPermerror},
		{"servfail", nil, true, ReasonNoPublicKey, StatusTemperror},
		{"all rejected", []string{"v=DKIM1; k=rsa", "v=DKIM2; " + p, "k=ed25519; " + p, "s=web; " + p, "h=sha1; " + p, "p=bm90IGEga2V5"},
			false, "no matching public key (p missing, version unsupported, k unsupported, s mismatch, h mismatch, invalid format)", StatusPermerror},
		{"second usable", []string{"k=ed25519; " + p, "v=DKIM1; s=email:*; h=sha1:sha256; " + p}, false, ReasonPass, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := dns.MockResolver{TXT: map[string][]string{}}
			if tt.records != nil {
				r.TXT["mail._domainkey.example.com."] = tt.records
			}
			if tt.fail {
				r.Fail = []string{"txt mail._domainkey.example.com."}
			}
			results := Verify(context.Background(), r, framed, "example.com")
			if len(results) != 1 || results[0].Reason != tt.reason || results[0].Status != tt.status {
				t.Errorf("results = %+v, want %q/%s", results, tt.reason, tt.status)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    string
	}{
		{"none", nil, "not present"},
		{"first reason", []Result{{Reason: "expired"}, {Reason: "domain mismatch"}}, "expired"},
		{"any pass", []Result{{Reason: "expired"}, {Status: StatusPass, Reason: "pass"}}, "pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summary(tt.results); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignerErrors(t *testing.T) {
	tests := []struct {
		name string
		s    *Signer
	}{
		{"no key", &Signer{Domain: "example.com", Selector: "mail"}},
		{"no domain", &Signer{Selector: "mail", Key: testKey()}},
		{"bad hash", &Signer{Domain: "example.com", Selector: "mail", Key: testKey(), Hash: crypto.SHA512}},
		{"bad canon", &Signer{Domain: "example.com", Selector: "mail", Key: testKey(), BodyCanon: "nofws"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.s.Sign(testMessage().Frame(78)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCanonicalBody(t *testing.T) {
	tests := []struct {
		name  string
		canon Canonicalization
		in    string
		want  string
	}{
		{"simple empty", CanonSimple, "", "\r\n"},
		{"relaxed empty", CanonRelaxed, "", ""},
		{"simple trailing lines", CanonSimple, "a\r\n\r\n\r\n", "a\r\n"},
		{"simple adds CRLF", CanonSimple, "a  b", "a  b\r\n"},
		{"relaxed whitespace", CanonRelaxed, " a \t b  \r\n\t\r\n", " a b\r\n"},
		{"relaxed keeps inner empty lines", CanonRelaxed, "a\r\n\r\nb\r\n", "a\r\n\r\nb\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(canonicalBody(tt.canon, []byte(tt.in))); got != tt.want {
				t.Errorf("canonicalBody(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeHeaderRelaxed(t *testing.T) {
	got, err := canonicalizeHeaderRelaxed("SubJect :  Hello \r\n\t  World  \r\n")
	if err != nil {
		t.Fatal(err)
	}
	if got != "subject:Hello World" {
		t.Errorf("got %q", got)
	}
}

func TestHeaderHashInputBottomUp(t *testing.T) {
	headers, _, err := splitMessage([]byte("Received: first\r\nX: 1\r\nReceived: second\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := headerHashInput(CanonSimple, headers, []string{"received", "received", "received", "x"}, "DKIM-Signature: b=")
	if err != nil {
		t.Fatal(err)
	}
	want := "Received: second\r\nReceived: first\r\nX: 1\r\nDKIM-Signature: b="
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripSignatureData(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DKIM-Signature: v=1; bh=abc; b=xyz\r\n", "DKIM-Signature: v=1; bh=abc; b="},
		{"DKIM-Signature: v=1; b=xy\r\n\tz; d=example.com\r\n", "DKIM-Signature: v=1; b=; d=example.com\r\n"},
		{"DKIM-Signature: b = xyz; v=1", "DKIM-Signature: b =; v=1"},
	}
	for _, tt := range tests {
		if got := stripSignatureData(tt.in); got != tt.want {
			t.Errorf("stripSignatureData(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePrivateKey(t *testing.T) {
	if _, err := ParsePrivateKey([]byte("not pem")); err == nil {
		t.Error("expected error for non-PEM input")
	}
}

// Signatures must interoperate with an independent implementation in both
// directions.
func TestInteropVerifiedByMsgauth(t *testing.T) {
	for _, canon := range []Canonicalization{CanonSimple, CanonRelaxed} {
		t.Run(string(canon), func(t *testing.T) {
			s := newSigner()
			s.HeaderCanon, s.BodyCanon = canon, canon
			framed := signedFrame(t, s)

			record, _ := KeyRecord(&testKey().PublicKey)
			verifications, err := msgauth.VerifyWithOptions(bytes.NewReader(framed), &msgauth.VerifyOptions{
				LookupTXT: func(domain string) ([]string, error) {
					return []string{record}, nil
				},
			})
			if err != nil {
				t.Fatalf("VerifyWithOptions: %v", err)
			}
			if len(verifications) != 1 || verifications[0].Err != nil {
				t.Fatalf("verifications = %+v", verifications)
			}
		})
	}
}

func TestInteropSignedByMsgauth(t *testing.T) {
	for _, canon := range []msgauth.Canonicalization{msgauth.CanonicalizationSimple, msgauth.CanonicalizationRelaxed} {
		t.Run(string(canon), func(t *testing.T) {
			var out bytes.Buffer
			err := msgauth.Sign(&out, bytes.NewReader(testMessage().Frame(78)), &msgauth.SignOptions{
				Domain:                 "example.com",
				Selector:               "mail",
				Signer:                 testKey(),
				HeaderCanonicalization: canon,
				BodyCanonicalization:   canon,
				HeaderKeys:             []string{"From", "To", "Subject", "Date"},
			})
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			results := Verify(context.Background(), testResolver(t), out.Bytes(), "example.com")
			if Summary(results) != ReasonPass {
				t.Errorf("results = %+v", results)
			}
		})
	}
}
