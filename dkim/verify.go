package dkim

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	netmail "net/mail"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/courier/dns"
)

// requiredTags must be present in every signature, checked in this order.
var requiredTags = []string{"a", "b", "bh", "d", "h", "s"}

// Verify checks every DKIM-Signature field of a framed message and returns
// one result per field, top to bottom. senderDomain is the domain of the
// From address; a signature must be made by exactly that domain.
func Verify(ctx context.Context, resolver dns.Resolver, message []byte, senderDomain string) []Result {
	headers, bodyOffset, err := splitMessage(message)
	if err != nil {
		return nil
	}
	v := &verification{
		ctx:          ctx,
		resolver:     resolver,
		headers:      headers,
		body:         message[bodyOffset:],
		senderDomain: strings.ToLower(strings.TrimSuffix(senderDomain, ".")),
	}

	var results []Result
	for _, h := range headers {
		if h.lkey != "dkim-signature" {
			continue
		}
		results = append(results, v.check(string(h.raw)))
	}
	return results
}

type verification struct {
	ctx          context.Context
	resolver     dns.Resolver
	headers      []headerData
	body         []byte
	senderDomain string
}

func permerror(l tagList, reason string) Result {
	d, _ := l.get("d")
	s, _ := l.get("s")
	return Result{Domain: d, Selector: s, Status: StatusPermerror, Reason: reason}
}

// check applies the verification rules in order and stops at the first
// one the signature fails.
func (v *verification) check(field string) Result {
	_, value, _ := strings.Cut(field, ":")
	l := parseTagList(value)

	for _, name := range requiredTags {
		if _, ok := l.get(name); !ok {
			return permerror(l, name+" missing")
		}
	}
	if ver, _ := l.get("v"); ver != "1" {
		return permerror(l, ReasonVersion)
	}
	if q, ok := l.get("q"); ok && !slices.Contains(splitColon(q), "dns/txt") {
		return permerror(l, ReasonQuery)
	}

	sig, bad := signatureFromTags(l)
	if bad != "" {
		return permerror(l, bad+" invalid")
	}
	res := Result{Domain: sig.Domain, Selector: sig.Selector, Status: StatusPermerror, Signature: sig}
	fail := func(status Status, reason string) Result {
		res.Status = status
		res.Reason = reason
		return res
	}

	if sig.Domain != v.senderDomain || isPublicSuffix(sig.Domain) {
		return fail(StatusPermerror, ReasonDomainMismatch)
	}
	if sig.Timestamp >= 0 {
		if date, ok := v.date(); ok && sig.Timestamp < date {
			return fail(StatusPermerror, ReasonPredates)
		}
	}
	if sig.Expiration >= 0 && sig.Expiration <= timeNow().Unix() {
		return fail(StatusPermerror, ReasonExpired)
	}
	if sig.Algorithm != "rsa-sha1" && sig.Algorithm != "rsa-sha256" {
		return fail(StatusPermerror, ReasonAlgorithm)
	}
	hashAlg := strings.TrimPrefix(sig.Algorithm, "rsa-")
	h, _ := hashByName(hashAlg)

	hc, bc := sig.Canons()
	for _, c := range []Canonicalization{hc, bc} {
		if c != CanonSimple && c != CanonRelaxed {
			return fail(StatusPermerror, string(c)+" canonicalization unsupported")
		}
	}

	body := canonicalBody(bc, v.body)
	if sig.Length >= 0 && sig.Length < int64(len(body)) {
		body = body[:sig.Length]
	}
	bh := h.New()
	bh.Write(body)
	if !bytes.Equal(bh.Sum(nil), sig.BodyHash) {
		return fail(StatusFail, ReasonBodyHash)
	}

	pub, reasons, lookupErr := v.publicKey(sig.Selector, sig.Domain, hashAlg)
	if pub == nil {
		if len(reasons) > 0 {
			return fail(StatusPermerror, "no matching public key ("+strings.Join(reasons, ", ")+")")
		}
		if dns.IsTemporary(lookupErr) {
			return fail(StatusTemperror, ReasonNoPublicKey)
		}
		return fail(StatusPermerror, ReasonNoPublicKey)
	}

	input, err := headerHashInput(hc, v.headers, sig.Headers, stripSignatureData(field))
	if err != nil {
		return fail(StatusPermerror, ReasonSignatureMismatch)
	}
	digest := h.New()
	digest.Write(input)
	if err := rsa.VerifyPKCS1v15(pub, h, digest.Sum(nil), sig.Data); err != nil {
		return fail(StatusFail, ReasonSignatureMismatch)
	}
	return fail(StatusPass, ReasonPass)
}

// date returns the message's Date header as a Unix time.
func (v *verification) date() (int64, bool) {
	for _, h := range v.headers {
		if h.lkey != "date" {
			continue
		}
		_, value, _ := strings.Cut(string(h.raw), ":")
		t, err := netmail.ParseDate(strings.TrimSpace(strings.ReplaceAll(value, "\r\n", "")))
		if err != nil {
			return 0, false
		}
		return t.Unix(), true
	}
	return 0, false
}

// publicKey returns the first usable key record for the selector, or the
// reasons each published record was rejected.
func (v *verification) publicKey(selector, domain, hash string) (*rsa.PublicKey, []string, error) {
	res, err := v.resolver.LookupTXT(v.ctx, selector+"._domainkey."+domain)
	if err != nil {
		return nil, nil, err
	}
	var reasons []string
	for _, txt := range res.Records {
		key, reason := ParseKey(txt, hash)
		if key == nil {
			reasons = append(reasons, reason)
			continue
		}
		return key.PublicKey, nil, nil
	}
	return nil, reasons, errors.New("dkim: no usable key record")
}

// isPublicSuffix reports whether domain is a public suffix such as "com"
// or "co.uk", which can never be a legitimate signing domain.
func isPublicSuffix(domain string) bool {
	suffix, _ := publicsuffix.PublicSuffix(domain)
	return suffix == domain
}
