package dkim

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/synqronlabs/courier/mail"
)

// FieldName is the header field carrying a signature.
const FieldName = "DKIM-Signature"

// Signer produces DKIM-Signature values with an RSA key.
type Signer struct {
	// Domain is the signing domain (d=).
	Domain string

	// Selector names the key record (s=).
	Selector string

	Key *rsa.PrivateKey

	// Headers lists the fields to sign. DefaultSignedHeaders when empty.
	Headers []string

	// HeaderCanon defaults to relaxed, BodyCanon to simple.
	HeaderCanon Canonicalization
	BodyCanon   Canonicalization

	// Hash is crypto.SHA256 (the default) or crypto.SHA1.
	Hash crypto.Hash

	// Expiration sets x= this long after signing. Zero omits x=.
	Expiration time.Duration
}

func (s *Signer) signature() (*Signature, crypto.Hash, error) {
	if s.Key == nil {
		return nil, 0, ErrNoKey
	}
	if s.Domain == "" || s.Selector == "" {
		return nil, 0, ErrNoDomain
	}
	h := s.Hash
	if h == 0 {
		h = crypto.SHA256
	}
	name, ok := hashName(h)
	if !ok {
		return nil, 0, ErrHashUnsupported
	}
	hc, bc := s.HeaderCanon, s.BodyCanon
	if hc == "" {
		hc = CanonRelaxed
	}
	if bc == "" {
		bc = CanonSimple
	}
	for _, c := range []Canonicalization{hc, bc} {
		if c != CanonSimple && c != CanonRelaxed {
			return nil, 0, fmt.Errorf("%w: %q", ErrCanonUnsupported, c)
		}
	}

	headers := s.Headers
	if len(headers) == 0 {
		headers = DefaultSignedHeaders
	}

	now := timeNow()
	sig := newSignature()
	sig.Algorithm = "rsa-" + name
	sig.QueryMethods = []string{"dns/txt"}
	sig.Selector = s.Selector
	sig.Timestamp = now.Unix()
	if s.Expiration > 0 {
		sig.Expiration = now.Add(s.Expiration).Unix()
	}
	sig.Canonicalization = string(hc) + "/" + string(bc)
	sig.Headers = headers
	sig.Domain = s.Domain
	return sig, h, nil
}

// Sign signs a framed message (header block, blank line, body) and returns
// the DKIM-Signature field value, folded for a header line.
func (s *Signer) Sign(message []byte) (string, error) {
	sig, h, err := s.signature()
	if err != nil {
		return "", err
	}
	headers, bodyOffset, err := splitMessage(message)
	if err != nil {
		return "", err
	}
	hc, bc := sig.Canons()

	bh := h.New()
	bh.Write(canonicalBody(bc, message[bodyOffset:]))
	sig.BodyHash = bh.Sum(nil)

	field := FieldName + ": " + sig.Value(len(FieldName), false)
	input, err := headerHashInput(hc, headers, sig.Headers, field)
	if err != nil {
		return "", err
	}
	digest := h.New()
	digest.Write(input)
	sig.Data, err = rsa.SignPKCS1v15(rand.Reader, s.Key, h, digest.Sum(nil))
	if err != nil {
		return "", fmt.Errorf("dkim: signing: %w", err)
	}
	return sig.Value(len(FieldName), true), nil
}

// SignMessage signs m as it frames at width and prepends the signature.
func (s *Signer) SignMessage(m *mail.Message, width int) error {
	value, err := s.Sign(m.Frame(width))
	if err != nil {
		return err
	}
	m.Header.Prepend(FieldName, value)
	return nil
}
