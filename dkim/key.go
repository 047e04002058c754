package dkim

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
)

// Key record rejection reasons.
const (
	KeyReasonNoKey         = "p missing"
	KeyReasonVersion       = "version unsupported"
	KeyReasonKeyType       = "k unsupported"
	KeyReasonService       = "s mismatch"
	KeyReasonHash          = "h mismatch"
	KeyReasonInvalidFormat = "invalid format"
)

// Key is a public key record published at <selector>._domainkey.<domain>.
type Key struct {
	Hashes    []string
	Services  []string
	Flags     []string
	PublicKey *rsa.PublicKey
}

// ParseKey parses a key record and checks that it can verify a signature
// using hash ("sha256" or "sha1"). A rejected record yields one of the
// KeyReason strings.
func ParseKey(txt, hash string) (*Key, string) {
	l := parseTagList(txt)
	p, ok := l.get("p")
	if !ok {
		return nil, KeyReasonNoKey
	}
	if v, ok := l.get("v"); ok && v != "DKIM1" {
		return nil, KeyReasonVersion
	}
	if k, ok := l.get("k"); ok && k != "rsa" {
		return nil, KeyReasonKeyType
	}

	key := &Key{Services: []string{"*"}}
	if s, ok := l.get("s"); ok {
		key.Services = splitColon(s)
	}
	if !slices.Contains(key.Services, "*") && !slices.Contains(key.Services, "email") {
		return nil, KeyReasonService
	}
	if h, ok := l.get("h"); ok {
		key.Hashes = splitColon(h)
		if !slices.Contains(key.Hashes, hash) {
			return nil, KeyReasonHash
		}
	}
	if t, ok := l.get("t"); ok {
		key.Flags = splitColon(t)
	}

	der, err := base64.StdEncoding.DecodeString(stripFWS(p))
	if err != nil || len(der) == 0 {
		return nil, KeyReasonInvalidFormat
	}
	pub, err := parsePublicKey(der)
	if err != nil {
		return nil, KeyReasonInvalidFormat
	}
	key.PublicKey = pub
	return key, ""
}

// parsePublicKey accepts SubjectPublicKeyInfo, which RFC 6376 requires, and
// bare PKCS#1 keys, which some publishers use.
func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if pk, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := pk.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("dkim: expected RSA public key, got %T", pk)
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}

// KeyRecord renders the TXT record publishing pub.
func KeyRecord(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der), nil
}

// ParsePrivateKey decodes a PEM encoded RSA key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("dkim: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("dkim: parsing private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("dkim: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}
