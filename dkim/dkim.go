// Package dkim signs and verifies DomainKeys Identified Mail signatures
// (RFC 6376) with RSA keys.
//
// Signing a framed message:
//
//	signer := &dkim.Signer{
//	    Domain:   "example.com",
//	    Selector: "mail",
//	    Key:      privateKey,
//	}
//	value, err := signer.Sign(framed)
//
// Verifying it on receipt:
//
//	results := dkim.Verify(ctx, resolver, data, "example.com")
//	if dkim.Summary(results) == "pass" {
//	    // at least one signature verified
//	}
package dkim

import (
	"crypto"
	"errors"
	"strings"
	"time"
)

// Status is the coarse outcome of verifying one signature.
type Status string

const (
	StatusPass      Status = "pass"
	StatusFail      Status = "fail"
	StatusPermerror Status = "permerror"
	StatusTemperror Status = "temperror"
)

// Canonicalization is a header or body canonicalization algorithm.
type Canonicalization string

const (
	CanonSimple  Canonicalization = "simple"
	CanonRelaxed Canonicalization = "relaxed"
)

// Verification reasons that are not tag specific.
const (
	ReasonPass              = "pass"
	ReasonNotPresent        = "not present"
	ReasonVersion           = "version unsupported"
	ReasonQuery             = "no supported query mechanism"
	ReasonDomainMismatch    = "domain mismatch"
	ReasonPredates          = "signature predates email"
	ReasonExpired           = "expired"
	ReasonAlgorithm         = "algorithm unsupported"
	ReasonBodyHash          = "body hash mismatch"
	ReasonNoPublicKey       = "no public key found"
	ReasonSignatureMismatch = "signature mismatch"
)

var (
	ErrNoKey            = errors.New("dkim: no signing key")
	ErrNoDomain         = errors.New("dkim: signing domain and selector are required")
	ErrHashUnsupported  = errors.New("dkim: hash must be SHA-256 or SHA-1")
	ErrCanonUnsupported = errors.New("dkim: unknown canonicalization")
	ErrHeaderMalformed  = errors.New("dkim: mail header is malformed")
)

// Result is the outcome of verifying one DKIM-Signature header.
type Result struct {
	Domain   string
	Selector string
	Status   Status
	// Reason is "pass" or the first rule the signature failed.
	Reason string

	// Signature is set once the signature's tags have been validated.
	Signature *Signature
}

// Summary reduces the results for a message to one string: "pass" when any
// signature passed, "not present" when there were none, otherwise the reason
// the first signature failed.
func Summary(results []Result) string {
	if len(results) == 0 {
		return ReasonNotPresent
	}
	for _, r := range results {
		if r.Status == StatusPass {
			return ReasonPass
		}
	}
	return results[0].Reason
}

// DefaultSignedHeaders is used when Signer.Headers is empty.
var DefaultSignedHeaders = []string{
	"From",
	"To",
	"Subject",
	"Date",
	"Message-ID",
	"MIME-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
}

// timeNow is replaced in tests.
var timeNow = time.Now

func hashName(h crypto.Hash) (string, bool) {
	switch h {
	case crypto.SHA256:
		return "sha256", true
	case crypto.SHA1:
		return "sha1", true
	}
	return "", false
}

func hashByName(name string) (crypto.Hash, bool) {
	switch strings.ToLower(name) {
	case "sha256":
		return crypto.SHA256, true
	case "sha1":
		return crypto.SHA1, true
	}
	return 0, false
}
