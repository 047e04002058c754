package courier

import "github.com/synqronlabs/courier/wire"

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeServiceReady   SMTPCode = 220
	CodeServiceClosing SMTPCode = 221
	CodeOK             SMTPCode = 250

	// 3xx - Intermediate
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable SMTPCode = 421
	CodeLocalError         SMTPCode = 451

	// 5xx - Permanent Failure
	CodeCommandUnrecognized   SMTPCode = 500
	CodeSyntaxError           SMTPCode = 501
	CodeCommandNotImplemented SMTPCode = 502
	CodeBadSequence           SMTPCode = 503
	CodeRejected              SMTPCode = 550
	CodeExceededStorage       SMTPCode = 552
	CodeTransactionFailed     SMTPCode = 554
)

// IsTransient reports whether the code is a 4yz transient failure.
func (c SMTPCode) IsTransient() bool {
	return c >= 400 && c < 500
}

// IsPermanent reports whether the code is a 5yz permanent failure.
func (c SMTPCode) IsPermanent() bool {
	return c >= 500 && c < 600
}

// Lines renders the reply as the lines to write, one per text line.
func (c SMTPCode) Lines(text ...string) []string {
	return wire.FormatReply(int(c), text...)
}
