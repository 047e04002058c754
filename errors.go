package courier

import "errors"

var (
	ErrServerClosed       = errors.New("smtp: server closed")
	ErrNoHostname         = errors.New("smtp: hostname is required")
	ErrNoResolver         = errors.New("smtp: resolver is required")
	ErrUnexpectedGreeting = errors.New("smtp: unexpected greeting")
	ErrNoReachableTarget  = errors.New("smtp: no reachable mail server")
	ErrMessageTooLarge    = errors.New("smtp: message too large")
)
