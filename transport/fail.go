package transport

// FailKind classifies why an exchange with the remote could not complete.
type FailKind int

const (
	FailTimeout FailKind = iota + 1
	FailUnexpectedResponse
	FailStartTLS
	FailRateLimited
)

// String returns the human readable text for the kind.
func (k FailKind) String() string {
	switch k {
	case FailTimeout:
		return "Read timed out"
	case FailUnexpectedResponse:
		return "Unexpected response"
	case FailStartTLS:
		return "Failed to negotiate TLS"
	case FailRateLimited:
		return "Remote has rate limited us"
	default:
		return "Unknown failure"
	}
}

// Fail is the outcome of an exchange that could not complete. It is passed
// to a FailHandler rather than returned up the stack.
type Fail struct {
	Kind   FailKind
	Detail string
}

func (f Fail) Error() string {
	if f.Detail == "" {
		return f.Kind.String()
	}
	return f.Kind.String() + ": " + f.Detail
}

// FailHandler receives the failures raised on a connection.
type FailHandler func(c *Conn, f Fail)
