package courier

import (
	"context"
	"crypto/tls"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/synqronlabs/courier/transport"
)

// ServerCapabilities describes what a server offered during the handshake.
type ServerCapabilities struct {
	Greeting   string
	Protocol   transport.Protocol
	Extensions map[string]string

	// TLS is set when STARTTLS was negotiated.
	TLS         bool
	TLSVersion  string
	CipherSuite string
}

// HasExtension checks if a specific extension is supported.
func (s *ServerCapabilities) HasExtension(keyword string) bool {
	_, ok := s.Extensions[strings.ToUpper(keyword)]
	return ok
}

// String returns a human-readable summary of the server capabilities.
func (s *ServerCapabilities) String() string {
	var sb strings.Builder

	sb.WriteString("Server Capabilities:\n")
	fmt.Fprintf(&sb, "  Greeting: %s\n", s.Greeting)
	fmt.Fprintf(&sb, "  Protocol: %s\n", s.Protocol)
	if s.TLS {
		fmt.Fprintf(&sb, "  TLS: %s %s\n", s.TLSVersion, s.CipherSuite)
	}

	sb.WriteString("  Extensions:\n")
	for _, ext := range slices.Sorted(maps.Keys(s.Extensions)) {
		if param := s.Extensions[ext]; param != "" {
			fmt.Fprintf(&sb, "    - %s %s\n", ext, param)
		} else {
			fmt.Fprintf(&sb, "    - %s\n", ext)
		}
	}
	return sb.String()
}

// Capabilities reports what the server has offered so far.
func (c *Client) Capabilities() *ServerCapabilities {
	caps := &ServerCapabilities{
		Greeting:   c.greeting.Text(),
		Protocol:   c.conn.Protocol,
		Extensions: maps.Clone(c.conn.Capabilities),
	}
	if state := c.conn.TLSState(); state != nil {
		caps.TLS = true
		caps.TLSVersion = tls.VersionName(state.Version)
		caps.CipherSuite = tls.CipherSuiteName(state.CipherSuite)
	}
	return caps
}

// Probe connects to addr, runs the handshake and reports the server's
// capabilities without sending mail.
func Probe(ctx context.Context, addr string, config ClientConfig) (*ServerCapabilities, error) {
	c, err := Dial(ctx, addr, config)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var failure error
	c.Handshake(func() {}, func(_ *transport.Conn, f transport.Fail) {
		failure = f
	})
	if failure != nil {
		return nil, fmt.Errorf("smtp: probing %s: %w", addr, failure)
	}
	return c.Capabilities(), nil
}
