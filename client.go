package courier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/synqronlabs/courier/mail"
	"github.com/synqronlabs/courier/transport"
	"github.com/synqronlabs/courier/wire"
)

// Client is one SMTP connection to a remote server. Every exchange is a
// step loop on the underlying transport.Conn: without a reactor the loop
// spins inline and the method returns once the continuation or the fail
// handler has run.
//
// A Client is not safe for concurrent use.
type Client struct {
	conn     *transport.Conn
	config   ClientConfig
	host     string
	greeting wire.Reply
	replies  wire.ReplyReader
}

// Dial connects to addr ("host:port") within ConnectTimeout and reads the
// greeting within ReadTimeout. Anything but a 220 greeting closes the
// connection and returns ErrUnexpectedGreeting.
func Dial(ctx context.Context, addr string, config ClientConfig) (*Client, error) {
	config = config.withDefaults()

	d := net.Dialer{Timeout: config.ConnectTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp: connecting to %s: %w", addr, err)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn := transport.New(raw, transport.Options{
		Role:         transport.RoleClient,
		PollWindow:   config.PollWindow,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		LogSink:      config.LogSink,
		Logger:       config.Logger,
	})
	conn.Log(transport.PrefixBoth, "Connection established")

	c := &Client{conn: conn, config: config, host: host}
	var failure *transport.Fail
	c.await(func(_ *transport.Conn, f transport.Fail) {
		failure = &f
	}, func(r wire.Reply) {
		c.greeting = r
	})
	switch {
	case failure != nil:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedGreeting, failure.Error())
	case SMTPCode(c.greeting.Code) != CodeServiceReady:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedGreeting, c.greeting.String())
	}
	return c, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *transport.Conn { return c.conn }

// Greeting returns the server's 220 reply.
func (c *Client) Greeting() wire.Reply { return c.greeting }

// Close sends QUIT and closes the connection. It is safe to call more than
// once.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Identify sends EHLO. A server that refuses EHLO on the first attempt
// is treated as plain SMTP and greeted with HELO instead; once the
// protocol is known there is no fallback. On success the capabilities
// announced after the first reply line are recorded.
func (c *Client) Identify(next func(), onFail transport.FailHandler) {
	if c.conn.Protocol == transport.ProtocolSMTP {
		c.helo(next, onFail)
		return
	}
	c.command("EHLO "+c.config.LocalName, onFail, func(r wire.Reply) {
		if SMTPCode(r.Code) != CodeOK {
			if c.conn.Protocol != transport.ProtocolUndetermined {
				c.conn.Fail(onFail, transport.FailUnexpectedResponse, r.String())
				return
			}
			c.conn.Protocol = transport.ProtocolSMTP
			c.helo(next, onFail)
			return
		}
		c.conn.Protocol = transport.ProtocolESMTP
		c.conn.Capabilities = parseCapabilities(r.Lines)
		next()
	})
}

func (c *Client) helo(next func(), onFail transport.FailHandler) {
	c.command("HELO "+c.config.LocalName, onFail, func(r wire.Reply) {
		if SMTPCode(r.Code) != CodeOK {
			c.conn.Fail(onFail, transport.FailUnexpectedResponse, r.String())
			return
		}
		c.conn.Capabilities = parseCapabilities(r.Lines)
		next()
	})
}

// parseCapabilities maps the EHLO keywords after the greeting line to
// their arguments.
func parseCapabilities(lines []string) map[string]string {
	caps := make(map[string]string)
	if len(lines) < 2 {
		return caps
	}
	for _, line := range lines[1:] {
		keyword, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		if keyword == "" {
			continue
		}
		caps[strings.ToUpper(keyword)] = arg
	}
	return caps
}

// EnableEncryption upgrades the connection with STARTTLS. It succeeds
// without doing anything when the connection is already encrypted or an
// ESMTP server does not offer STARTTLS.
func (c *Client) EnableEncryption(next func(), onFail transport.FailHandler) {
	if c.conn.Encrypted() {
		next()
		return
	}
	if c.conn.Protocol == transport.ProtocolESMTP {
		if _, ok := c.conn.Capabilities["STARTTLS"]; !ok {
			next()
			return
		}
	}
	c.command("STARTTLS", onFail, func(r wire.Reply) {
		if SMTPCode(r.Code) != CodeServiceReady {
			c.conn.Fail(onFail, transport.FailStartTLS, r.String())
			return
		}
		err := c.conn.UpgradeTLS(c.tlsConfig(), func(err error) {
			if err != nil {
				c.conn.Fail(onFail, transport.FailStartTLS, err.Error())
				return
			}
			next()
		})
		if err != nil {
			c.conn.Fail(onFail, transport.FailStartTLS, err.Error())
		}
	})
}

func (c *Client) tlsConfig() *tls.Config {
	if c.config.TLSConfig == nil {
		return &tls.Config{ServerName: c.host, MinVersion: tls.VersionTLS12}
	}
	cfg := c.config.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = c.host
	}
	return cfg
}

// Handshake identifies, upgrades to TLS where offered and identifies
// again, stopping at the first failure.
func (c *Client) Handshake(next func(), onFail transport.FailHandler) {
	c.Identify(func() {
		c.EnableEncryption(func() {
			c.Identify(next, onFail)
		}, onFail)
	}, onFail)
}

// SendEmail runs one mail transaction: MAIL FROM, a RCPT TO per recipient,
// DATA and the framed message. A 421 or 451 answer to the final dot means
// the server is rate limiting and fails with FailRateLimited; any other
// unexpected reply fails with FailUnexpectedResponse and "<code> <text>".
func (c *Client) SendEmail(from string, to []string, msg *mail.Message, next func(), onFail transport.FailHandler) {
	c.command("MAIL FROM:<"+from+">", onFail, c.expect(CodeOK, onFail, func() {
		c.recipients(to, onFail, func() {
			c.command("DATA", onFail, c.expect(CodeStartMailInput, onFail, func() {
				if err := c.conn.WriteRaw(wire.Stuff(msg.Frame(c.config.Width))); err != nil {
					c.conn.Fail(onFail, transport.FailUnexpectedResponse, err.Error())
					return
				}
				c.command(".", onFail, func(r wire.Reply) {
					switch SMTPCode(r.Code) {
					case CodeOK:
						next()
					case CodeServiceUnavailable, CodeLocalError:
						c.conn.Fail(onFail, transport.FailRateLimited, r.String())
					default:
						c.conn.Fail(onFail, transport.FailUnexpectedResponse, r.String())
					}
				})
			}))
		})
	}))
}

func (c *Client) recipients(to []string, onFail transport.FailHandler, next func()) {
	if len(to) == 0 {
		next()
		return
	}
	c.command("RCPT TO:<"+to[0]+">", onFail, c.expect(CodeOK, onFail, func() {
		c.recipients(to[1:], onFail, next)
	}))
}

// expect returns a reply handler that continues with next on code and
// fails otherwise.
func (c *Client) expect(code SMTPCode, onFail transport.FailHandler, next func()) func(wire.Reply) {
	return func(r wire.Reply) {
		if SMTPCode(r.Code) != code {
			c.conn.Fail(onFail, transport.FailUnexpectedResponse, r.String())
			return
		}
		next()
	}
}

// command writes line and waits for the reply.
func (c *Client) command(line string, onFail transport.FailHandler, handle func(wire.Reply)) {
	if err := c.conn.WriteLine(line); err != nil {
		c.conn.Fail(onFail, transport.FailUnexpectedResponse, err.Error())
		return
	}
	c.await(onFail, handle)
}

// await reads one complete reply within ReadTimeout and passes it to
// handle. A timeout, a malformed reply or a closed connection goes to
// onFail instead.
func (c *Client) await(onFail transport.FailHandler, handle func(wire.Reply)) {
	deadline := time.Now().Add(c.config.ReadTimeout)
	var (
		reply wire.Reply
		got   bool
	)
	step := func() bool {
		for {
			line, err := c.conn.ReadLine()
			if err != nil {
				c.conn.Fail(onFail, transport.FailUnexpectedResponse, err.Error())
				return true
			}
			if line == "" {
				break
			}
			r, ok, err := c.replies.Feed(strings.TrimSuffix(line, "\r\n"))
			if err != nil {
				c.conn.Fail(onFail, transport.FailUnexpectedResponse, strings.TrimSpace(line))
				return true
			}
			if ok {
				reply, got = r, true
				return true
			}
		}
		if time.Now().After(deadline) {
			c.conn.Fail(onFail, transport.FailTimeout, "")
			return true
		}
		return false
	}

	err := c.conn.StartLoop(step, func(completed bool) {
		switch {
		case got:
			handle(reply)
		case !completed:
			c.conn.Fail(onFail, transport.FailUnexpectedResponse, "connection closed")
		}
	})
	if err != nil {
		c.conn.Fail(onFail, transport.FailUnexpectedResponse, err.Error())
	}
}
