package transport

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"
)

// DefaultHandshakeTimeout bounds a TLS handshake when the connection has no
// read timeout.
const DefaultHandshakeTimeout = 10 * time.Second

// Upgrade is a TLS handshake in progress. The handshake runs on its own
// goroutine; Step polls for its result and must be the only thing touching
// the connection until it reports completion.
type Upgrade struct {
	c      *Conn
	tc     *tls.Conn
	result chan error
	err    error
	done   bool
}

// BeginTLS starts a TLS handshake over the connection, as server or client
// according to its role. Queued output is flushed before the handshake
// starts.
func (c *Conn) BeginTLS(config *tls.Config) *Upgrade {
	c.PauseReads()
	out := c.out
	c.out = nil

	var tc *tls.Conn
	if c.role == RoleServer {
		tc = tls.Server(c.raw, config)
	} else {
		tc = tls.Client(c.raw, config)
	}
	timeout := c.readTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	u := &Upgrade{c: c, tc: tc, result: make(chan error, 1)}
	go func() {
		if out != nil {
			if err := out.drain(); err != nil {
				u.result <- err
				return
			}
		}
		_ = tc.SetDeadline(time.Now().Add(timeout))
		err := tc.Handshake()
		_ = tc.SetDeadline(time.Time{})
		u.result <- err
	}()
	return u
}

// Step reports whether the handshake has finished. With a reactor it does
// not wait; without one it waits up to the poll window. On success the
// connection reads and writes through TLS and anything buffered in
// plaintext is discarded.
func (u *Upgrade) Step() bool {
	if u.done {
		return true
	}
	var err error
	select {
	case err = <-u.result:
	default:
		if u.c.reactor != nil {
			return false
		}
		select {
		case err = <-u.result:
		case <-time.After(u.c.pollWindow):
			return false
		}
	}

	u.done = true
	if err != nil {
		u.err = err
		u.c.eof = true
		return true
	}
	c := u.c
	c.raw = u.tc
	c.lines.Reset()
	c.encrypted = true
	state := u.tc.ConnectionState()
	c.tlsState = &state
	c.Log(PrefixInfo, fmt.Sprintf("Agreed on %s using cipher %s",
		tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite)))
	c.logger.Debug("tls established",
		slog.String("version", tls.VersionName(state.Version)),
		slog.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
	)
	return true
}

// Err returns the handshake error once Step has reported completion.
func (u *Upgrade) Err() error { return u.err }

// UpgradeTLS runs the handshake as a step loop and calls done with its
// result.
func (c *Conn) UpgradeTLS(config *tls.Config, done func(error)) error {
	u := c.BeginTLS(config)
	return c.StartLoop(u.Step, func(completed bool) {
		if !completed {
			done(ErrClosed)
			return
		}
		done(u.Err())
	})
}
