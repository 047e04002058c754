package courier

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	courierio "github.com/synqronlabs/courier/io"
	"github.com/synqronlabs/courier/transport"
	"github.com/synqronlabs/courier/utils"
)

// Session is the server side of one SMTP connection. It is driven by the
// server's reactor and must only be touched from callbacks.
type Session struct {
	server *Server
	conn   *transport.Conn
	logger *slog.Logger

	heloDomain string
	mailFrom   string
	rcptTo     []string

	// data is nil outside DATA.
	data    []byte
	dataErr error

	upgrade     *transport.Upgrade
	lastCommand time.Time
	closed      bool
}

func newSession(s *Server, conn *transport.Conn) *Session {
	return &Session{
		server:      s,
		conn:        conn,
		logger:      conn.Logger(),
		lastCommand: time.Now(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.conn.ID() }

// Remote returns the client endpoint as "host:port".
func (s *Session) Remote() string { return s.conn.Remote() }

// RemoteIP returns the client's IP address, or nil.
func (s *Session) RemoteIP() net.IP {
	ip, err := utils.GetIPFromAddr(s.conn.RemoteAddr())
	if err != nil {
		return nil
	}
	return ip
}

// Encrypted reports whether STARTTLS has completed.
func (s *Session) Encrypted() bool { return s.conn.Encrypted() }

// TLSState returns the negotiated TLS parameters, or nil.
func (s *Session) TLSState() *tls.ConnectionState { return s.conn.TLSState() }

// HeloDomain returns the domain given with HELO or EHLO.
func (s *Session) HeloDomain() string { return s.heloDomain }

// Logger returns the session scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Close ends the session.
func (s *Session) Close() { s.close() }

// step is the session's step function: it advances a pending TLS
// upgrade, or else handles every complete line available, and closes an
// idle session once the read timeout has passed.
func (s *Session) step() bool {
	if s.upgrade != nil {
		if !s.upgrade.Step() {
			return false
		}
		err := s.upgrade.Err()
		s.upgrade = nil
		if err != nil {
			s.conn.Log(transport.PrefixFail, "TLS handshake failed: "+err.Error())
			s.logger.Debug("TLS handshake failed", slog.Any("error", err))
			s.close()
			return false
		}
		s.server.config.Metrics.TLSEstablished()
		s.lastCommand = time.Now()
	}

	for !s.closed && s.upgrade == nil && !s.conn.Backlogged() {
		line, err := s.conn.ReadLine()
		if err != nil {
			s.lastCommand = time.Now()
			s.lineError(err)
			continue
		}
		if line == "" {
			break
		}
		s.lastCommand = time.Now()
		s.handleLine(strings.TrimSuffix(line, "\r\n"))
	}

	timeout := s.server.config.ReadTimeout
	if !s.closed && s.upgrade == nil && time.Since(s.lastCommand) > timeout {
		s.conn.Log(transport.PrefixInfo, fmt.Sprintf("Received no command within %v seconds", timeout.Seconds()))
		s.close()
	}
	return false
}

// finished runs when the step loop ends without the session closing it,
// which means the client went away.
func (s *Session) finished(bool) {
	s.close()
}

func (s *Session) lineError(err error) {
	if s.data != nil {
		if s.dataErr == nil {
			s.dataErr = err
		}
		return
	}
	switch {
	case errors.Is(err, courierio.ErrLineTooLong):
		s.reply(CodeCommandUnrecognized, "Line too long")
	default:
		s.reply(CodeCommandUnrecognized, "Line must end with CRLF")
	}
}

func (s *Session) reply(code SMTPCode, text ...string) {
	for _, line := range code.Lines(text...) {
		if err := s.conn.WriteLine(line); err != nil {
			s.logger.Debug("write failed", slog.Any("error", err))
			s.close()
			return
		}
	}
}

// reset clears the mail transaction.
func (s *Session) reset() {
	s.mailFrom = ""
	s.rcptTo = nil
	s.data = nil
	s.dataErr = nil
}

func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
	delete(s.server.sessions, s.conn.ID())
	s.server.config.Metrics.SessionClosed()
	s.logger.Debug("session closed")
	if cb := s.server.config.Callbacks.OnSessionEnd; cb != nil {
		cb(s)
	}
}
