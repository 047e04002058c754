package courier

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/synqronlabs/courier/auth"
	"github.com/synqronlabs/courier/mail"
	"github.com/synqronlabs/courier/transport"
	"github.com/synqronlabs/courier/utils"
	"github.com/synqronlabs/courier/wire"
)

// handlers maps each command to its handler.
var handlers = map[Command]func(*Session, string){
	CmdHelo:     (*Session).handleHelo,
	CmdEhlo:     (*Session).handleEhlo,
	CmdStartTLS: (*Session).handleStartTLS,
	CmdMail:     (*Session).handleMail,
	CmdRcpt:     (*Session).handleRcpt,
	CmdData:     (*Session).handleData,
	CmdRset:     (*Session).handleRset,
	CmdNoop:     (*Session).handleNoop,
	CmdQuit:     (*Session).handleQuit,
}

// handleLine processes one line without its CRLF.
func (s *Session) handleLine(line string) {
	if s.data != nil {
		if line == "." {
			s.endData()
			return
		}
		if int64(len(s.data)+len(line)+2) > s.server.config.MaxMessageSize {
			if s.dataErr == nil {
				s.dataErr = ErrMessageTooLarge
			}
			return
		}
		s.data = append(s.data, wire.Unstuff(line)...)
		s.data = append(s.data, "\r\n"...)
		return
	}

	cmd, args, err := parseCommand(line)
	if err != nil {
		s.server.config.Metrics.CommandProcessed("UNKNOWN")
		s.reply(CodeCommandUnrecognized)
		return
	}
	s.server.config.Metrics.CommandProcessed(string(cmd))
	handlers[cmd](s, args)
}

func (s *Session) handleHelo(args string) {
	if !s.hello(args) {
		return
	}
	s.reply(CodeOK, s.server.config.Hostname)
}

func (s *Session) handleEhlo(args string) {
	if !s.hello(args) {
		return
	}
	lines := []string{s.server.config.Hostname}
	if s.server.config.TLSConfig != nil && !s.conn.Encrypted() {
		lines = append(lines, "STARTTLS")
	}
	lines = append(lines, "SMTPUTF8")
	s.reply(CodeOK, lines...)
}

func (s *Session) hello(args string) bool {
	domain, _, _ := strings.Cut(args, " ")
	if domain == "" {
		s.reply(CodeSyntaxError)
		return false
	}
	s.reset()
	s.heloDomain = domain
	return true
}

func (s *Session) handleStartTLS(string) {
	switch {
	case s.server.config.TLSConfig == nil:
		s.reply(CodeCommandNotImplemented)
		return
	case s.conn.Encrypted():
		s.reply(CodeBadSequence)
		return
	}
	// The client starts the handshake as soon as it sees 220, so reading
	// must stop before the reply goes out.
	s.conn.PauseReads()
	s.reply(CodeServiceReady)
	if s.closed {
		return
	}
	// RFC 3207: the client must greet again over TLS.
	s.reset()
	s.heloDomain = ""
	s.upgrade = s.conn.BeginTLS(s.server.config.TLSConfig)
}

func (s *Session) handleMail(args string) {
	if s.heloDomain == "" || s.server.config.RequireTLS && !s.conn.Encrypted() {
		s.reply(CodeBadSequence)
		return
	}
	from, err := parsePath(args, "FROM:")
	if err != nil {
		s.reply(CodeSyntaxError)
		return
	}
	s.mailFrom = from
	s.rcptTo = nil
	s.reply(CodeOK)
}

func (s *Session) handleRcpt(args string) {
	if s.mailFrom == "" {
		s.reply(CodeBadSequence)
		return
	}
	to, err := parsePath(args, "TO:")
	if err != nil {
		s.reply(CodeSyntaxError)
		return
	}
	s.rcptTo = append(s.rcptTo, to)
	s.reply(CodeOK)
}

func (s *Session) handleData(string) {
	if len(s.rcptTo) == 0 {
		s.reply(CodeBadSequence)
		return
	}
	s.data = make([]byte, 0, 4096)
	s.reply(CodeStartMailInput)
}

func (s *Session) handleRset(string) {
	s.reset()
	s.reply(CodeOK)
}

func (s *Session) handleNoop(string) {
	s.reply(CodeOK)
}

func (s *Session) handleQuit(string) {
	s.reply(CodeServiceClosing)
	s.close()
}

// endData handles the end of DATA: the message is parsed, its headers are
// checked against the envelope and the authentication pipeline decides
// whether it is accepted.
func (s *Session) endData() {
	data, dataErr := s.data, s.dataErr
	from, rcpts := s.mailFrom, s.rcptTo
	s.reset()

	m := s.server.config.Metrics
	switch {
	case errors.Is(dataErr, ErrMessageTooLarge):
		m.MessageRejected(domainOf(from), "too_large")
		s.reply(CodeExceededStorage, "Message too large")
		return
	case dataErr != nil:
		m.MessageRejected(domainOf(from), "malformed")
		s.reply(CodeTransactionFailed, "Malformed message")
		return
	}

	msg, err := mail.Parse(data)
	if err != nil {
		s.logger.Debug("unparsable message", slog.Any("error", err))
		m.MessageRejected(domainOf(from), "malformed")
		s.reply(CodeTransactionFailed, "Malformed message")
		return
	}
	if sender, err := msg.From(); err != nil || sender.Mailbox != from {
		m.MessageRejected(domainOf(from), "from_mismatch")
		s.reply(CodeRejected, "From mismatch")
		return
	}
	if to, err := msg.To(); err != nil || !sameMailboxes(to, rcpts) {
		m.MessageRejected(domainOf(from), "to_mismatch")
		s.reply(CodeRejected, "To mismatch")
		return
	}
	msg.ID = utils.NewID()

	ctx := s.server.ctx
	verdict := s.server.pipeline.Evaluate(ctx, auth.Input{
		RemoteIP:    s.RemoteIP(),
		HelloDomain: s.heloDomain,
		MailFrom:    from,
		Data:        data,
	})
	logger := s.logger.With(
		slog.String("message_id", msg.ID),
		slog.String("from", from),
	)
	cb := s.server.config.Callbacks

	if !verdict.Accepted() {
		reason := RejectPolicy
		if verdict.Decision == auth.DecisionBlocked {
			reason = RejectBlocklist
		}
		logger.Info("message rejected",
			slog.String("reason", string(reason)),
			slog.String("detail", verdict.RejectText()),
		)
		m.MessageRejected(domainOf(from), string(reason))
		s.reply(CodeRejected, verdict.RejectText())
		if cb.OnEmailRejected != nil {
			cb.OnEmailRejected(ctx, s, msg, verdict, reason)
		}
		return
	}

	authenticity := verdict.Authenticity()
	fields := verdict.Headers()
	for i := len(fields) - 1; i >= 0; i-- {
		msg.Header.Prepend(fields[i].Key, fields[i].Value)
	}
	s.conn.Log(transport.PrefixInfo, authenticity)

	if cb.OnEmailReceived == nil {
		m.MessageRejected(domainOf(from), "no_handler")
		s.reply(CodeRejected, "No email handler defined ("+authenticity+")")
		return
	}
	if err := cb.OnEmailReceived(ctx, s, msg, verdict); err != nil {
		logger.Warn("email handler failed", slog.Any("error", err))
		m.MessageRejected(domainOf(from), "handler_error")
		s.reply(CodeLocalError, "Requested action aborted: local error in processing")
		return
	}
	logger.Info("message accepted", slog.String("authenticity", authenticity))
	m.MessageAccepted(domainOf(from), int64(len(data)))
	s.reply(CodeOK, "OK "+msg.ID)
}

// sameMailboxes reports whether the header addresses and the envelope
// recipients name the same set of mailboxes.
func sameMailboxes(header []mail.Address, envelope []string) bool {
	a := make([]string, len(header))
	for i, addr := range header {
		a[i] = addr.Mailbox
	}
	b := slices.Clone(envelope)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

func domainOf(mailbox string) string {
	i := strings.LastIndexByte(mailbox, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(mailbox[i+1:])
}
