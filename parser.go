package courier

import (
	"errors"
	"fmt"
	"strings"
)

// Command is an SMTP command verb.
type Command string

const (
	CmdHelo     Command = "HELO"
	CmdEhlo     Command = "EHLO"
	CmdStartTLS Command = "STARTTLS"
	CmdMail     Command = "MAIL"
	CmdRcpt     Command = "RCPT"
	CmdData     Command = "DATA"
	CmdRset     Command = "RSET"
	CmdNoop     Command = "NOOP"
	CmdQuit     Command = "QUIT"
)

// errUnknownCommand is returned by parseCommand for verbs the server does
// not implement.
var errUnknownCommand = errors.New("unknown command")

// parseCommand splits a command line on the first space into its verb and
// trimmed arguments. The verb is matched case-insensitively.
func parseCommand(line string) (Command, string, error) {
	verb, args, _ := strings.Cut(line, " ")
	cmd, ok := canonicalizeVerb(verb)
	if !ok {
		return Command(strings.ToUpper(verb)), strings.TrimSpace(args), fmt.Errorf("%w: %s", errUnknownCommand, verb)
	}
	return cmd, strings.TrimSpace(args), nil
}

func canonicalizeVerb(verb string) (Command, bool) {
	switch len(verb) {
	case 4:
		for _, cmd := range []Command{CmdHelo, CmdEhlo, CmdMail, CmdRcpt, CmdData, CmdRset, CmdNoop, CmdQuit} {
			if strings.EqualFold(verb, string(cmd)) {
				return cmd, true
			}
		}
	case 8:
		if strings.EqualFold(verb, string(CmdStartTLS)) {
			return CmdStartTLS, true
		}
	}
	return "", false
}

// parsePath parses the argument of MAIL or RCPT: the keyword ("FROM:" or
// "TO:", any case), a path in angle brackets and optional ESMTP parameters,
// which are accepted and ignored. It returns the mailbox between the
// brackets, which must not be empty.
func parsePath(args, keyword string) (string, error) {
	if len(args) < len(keyword) || !strings.EqualFold(args[:len(keyword)], keyword) {
		return "", fmt.Errorf("missing %s", keyword)
	}
	s := strings.TrimLeft(args[len(keyword):], " ")
	if !strings.HasPrefix(s, "<") {
		return "", errors.New("missing angle brackets")
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return "", errors.New("missing angle brackets")
	}
	if rest := s[end+1:]; rest != "" && rest[0] != ' ' {
		return "", errors.New("garbage after path")
	}
	mailbox := s[1:end]
	if mailbox == "" {
		return "", errors.New("empty path")
	}
	return mailbox, nil
}
