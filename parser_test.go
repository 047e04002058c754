package courier

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		cmd     Command
		args    string
		unknown bool
	}{
		{line: "HELO client.example", cmd: CmdHelo, args: "client.example"},
		{line: "ehlo client.example", cmd: CmdEhlo, args: "client.example"},
		{line: "StartTLS", cmd: CmdStartTLS},
		{line: "MAIL FROM:<a@b>  ", cmd: CmdMail, args: "FROM:<a@b>"},
		{line: "rcpt TO:<a@b>", cmd: CmdRcpt, args: "TO:<a@b>"},
		{line: "DATA", cmd: CmdData},
		{line: "QUIT", cmd: CmdQuit},
		{line: "VRFY bob", cmd: "VRFY", args: "bob", unknown: true},
		{line: "", unknown: true},
		{line: "HELOX a", cmd: "HELOX", args: "a", unknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, args, err := parseCommand(tt.line)
			if tt.unknown {
				if !errors.Is(err, errUnknownCommand) {
					t.Fatalf("parseCommand(%q) error = %v, want errUnknownCommand", tt.line, err)
				}
			} else if err != nil {
				t.Fatalf("parseCommand(%q) error = %v", tt.line, err)
			}
			if cmd != tt.cmd || args != tt.args {
				t.Errorf("parseCommand(%q) = %q, %q; want %q, %q", tt.line, cmd, args, tt.cmd, tt.args)
			}
		})
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		args    string
		keyword string
		want    string
		wantErr bool
	}{
		{args: "FROM:<alice@example.com>", keyword: "FROM:", want: "alice@example.com"},
		{args: "from:<alice@example.com>", keyword: "FROM:", want: "alice@example.com"},
		{args: "FROM: <alice@example.com>", keyword: "FROM:", want: "alice@example.com"},
		{args: "FROM:<alice@example.com> SIZE=1000 BODY=8BITMIME", keyword: "FROM:", want: "alice@example.com"},
		{args: "TO:<bob@example.org>", keyword: "TO:", want: "bob@example.org"},
		{args: "FROM:alice@example.com", keyword: "FROM:", wantErr: true},
		{args: "FROM:<alice@example.com", keyword: "FROM:", wantErr: true},
		{args: "FROM:<alice@example.com>x", keyword: "FROM:", wantErr: true},
		{args: "FROM:<>", keyword: "FROM:", wantErr: true},
		{args: "TO:<bob@example.org>", keyword: "FROM:", wantErr: true},
		{args: "", keyword: "TO:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := parsePath(tt.args, tt.keyword)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePath(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePath(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestSMTPCodeClass(t *testing.T) {
	tests := []struct {
		code      SMTPCode
		transient bool
		permanent bool
	}{
		{CodeOK, false, false},
		{CodeStartMailInput, false, false},
		{CodeServiceUnavailable, true, false},
		{CodeLocalError, true, false},
		{CodeRejected, false, true},
		{CodeTransactionFailed, false, true},
	}
	for _, tt := range tests {
		if got := tt.code.IsTransient(); got != tt.transient {
			t.Errorf("%d.IsTransient() = %v, want %v", tt.code, got, tt.transient)
		}
		if got := tt.code.IsPermanent(); got != tt.permanent {
			t.Errorf("%d.IsPermanent() = %v, want %v", tt.code, got, tt.permanent)
		}
	}
}

func FuzzParsePath(f *testing.F) {
	for _, seed := range []string{
		"FROM:<alice@example.com>",
		"TO: <bob@example.org> NOTIFY=NEVER",
		"FROM:<>",
		"FROM:<<>>",
		"to:<a@b>>",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, args string) {
		for _, keyword := range []string{"FROM:", "TO:"} {
			mailbox, err := parsePath(args, keyword)
			if err != nil {
				continue
			}
			if mailbox == "" || strings.ContainsRune(mailbox, '>') {
				t.Errorf("parsePath(%q, %q) = %q", args, keyword, mailbox)
			}
		}
	})
}
