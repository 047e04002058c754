package wire

import (
	"reflect"
	"testing"
)

func TestReplyReader(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		wantCode  int
		wantLines []string
	}{
		{name: "single line", lines: []string{"250 OK"}, wantCode: 250, wantLines: []string{"OK"}},
		{name: "bare code", lines: []string{"354"}, wantCode: 354, wantLines: []string{""}},
		{
			name:      "multi line",
			lines:     []string{"250-mx.example.com", "250-STARTTLS", "250 SMTPUTF8"},
			wantCode:  250,
			wantLines: []string{"mx.example.com", "STARTTLS", "SMTPUTF8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r ReplyReader
			for i, line := range tt.lines {
				reply, done, err := r.Feed(line)
				if err != nil {
					t.Fatalf("Feed(%q) error: %v", line, err)
				}
				last := i == len(tt.lines)-1
				if done != last {
					t.Fatalf("Feed(%q) done = %v, want %v", line, done, last)
				}
				if done {
					if reply.Code != tt.wantCode {
						t.Errorf("Code = %d, want %d", reply.Code, tt.wantCode)
					}
					if !reflect.DeepEqual(reply.Lines, tt.wantLines) {
						t.Errorf("Lines = %q, want %q", reply.Lines, tt.wantLines)
					}
				}
			}
		})
	}
}

func TestReplyReaderMalformed(t *testing.T) {
	for _, line := range []string{"", "25", "abc OK", "250xOK", "999 big"} {
		var r ReplyReader
		if _, _, err := r.Feed(line); err != ErrMalformedReply {
			t.Errorf("Feed(%q) error = %v, want ErrMalformedReply", line, err)
		}
	}

	var r ReplyReader
	if _, _, err := r.Feed("250-first"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Feed("251 second"); err != ErrMalformedReply {
		t.Errorf("mismatched continuation code error = %v", err)
	}
	// The reader recovers for the next reply.
	if reply, done, err := r.Feed("220 ready"); err != nil || !done || reply.Code != 220 {
		t.Errorf("Feed after error = %v, %v, %v", reply, done, err)
	}
}

func TestReplyString(t *testing.T) {
	tests := []struct {
		reply Reply
		want  string
	}{
		{Reply{Code: 250, Lines: []string{"OK"}}, "250 OK"},
		{Reply{Code: 354, Lines: []string{""}}, "354"},
		{Reply{Code: 451, Lines: []string{"Try", "again later"}}, "451 Try again later"},
	}
	for _, tt := range tests {
		if got := tt.reply.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFormatReply(t *testing.T) {
	tests := []struct {
		code  int
		lines []string
		want  []string
	}{
		{code: 250, want: []string{"250"}},
		{code: 550, lines: []string{"From mismatch"}, want: []string{"550 From mismatch"}},
		{code: 250, lines: []string{"mx.example.com", "STARTTLS", "SMTPUTF8"}, want: []string{"250-mx.example.com", "250-STARTTLS", "250 SMTPUTF8"}},
	}
	for _, tt := range tests {
		if got := FormatReply(tt.code, tt.lines...); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("FormatReply(%d, %q) = %q, want %q", tt.code, tt.lines, got, tt.want)
		}
	}
}
