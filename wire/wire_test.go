package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestFoldHeaderWidth(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		width int
	}{
		{name: "two words", key: "Test", value: strings.Repeat("a", 50) + " " + strings.Repeat("a", 50), width: 78},
		{name: "many words", key: "Subject", value: strings.Repeat("word ", 60), width: 78},
		{name: "narrow width", key: "To", value: "alice@example.com, bob@example.com, carol@example.com", width: 20},
		{name: "tabs", key: "X-Long", value: strings.Repeat("tab\tseparated\t", 20), width: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folded := FoldHeader(tt.key, tt.value, tt.width)
			if !strings.HasSuffix(folded, "\r\n") {
				t.Fatalf("folded header does not end with CRLF: %q", folded)
			}
			for _, line := range strings.Split(strings.TrimSuffix(folded, "\r\n"), "\r\n") {
				if len(line)+2 > tt.width+2 {
					t.Errorf("line of %d bytes exceeds width %d: %q", len(line), tt.width, line)
				}
				if line == "" {
					t.Errorf("folding produced an empty line in %q", folded)
				}
			}
			if got := Unfold(strings.TrimSuffix(folded, "\r\n")); got != tt.key+": "+tt.value {
				t.Errorf("unfolded = %q, want %q", got, tt.key+": "+tt.value)
			}
		})
	}
}

func TestFoldHeaderUnbreakableToken(t *testing.T) {
	value := strings.Repeat("a", 200)
	folded := FoldHeader("Test", value, 78)

	if folded != "Test:\r\n "+value+"\r\n" {
		t.Fatalf("unbreakable token was altered: %q", folded)
	}

	folded = FoldHeader("Test", "short "+value+" tail", 78)
	lines := strings.Split(strings.TrimSuffix(folded, "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), lines)
	}
	if lines[0] != "Test: short" || lines[1] != " "+value || lines[2] != " tail" {
		t.Errorf("lines = %q", lines)
	}

	fields, _, err := Parse([]byte(folded + "\r\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if fields[0].Value != "short "+value+" tail" {
		t.Errorf("parsed value = %q", fields[0].Value)
	}
}

func TestFoldHeaderEmbeddedCRLF(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "already folded", value: "first\r\n second", want: "K: first\r\n second\r\n"},
		{name: "missing whitespace", value: "first\r\nsecond", want: "K: first\r\n second\r\n"},
		{name: "tab continuation", value: "first\r\n\tsecond", want: "K: first\r\n\tsecond\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FoldHeader("K", tt.value, 78); got != tt.want {
				t.Errorf("FoldHeader() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapBody(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		width int
		want  string
	}{
		{name: "empty", body: "", width: 78, want: ""},
		{name: "short line", body: "hello", width: 78, want: "hello\r\n"},
		{name: "trailing CRLF", body: "hello\r\n", width: 78, want: "hello\r\n\r\n"},
		{name: "empty lines kept", body: "a\r\n\r\nb", width: 78, want: "a\r\n\r\nb\r\n"},
		{name: "long line chunked", body: strings.Repeat("x", 10), width: 4, want: "xxxx\r\nxxxx\r\nxx\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(WrapBody([]byte(tt.body), tt.width)); got != tt.want {
				t.Errorf("WrapBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFrameParseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
		body   string
	}{
		{
			name:   "simple",
			fields: []Field{{"From", "a@example.com"}, {"To", "b@example.org"}, {"Subject", "Hi"}},
			body:   "Hello there.",
		},
		{
			name:   "long header",
			fields: []Field{{"Subject", strings.Repeat("lorem ipsum ", 25)}},
			body:   "x",
		},
		{
			name:   "embedded CRLF",
			fields: []Field{{"Received", "from a\r\n\tby b\r\nwith c"}},
			body:   "body",
		},
		{
			name:   "dot lines",
			fields: []Field{{"Subject", "dots"}},
			body:   ".\r\n..leading\r\n.\r\nend.",
		},
		{
			name:   "trailing empty lines",
			fields: []Field{{"Subject", "blank"}},
			body:   "text\r\n\r\n",
		},
		{
			name:   "empty body",
			fields: []Field{{"Subject", "none"}},
			body:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Frame(tt.fields, []byte(tt.body), DefaultWidth)
			fields, body, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if len(fields) != len(tt.fields) {
				t.Fatalf("got %d fields, want %d", len(fields), len(tt.fields))
			}
			for i, f := range tt.fields {
				if fields[i].Key != f.Key {
					t.Errorf("field %d key = %q, want %q", i, fields[i].Key, f.Key)
				}
				if want := Unfold(f.Value); fields[i].Value != want {
					t.Errorf("field %d value = %q, want %q", i, fields[i].Value, want)
				}
			}
			if string(body) != tt.body {
				t.Errorf("body = %q, want %q", body, tt.body)
			}
		})
	}
}

func TestStuffing(t *testing.T) {
	framed := Frame([]Field{{"Subject", "x"}}, []byte(".\r\n.hidden\r\nplain\r\n..two"), DefaultWidth)
	stuffed := Stuff(framed)

	lines := strings.Split(strings.TrimSuffix(string(stuffed), "\r\n"), "\r\n")
	var got []string
	for _, l := range lines {
		if l == "." {
			t.Errorf("stuffed output contains a lone dot line")
		}
		got = append(got, Unstuff(l))
	}

	if want := strings.Split(strings.TrimSuffix(string(framed), "\r\n"), "\r\n"); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("unstuffed lines = %q, want %q", got, want)
	}
	if !bytes.Contains(stuffed, []byte("\r\n..hidden\r\n")) {
		t.Errorf("leading dot not doubled: %q", stuffed)
	}
	if !bytes.Contains(stuffed, []byte("\r\n...two\r\n")) {
		t.Errorf("double dot not stuffed: %q", stuffed)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "no colon", data: "NotAHeader\r\n\r\nbody\r\n"},
		{name: "leading continuation", data: " folded\r\nKey: v\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Parse([]byte(tt.data)); err != ErrMalformedHeader {
				t.Errorf("Parse() error = %v, want ErrMalformedHeader", err)
			}
		})
	}
}

func TestParseWithoutHeaders(t *testing.T) {
	fields, body, err := Parse([]byte("\r\njust a body\r\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(fields) != 0 || string(body) != "just a body" {
		t.Errorf("Parse() = %v, %q", fields, body)
	}
}
