package wire

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedReply is returned for a reply line that does not start with a
// three digit code followed by a space, a hyphen or nothing.
var ErrMalformedReply = errors.New("smtp: malformed reply line")

// Reply is a complete, possibly multi-line, SMTP reply.
type Reply struct {
	Code int
	// Lines holds the text of each line without the code and separator.
	Lines []string
}

// Text returns the reply text with lines joined by a space.
func (r Reply) Text() string {
	return strings.TrimRight(strings.Join(r.Lines, " "), " ")
}

// String renders the reply as "code text".
func (r Reply) String() string {
	text := r.Text()
	if text == "" {
		return strconv.Itoa(r.Code)
	}
	return strconv.Itoa(r.Code) + " " + text
}

// ReplyReader assembles a reply from lines as they arrive.
// The zero value is ready to use.
type ReplyReader struct {
	code  int
	lines []string
}

// Feed adds one line. It returns the reply and true once the final line
// ("ddd text" or "ddd") has been fed. The reader is then reset for the next
// reply.
func (r *ReplyReader) Feed(line string) (Reply, bool, error) {
	if len(line) < 3 {
		r.reset()
		return Reply{}, false, ErrMalformedReply
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		r.reset()
		return Reply{}, false, ErrMalformedReply
	}
	if len(line) > 3 && line[3] != ' ' && line[3] != '-' {
		r.reset()
		return Reply{}, false, ErrMalformedReply
	}
	if r.code != 0 && r.code != code {
		r.reset()
		return Reply{}, false, ErrMalformedReply
	}

	text := ""
	if len(line) > 4 {
		text = line[4:]
	}
	r.lines = append(r.lines, text)

	if len(line) == 3 || line[3] == ' ' {
		reply := Reply{Code: code, Lines: r.lines}
		r.reset()
		return reply, true, nil
	}
	r.code = code
	return Reply{}, false, nil
}

func (r *ReplyReader) reset() {
	r.code = 0
	r.lines = nil
}

// FormatReply renders a reply as lines ready to be written, using
// "code-text" for all but the last line and "code text" for the last.
// Without text the single line is just the code.
func FormatReply(code int, lines ...string) []string {
	c := strconv.Itoa(code)
	if len(lines) == 0 {
		return []string{c}
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		out[i] = c + sep + l
	}
	return out
}
