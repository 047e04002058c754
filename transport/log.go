package transport

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Log line prefixes.
const (
	PrefixIn   = "<--"
	PrefixOut  = "-->"
	PrefixBoth = "<->"
	PrefixInfo = "(i)"
	PrefixFail = "/!\\"
)

// LogSink receives every protocol line of a connection as "<prefix> <line>".
type LogSink func(c *Conn, line string)

// FormatLogLine renders line with the time since the connection opened and
// the remote endpoint, e.g. "[0.004s] 192.0.2.1:25 --> EHLO example.com".
func FormatLogLine(c *Conn, line string) string {
	return fmt.Sprintf("[%.3fs] %s %s", time.Since(c.opened).Seconds(), c.remote, line)
}

// WriterSink returns a sink writing FormatLogLine output to w, one line each.
func WriterSink(w io.Writer) LogSink {
	return func(c *Conn, line string) {
		fmt.Fprintln(w, FormatLogLine(c, line))
	}
}

// SlogSink returns a sink logging each protocol line at debug level.
func SlogSink(logger *slog.Logger) LogSink {
	return func(c *Conn, line string) {
		logger.Debug(line,
			slog.String("conn_id", c.id),
			slog.String("remote", c.remote),
		)
	}
}
