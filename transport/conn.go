// Package transport wraps a socket in a line oriented connection whose
// multi-round exchanges are expressed as step functions. A step loop runs
// inline on a blocking connection or, when a Reactor is attached, one step
// per Reactor tick. Reactor connections read and write through their own
// goroutines, so no step waits on the network.
package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	courierio "github.com/synqronlabs/courier/io"
	"github.com/synqronlabs/courier/utils"
)

var (
	ErrLoopActive = errors.New("transport: step loop already active")
	ErrClosed     = errors.New("transport: connection closed")
)

// DefaultPollWindow bounds how long one read may wait on a connection
// without a reactor.
const DefaultPollWindow = time.Millisecond

// Role tells whether the local end is the SMTP client or server.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Protocol is the SMTP variant agreed with the remote.
type Protocol int

const (
	ProtocolUndetermined Protocol = iota
	ProtocolSMTP
	ProtocolESMTP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolSMTP:
		return "SMTP"
	case ProtocolESMTP:
		return "ESMTP"
	default:
		return "undetermined"
	}
}

// Options configures a Conn.
type Options struct {
	Role Role

	// Reactor runs step loops. Nil means loops run inline.
	Reactor *Reactor

	// PollWindow is the read deadline for each read when there is no
	// reactor. Reactor connections never wait.
	PollWindow time.Duration

	// ReadTimeout is how long an exchange may wait for the remote.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write. Zero means no deadline.
	WriteTimeout time.Duration

	// MaxLine is the longest accepted line, CRLF included.
	MaxLine int

	LogSink     LogSink
	FailHandler FailHandler
	Logger      *slog.Logger
}

// Conn is a line oriented connection to a remote SMTP peer. It is not safe
// for concurrent use; one goroutine drives it through its step loops.
type Conn struct {
	// Protocol is set by the client once the remote answers EHLO or HELO.
	Protocol Protocol

	// Capabilities maps uppercase EHLO keywords to their arguments.
	Capabilities map[string]string

	id        string
	role      Role
	raw       net.Conn
	remote    string
	lines     courierio.LineBuffer
	readBuf   []byte
	rd        *reader
	out       *outbox
	encrypted bool
	tlsState  *tls.ConnectionState

	reactor      *Reactor
	pollWindow   time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	loopActive bool
	closed     bool
	eof        bool

	sink        LogSink
	failHandler FailHandler
	logger      *slog.Logger
	opened      time.Time
}

// New wraps raw.
func New(raw net.Conn, opts Options) *Conn {
	if opts.PollWindow <= 0 {
		opts.PollWindow = DefaultPollWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := utils.NewID()
	remote := utils.RemoteString(raw.RemoteAddr())
	return &Conn{
		Capabilities: make(map[string]string),
		id:           id,
		role:         opts.Role,
		raw:          raw,
		remote:       remote,
		lines:        courierio.LineBuffer{Max: opts.MaxLine},
		readBuf:      make([]byte, 4096),
		reactor:      opts.Reactor,
		pollWindow:   opts.PollWindow,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		sink:         opts.LogSink,
		failHandler:  opts.FailHandler,
		logger: opts.Logger.With(
			slog.String("conn_id", id),
			slog.String("remote", remote),
		),
		opened: time.Now(),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Role returns whether this is the client or server end.
func (c *Conn) Role() Role { return c.role }

// Remote returns the remote endpoint as "host:port".
func (c *Conn) Remote() string { return c.remote }

// RemoteAddr returns the underlying remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Encrypted reports whether TLS has been negotiated.
func (c *Conn) Encrypted() bool { return c.encrypted }

// TLSState returns the negotiated TLS parameters, or nil.
func (c *Conn) TLSState() *tls.ConnectionState { return c.tlsState }

// ReadTimeout returns how long an exchange may wait for the remote.
func (c *Conn) ReadTimeout() time.Duration { return c.readTimeout }

// Logger returns the connection scoped logger.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// Alive reports whether the socket is open, has not reached EOF and has not
// failed a write.
func (c *Conn) Alive() bool {
	return !c.closed && !c.eof && (c.out == nil || !c.out.failed())
}

// Backlogged reports whether more than MaxPendingOutput bytes are waiting
// to be written. A server stops reading commands from a backlogged peer.
func (c *Conn) Backlogged() bool {
	return c.out != nil && c.out.pending() > MaxPendingOutput
}

// ReadLine returns the next complete line including its CRLF, or "" when no
// complete line is available. With a reactor it never waits; without one it
// waits at most the poll window.
func (c *Conn) ReadLine() (string, error) {
	line, ok, err := c.lines.Next()
	if err == nil && !ok && c.Alive() {
		c.fill()
		line, ok, err = c.lines.Next()
	}
	if err != nil {
		c.Log(PrefixFail, err.Error())
		return "", err
	}
	if !ok {
		return "", nil
	}
	c.Log(PrefixIn, line)
	return line + "\r\n", nil
}

func (c *Conn) fill() {
	if c.reactor != nil {
		if c.rd == nil {
			c.rd = startReader(c.raw)
		}
		if ch, ok := c.rd.poll(); ok {
			c.absorb(ch.data, ch.err)
		}
		return
	}
	_ = c.raw.SetReadDeadline(time.Now().Add(c.pollWindow))
	n, err := c.raw.Read(c.readBuf)
	c.absorb(c.readBuf[:n], err)
}

func (c *Conn) absorb(data []byte, err error) {
	if len(data) > 0 {
		_, _ = c.lines.Write(data)
	}
	if err == nil {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	c.eof = true
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("read failed", slog.Any("error", err))
	}
}

// WriteLine writes line followed by CRLF.
func (c *Conn) WriteLine(line string) error {
	c.Log(PrefixOut, line)
	return c.write([]byte(line + "\r\n"))
}

// WriteRaw writes data as is. Every line of it is logged.
func (c *Conn) WriteRaw(data []byte) error {
	for line := range strings.SplitSeq(strings.TrimSuffix(string(data), "\r\n"), "\r\n") {
		c.Log(PrefixOut, line)
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.reactor != nil {
		if c.out == nil {
			c.out = startOutbox(c.raw, c.writeTimeout)
		}
		if err := c.out.queue(data); err != nil {
			c.eof = true
			return err
		}
		return nil
	}
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.raw.Write(data); err != nil {
		c.eof = true
		return err
	}
	return nil
}

// Log reports line to the sink with the given prefix.
func (c *Conn) Log(prefix, line string) {
	if c.sink != nil {
		c.sink(c, prefix+" "+line)
	}
}

// Fail logs f and passes it to handler, or the connection's default
// handler when handler is nil. Without either it is dropped.
func (c *Conn) Fail(handler FailHandler, kind FailKind, detail string) {
	f := Fail{Kind: kind, Detail: detail}
	c.Log(PrefixFail, f.Error())
	if handler == nil {
		handler = c.failHandler
	}
	if handler != nil {
		handler(c, f)
	}
}

// StartLoop runs step until it returns true or the connection dies, then
// calls done with whether step completed. Without a reactor the loop runs
// inline and StartLoop returns after done. With one, step is registered
// under the connection id and StartLoop returns at once. If step closes the
// connection, done is not called.
func (c *Conn) StartLoop(step StepFunc, done func(completed bool)) error {
	if c.loopActive {
		return ErrLoopActive
	}
	c.loopActive = true

	// run is one iteration; it reports whether the loop is over.
	run := func() bool {
		if !c.live() {
			c.finish(done, false)
			return true
		}
		completed := step()
		if c.closed {
			c.loopActive = false
			return true
		}
		if completed {
			c.finish(done, true)
			return true
		}
		return false
	}

	if c.reactor == nil {
		for !run() {
		}
		return nil
	}
	c.reactor.Add(c.id, run)
	return nil
}

func (c *Conn) finish(done func(bool), completed bool) {
	c.loopActive = false
	if done != nil {
		done(completed)
	}
}

// live reports whether a step can still make progress: the connection is
// alive or a line read before EOF is still buffered.
func (c *Conn) live() bool {
	return c.Alive() || (!c.closed && c.lines.HasLine())
}

// LoopActive reports whether a step loop is running.
func (c *Conn) LoopActive() bool { return c.loopActive }

// PauseReads stops background reading, leaving the bytes that follow on the
// socket for a TLS handshake. Call it before sending the reply that invites
// the handshake. The next ReadLine resumes reading.
func (c *Conn) PauseReads() {
	if c.rd != nil {
		c.rd.park(c.raw)
		c.rd = nil
	}
}

// Close closes the connection. A client sends QUIT first, best effort.
// Any active step loop is dropped without calling its done function.
// Queued output is flushed before the socket closes. Close is safe to call
// more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	if c.role == RoleClient && !c.eof {
		_ = c.WriteLine("QUIT")
	}
	c.closed = true
	if c.loopActive && c.reactor != nil {
		c.reactor.Remove(c.id)
	}
	c.loopActive = false
	c.Log(PrefixInfo, "Connection closed")
	if c.rd != nil {
		c.rd.release()
		c.rd = nil
	}
	if c.out != nil {
		c.out.finish(true)
		c.out = nil
		return nil
	}
	return c.raw.Close()
}
