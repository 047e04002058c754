package transport

import (
	"errors"
	"net"
	"sync"
	"time"
)

// MaxPendingOutput is how many unsent bytes a reactor connection may queue
// before Backlogged reports true.
const MaxPendingOutput = 64 << 10

const (
	readerQueue = 16
	readSize    = 4096

	// closeGrace bounds the final flush of a closing connection.
	closeGrace = time.Second
)

// chunk is one read from the socket, or the error that ended reading.
type chunk struct {
	data []byte
	err  error
}

// reader reads the socket on its own goroutine and queues what it gets,
// so a reactor step only ever polls a channel.
type reader struct {
	chunks chan chunk
	stop   chan struct{}
	done   chan struct{}
}

func startReader(raw net.Conn) *reader {
	r := &reader{
		chunks: make(chan chunk, readerQueue),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run(raw)
	return r
}

func (r *reader) run(raw net.Conn) {
	defer close(r.done)
	for {
		buf := make([]byte, readSize)
		n, err := raw.Read(buf)
		if n > 0 && !r.send(chunk{data: buf[:n]}) {
			return
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Only park sets a read deadline.
				<-r.stop
				return
			}
			r.send(chunk{err: err})
			return
		}
	}
}

func (r *reader) send(ch chunk) bool {
	select {
	case r.chunks <- ch:
		return true
	case <-r.stop:
		return false
	}
}

// poll returns a queued chunk without waiting.
func (r *reader) poll() (chunk, bool) {
	select {
	case ch := <-r.chunks:
		return ch, true
	default:
		return chunk{}, false
	}
}

// park stops the goroutine and returns once it no longer reads from raw.
// The bytes that follow on the socket stay unread; queued chunks are
// dropped.
func (r *reader) park(raw net.Conn) {
	close(r.stop)
	_ = raw.SetReadDeadline(time.Now())
	<-r.done
	_ = raw.SetReadDeadline(time.Time{})
}

// release stops the goroutine without waiting for it. A read in progress
// ends when the socket is closed.
func (r *reader) release() {
	close(r.stop)
}

// outbox queues outgoing bytes for a writer goroutine. A peer that stops
// reading stalls only that goroutine; the queue keeps growing until the
// write deadline fails it.
type outbox struct {
	mu       sync.Mutex
	buf      []byte
	inflight int
	err      error
	closing  bool
	closeRaw bool

	raw     net.Conn
	timeout time.Duration
	wake    chan struct{}
	done    chan struct{}
}

func startOutbox(raw net.Conn, timeout time.Duration) *outbox {
	o := &outbox{
		raw:     raw,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		data := o.buf
		o.buf = nil
		o.inflight = len(data)
		closing, closeRaw := o.closing, o.closeRaw
		o.mu.Unlock()

		if len(data) == 0 {
			if closing {
				if closeRaw {
					_ = o.raw.Close()
				}
				return
			}
			<-o.wake
			continue
		}

		o.setDeadline()
		_, err := o.raw.Write(data)

		o.mu.Lock()
		o.inflight = 0
		if err != nil {
			o.err = err
			closeRaw = o.closeRaw
		}
		o.mu.Unlock()
		if err != nil {
			if closeRaw {
				_ = o.raw.Close()
			}
			return
		}
	}
}

// setDeadline bounds the next write. A closing outbox gets at most
// closeGrace.
func (o *outbox) setDeadline() {
	o.mu.Lock()
	defer o.mu.Unlock()
	timeout := o.timeout
	if o.closing && (timeout <= 0 || timeout > closeGrace) {
		timeout = closeGrace
	}
	if timeout > 0 {
		_ = o.raw.SetWriteDeadline(time.Now().Add(timeout))
	}
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// queue appends data for writing. It fails once a write has failed.
func (o *outbox) queue(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.buf = append(o.buf, data...)
	o.signal()
	return nil
}

// pending returns the number of bytes not yet accepted by the socket.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf) + o.inflight
}

func (o *outbox) failed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err != nil
}

// finish flushes what is queued and stops the goroutine, closing the socket
// afterwards when closeRaw is set. It does not wait.
func (o *outbox) finish(closeRaw bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closing = true
	o.closeRaw = closeRaw
	if closeRaw {
		if o.err != nil {
			_ = o.raw.Close()
			return
		}
		if o.timeout <= 0 || o.timeout > closeGrace {
			_ = o.raw.SetWriteDeadline(time.Now().Add(closeGrace))
		}
	}
	o.signal()
}

// drain flushes what is queued, stops the goroutine and waits for it.
func (o *outbox) drain() error {
	o.finish(false)
	<-o.done
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
