package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/synqronlabs/courier/auth"
	"github.com/synqronlabs/courier/transport"
)

// Server is an SMTP server. Acceptor goroutines only hand new sockets to
// the reactor loop run by Serve; every session is created, driven and
// closed on that one goroutine.
type Server struct {
	config    ServerConfig
	listeners []net.Listener
	pipeline  *auth.Pipeline
	reactor   *transport.Reactor
	logger    *slog.Logger

	pending chan net.Conn

	// sessions is owned by the reactor goroutine.
	sessions map[string]*Session
	ctx      context.Context

	serving   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	quit      chan struct{}
	stopped   chan struct{}
	acceptors sync.WaitGroup
}

// NewServer listens on every address and port pair of config.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, ErrNoHostname
	}
	if config.Resolver == nil {
		return nil, ErrNoResolver
	}
	config = config.withDefaults()

	s := &Server{
		config:   config,
		reactor:  transport.NewReactor(),
		logger:   config.Logger,
		pending:  make(chan net.Conn, 64),
		sessions: make(map[string]*Session),
		ctx:      context.Background(),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		pipeline: &auth.Pipeline{
			Resolver:       config.Resolver,
			PassesRequired: config.PassesRequired,
			BlocklistZones: config.BlocklistZones,
			LocalHostname:  config.Hostname,
			Logger:         config.Logger,
			Metrics:        config.Metrics,
		},
	}

	for _, addr := range config.Addresses {
		for _, port := range config.Ports {
			ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
			if err != nil {
				s.closeListeners()
				return nil, fmt.Errorf("smtp: failed to listen: %w", err)
			}
			s.listeners = append(s.listeners, ln)
		}
	}
	return s, nil
}

// Addrs returns the addresses the server listens on.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Serve runs the reactor loop until ctx is done or Shutdown is called,
// then closes every session. It always returns ErrServerClosed once the
// server has stopped.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("smtp: server already serving")
	}
	defer close(s.stopped)
	if s.closed.Load() {
		return ErrServerClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	s.ctx = ctx

	for _, ln := range s.listeners {
		s.acceptors.Add(1)
		go s.acceptLoop(ln)
		s.logger.Info("SMTP server started",
			slog.String("addr", ln.Addr().String()),
			slog.String("hostname", s.config.Hostname),
		)
	}

	s.reactor.OnTick = s.acceptPending
	_ = s.reactor.Run(ctx, s.config.TickInterval)

	s.closed.Store(true)
	s.closeListeners()
	s.acceptors.Wait()
	s.closeAll()
	s.logger.Info("SMTP server stopped")
	return ErrServerClosed
}

// Shutdown stops accepting connections and makes Serve close every
// session and return. It waits for Serve until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.closeListeners()
	if !s.serving.Load() {
		return nil
	}
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) closeListeners() {
	s.closeOnce.Do(func() {
		close(s.quit)
		for _, ln := range s.listeners {
			_ = ln.Close()
		}
	})
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.acceptors.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept error", slog.Any("error", err))
			continue
		}
		select {
		case s.pending <- raw:
		case <-s.quit:
			_ = raw.Close()
			return
		}
	}
}

// acceptPending starts a session for every socket handed over since the
// last tick.
func (s *Server) acceptPending() {
	for {
		select {
		case raw := <-s.pending:
			s.startSession(raw)
		default:
			return
		}
	}
}

func (s *Server) startSession(raw net.Conn) {
	conn := transport.New(raw, transport.Options{
		Role:         transport.RoleServer,
		Reactor:      s.reactor,
		PollWindow:   s.config.PollWindow,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		MaxLine:      s.config.MaxLineLength,
		LogSink:      s.config.LogSink,
		Logger:       s.logger,
	})
	sess := newSession(s, conn)
	s.sessions[conn.ID()] = sess
	s.config.Metrics.SessionOpened()
	sess.logger.Debug("session started")

	if cb := s.config.Callbacks.OnSessionStart; cb != nil {
		cb(sess)
	}
	if sess.closed {
		return
	}
	sess.reply(CodeServiceReady, s.config.Hostname)
	if err := conn.StartLoop(sess.step, sess.finished); err != nil {
		sess.logger.Error("starting session loop", slog.Any("error", err))
		sess.close()
	}
}

// closeAll closes the sessions still open and any socket not yet started.
func (s *Server) closeAll() {
	for drained := false; !drained; {
		select {
		case raw := <-s.pending:
			_ = raw.Close()
		default:
			drained = true
		}
	}
	for _, sess := range s.sessions {
		sess.close()
	}
}
