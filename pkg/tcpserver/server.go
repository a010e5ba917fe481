package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ConnHandler serves one accepted connection and returns when the client is
// done. The server closes the connection after the handler returns.
type ConnHandler func(conn net.Conn)

// Server wraps the TCP listener lifecycle: a bounded accept loop and a
// graceful drain on shutdown.
type Server struct {
	Addr string

	// ForceClose, when set, is invoked once the shutdown grace period
	// expires with sessions still running. It must make those sessions
	// observe a dead connection so they terminate on their own.
	ForceClose func()

	maxConns int
	grace    time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New creates a Server serving at most maxConns connections concurrently.
// Connections beyond the cap are not rejected; they queue in the kernel
// accept backlog until a slot frees up.
func New(addr string, maxConns int, grace time.Duration, logger *slog.Logger) *Server {
	if maxConns <= 0 {
		maxConns = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Addr:     addr,
		maxConns: maxConns,
		grace:    grace,
		logger:   logger,
	}
}

// ListenAndServe accepts connections until the context is cancelled or the
// listener fails, then drains in-flight sessions. An accept failure ends
// the loop and proceeds to shutdown; it is never retried.
func (s *Server) ListenAndServe(ctx context.Context, handler ConnHandler) error {
	if handler == nil {
		return errors.New("tcpserver: connection handler required")
	}

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen %q: %w", s.Addr, err)
	}
	defer listener.Close()

	shutdown := make(chan struct{})
	defer close(shutdown)

	go func() {
		select {
		case <-ctx.Done():
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("listener close", "error", err)
			}
		case <-shutdown:
		}
	}()

	s.logger.Info("listening", "addr", listener.Addr().String(), "max_conns", s.maxConns)

	slots := make(chan struct{}, s.maxConns)
	serveErr := s.acceptLoop(ctx, listener, handler, slots)

	s.drain()
	return serveErr
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, handler ConnHandler, slots chan struct{}) error {
	for {
		// Take a worker slot before accepting so that excess connections
		// wait in the transport backlog, not in an application queue.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case slots <- struct{}{}:
		}

		conn, err := listener.Accept()
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tcpserver: accept: %w", err)
		}

		s.logger.Debug("connection accepted", "remote", conn.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-slots }()
			defer conn.Close()

			handler(conn)
		}()
	}
}

// drain waits for in-flight sessions, force-closing stragglers once the
// grace period runs out. Safe when sessions terminate themselves
// concurrently.
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all sessions finished")
		return
	case <-time.After(s.grace):
	}

	if s.ForceClose == nil {
		s.logger.Error("grace period expired with sessions still running and no ForceClose configured; abandoning them")
		return
	}

	s.logger.Warn("grace period expired, forcing remaining sessions closed")
	s.ForceClose()
	<-done
}
