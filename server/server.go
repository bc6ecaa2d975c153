// Package server implements the TCP front end of the daemon: it accepts connections, reads
// one request frame from each and hands it to the Dispatcher. Every connection carries
// exactly one exchange and is closed after the response, or without one when the request
// cannot be routed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-spectrad/internal/pool"
	"github.com/arloliu/go-spectrad/internal/task"
	"github.com/arloliu/go-spectrad/logger"
	"github.com/arloliu/go-spectrad/wire"
)

// acceptTimeout bounds one Accept call so the accept loop notices shutdown.
const acceptTimeout = 500 * time.Millisecond

var (
	// ErrServerClosed is returned by Listen and Serve after Close.
	ErrServerClosed = errors.New("server closed")
	// ErrAlreadyServing is returned when the server already owns a listener.
	ErrAlreadyServing = errors.New("server already serving")
)

// Server accepts request connections and dispatches their frames.
type Server struct {
	cfg        *serverConfig
	dispatcher *Dispatcher
	pool       *Pool
	taskMgr    *task.Manager
	logger     logger.Logger
	metrics    *Metrics

	listenerMu sync.Mutex
	listener   net.Listener

	inflight sync.WaitGroup
	shutdown atomic.Bool
}

// New creates a server dispatching to d.
func New(d *Dispatcher, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errors.New("nil dispatcher")
	}

	cfg := defaultServerConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.metrics == nil {
		cfg.metrics = d.Metrics()
	}

	l := cfg.logger.With("component", "server")

	return &Server{
		cfg:        cfg,
		dispatcher: d,
		pool:       NewPool(),
		taskMgr:    task.NewManager(context.Background(), l),
		logger:     l,
		metrics:    cfg.metrics,
	}, nil
}

// Listen listens on the TCP address addr and serves it in the background.
func (s *Server) Listen(addr string) error {
	if s.shutdown.Load() {
		return ErrServerClosed
	}

	s.logger.Debug("try to listen", "address", addr)
	var lc net.ListenConfig
	ln, err := lc.Listen(s.taskMgr.Context(), "tcp", addr)
	if err != nil {
		s.logger.Error("failed to listen", "address", addr, "error", err)
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	if err := s.Serve(ln); err != nil {
		_ = ln.Close()
		return err
	}

	return nil
}

// Serve accepts connections on ln in the background. The server owns ln afterwards and
// closes it in Close.
func (s *Server) Serve(ln net.Listener) error {
	if s.shutdown.Load() {
		return ErrServerClosed
	}

	s.listenerMu.Lock()
	if s.listener != nil {
		s.listenerMu.Unlock()
		return ErrAlreadyServing
	}
	s.listener = ln
	s.listenerMu.Unlock()

	s.logger.Info("serving", "address", ln.Addr().String())

	return s.taskMgr.Start("acceptLoop", s.tryAcceptConn, nil)
}

// Addr returns the listening address, or nil if the server is not serving.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Dispatcher returns the dispatcher of the server.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Pool returns the connection pool of the server.
func (s *Server) Pool() *Pool { return s.pool }

// Metrics returns the metrics the server records into.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Close stops accepting connections and waits up to the close timeout for in-flight
// exchanges to be answered or dropped. Exchanges queued on a device actor are still
// answered as long as the actor runs.
func (s *Server) Close() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	err := s.closeListener()
	s.taskMgr.Stop()
	s.taskMgr.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	if !pool.WaitDone(context.Background(), done, s.cfg.closeTimeout) {
		s.logger.Warn("in-flight exchanges not finished", "timeout", s.cfg.closeTimeout,
			"active", s.metrics.ConnActive.Load())
	}

	s.logger.Info("server closed")

	return err
}

func (s *Server) tryAcceptConn() bool {
	ln := s.getListener()
	// listener already closed, skip
	if ln == nil {
		return false
	}

	nc, err := ln.Accept()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return !s.shutdown.Load()
		}

		if !s.shutdown.Load() {
			s.logger.Error("failed to accept connection", "error", err)
			return true
		}

		return false
	}

	s.metrics.ConnAccepted.Add(1)
	s.metrics.ConnActive.Add(1)
	s.inflight.Add(1)

	x := s.pool.Get(nc, s.cfg.writeTimeout, s.metrics, s.release)
	go s.handle(x)

	return true
}

func (s *Server) release(_ *Connection) {
	s.metrics.ConnActive.Add(-1)
	s.inflight.Done()
}

// handle reads the single request frame of x and dispatches it.
func (s *Server) handle(x Exchange) {
	nc := x.c.conn
	if s.cfg.readTimeout > 0 {
		_ = nc.SetReadDeadline(time.Now().Add(s.cfg.readTimeout))
	}

	f, err := wire.ReadFrame(nc, x.c.hdr[:])
	if err != nil {
		s.metrics.ReadErrCount.Add(1)
		s.logger.Debug("failed to read request", "remote_address", nc.RemoteAddr(), "error", err)
		x.Drop()

		return
	}
	s.metrics.BytesRead.Add(uint64(wire.HeaderSize + len(f.Params)))

	s.dispatcher.Dispatch(x, f)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (s *Server) getListener() net.Listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	if dl, ok := s.listener.(deadliner); ok {
		if err := dl.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			s.logger.Error("failed to set deadline for listener", "error", err)
			return nil
		}
	}

	return s.listener
}

func (s *Server) closeListener() error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}

	err := s.listener.Close()
	s.listener = nil

	return err
}
