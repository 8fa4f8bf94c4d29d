package server

// TCP acceptor with a fixed worker pool. One worker owns one connection at a
// time and loops read-frame, dispatch, write-frame until EOF or error, so a
// connection carries many sequential requests. Concurrency across
// connections is bounded by the pool size: when every worker is busy the
// acceptor blocks and new connections queue in the kernel accept backlog.

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	elerrors "github.com/enginelink/enginelink/pkg/errors"
	"github.com/enginelink/enginelink/pkg/frame"
	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/telemetry"
	"github.com/enginelink/enginelink/services/engine/internal/dispatch"
)

const DefaultWorkers = 4

var ErrAlreadyStarted = errors.New("server: already started")

type Server struct {
	addr    string
	workers int

	handler  *dispatch.Handler
	logger   *telemetry.Logger
	counters *telemetry.CounterSet

	ln     net.Listener
	connCh chan net.Conn
	quit   chan struct{}
	wg     sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	active map[net.Conn]struct{}
}

func New(addr string, workers int, handler *dispatch.Handler, logger *telemetry.Logger, counters *telemetry.CounterSet) *Server {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = telemetry.Nop
	}
	if counters == nil {
		counters = telemetry.NewCounterSet()
	}
	return &Server{
		addr:     addr,
		workers:  workers,
		handler:  handler,
		logger:   logger,
		counters: counters,
		connCh:   make(chan net.Conn), // unbuffered: backpressure lands in the accept backlog
		quit:     make(chan struct{}),
		active:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and launches the workers and the acceptor. It
// returns once the server is accepting.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.logger.Info("listening", map[string]any{
		"addr":    ln.Addr().String(),
		"workers": s.workers,
	})

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop closes the listener and every active connection, then waits for the
// workers to finish.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.quit)
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.mu.Lock()
	for conn := range s.active {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stopped", nil)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				return
			}
			s.logger.Warn("accept failed", map[string]any{"error": err})
			return
		}
		select {
		case s.connCh <- conn:
		case <-s.quit:
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) worker() {
	defer s.wg.Done()
	for {
		select {
		case conn := <-s.connCh:
			s.serveConn(conn)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) serveConn(conn net.Conn) {
	s.mu.Lock()
	s.active[conn] = struct{}{}
	s.mu.Unlock()
	s.counters.Add("connections", 1)

	defer func() {
		s.mu.Lock()
		delete(s.active, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		payload, err := frame.Read(conn)
		if err != nil {
			if err != io.EOF && !s.stopped.Load() {
				s.logConnError(conn, err)
			}
			return
		}

		var resp *protocol.Response
		var req protocol.Request
		if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
			s.counters.Add("errors", 1)
			resp = &protocol.Response{OK: false, Error: "bad request: " + jsonErr.Error()}
		} else {
			resp = s.handler.Handle(context.Background(), &req)
		}

		body, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("encode response failed", map[string]any{"error": err})
			return
		}
		if err := frame.Write(conn, body); err != nil {
			if !s.stopped.Load() {
				s.logConnError(conn, err)
			}
			return
		}
	}
}

func (s *Server) logConnError(conn net.Conn, err error) {
	code := elerrors.TransportIO
	switch {
	case errors.Is(err, frame.ErrTooLarge):
		code = elerrors.ProtocolTooLarge
	case errors.Is(err, frame.ErrTruncated):
		code = elerrors.ProtocolTruncated
	}
	s.logger.Warn("connection failed", map[string]any{
		"code":   string(code),
		"remote": conn.RemoteAddr().String(),
		"error":  err,
	})
}
