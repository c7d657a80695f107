// Package server exposes the telemetry broadcast and the request socket to
// user interfaces over TCP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-hev-server/internal/hub"
	"github.com/kstaniek/go-hev-server/internal/logging"
	"github.com/kstaniek/go-hev-server/internal/metrics"
)

// Mode selects what a listener does with accepted connections.
type Mode int

const (
	// ModeBroadcast streams every hub message to the client until it disconnects.
	ModeBroadcast Mode = iota
	// ModeRequest reads one request, writes one reply and closes.
	ModeRequest
)

func (m Mode) String() string {
	if m == ModeRequest {
		return "request"
	}
	return "broadcast"
}

// RequestHandler turns one raw request into its reply.
type RequestHandler interface {
	Handle(req []byte) []byte
}

// Server owns one TCP listener and coordinates client lifecycle.
type Server struct {
	mu      sync.RWMutex
	addr    string
	mode    Mode
	Hub     *hub.Hub
	Handler RequestHandler

	readDeadline  time.Duration
	writeDeadline time.Duration
	maxRequest    int
	maxClients    int
	readyOnce     sync.Once
	readyCh       chan struct{}
	lastErrMu     sync.Mutex
	lastErr       error
	errCh         chan error
	listener      net.Listener
	clientsMu     sync.Mutex
	clients       map[net.Conn]*hub.Client
	wg            sync.WaitGroup
	logger        *slog.Logger
	nextConnID    uint64

	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
	totalRequests     atomic.Uint64
}

const (
	defaultReadDeadline  = 60 * time.Second
	defaultWriteDeadline = 5 * time.Second
	defaultMaxRequest    = 300
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readDeadline:  defaultReadDeadline,
		writeDeadline: defaultWriteDeadline,
		maxRequest:    defaultMaxRequest,
		readyCh:       make(chan struct{}),
		errCh:         make(chan error, 1),
		clients:       make(map[net.Conn]*hub.Client),
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	s.logger = s.logger.With("listener", s.mode.String())
	return s
}

func WithListenAddr(a string) ServerOption      { return func(s *Server) { s.addr = a } }
func WithMode(m Mode) ServerOption              { return func(s *Server) { s.mode = m } }
func WithHub(hb *hub.Hub) ServerOption          { return func(s *Server) { s.Hub = hb } }
func WithHandler(h RequestHandler) ServerOption { return func(s *Server) { s.Handler = h } }

// WithReadDeadline bounds how long a request connection may take to send its
// request, and how long a broadcast connection may stay silent before its
// idle check repeats.
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithWriteDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.writeDeadline = d
		}
	}
}

// WithMaxRequest caps how many bytes a request read consumes.
func WithMaxRequest(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxRequest = n
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Mode() Mode             { return s.mode }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts TCP clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	switch {
	case s.mode == ModeBroadcast && s.Hub == nil:
		return fmt.Errorf("%w: broadcast listener without hub", ErrListen)
	case s.mode == ModeRequest && s.Handler == nil:
		return fmt.Errorf("%w: request listener without handler", ErrListen)
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return s.record(ErrListen, err)
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and hands it to the mode's handler.
// Returns nil on success; a wrapped error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return context.Canceled
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		return s.record(ErrAccept, err)
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if s.mode == ModeRequest {
		s.serveRequest(ctx.Done(), conn, connLogger)
		return nil
	}
	if s.maxClients > 0 && s.Hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	client := s.newClient()
	s.clientsMu.Lock()
	s.clients[conn] = client
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("client_connected")
	s.startWriter(ctx.Done(), conn, client, connLogger)
	s.startReader(ctx.Done(), conn, client, connLogger)
	return nil
}

// newClient allocates a hub client with buffer size derived from hub config.
func (s *Server) newClient() *hub.Client {
	bufSize := 16
	if s.Hub.OutBufSize > 0 {
		bufSize = s.Hub.OutBufSize
	}
	cl := hub.NewClient(bufSize)
	s.Hub.Add(cl)
	return cl
}

func (s *Server) forget(conn net.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
}

// Shutdown closes the listener and every client, then waits for their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for conn, cl := range s.clients {
		_ = conn.Close()
		if s.Hub != nil {
			s.Hub.Remove(cl)
		}
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShutdown, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"requests", s.totalRequests.Load())
		return nil
	}
}
