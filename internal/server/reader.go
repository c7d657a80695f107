package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-hev-server/internal/hub"
)

// startReader drains a broadcast connection so a client hang-up is noticed
// even while no broadcast is pending. Inbound bytes are ignored.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cl.Close()
		buf := make([]byte, 256)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := conn.Read(buf)
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				select {
				case <-ctxDone:
					return
				case <-cl.Closed:
					return
				default:
					continue
				}
			}
			s.record(ErrBroadcastRead, err)
			logger.Debug("client_read_error", "error", err)
			return
		}
	}()
}

// serveRequest answers one request on conn and closes it.
func (s *Server) serveRequest(ctxDone <-chan struct{}, conn net.Conn, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctxDone:
				_ = conn.Close()
			case <-stop:
			}
		}()

		_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
		buf := make([]byte, s.maxRequest)
		n, err := conn.Read(buf)
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				s.record(ErrRequestRead, err)
				logger.Debug("request_read_error", "error", err)
			}
			return
		}
		s.totalRequests.Add(1)
		reply := s.Handler.Handle(buf[:n])
		logger.Debug("request_handled", "request", string(buf[:n]), "reply", string(reply))
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeDeadline))
		if _, err := conn.Write(reply); err != nil {
			s.record(ErrRequestWrite, err)
			logger.Debug("request_write_error", "error", err)
		}
	}()
}
