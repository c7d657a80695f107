package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-hev-server/internal/hub"
)

// startWriter pushes hub messages to one client, newline-terminated.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.Hub.Remove(cl)
			s.forget(conn)
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		buf := make([]byte, 0, 512)
		for {
			select {
			case msg := <-cl.Out:
				buf = append(append(buf[:0], msg...), '\n')
				_ = conn.SetWriteDeadline(time.Now().Add(s.writeDeadline))
				if _, err := conn.Write(buf); err != nil {
					s.record(ErrBroadcastWrite, err)
					logger.Warn("client_connection_lost", "error", err)
					return
				}
			case <-cl.Closed:
				return
			case <-ctxDone:
				return
			}
		}
	}()
}
