package server

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-hev-server/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
// Connection errors are split by listener mode: a broadcast client only
// drains and receives, a request client sends one request and reads one reply.
var (
	ErrListen         = errors.New("listen")
	ErrAccept         = errors.New("accept")
	ErrBroadcastRead  = errors.New("broadcast_read")
	ErrBroadcastWrite = errors.New("broadcast_write")
	ErrRequestRead    = errors.New("request_read")
	ErrRequestWrite   = errors.New("request_write")
	ErrShutdown       = errors.New("shutdown_timeout")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrListen):
		return metrics.ErrTCPListen
	case errors.Is(err, ErrAccept):
		return metrics.ErrTCPAccept
	case errors.Is(err, ErrBroadcastRead):
		return metrics.ErrBroadcastRead
	case errors.Is(err, ErrBroadcastWrite):
		return metrics.ErrBroadcastWrite
	case errors.Is(err, ErrRequestRead):
		return metrics.ErrRequestRead
	case errors.Is(err, ErrRequestWrite):
		return metrics.ErrRequestWrite
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	default:
		return "other"
	}
}

// record wraps err with its class, counts it and keeps it as the last error.
func (s *Server) record(class, err error) error {
	wrap := fmt.Errorf("%w: %v", class, err)
	metrics.IncError(mapErrToMetric(wrap))
	s.setError(wrap)
	return wrap
}
