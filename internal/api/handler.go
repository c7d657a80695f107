package api

import (
	"encoding/json"
	"log/slog"

	"github.com/kstaniek/go-hev-server/internal/logging"
	"github.com/kstaniek/go-hev-server/internal/metrics"
)

// Enqueuer accepts COMMAND information fields for the serial link.
type Enqueuer interface {
	EnqueueCommand(info []byte) error
}

// Handler answers request-socket messages by queueing COMMAND frames.
type Handler struct {
	link Enqueuer
	log  *slog.Logger
}

func NewHandler(link Enqueuer, l *slog.Logger) *Handler {
	if l == nil {
		l = logging.L()
	}
	return &Handler{link: link, log: l}
}

// Handle decodes one raw request and returns the encoded reply.
func (h *Handler) Handle(raw []byte) []byte {
	req, err := DecodeRequest(raw)
	var rep Reply
	if err != nil {
		h.log.Debug("request_invalid", "error", err)
		rep = Reply{Type: TypeNack, Error: err.Error()}
	} else {
		rep = h.Apply(req)
	}
	kind, result := req.Type, "ok"
	if err != nil {
		kind = "invalid" // bounded label set
	}
	if rep.Type == TypeNack {
		result = "nack"
	}
	metrics.IncRequest(kind, result)
	b, err := json.Marshal(rep)
	if err != nil { // cannot happen for Reply
		return []byte(`{"type":"nack"}`)
	}
	return b
}

// Apply queues the commands for a validated request.
func (h *Handler) Apply(req Request) Reply {
	switch req.Type {
	case TypeSetMode:
		if err := h.setMode(req.Mode); err != nil {
			return nack(err)
		}
		return Reply{Type: TypeAckMode, Mode: req.Mode}
	case TypeSetThresholds:
		if err := h.setThresholds(req.Thresholds); err != nil {
			return nack(err)
		}
		return Reply{Type: TypeAckThresholds, Thresholds: req.Thresholds}
	case TypeSetup:
		if err := h.setMode(req.Mode); err != nil {
			return nack(err)
		}
		if err := h.setThresholds(req.Thresholds); err != nil {
			return nack(err)
		}
		return Reply{Type: TypeAck, Mode: req.Mode, Thresholds: req.Thresholds}
	default:
		return nack(ErrUnknownType)
	}
}

func nack(err error) Reply { return Reply{Type: TypeNack, Error: err.Error()} }

func (h *Handler) setMode(mode string) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	h.log.Debug("request_setmode", "mode", mode)
	return h.enqueue(CommandInfo(CmdSetMode, 0, Modes[mode]))
}

func (h *Handler) setThresholds(th []uint32) error {
	if err := checkThresholds(th); err != nil {
		return err
	}
	h.log.Debug("request_setthresholds", "thresholds", th)
	for i, v := range th {
		if err := h.enqueue(CommandInfo(CmdSetThreshold, byte(i), v)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) enqueue(info []byte) error {
	if err := h.link.EnqueueCommand(info); err != nil {
		metrics.IncError(metrics.ErrEnqueue)
		h.log.Warn("request_enqueue_error", "error", err)
		return err
	}
	return nil
}
