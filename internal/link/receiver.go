package link

import (
	"context"
	"errors"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
	"github.com/kstaniek/go-hev-server/internal/metrics"
	"github.com/kstaniek/go-hev-server/internal/serial"
)

func (l *Link) readLoop(ctx context.Context) {
	defer l.wg.Done()
	defer l.log.Info("link_rx_end")
	buf := make([]byte, readBufSize)
	backoff := rxBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		if !l.Up() {
			<-ctx.Done()
			return
		}
		n, err := l.port.Read(buf)
		if n > 0 {
			l.consume(buf[:n])
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if serial.IsFatal(err) {
			l.mu.Lock()
			l.markDownLocked(err)
			l.mu.Unlock()
			continue
		}
		if serial.IsTransient(err) {
			continue
		}
		metrics.IncError(metrics.ErrSerialRead)
		l.log.Warn("serial_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}

// consume runs b through frame search and dispatch. Queue mutation and ACK
// replies happen under the lock; the packet callback runs after it is released.
func (l *Link) consume(b []byte) {
	var deliver []*hdlc.Packet
	l.mu.Lock()
	if len(b) > 0 {
		l.lastRx = l.now()
	}
	for _, c := range b {
		frame, done, err := l.deframer.Feed(c)
		if !done {
			continue
		}
		if err != nil {
			l.stats.FramingErrors++
			metrics.IncFramingError()
			l.log.Debug("link_rx_framing_error", "error", err)
			continue
		}
		if p := l.dispatchLocked(frame); p != nil {
			deliver = append(deliver, p)
		}
	}
	l.mu.Unlock()
	if l.onPacket == nil {
		return
	}
	for _, p := range deliver {
		l.onPacket(p)
	}
}

// dispatchLocked verifies one unescaped frame and applies it. It returns the
// packet when it carries information for collaborators.
func (l *Link) dispatchLocked(frame []byte) *hdlc.Packet {
	p, err := hdlc.Parse(frame)
	if err != nil {
		if errors.Is(err, hdlc.ErrChecksum) {
			l.stats.ChecksumErrors++
			metrics.IncChecksumError()
			l.log.Debug("link_rx_checksum_error", "frame", frame)
		} else {
			l.stats.FramingErrors++
			metrics.IncFramingError()
			l.log.Debug("link_rx_framing_error", "error", err)
		}
		return nil
	}
	class := p.Class()
	switch p.ControlFlag() {
	case hdlc.CtrlNACK:
		// Recovery is the retransmission timeout; nothing to change here.
		l.stats.NacksRx++
		metrics.IncNackRx()
		l.log.Debug("link_rx_nack", "class", class.String(), "address", p.Address())
		return nil
	case hdlc.CtrlACK:
		l.stats.AcksRx++
		metrics.IncAckRx()
		q := l.queueFor(class)
		if q == nil {
			l.unclassifiedLocked(p)
			return nil
		}
		if q.pop() {
			metrics.SetQueueDepth(class.String(), q.len())
			l.log.Debug("link_rx_ack", "class", class.String(), "pending", q.len())
		}
		return nil
	}
	if class == hdlc.ClassUnknown {
		l.unclassifiedLocked(p)
		return p
	}
	l.stats.Rx++
	metrics.IncRx(class.String())
	if err := l.writeLocked(hdlc.NewACK(p.Address()).Encode()); err != nil {
		l.log.Error("link_ack_write_error", "error", err)
		return p
	}
	l.stats.AcksTx++
	metrics.IncAckTx()
	return p
}

func (l *Link) unclassifiedLocked(p *hdlc.Packet) {
	l.stats.Unclassified++
	metrics.IncUnclassified()
	l.log.Debug("link_rx_unclassified", "error", ErrUnclassified, "address", p.Address())
}
