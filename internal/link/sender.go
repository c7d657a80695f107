package link

import (
	"context"
	"time"

	"github.com/kstaniek/go-hev-server/internal/metrics"
	"github.com/kstaniek/go-hev-server/internal/serial"
)

// idle is returned by service when nothing is pending or the link is down.
const idle time.Duration = -1

func (l *Link) sendLoop(ctx context.Context) {
	defer l.wg.Done()
	defer l.log.Info("link_tx_end")
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		wait := l.service()
		if wait == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		var tick <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		case <-tick:
		}
	}
}

// service transmits at most one queue head and returns how long the sender
// may sleep before the next decision: 0 to run again at once, idle to wait
// for an enqueue.
func (l *Link) service() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return idle
	}
	next := idle
	now := l.now()
	for _, q := range l.queues {
		e := q.front()
		if e == nil {
			continue
		}
		due := l.lastTx.Add(q.interval)
		if now.Before(due) {
			if d := due.Sub(now); next == idle || d < next {
				next = d
			}
			continue
		}
		if l.inputBusyLocked(now) {
			return l.busyPoll
		}
		l.transmitLocked(q, e, now)
		return 0
	}
	return next
}

// inputBusyLocked is the half-duplex guard: the port reports unread input,
// or a frame is half received and bytes arrived within the quiet window. A
// partial frame older than that (a stray marker, a truncated tail) is dropped
// so it cannot hold the sender off.
func (l *Link) inputBusyLocked(now time.Time) bool {
	if l.deframer.InFrame() {
		quiet := now.Sub(l.lastRx)
		if quiet < l.rxQuiet {
			return true
		}
		l.deframer.Reset()
		l.stats.FramingErrors++
		metrics.IncFramingError()
		l.log.Debug("link_rx_stale_frame", "quiet", quiet)
	}
	if w, ok := l.port.(serial.InputWaiter); ok {
		if n, err := w.InputWaiting(); err == nil && n > 0 {
			return true
		}
	}
	return false
}

func (l *Link) transmitLocked(q *queue, e *entry, now time.Time) {
	if err := l.writeLocked(e.wire); err != nil {
		l.log.Error("link_tx_error", "class", q.class.String(), "error", err)
		return
	}
	retransmit := e.attempts > 0
	e.attempts++
	l.lastTx = now
	l.stats.Tx++
	if retransmit {
		l.stats.Retransmits++
	}
	metrics.IncTx(q.class.String(), retransmit)
	l.log.Debug("link_tx", "class", q.class.String(), "attempt", e.attempts, "packet", e.pkt.String())
}
