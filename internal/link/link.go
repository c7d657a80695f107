// Package link drives the framed serial protocol: three class queues with
// timeout retransmission, a receiver doing frame search and dispatch, and a
// sender scheduling queue heads by priority. Both goroutines share one mutex
// that is never held across a blocking read.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
	"github.com/kstaniek/go-hev-server/internal/logging"
	"github.com/kstaniek/go-hev-server/internal/metrics"
	"github.com/kstaniek/go-hev-server/internal/serial"
)

var (
	// ErrChannelUnavailable is returned once the port is missing or a write failed.
	ErrChannelUnavailable = errors.New("link: channel unavailable")
	// ErrUnclassified marks frames whose address bits select no queue.
	ErrUnclassified = errors.New("link: unclassified address")
	ErrClosed       = errors.New("link: closed")
)

// Defaults.
const (
	DefaultQueueSize       = 16
	DefaultAlarmInterval   = 10 * time.Millisecond
	DefaultCommandInterval = 50 * time.Millisecond
	DefaultDataInterval    = 6 * time.Second
	DefaultBusyPoll        = 2 * time.Millisecond
	DefaultRxQuiet         = 20 * time.Millisecond

	readBufSize  = 256
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// sleepFn allows tests to intercept read backoff sleeps.
var sleepFn = time.Sleep

// priority lists the queues in service order.
var priority = [...]hdlc.Class{hdlc.ClassAlarm, hdlc.ClassCommand, hdlc.ClassData}

// Stats is a point-in-time copy of the link counters.
type Stats struct {
	Tx             uint64
	Retransmits    uint64
	Rx             uint64
	AcksRx         uint64
	NacksRx        uint64
	AcksTx         uint64
	ChecksumErrors uint64
	FramingErrors  uint64
	Unclassified   uint64
	Evictions      uint64
	Up             bool
}

// Option configures a Link.
type Option func(*Link)

// WithQueueSize sets the capacity of every class queue.
func WithQueueSize(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithInterval sets the minimum retransmission interval of a class.
func WithInterval(c hdlc.Class, d time.Duration) Option {
	return func(l *Link) {
		if i := index(c); i >= 0 && d > 0 {
			l.intervals[i] = d
		}
	}
}

// WithBusyPoll sets how long the sender backs off while inbound bytes are pending.
func WithBusyPoll(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.busyPoll = d
		}
	}
}

// WithRxQuiet bounds the half-duplex guard: a partial inbound frame holds the
// sender off only until the line has been quiet for d, then it is discarded.
func WithRxQuiet(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.rxQuiet = d
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Link) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithClock replaces time.Now for scheduling decisions.
func WithClock(now func() time.Time) Option {
	return func(l *Link) {
		if now != nil {
			l.now = now
		}
	}
}

// WithOnPacket registers a callback for verified inbound information frames.
// It runs on the receiver goroutine without the link lock held.
func WithOnPacket(fn func(*hdlc.Packet)) Option {
	return func(l *Link) { l.onPacket = fn }
}

// Link owns a serial port and its three transmission queues.
type Link struct {
	port serial.Port

	queueSize int
	intervals [len(priority)]time.Duration
	busyPoll  time.Duration
	rxQuiet   time.Duration
	now       func() time.Time
	onPacket  func(*hdlc.Packet)
	log       *slog.Logger

	mu       sync.Mutex
	queues   [len(priority)]*queue
	lastTx   time.Time
	lastRx   time.Time
	deframer hdlc.Deframer
	down     bool
	stats    Stats

	wake    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// New builds a link over port. A nil port yields a link that is down from
// the start.
func New(port serial.Port, opts ...Option) *Link {
	l := &Link{
		port:      port,
		queueSize: DefaultQueueSize,
		intervals: [len(priority)]time.Duration{DefaultAlarmInterval, DefaultCommandInterval, DefaultDataInterval},
		busyPoll:  DefaultBusyPoll,
		rxQuiet:   DefaultRxQuiet,
		now:       time.Now,
		log:       logging.L(),
		wake:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	for i, c := range priority {
		l.queues[i] = newQueue(c, l.queueSize, l.intervals[i])
	}
	l.lastTx = l.now()
	l.down = port == nil
	return l
}

func index(c hdlc.Class) int {
	for i, p := range priority {
		if p == c {
			return i
		}
	}
	return -1
}

func (l *Link) queueFor(c hdlc.Class) *queue {
	if i := index(c); i >= 0 {
		return l.queues[i]
	}
	return nil
}

// Start launches the receiver and sender goroutines.
func (l *Link) Start(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("link: already started")
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(2)
	go l.readLoop(ctx)
	go l.sendLoop(ctx)
	l.log.Info("link_start", "queue_size", l.queueSize,
		"alarm_interval", l.intervals[0], "command_interval", l.intervals[1], "data_interval", l.intervals[2])
	return nil
}

// Close stops both goroutines and closes the port. Pending frames are dropped.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	var err error
	if l.port != nil {
		err = l.port.Close()
	}
	l.wg.Wait()
	l.log.Info("link_closed")
	return err
}

// Up reports whether the channel is usable.
func (l *Link) Up() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.down && !l.closed.Load()
}

// Enqueue appends a copy of p to the queue selected by its address class.
// It never blocks; a full queue drops its oldest entry.
func (l *Link) Enqueue(p *hdlc.Packet) error {
	if l.closed.Load() {
		return ErrClosed
	}
	class := p.Class()
	q := l.queueFor(class)
	if q == nil {
		return fmt.Errorf("%w: 0x%02X", ErrUnclassified, p.Address())
	}
	l.mu.Lock()
	if l.down {
		l.mu.Unlock()
		return ErrChannelUnavailable
	}
	wasEmpty := q.len() == 0
	if q.push(p.Clone()) {
		l.stats.Evictions++
		metrics.IncEviction(class.String())
		l.log.Debug("link_queue_evict", "class", class.String())
	}
	metrics.SetQueueDepth(class.String(), q.len())
	l.mu.Unlock()
	if wasEmpty {
		l.signal()
	}
	return nil
}

func (l *Link) enqueueInfo(p *hdlc.Packet, info []byte) error {
	if err := p.SetInformationBytes(info); err != nil {
		return err
	}
	return l.Enqueue(p)
}

func (l *Link) EnqueueData(info []byte) error    { return l.enqueueInfo(hdlc.NewData(), info) }
func (l *Link) EnqueueCommand(info []byte) error { return l.enqueueInfo(hdlc.NewCommand(), info) }
func (l *Link) EnqueueAlarm(info []byte) error   { return l.enqueueInfo(hdlc.NewAlarm(), info) }

// EnqueueValue builds a class frame carrying value in its leading width bytes.
func (l *Link) EnqueueValue(c hdlc.Class, value uint64, width int) error {
	if index(c) < 0 {
		return ErrUnclassified
	}
	p := hdlc.NewClass(c)
	if err := p.SetInformation(value, width); err != nil {
		return err
	}
	return l.Enqueue(p)
}

// Pending returns the number of unacknowledged frames of class c.
func (l *Link) Pending(c hdlc.Class) int {
	q := l.queueFor(c)
	if q == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return q.len()
}

// Head returns a copy of the frame next in line for class c.
func (l *Link) Head(c hdlc.Class) (*hdlc.Packet, bool) {
	q := l.queueFor(c)
	if q == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e := q.front()
	if e == nil {
		return nil, false
	}
	return e.pkt.Clone(), true
}

func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Up = !l.down
	return s
}

// signal wakes the sender without blocking.
func (l *Link) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// writeLocked writes b to the port. A failed write takes the link down.
func (l *Link) writeLocked(b []byte) error {
	if l.down {
		return ErrChannelUnavailable
	}
	if _, err := l.port.Write(b); err != nil {
		l.markDownLocked(err)
		metrics.IncError(metrics.ErrSerialWrite)
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	return nil
}

func (l *Link) markDownLocked(cause error) {
	if l.down {
		return
	}
	l.down = true
	l.log.Error("link_down", "error", cause)
}
