package link

import (
	"time"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
)

// entry is a pending frame. wire is the stuffed form written on every attempt.
type entry struct {
	pkt      *hdlc.Packet
	wire     []byte
	attempts int
}

// queue is a fixed-capacity ring. Insertion order is transmission order and
// a push into a full ring overwrites the oldest entry.
type queue struct {
	class    hdlc.Class
	interval time.Duration
	buf      []entry
	head     int
	n        int
}

func newQueue(class hdlc.Class, capacity int, interval time.Duration) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{class: class, interval: interval, buf: make([]entry, capacity)}
}

// push appends p and reports whether the oldest entry was evicted to make room.
func (q *queue) push(p *hdlc.Packet) (evicted bool) {
	e := entry{pkt: p, wire: p.Encode()}
	if q.n == len(q.buf) {
		q.buf[q.head] = e
		q.head = (q.head + 1) % len(q.buf)
		return true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = e
	q.n++
	return false
}

// front returns the head entry or nil when empty.
func (q *queue) front() *entry {
	if q.n == 0 {
		return nil
	}
	return &q.buf[q.head]
}

// pop removes the head. It reports false on an empty queue.
func (q *queue) pop() bool {
	if q.n == 0 {
		return false
	}
	q.buf[q.head] = entry{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return true
}

func (q *queue) len() int { return q.n }
