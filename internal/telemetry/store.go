// Package telemetry keeps the latest values reported by the microcontroller
// and periodically publishes them to user interfaces.
package telemetry

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
)

const DefaultHistory = 16

// AlarmCode renders an ALARM information field as reported to clients.
func AlarmCode(p *hdlc.Packet) string { return fmt.Sprintf("0x%08X", uint32(p.Value())) }

// Store holds the most recent DATA values and ALARM codes, oldest first.
type Store struct {
	mu      sync.RWMutex
	history int
	values  []uint64
	alarms  []string
	onAlarm func(string)
}

// NewStore keeps up to history entries of each kind. onAlarm, if set, is
// called for every alarm observed.
func NewStore(history int, onAlarm func(string)) *Store {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Store{history: history, onAlarm: onAlarm}
}

// Observe records an inbound packet. Packets other than DATA and ALARM are ignored.
func (s *Store) Observe(p *hdlc.Packet) {
	switch p.Class() {
	case hdlc.ClassData:
		s.mu.Lock()
		s.values = appendBounded(s.values, p.Value(), s.history)
		s.mu.Unlock()
	case hdlc.ClassAlarm:
		code := AlarmCode(p)
		s.mu.Lock()
		s.alarms = appendBounded(s.alarms, code, s.history)
		s.mu.Unlock()
		if s.onAlarm != nil {
			s.onAlarm(code)
		}
	}
}

func appendBounded[T any](xs []T, x T, n int) []T {
	xs = append(xs, x)
	if len(xs) > n {
		xs = append(xs[:0], xs[len(xs)-n:]...)
	}
	return xs
}

// LastObserved returns copies of the retained alarms and values.
func (s *Store) LastObserved() (alarms []string, values []uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.alarms...), append([]uint64(nil), s.values...)
}
