package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kstaniek/go-hev-server/internal/api"
	"github.com/kstaniek/go-hev-server/internal/logging"
	"github.com/kstaniek/go-hev-server/internal/metrics"
)

// Sink receives each encoded broadcast. It must not block or retain-and-mutate msg.
type Sink func(msg []byte)

// Broadcaster turns the store into a broadcast message every period.
type Broadcaster struct {
	store  *Store
	period time.Duration
	sinks  []Sink
}

func NewBroadcaster(store *Store, period time.Duration, sinks ...Sink) *Broadcaster {
	if period <= 0 {
		period = time.Second
	}
	return &Broadcaster{store: store, period: period, sinks: sinks}
}

// Message encodes the current store contents.
func (b *Broadcaster) Message() ([]byte, error) {
	alarms, values := b.store.LastObserved()
	return json.Marshal(api.NewBroadcast(values, alarms))
}

// Publish encodes once and hands the message to every sink.
func (b *Broadcaster) Publish() {
	msg, err := b.Message()
	if err != nil {
		logging.L().Error("broadcast_encode_error", "error", err)
		return
	}
	metrics.IncBroadcast()
	for _, s := range b.sinks {
		s(msg)
	}
}

// Start runs Publish on every tick until ctx is done.
func (b *Broadcaster) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(b.period)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				b.Publish()
			case <-ctx.Done():
				return
			}
		}
	}()
}
