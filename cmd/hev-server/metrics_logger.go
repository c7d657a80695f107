package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-hev-server/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"link_tx", snap.Tx,
					"link_retransmits", snap.Retransmits,
					"link_rx", snap.Rx,
					"acks_rx", snap.AcksRx,
					"nacks_rx", snap.NacksRx,
					"checksum_errors", snap.ChecksumErrors,
					"framing_errors", snap.FramingErrors,
					"evictions", snap.Evictions,
					"hub_clients", snap.HubClients,
					"hub_drops", snap.HubDrops,
					"broadcasts", snap.Broadcasts,
					"requests", snap.Requests,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
