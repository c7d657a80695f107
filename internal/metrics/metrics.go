package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-hev-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	LinkTxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_tx_frames_total",
		Help: "Queued frames written to the serial link, by class.",
	}, []string{"class"})
	LinkRetransmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_retransmissions_total",
		Help: "Queue heads written again because no ACK arrived within the class interval.",
	}, []string{"class"})
	LinkRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_rx_frames_total",
		Help: "Verified information frames received from the microcontroller, by class.",
	}, []string{"class"})
	LinkAcksRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_acks_rx_total",
		Help: "ACK frames received.",
	})
	LinkNacksRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_nacks_rx_total",
		Help: "NACK frames received.",
	})
	LinkAcksTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_acks_tx_total",
		Help: "ACK frames sent in reply to received information frames.",
	})
	LinkChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_checksum_errors_total",
		Help: "Inbound frames dropped because the FCS did not match.",
	})
	LinkFramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_framing_errors_total",
		Help: "Inbound candidates dropped for bad escapes, bad length or overflow.",
	})
	LinkUnclassified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_unclassified_frames_total",
		Help: "Verified frames whose address bits map to no queue.",
	})
	LinkEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_queue_evictions_total",
		Help: "Pending frames overwritten because the class queue was full.",
	}, []string{"class"})
	LinkQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "link_queue_depth",
		Help: "Pending (unacknowledged) frames per class.",
	}, []string{"class"})
	HubDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_messages_total",
		Help: "Broadcast messages dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of connected broadcast clients.",
	})
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcasts_total",
		Help: "Telemetry broadcast messages produced.",
	})
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Requests handled on the request socket, by type and result.",
	}, []string{"type", "result"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPListen      = "tcp_listen"
	ErrTCPAccept      = "tcp_accept"
	ErrBroadcastRead  = "broadcast_read"
	ErrBroadcastWrite = "broadcast_write"
	ErrRequestRead    = "request_read"
	ErrRequestWrite   = "request_write"
	ErrSerialWrite    = "serial_write"
	ErrSerialRead     = "serial_read"
	ErrEnqueue        = "enqueue"
	ErrMQTT           = "mqtt_publish"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging and assertions in tests.
var (
	localTx          uint64
	localRetransmit  uint64
	localRx          uint64
	localAckRx       uint64
	localNackRx      uint64
	localAckTx       uint64
	localChecksum    uint64
	localFraming     uint64
	localUnclassed   uint64
	localEvictions   uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubReject   uint64
	localHubClients  uint64
	localBroadcasts  uint64
	localRequests    uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
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
	HubDrops       uint64
	HubKicks       uint64
	HubRejects     uint64
	HubClients     uint64
	Broadcasts     uint64
	Requests       uint64
	Errors         uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Tx:             atomic.LoadUint64(&localTx),
		Retransmits:    atomic.LoadUint64(&localRetransmit),
		Rx:             atomic.LoadUint64(&localRx),
		AcksRx:         atomic.LoadUint64(&localAckRx),
		NacksRx:        atomic.LoadUint64(&localNackRx),
		AcksTx:         atomic.LoadUint64(&localAckTx),
		ChecksumErrors: atomic.LoadUint64(&localChecksum),
		FramingErrors:  atomic.LoadUint64(&localFraming),
		Unclassified:   atomic.LoadUint64(&localUnclassed),
		Evictions:      atomic.LoadUint64(&localEvictions),
		HubDrops:       atomic.LoadUint64(&localHubDrop),
		HubKicks:       atomic.LoadUint64(&localHubKick),
		HubRejects:     atomic.LoadUint64(&localHubReject),
		HubClients:     atomic.LoadUint64(&localHubClients),
		Broadcasts:     atomic.LoadUint64(&localBroadcasts),
		Requests:       atomic.LoadUint64(&localRequests),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

// IncTx counts a queued frame written to the link; retransmit marks a repeat of the same head.
func IncTx(class string, retransmit bool) {
	LinkTxFrames.WithLabelValues(class).Inc()
	atomic.AddUint64(&localTx, 1)
	if retransmit {
		LinkRetransmissions.WithLabelValues(class).Inc()
		atomic.AddUint64(&localRetransmit, 1)
	}
}

func IncRx(class string) {
	LinkRxFrames.WithLabelValues(class).Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncAckRx() {
	LinkAcksRx.Inc()
	atomic.AddUint64(&localAckRx, 1)
}

func IncNackRx() {
	LinkNacksRx.Inc()
	atomic.AddUint64(&localNackRx, 1)
}

func IncAckTx() {
	LinkAcksTx.Inc()
	atomic.AddUint64(&localAckTx, 1)
}

func IncChecksumError() {
	LinkChecksumErrors.Inc()
	atomic.AddUint64(&localChecksum, 1)
}

func IncFramingError() {
	LinkFramingErrors.Inc()
	atomic.AddUint64(&localFraming, 1)
}

func IncUnclassified() {
	LinkUnclassified.Inc()
	atomic.AddUint64(&localUnclassed, 1)
}

func IncEviction(class string) {
	LinkEvictions.WithLabelValues(class).Inc()
	atomic.AddUint64(&localEvictions, 1)
}

// SetQueueDepth records the pending count of one class queue.
func SetQueueDepth(class string, n int) {
	LinkQueueDepth.WithLabelValues(class).Set(float64(n))
}

func IncHubDrop() {
	HubDroppedMessages.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncBroadcast() {
	BroadcastsSent.Inc()
	atomic.AddUint64(&localBroadcasts, 1)
}

func IncRequest(kind, result string) {
	Requests.WithLabelValues(kind, result).Inc()
	atomic.AddUint64(&localRequests, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register label series so dashboards show zeros before the first event.
	for _, lbl := range []string{
		ErrTCPListen, ErrTCPAccept, ErrBroadcastRead, ErrBroadcastWrite,
		ErrRequestRead, ErrRequestWrite,
		ErrSerialWrite, ErrSerialRead, ErrEnqueue, ErrMQTT,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, class := range []string{"alarm", "command", "data"} {
		LinkTxFrames.WithLabelValues(class).Add(0)
		LinkRetransmissions.WithLabelValues(class).Add(0)
		LinkRxFrames.WithLabelValues(class).Add(0)
		LinkEvictions.WithLabelValues(class).Add(0)
		LinkQueueDepth.WithLabelValues(class).Set(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
