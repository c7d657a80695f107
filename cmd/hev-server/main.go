package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-hev-server/internal/api"
	"github.com/kstaniek/go-hev-server/internal/hub"
	"github.com/kstaniek/go-hev-server/internal/metrics"
	"github.com/kstaniek/go-hev-server/internal/mqttpub"
	"github.com/kstaniek/go-hev-server/internal/server"
	"github.com/kstaniek/go-hev-server/internal/telemetry"
)

const mqttConnectTimeout = 5 * time.Second

func main() {
	cfg, showVersion, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("hev-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *appConfig) error {
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	var pub *mqttpub.Publisher
	if cfg.mqttBroker != "" {
		p, err := mqttpub.Connect(ctx, cfg.mqttBroker, "hev-server-"+hostTag(), mqttConnectTimeout)
		if err != nil {
			// The bridge is optional; the data server runs without it.
			l.Warn("mqtt_connect_failed", "error", err)
		} else {
			pub = p
			defer pub.Close()
		}
	}

	var onAlarm func(string)
	sinks := []telemetry.Sink{h.Broadcast}
	if pub != nil {
		onAlarm = pub.PublishAlarm
		sinks = append(sinks, pub.PublishBroadcast)
	}
	store := telemetry.NewStore(cfg.history, onAlarm)

	lk, err := initLink(ctx, cfg, store.Observe, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return err
	}
	defer func() { _ = lk.Close() }()

	telemetry.NewBroadcaster(store, cfg.broadcastPeriod, sinks...).Start(ctx, &wg)

	servers := startServers(ctx, cancel, cfg, h, api.NewHandler(lk, l), l)
	go advertise(ctx, cfg, servers, l)

	metrics.SetReadinessFunc(func() bool {
		for _, s := range servers {
			select {
			case <-s.Ready():
			default:
				return false
			}
		}
		return ctx.Err() == nil && lk.Up()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var exitErr error
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		exitErr = errors.New("listener failed")
	}
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return exitErr
}

// startServers launches one broadcast server per configured address and the
// request server; the request server is last in the returned slice. A server
// failing to listen cancels the process.
func startServers(ctx context.Context, cancel context.CancelFunc, cfg *appConfig, h *hub.Hub, handler server.RequestHandler, l *slog.Logger) []*server.Server {
	var servers []*server.Server
	for _, addr := range cfg.broadcastListen {
		servers = append(servers, server.NewServer(
			server.WithListenAddr(addr),
			server.WithMode(server.ModeBroadcast),
			server.WithHub(h),
			server.WithLogger(l),
			server.WithMaxClients(cfg.maxClients),
			server.WithReadDeadline(cfg.clientReadTO),
		))
	}
	servers = append(servers, server.NewServer(
		server.WithListenAddr(cfg.requestListen),
		server.WithMode(server.ModeRequest),
		server.WithHandler(handler),
		server.WithLogger(l),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithMaxRequest(api.MaxRequestSize),
	))
	for _, s := range servers {
		go func(s *server.Server) {
			if err := s.Serve(ctx); err != nil {
				l.Error("tcp_server_error", "mode", s.Mode().String(), "error", err)
				cancel()
			}
		}(s)
	}
	return servers
}

// advertise registers the request socket via mDNS once every listener is bound.
func advertise(ctx context.Context, cfg *appConfig, servers []*server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	var bports []int
	for _, s := range servers {
		select {
		case <-s.Ready():
		case <-ctx.Done():
			return
		}
		if s.Mode() == server.ModeBroadcast {
			bports = append(bports, listenPort(s.Addr()))
		}
	}
	port := listenPort(servers[len(servers)-1].Addr())
	cleanup, err := startMDNS(ctx, cfg, port, bports)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
	go func() { <-ctx.Done(); cleanup() }()
}

// listenPort extracts the port of a bound host:port address, 0 if malformed.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
