package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_hev-server._tcp"

// registerService is a hook for tests.
var registerService = zeroconf.Register

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	return "hev-server-" + hostTag()
}

// mdnsMeta lists the TXT records: build info and the broadcast ports so a
// client discovering the request socket can find the stream too.
func mdnsMeta(broadcastPorts []int) []string {
	ports := make([]string, 0, len(broadcastPorts))
	for _, p := range broadcastPorts {
		ports = append(ports, strconv.Itoa(p))
	}
	return []string{
		"version=" + version,
		"commit=" + commit,
		"broadcast=" + strings.Join(ports, ","),
	}
}

// startMDNS registers the request socket via mDNS and returns a cleanup
// function. It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int, broadcastPorts []int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	svc, err := registerService(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsMeta(broadcastPorts), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
