package main

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_hev-server._tcp"

// server is one advertised hev-server instance.
type server struct {
	Name      string   `json:"name"`
	Request   string   `json:"request"`
	Broadcast []string `json:"broadcast"`
}

// browse is a hook for tests. entries is closed once ctx is done, or at once
// when browsing cannot start.
var browse = func(ctx context.Context, entries chan *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return err
	}
	return r.Browse(ctx, serviceType, "local.", entries)
}

// discover collects instances advertised within wait.
func discover(ctx context.Context, wait time.Duration) ([]server, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []server, 1)
	go func() {
		var out []server
		for e := range entries {
			if s, ok := fromEntry(e); ok {
				out = append(out, s)
			}
		}
		found <- out
	}()
	if err := browse(ctx, entries); err != nil {
		cancel()
		<-found
		return nil, err
	}
	<-ctx.Done()
	return <-found, nil
}

// fromEntry maps a service entry and its TXT records to addresses.
func fromEntry(e *zeroconf.ServiceEntry) (server, bool) {
	if e == nil {
		return server{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	case e.HostName != "":
		host = strings.TrimSuffix(e.HostName, ".")
	default:
		return server{}, false
	}
	s := server{Name: e.Instance, Request: net.JoinHostPort(host, strconv.Itoa(e.Port))}
	for _, kv := range e.Text {
		ports, ok := strings.CutPrefix(kv, "broadcast=")
		if !ok {
			continue
		}
		for _, p := range strings.Split(ports, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.Broadcast = append(s.Broadcast, net.JoinHostPort(host, p))
			}
		}
	}
	return s, true
}
