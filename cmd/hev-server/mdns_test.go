package main

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestHostTag(t *testing.T) {
	old := machineID
	t.Cleanup(func() { machineID = old })

	machineID = func() (string, error) { return "0123456789abcdef", nil }
	if got := hostTag(); got != "01234567" {
		t.Fatalf("hostTag = %q", got)
	}
	machineID = func() (string, error) { return "", errors.New("no machine id") }
	if got := hostTag(); got == "" {
		t.Fatal("empty fallback tag")
	}
}

func TestMDNSInstance(t *testing.T) {
	old := machineID
	t.Cleanup(func() { machineID = old })
	machineID = func() (string, error) { return "feedfacecafebeef", nil }

	cfg := validConfig()
	if got := mdnsInstance(cfg); got != "hev-server-feedface" {
		t.Fatalf("default instance %q", got)
	}
	cfg.mdnsName = "ward-3"
	if got := mdnsInstance(cfg); got != "ward-3" {
		t.Fatalf("explicit instance %q", got)
	}
}

func TestMDNSMeta(t *testing.T) {
	meta := mdnsMeta([]int{54320, 54322})
	if !strings.Contains(strings.Join(meta, ";"), "broadcast=54320,54322") {
		t.Fatalf("meta %v", meta)
	}
}

func TestStartMDNSDisabled(t *testing.T) {
	old := registerService
	t.Cleanup(func() { registerService = old })
	registerService = func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		t.Fatal("register called while disabled")
		return nil, nil
	}
	cleanup, err := startMDNS(context.Background(), validConfig(), 54321, nil)
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	cleanup()
}

func TestStartMDNSRegisterError(t *testing.T) {
	old := registerService
	t.Cleanup(func() { registerService = old })
	var gotService string
	var gotPort int
	registerService = func(_ string, service, _ string, port int, _ []string, _ []net.Interface) (*zeroconf.Server, error) {
		gotService, gotPort = service, port
		return nil, errors.New("no multicast interface")
	}
	cfg := validConfig()
	cfg.mdnsEnable = true
	if _, err := startMDNS(context.Background(), cfg, 54321, nil); err == nil {
		t.Fatal("expected register error")
	}
	if gotService != mdnsServiceType || gotPort != 54321 {
		t.Fatalf("registered %q on %d", gotService, gotPort)
	}
}

func TestListenPort(t *testing.T) {
	if p := listenPort("127.0.0.1:54321"); p != 54321 {
		t.Fatalf("port %d", p)
	}
	if p := listenPort("[::]:80"); p != 80 {
		t.Fatalf("port %d", p)
	}
	if p := listenPort("garbage"); p != 0 {
		t.Fatalf("port %d", p)
	}
}
