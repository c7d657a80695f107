package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
	"github.com/kstaniek/go-hev-server/internal/serial"
	"github.com/kstaniek/go-hev-server/internal/telemetry"
)

// fakeSerialPort implements serial.Port for tests.
type fakeSerialPort struct {
	reads  [][]byte
	idx    int
	writes [][]byte
	mu     sync.Mutex
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.idx >= len(f.reads) {
		f.mu.Unlock()
		// after delivering all data, block briefly then return EOF repeatedly
		time.Sleep(10 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := f.reads[f.idx]
	f.idx++
	f.mu.Unlock()
	return copy(p, chunk), nil
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSerialPort) Close() error { return nil }

func (f *fakeSerialPort) wrote(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if bytes.Equal(w, b) {
			return true
		}
	}
	return false
}

// testLogger returns a no-op slog.Logger for tests.
func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func stubSerial(t *testing.T, open func(driver, name string, baud int, to time.Duration) (serial.Port, error), discover func() (string, error)) {
	t.Helper()
	openSerialPort, discoverPort = open, discover
	t.Cleanup(func() { openSerialPort, discoverPort = serial.OpenDriver, serial.Discover })
}

// TestInitLinkDeliversAndAcks feeds a DATA frame carrying 3 through the link
// and expects it in the telemetry store and an ACK on the wire.
func TestInitLinkDeliversAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data := []byte{0x7E, 0x40, 0x00, 0x00, 0x03, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x48, 0x7E}
	ack := []byte{0x7E, 0x40, 0x00, 0x01, 0x33, 0xD1, 0x7E}
	port := &fakeSerialPort{reads: [][]byte{data[:6], data[6:]}}
	var gotName string
	stubSerial(t, func(driver, name string, baud int, to time.Duration) (serial.Port, error) {
		gotName = name
		return port, nil
	}, func() (string, error) { return "", errors.New("unexpected discovery") })

	store := telemetry.NewStore(4, nil)
	cfg := validConfig()
	cfg.serialDev = "fake"
	lk, err := initLink(ctx, cfg, store.Observe, testLogger())
	if err != nil {
		t.Fatalf("initLink: %v", err)
	}
	defer func() { _ = lk.Close() }()
	if gotName != "fake" {
		t.Fatalf("opened %q", gotName)
	}

	deadline := time.Now().Add(time.Second)
	for {
		_, values := store.LastObserved()
		if len(values) == 1 && values[0] == 3 && port.wrote(ack) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("values=%v ack written=%v", values, port.wrote(ack))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitLinkEnqueueWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	port := &fakeSerialPort{}
	stubSerial(t, func(string, string, int, time.Duration) (serial.Port, error) { return port, nil }, serial.Discover)

	cfg := validConfig()
	cfg.commandInterval = time.Millisecond
	lk, err := initLink(ctx, cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("initLink: %v", err)
	}
	defer func() { _ = lk.Close() }()

	p := hdlc.NewCommand()
	if err := p.SetInformation(0x0101, 2); err != nil {
		t.Fatal(err)
	}
	if err := lk.Enqueue(p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !port.wrote(p.Encode()) {
		if time.Now().After(deadline) {
			t.Fatal("command frame never written")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitLinkAutoDiscovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var gotName, gotDriver string
	stubSerial(t, func(driver, name string, baud int, to time.Duration) (serial.Port, error) {
		gotName, gotDriver = name, driver
		return &fakeSerialPort{}, nil
	}, func() (string, error) { return "/dev/ttyACM3", nil })

	cfg := validConfig()
	cfg.serialDev = autoSerial
	cfg.serialDriver = serial.DriverBugst
	lk, err := initLink(ctx, cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("initLink: %v", err)
	}
	defer func() { _ = lk.Close() }()
	if gotName != "/dev/ttyACM3" || gotDriver != serial.DriverBugst {
		t.Fatalf("opened %q with %q", gotName, gotDriver)
	}
}

func TestInitLinkDiscoveryError(t *testing.T) {
	opened := false
	stubSerial(t, func(string, string, int, time.Duration) (serial.Port, error) {
		opened = true
		return &fakeSerialPort{}, nil
	}, func() (string, error) { return "", serial.ErrNoPort })

	cfg := validConfig()
	cfg.serialDev = autoSerial
	_, err := initLink(context.Background(), cfg, nil, testLogger())
	if !errors.Is(err, serial.ErrNoPort) {
		t.Fatalf("expected ErrNoPort, got %v", err)
	}
	if opened {
		t.Fatal("port opened after failed discovery")
	}
}

func TestInitLinkOpenError(t *testing.T) {
	boom := errors.New("no such device")
	stubSerial(t, func(string, string, int, time.Duration) (serial.Port, error) { return nil, boom }, serial.Discover)
	_, err := initLink(context.Background(), validConfig(), nil, testLogger())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
}
