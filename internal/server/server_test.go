package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-hev-server/internal/hub"
	"github.com/kstaniek/go-hev-server/internal/metrics"
)

type echoHandler struct{ got chan string }

func (h *echoHandler) Handle(req []byte) []byte {
	if h.got != nil {
		h.got <- string(req)
	}
	return append([]byte("reply:"), req...)
}

func startServer(t *testing.T, opts ...ServerOption) (*Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(append([]ServerOption{WithListenAddr("127.0.0.1:0")}, opts...)...)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		cancel()
		t.Fatalf("server did not signal readiness")
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return srv, cancel
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBroadcastStreamsHubMessages(t *testing.T) {
	h := hub.New()
	srv, _ := startServer(t, WithHub(h))
	conn := dial(t, srv.Addr())
	waitFor(t, "client registration", func() bool { return h.Count() == 1 })

	h.Broadcast([]byte(`{"type":"broadcast","sensors":[1],"alarms":[]}`))
	h.Broadcast([]byte(`{"type":"broadcast","sensors":[2],"alarms":[]}`))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	r := bufio.NewReader(conn)
	for _, want := range []string{
		`{"type":"broadcast","sensors":[1],"alarms":[]}`,
		`{"type":"broadcast","sensors":[2],"alarms":[]}`,
	} {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line != want+"\n" {
			t.Fatalf("got %q want %q", line, want)
		}
	}
}

func TestBroadcastDisconnectRemovesClient(t *testing.T) {
	h := hub.New()
	srv, _ := startServer(t, WithHub(h))
	conn := dial(t, srv.Addr())
	waitFor(t, "client registration", func() bool { return h.Count() == 1 })
	_ = conn.Close()
	waitFor(t, "client removal", func() bool { return h.Count() == 0 })
}

func TestBroadcastMaxClients(t *testing.T) {
	h := hub.New()
	srv, _ := startServer(t, WithHub(h), WithMaxClients(1))
	dial(t, srv.Addr())
	waitFor(t, "first client", func() bool { return h.Count() == 1 })

	second := dial(t, srv.Addr())
	_ = second.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := second.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected rejected client to see EOF, got %v", err)
	}
	if h.Count() != 1 {
		t.Fatalf("hub count = %d, want 1", h.Count())
	}
}

func TestRequestReplyAndClose(t *testing.T) {
	eh := &echoHandler{got: make(chan string, 1)}
	srv, _ := startServer(t, WithMode(ModeRequest), WithHandler(eh))
	conn := dial(t, srv.Addr())
	if _, err := conn.Write([]byte(`{"type":"setmode","mode":"purge"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	b, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != `reply:{"type":"setmode","mode":"purge"}` {
		t.Fatalf("unexpected reply %q", b)
	}
	if got := <-eh.got; got != `{"type":"setmode","mode":"purge"}` {
		t.Fatalf("handler saw %q", got)
	}
}

func TestRequestReadIsBounded(t *testing.T) {
	eh := &echoHandler{got: make(chan string, 1)}
	srv, _ := startServer(t, WithMode(ModeRequest), WithHandler(eh), WithMaxRequest(8))
	conn := dial(t, srv.Addr())
	if _, err := conn.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-eh.got:
		if len(got) > 8 {
			t.Fatalf("handler received %d bytes, cap is 8", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestServeRequiresCollaborators(t *testing.T) {
	if err := NewServer().Serve(context.Background()); !errors.Is(err, ErrListen) {
		t.Fatalf("broadcast without hub: %v", err)
	}
	if err := NewServer(WithMode(ModeRequest)).Serve(context.Background()); !errors.Is(err, ErrListen) {
		t.Fatalf("request without handler: %v", err)
	}
}

func TestListenErrorIsReported(t *testing.T) {
	srv := NewServer(WithHub(hub.New()), WithListenAddr("256.0.0.1:1"))
	err := srv.Serve(context.Background())
	if !errors.Is(err, ErrListen) {
		t.Fatalf("expected ErrListen, got %v", err)
	}
	if !errors.Is(srv.LastError(), ErrListen) {
		t.Fatalf("LastError = %v", srv.LastError())
	}
}

func TestModeString(t *testing.T) {
	if ModeBroadcast.String() != "broadcast" || ModeRequest.String() != "request" {
		t.Fatal("unexpected mode names")
	}
}

func TestErrorClassesMapToLabels(t *testing.T) {
	cases := []struct {
		class error
		label string
	}{
		{ErrListen, metrics.ErrTCPListen},
		{ErrAccept, metrics.ErrTCPAccept},
		{ErrBroadcastRead, metrics.ErrBroadcastRead},
		{ErrBroadcastWrite, metrics.ErrBroadcastWrite},
		{ErrRequestRead, metrics.ErrRequestRead},
		{ErrRequestWrite, metrics.ErrRequestWrite},
		{ErrShutdown, "shutdown"},
		{errors.New("unrelated"), "other"},
	}
	for _, tc := range cases {
		if got := mapErrToMetric(fmt.Errorf("%w: boom", tc.class)); got != tc.label {
			t.Fatalf("%v: label %q, want %q", tc.class, got, tc.label)
		}
	}
}

func TestRecordKeepsLastError(t *testing.T) {
	srv := NewServer(WithMode(ModeRequest))
	before := metrics.Snap().Errors
	err := srv.record(ErrRequestWrite, errors.New("broken pipe"))
	if !errors.Is(err, ErrRequestWrite) || !errors.Is(srv.LastError(), ErrRequestWrite) {
		t.Fatalf("err=%v last=%v", err, srv.LastError())
	}
	if metrics.Snap().Errors != before+1 {
		t.Fatal("error not counted")
	}
}
