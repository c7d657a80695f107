package hub

import (
	"testing"
	"time"
)

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient(4)
	h.Add(cl)
	defer h.Remove(cl)

	// Nobody reads cl.Out: a stalled UI.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast([]byte(`{"type":"broadcast"}`))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := NewClient(1)
	fast := NewClient(16)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	h.Broadcast([]byte("a"))
	for i := 0; i < 10; i++ {
		h.Broadcast([]byte("b"))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got == 11 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got != 11 {
		t.Fatalf("fast client got %d messages, want 11", got)
	}
	if len(slow.Out) != 1 {
		t.Fatalf("slow client buffered %d, want 1", len(slow.Out))
	}
}

func TestHub_KickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := NewClient(1)
	h.Add(cl)
	h.Broadcast([]byte("1"))
	h.Broadcast([]byte("2"))
	select {
	case <-cl.Closed:
	default:
		t.Fatal("expected slow client to be kicked")
	}
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("count = %d", h.Count())
	}
}

func TestParsePolicy(t *testing.T) {
	if p, ok := ParsePolicy("kick"); !ok || p != PolicyKick || p.String() != "kick" {
		t.Fatalf("kick parsed as %v %v", p, ok)
	}
	if _, ok := ParsePolicy("block"); ok {
		t.Fatal("unknown policy accepted")
	}
}
