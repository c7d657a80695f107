package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/go-hev-server/internal/api"
)

// client talks to one hev-server: a request socket for changes and a
// broadcast socket for telemetry.
type client struct {
	requestAddr   string
	broadcastAddr string
	timeout       time.Duration
}

// request sends one request and reads the reply until the server closes.
func (c *client) request(req api.Request) (api.Reply, error) {
	var reply api.Reply
	body, err := json.Marshal(req)
	if err != nil {
		return reply, err
	}
	if len(body) > api.MaxRequestSize {
		return reply, fmt.Errorf("request is %d bytes, limit %d", len(body), api.MaxRequestSize)
	}
	conn, err := net.DialTimeout("tcp", c.requestAddr, c.timeout)
	if err != nil {
		return reply, fmt.Errorf("dial %s: %w", c.requestAddr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(body); err != nil {
		return reply, fmt.Errorf("send request: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(conn, 4096))
	if err != nil {
		return reply, fmt.Errorf("read reply: %w", err)
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return reply, fmt.Errorf("decode reply %q: %w", raw, err)
	}
	return reply, nil
}

// watch streams broadcasts to fn until ctx ends, the server hangs up, or
// count messages were received (count <= 0 means no limit).
func (c *client) watch(ctx context.Context, count int, fn func(api.Broadcast, []byte)) error {
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, err := d.DialContext(dctx, "tcp", c.broadcastAddr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.broadcastAddr, err)
	}
	defer conn.Close()
	go func() { <-ctx.Done(); _ = conn.Close() }()

	sc := bufio.NewScanner(conn)
	for n := 0; count <= 0 || n < count; n++ {
		if !sc.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			if err := sc.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		var b api.Broadcast
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			return fmt.Errorf("decode broadcast: %w", err)
		}
		fn(b, sc.Bytes())
	}
	return nil
}
