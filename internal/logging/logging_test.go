package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Debug("hidden")
	l.Info("link_tx", "class", "data")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "link_tx" || rec["class"] != "data" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestSetIgnoresNil(t *testing.T) {
	prev := L()
	defer Set(prev)
	var buf bytes.Buffer
	Set(New("text", slog.LevelInfo, &buf))
	Set(nil)
	L().Info("serial_open")
	if !strings.Contains(buf.String(), "serial_open") {
		t.Fatalf("global logger replaced by nil: %q", buf.String())
	}
}
