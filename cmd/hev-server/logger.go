package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-hev-server/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	l := logging.New(format, lvl, os.Stderr).With("app", "hev-server")
	logging.Set(l)
	if err != nil {
		l.Warn("unknown_log_level", "level", level, "used", lvl.String())
	}
	return l
}
