package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-hev-server/internal/hdlc"
	"github.com/kstaniek/go-hev-server/internal/link"
	"github.com/kstaniek/go-hev-server/internal/serial"
)

// Hooks for tests.
var (
	openSerialPort = serial.OpenDriver
	discoverPort   = serial.Discover
)

// resolveSerial turns "auto" into a discovered device path.
func resolveSerial(dev string, l *slog.Logger) (string, error) {
	if dev != autoSerial {
		return dev, nil
	}
	found, err := discoverPort()
	if err != nil {
		return "", fmt.Errorf("serial discovery: %w", err)
	}
	l.Info("serial_discovered", "device", found)
	return found, nil
}

// initLink opens the serial channel and starts the link driver. Inbound
// information frames are handed to onPacket. Failing to open the channel is
// the only start-up error; later channel loss leaves the link down.
func initLink(ctx context.Context, cfg *appConfig, onPacket func(*hdlc.Packet), l *slog.Logger) (*link.Link, error) {
	dev, err := resolveSerial(cfg.serialDev, l)
	if err != nil {
		return nil, err
	}
	sp, err := openSerialPort(cfg.serialDriver, dev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", dev, err)
	}
	l.Info("serial_open", "device", dev, "driver", cfg.serialDriver, "baud", cfg.baud, "read_timeout", cfg.serialReadTO)
	lk := link.New(sp,
		link.WithQueueSize(cfg.queueSize),
		link.WithInterval(hdlc.ClassAlarm, cfg.alarmInterval),
		link.WithInterval(hdlc.ClassCommand, cfg.commandInterval),
		link.WithInterval(hdlc.ClassData, cfg.dataInterval),
		link.WithBusyPoll(cfg.busyPoll),
		link.WithRxQuiet(cfg.rxQuiet),
		link.WithLogger(l.With("component", "link")),
		link.WithOnPacket(onPacket),
	)
	if err := lk.Start(ctx); err != nil {
		_ = lk.Close()
		return nil, err
	}
	return lk, nil
}
