// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport connects the hub to the OpenTherm line.
//
// A Link transmits encoded requests and delivers captured line activity to a
// handler. Serial and WebSocket links talk to an external pulse adapter using
// byte-stuffed, CRC-checked packets; the loopback link simulates a boiler in
// memory.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var (
	// ErrConnectionLost is returned by Listen when the underlying connection
	// fails.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotConnected is returned by Transmit while a link is reconnecting.
	ErrNotConnected = errors.New("not connected")
)

// Handler receives one captured burst of line activity. It reports whether
// the burst was consumed.
type Handler func(src opentherm.PulseSource) bool

// Link carries pulse trains between the hub and the line.
type Link interface {
	hub.Transmitter

	// Listen delivers captures to handle until ctx is done or the link
	// fails.
	Listen(ctx context.Context, handle Handler) error
	Close() error
	String() string
}

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// streamLink speaks the adapter packet protocol over a byte stream.
type streamLink struct {
	conn      Connection
	info      string
	tolerance uint32
	logger    zerolog.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newStreamLink(conn Connection, info string, tolerance uint32, logger zerolog.Logger) *streamLink {
	return &streamLink{
		conn:      conn,
		info:      info,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Transmit implements hub.Transmitter
func (l *streamLink) Transmit(p *opentherm.PulseTrain) error {
	data, err := EncodePacket(Packet{Kind: KindTransmit, Durations: p.Durations()})
	if err != nil {
		return err
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("writing to %s: %w", l.info, err)
	}
	return nil
}

// Listen implements Link
func (l *streamLink) Listen(ctx context.Context, handle Handler) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	decoder := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := l.conn.Read(buf)
		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				l.logger.Debug().Err(decodeErr).Msg("Dropping adapter packet")
				continue
			}
			if packet == nil {
				continue
			}
			if packet.Kind != KindCapture {
				l.logger.Debug().Uint8("kind", packet.Kind).Msg("Ignoring adapter packet")
				continue
			}
			handle(opentherm.NewPulseReader(packet.Durations, l.tolerance))
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: %w: %v", l.info, ErrConnectionLost, err)
		}
	}
}

// Close implements Link
func (l *streamLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

func (l *streamLink) String() string {
	return l.info
}

// Open builds the link selected by cfg. Serial and WebSocket links
// reconnect on failure.
func Open(cfg config.TransportConfig, logger zerolog.Logger) (Link, error) {
	logger = logger.With().Str("component", "transport").Logger()

	switch cfg.Type {
	case config.TransportSerial:
		return NewReconnecting(func() (Link, error) {
			return OpenSerial(cfg.Port, cfg.Baud, cfg.Tolerance, logger)
		}, logger)

	case config.TransportWebSocket:
		password := cfg.Password
		if password == "" && cfg.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return NewReconnecting(func() (Link, error) {
			return OpenWebSocket(cfg.URL, cfg.Username, password, cfg.NoSSLVerify, cfg.Tolerance, logger)
		}, logger)

	case config.TransportLoopback:
		return NewBoiler(cfg.Latency.Duration, cfg.Tolerance, logger), nil
	}

	return nil, fmt.Errorf("unknown transport %q", cfg.Type)
}
