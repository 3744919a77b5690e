// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// Dialer opens a fresh link.
type Dialer func() (Link, error)

// Reconnection backoff bounds
const (
	MinBackoff = 1 * time.Second
	MaxBackoff = 30 * time.Second
)

// Reconnecting keeps a dialed link alive. When the link fails, Listen closes
// it and redials with exponential backoff; Transmit fails with
// ErrNotConnected until a new link is up.
type Reconnecting struct {
	dial   Dialer
	logger zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.RWMutex
	link   Link
	info   string
	closed bool

	// OnStateChange, when set, is told about every loss and recovery.
	OnStateChange func(connected bool, info string)
}

// NewReconnecting dials once and returns an error if that first attempt
// fails.
func NewReconnecting(dial Dialer, logger zerolog.Logger) (*Reconnecting, error) {
	link, err := dial()
	if err != nil {
		return nil, err
	}
	return &Reconnecting{
		dial:       dial,
		logger:     logger,
		minBackoff: MinBackoff,
		maxBackoff: MaxBackoff,
		link:       link,
		info:       link.String(),
	}, nil
}

func (r *Reconnecting) current() Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.link
}

func (r *Reconnecting) setLink(l Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.link = l
	if l != nil {
		r.info = l.String()
	}
}

// Connected reports whether a link is currently up.
func (r *Reconnecting) Connected() bool {
	return r.current() != nil
}

// Transmit implements hub.Transmitter
func (r *Reconnecting) Transmit(p *opentherm.PulseTrain) error {
	link := r.current()
	if link == nil {
		return ErrNotConnected
	}
	return link.Transmit(p)
}

// Listen implements Link. It only returns once ctx is done or the link is
// closed.
func (r *Reconnecting) Listen(ctx context.Context, handle Handler) error {
	for {
		link := r.current()
		if link == nil {
			return ErrLinkClosed
		}

		err := link.Listen(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.mu.RLock()
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return ErrLinkClosed
		}

		r.logger.Warn().Err(err).Str("link", link.String()).Msg("Connection lost")
		link.Close()
		r.setLink(nil)
		r.notify(false)

		if !r.reconnect(ctx) {
			return ctx.Err()
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or ctx is
// done.
func (r *Reconnecting) reconnect(ctx context.Context) bool {
	backoff := r.minBackoff

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		link, err := r.dial()
		if err == nil {
			r.setLink(link)
			r.logger.Info().Str("link", link.String()).Msg("Reconnected")
			r.notify(true)
			return true
		}
		r.logger.Debug().Err(err).Dur("backoff", backoff).Msg("Reconnect failed")

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Reconnecting) notify(connected bool) {
	if r.OnStateChange == nil {
		return
	}
	r.mu.RLock()
	info := r.info
	r.mu.RUnlock()
	r.OnStateChange(connected, info)
}

// Close implements Link
func (r *Reconnecting) Close() error {
	r.mu.Lock()
	r.closed = true
	link := r.link
	r.mu.Unlock()
	if link == nil {
		return nil
	}
	return link.Close()
}

func (r *Reconnecting) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}
