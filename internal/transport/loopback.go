// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ErrLinkClosed is returned when using a closed loopback link.
var ErrLinkClosed = errors.New("link closed")

// Fault makes the simulated boiler misbehave.
type Fault int

// Faults: FaultSilent never answers, FaultParity flips the parity bit of
// the answer and FaultNoise answers with an undecodable burst.
const (
	FaultNone Fault = iota
	FaultSilent
	FaultParity
	FaultNoise
)

// Boiler is an in-memory OpenTherm slave. It decodes every transmitted
// request, answers from a register map and delivers the encoded reply to the
// listener after a fixed latency.
type Boiler struct {
	latency   time.Duration
	tolerance uint32
	logger    zerolog.Logger

	mu        sync.Mutex
	registers map[opentherm.MessageID]uint16
	writable  map[opentherm.MessageID]bool
	fault     Fault
	requests  []opentherm.Frame
	closed    bool

	replies chan []int32
	done    chan struct{}
}

// NewBoiler creates a simulated boiler with a typical register set.
func NewBoiler(latency time.Duration, tolerance uint32, logger zerolog.Logger) *Boiler {
	if tolerance == 0 {
		tolerance = opentherm.DefaultTolerance
	}
	b := &Boiler{
		latency:   latency,
		tolerance: tolerance,
		logger:    logger.With().Str("link", "loopback").Logger(),
		registers: make(map[opentherm.MessageID]uint16),
		writable:  make(map[opentherm.MessageID]bool),
		replies:   make(chan []int32, 16),
		done:      make(chan struct{}),
	}

	b.define(opentherm.Status, 0x000A, true)
	b.define(opentherm.CHSetpoint, 0x3C00, true)
	b.define(opentherm.DeviceConfig, 0x0100, false)
	b.define(opentherm.FaultFlags, 0x0000, false)
	b.define(opentherm.MaxModulationLevel, 0x6400, true)
	b.define(opentherm.RoomSetpoint, 0x1500, true)
	b.define(opentherm.ModulationLevel, 0x2800, false)
	b.define(opentherm.CHWaterPressure, 0x0180, false)
	b.define(opentherm.RoomTemp, 0x1480, true)
	b.define(opentherm.FeedTemp, 0x3C80, false)
	b.define(opentherm.DHWTemp, 0x3000, false)
	b.define(opentherm.OutsideTemp, 0xFE00, true)
	b.define(opentherm.ReturnWaterTemp, 0x2D00, false)
	b.define(opentherm.DHWBounds, 0x4628, false)
	b.define(opentherm.CHBounds, 0x5014, false)
	b.define(opentherm.DHWSetpoint, 0x3700, true)
	b.define(opentherm.MaxCHSetpoint, 0x5000, true)
	b.define(opentherm.BurnerStarts, 0x04D2, true)
	b.define(opentherm.BurnerHours, 0x0100, true)
	b.define(opentherm.OTVersionDevice, 0x0200, false)
	b.define(opentherm.VersionDevice, 0x0101, false)
	return b
}

func (b *Boiler) define(id opentherm.MessageID, data uint16, writable bool) {
	b.registers[id] = data
	b.writable[id] = writable
}

// Define adds or replaces a register.
func (b *Boiler) Define(id opentherm.MessageID, data uint16, writable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.define(id, data, writable)
}

// Register returns the stored data for id.
func (b *Boiler) Register(id opentherm.MessageID) (uint16, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.registers[id]
	return v, ok
}

// SetFault selects how the boiler answers from now on.
func (b *Boiler) SetFault(f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = f
}

// Requests returns every request decoded so far.
func (b *Boiler) Requests() []opentherm.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]opentherm.Frame(nil), b.requests...)
}

// Respond computes the reply to req. It reports false when a real slave
// would stay silent.
func (b *Boiler) Respond(req opentherm.Frame) (opentherm.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.respond(req)
}

func (b *Boiler) respond(req opentherm.Frame) (opentherm.Frame, bool) {
	if !req.CheckParity() {
		return opentherm.Frame{}, false
	}

	id := req.MessageID()
	data, known := b.registers[id]
	var resp opentherm.Frame

	switch req.MessageType() {
	case opentherm.ReadData:
		switch {
		case !known:
			resp = opentherm.Frame{Type: uint8(opentherm.UnknownDataID), ID: req.ID, Data: req.Data}
		case id == opentherm.Status:
			// Master flags are echoed in the high byte
			resp = opentherm.Frame{Type: uint8(opentherm.ReadAck), ID: req.ID, Data: req.Data&0xFF00 | data&0x00FF}
		default:
			resp = opentherm.Frame{Type: uint8(opentherm.ReadAck), ID: req.ID, Data: data}
		}

	case opentherm.WriteData:
		switch {
		case !known:
			resp = opentherm.Frame{Type: uint8(opentherm.UnknownDataID), ID: req.ID, Data: req.Data}
		case !b.writable[id]:
			resp = opentherm.Frame{Type: uint8(opentherm.DataInvalid), ID: req.ID, Data: req.Data}
		default:
			b.registers[id] = req.Data
			resp = opentherm.Frame{Type: uint8(opentherm.WriteAck), ID: req.ID, Data: req.Data}
		}

	case opentherm.InvalidData:
		resp = opentherm.Frame{Type: uint8(opentherm.DataInvalid), ID: req.ID, Data: req.Data}

	default:
		// Slave-to-master types are not requests
		return opentherm.Frame{}, false
	}

	resp.CalcParity()
	return resp, true
}

// Transmit implements hub.Transmitter
func (b *Boiler) Transmit(p *opentherm.PulseTrain) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrLinkClosed
	}

	req, err := opentherm.DecodeDurations(p.Durations(), b.tolerance)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Undecodable request")
		return nil
	}
	b.requests = append(b.requests, req)

	if b.fault == FaultSilent {
		return nil
	}
	resp, ok := b.respond(req)
	if !ok {
		return nil
	}

	var durations []int32
	switch b.fault {
	case FaultParity:
		resp.Type ^= opentherm.ParityMask
		durations = opentherm.EncodeFrame(resp).Durations()
	case FaultNoise:
		durations = []int32{500, -500, 500, -1500, 3000}
	default:
		durations = opentherm.EncodeFrame(resp).Durations()
	}

	b.logger.Debug().
		Str("request", req.String()).
		Str("response", resp.String()).
		Msg("Boiler reply")

	time.AfterFunc(b.latency, func() {
		select {
		case b.replies <- durations:
		case <-b.done:
		default:
			b.logger.Warn().Msg("Reply dropped, listener not keeping up")
		}
	})
	return nil
}

// Listen implements Link
func (b *Boiler) Listen(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrLinkClosed
		case d := <-b.replies:
			handle(opentherm.NewPulseReader(d, b.tolerance))
		}
	}
}

// Close implements Link
func (b *Boiler) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func (b *Boiler) String() string {
	return "Loopback boiler"
}
