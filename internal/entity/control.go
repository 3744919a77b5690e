// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package entity

import (
	"fmt"
	"math"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// Switch is a writable on/off setting, typically one master status flag.
//
// Without a read accessor the switch keeps the state it last wrote
// (assumed state). Failed exchanges leave the state untouched.
type Switch struct {
	base
}

// NewSwitch creates a switch.
func NewSwitch(opts Options) *Switch {
	s := &Switch{}
	s.init(KindSwitch, opts)
	return s
}

// Set publishes the requested state and enqueues a write.
func (s *Switch) Set(v float64) error {
	on := v != 0
	s.logger.Debug().Bool("state", on).Msg("Switch control")
	if on {
		s.publish(1)
	} else {
		s.publish(0)
	}
	s.enqueue(s.typ)
	return nil
}

// AssumedState reports whether the switch cannot read its state back.
func (s *Switch) AssumedState() bool { return s.read == nil }

// OnReceive implements hub.Consumer
func (s *Switch) OnReceive(f opentherm.Frame) {
	if f.MessageID() != s.id {
		s.logger.Info().
			Uint8("expected", uint8(s.id)).
			Uint8("got", f.ID).
			Msg("Invalid message id")
		return
	}
	if s.read == nil {
		return
	}
	if s.read.ReadBool(f) {
		s.publish(1)
	} else {
		s.publish(0)
	}
}

// OnError implements hub.Consumer
func (s *Switch) OnError() {}

// Number is a writable numeric setting such as a temperature setpoint.
type Number struct {
	base
	min float64
	max float64
}

// NewNumber creates a number limited to [min, max]. Pass ±Inf for an open
// bound.
func NewNumber(opts Options, min, max float64) *Number {
	n := &Number{min: min, max: max}
	n.init(KindNumber, opts)
	return n
}

// Range returns the accepted bounds.
func (n *Number) Range() (min, max float64) { return n.min, n.max }

// Start reads the current value from the boiler once.
func (n *Number) Start() { n.enqueue(opentherm.ReadData) }

// Set publishes v and enqueues a write. Values outside the range or NaN are
// rejected.
func (n *Number) Set(v float64) error {
	if math.IsNaN(v) || v < n.min || v > n.max {
		return fmt.Errorf("%s: %v not in [%v, %v]: %w", n.name, v, n.min, n.max, ErrOutOfRange)
	}
	n.logger.Debug().Float64("value", v).Msg("Number control")
	n.publish(v)
	n.enqueue(n.typ)
	return nil
}

// OnReceive implements hub.Consumer
func (n *Number) OnReceive(f opentherm.Frame) { n.receive(f) }

// OnError implements hub.Consumer
func (n *Number) OnError() { n.invalidate() }
