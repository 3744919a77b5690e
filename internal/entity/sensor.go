// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package entity

import (
	"time"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// DefaultUpdateInterval is used by polled entities without an interval.
const DefaultUpdateInterval = 30 * time.Second

// Sensor is a polled numeric reading.
type Sensor struct {
	base
	interval time.Duration
}

// NewSensor creates a sensor. A zero interval selects DefaultUpdateInterval.
func NewSensor(opts Options, interval time.Duration) *Sensor {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	s := &Sensor{interval: interval}
	s.init(KindSensor, opts)
	return s
}

// Update enqueues the sensor's request.
func (s *Sensor) Update() { s.enqueue(s.typ) }

// UpdateInterval returns the polling period.
func (s *Sensor) UpdateInterval() time.Duration { return s.interval }

// OnReceive implements hub.Consumer
func (s *Sensor) OnReceive(f opentherm.Frame) { s.receive(f) }

// OnError implements hub.Consumer
func (s *Sensor) OnError() { s.invalidate() }

// BinarySensor is a polled on/off reading, usually one status flag.
type BinarySensor struct {
	base
	interval time.Duration
}

// NewBinarySensor creates a binary sensor.
func NewBinarySensor(opts Options, interval time.Duration) *BinarySensor {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	s := &BinarySensor{interval: interval}
	s.init(KindBinarySensor, opts)
	return s
}

// Update enqueues the binary sensor's request.
func (s *BinarySensor) Update() { s.enqueue(s.typ) }

// UpdateInterval returns the polling period.
func (s *BinarySensor) UpdateInterval() time.Duration { return s.interval }

// OnReceive implements hub.Consumer
func (s *BinarySensor) OnReceive(f opentherm.Frame) {
	if f.MessageID() != s.id || s.read == nil {
		s.receive(f)
		return
	}
	if s.read.ReadBool(f) {
		s.publish(1)
	} else {
		s.publish(0)
	}
}

// OnError implements hub.Consumer
func (s *BinarySensor) OnError() { s.invalidate() }
