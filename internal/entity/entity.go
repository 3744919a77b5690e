// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package entity implements the consumers bound to OpenTherm data ids:
// sensors, binary sensors, switches and numbers.
//
// Each entity owns one data identity, fills in the data field of its own
// requests and interprets the matching responses through a pair of
// accessors. State changes are fanned out to StatePublishers.
package entity

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var (
	// ErrReadOnly is returned when setting a value on a sensor.
	ErrReadOnly = errors.New("entity is read-only")
	// ErrOutOfRange is returned when a number is set outside min/max.
	ErrOutOfRange = errors.New("value out of range")
)

// Kind identifies the entity flavor.
type Kind string

// Entity kinds
const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindSwitch       Kind = "switch"
	KindNumber       Kind = "number"
)

// State is a published entity value. Valid is false once an exchange for
// the entity failed and no newer value has arrived.
type State struct {
	Name      string                `json:"name"`
	Kind      Kind                  `json:"kind"`
	ID        opentherm.MessageID   `json:"message_id"`
	Type      opentherm.MessageType `json:"message_type"`
	Value     float64               `json:"value"`
	Valid     bool                  `json:"valid"`
	Timestamp time.Time             `json:"timestamp"`
}

// Bool reports the value as a boolean.
func (s State) Bool() bool {
	return s.Value != 0
}

// StatePublisher receives entity state changes. Publish is called while the
// hub lock is held and must not block.
type StatePublisher interface {
	Publish(s State)
}

// PublisherFunc adapts a function to StatePublisher.
type PublisherFunc func(s State)

// Publish implements StatePublisher
func (f PublisherFunc) Publish(s State) { f(s) }

// Enqueuer schedules a request. *hub.Hub satisfies it.
type Enqueuer interface {
	Enqueue(t opentherm.MessageType, id opentherm.MessageID) bool
}

// Entity is a hub consumer with a name and an observable state.
type Entity interface {
	hub.Consumer

	Name() string
	Kind() Kind
	State() State
	Subscribe(p StatePublisher)
}

// Controllable entities accept writes from the outside.
type Controllable interface {
	Entity
	Set(v float64) error
}

// Polled entities are refreshed on a fixed interval.
type Polled interface {
	Entity
	Update()
	UpdateInterval() time.Duration
}

// Starter entities enqueue an initial request when the gateway starts.
type Starter interface {
	Start()
}

// Options are shared by every entity constructor.
type Options struct {
	Name  string
	ID    opentherm.MessageID
	Type  opentherm.MessageType
	Read  *opentherm.Accessor
	Write *opentherm.Accessor

	Enqueuer Enqueuer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// base holds the state every entity kind shares.
type base struct {
	name  string
	kind  Kind
	id    opentherm.MessageID
	typ   opentherm.MessageType
	read  *opentherm.Accessor
	write *opentherm.Accessor

	enq    Enqueuer
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	value      float64
	has        bool
	updated    time.Time
	publishers []StatePublisher
}

func (b *base) init(kind Kind, opts Options) {
	b.now = opts.Now
	if b.now == nil {
		b.now = time.Now
	}
	b.name = opts.Name
	b.kind = kind
	b.id = opts.ID
	b.typ = opts.Type
	b.read = opts.Read
	b.write = opts.Write
	b.enq = opts.Enqueuer
	b.logger = opts.Logger.With().Str("entity", opts.Name).Logger()
}

// preset stores an initial value without marking it valid or notifying.
func (b *base) preset(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
}

// Name returns the configured entity name.
func (b *base) Name() string { return b.name }

// Kind returns the entity flavor.
func (b *base) Kind() Kind { return b.kind }

// MessageID implements hub.Consumer
func (b *base) MessageID() opentherm.MessageID { return b.id }

// MessageType implements hub.Consumer
func (b *base) MessageType() opentherm.MessageType { return b.typ }

// Subscribe adds a state sink.
func (b *base) Subscribe(p StatePublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers = append(b.publishers, p)
}

// State returns a snapshot of the current state.
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

// HasState reports whether the entity holds a valid value.
func (b *base) HasState() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.has
}

// Accessors returns the read and write accessors, either may be nil.
func (b *base) Accessors() (read, write *opentherm.Accessor) {
	return b.read, b.write
}

// BuildRequest implements hub.Consumer. The current value is written into
// the request when the entity has a write accessor.
func (b *base) BuildRequest(f *opentherm.Frame) {
	if b.write == nil {
		return
	}
	b.mu.Lock()
	v := b.value
	b.mu.Unlock()
	b.write.Write(f, v)
}

func (b *base) snapshot() State {
	return State{
		Name:      b.name,
		Kind:      b.kind,
		ID:        b.id,
		Type:      b.typ,
		Value:     b.value,
		Valid:     b.has,
		Timestamp: b.updated,
	}
}

// publish stores v as the current value and notifies the sinks.
func (b *base) publish(v float64) {
	b.mu.Lock()
	b.value = v
	b.has = true
	b.updated = b.now()
	s := b.snapshot()
	pubs := append([]StatePublisher(nil), b.publishers...)
	b.mu.Unlock()

	b.logger.Debug().Float64("value", v).Msg("Publishing state")
	for _, p := range pubs {
		p.Publish(s)
	}
}

// invalidate drops the current value. Sinks are told only on a transition
// from valid to invalid.
func (b *base) invalidate() {
	b.mu.Lock()
	was := b.has
	b.has = false
	b.updated = b.now()
	s := b.snapshot()
	pubs := append([]StatePublisher(nil), b.publishers...)
	b.mu.Unlock()

	if !was {
		return
	}
	for _, p := range pubs {
		p.Publish(s)
	}
}

// receive is the common response path: the id is checked, then the value is
// read and published. Without a read accessor the state is cleared.
func (b *base) receive(f opentherm.Frame) {
	if f.MessageID() != b.id {
		b.logger.Info().
			Uint8("expected", uint8(b.id)).
			Uint8("got", f.ID).
			Msg("Invalid message id")
		b.invalidate()
		return
	}
	if b.read == nil {
		b.invalidate()
		return
	}
	b.publish(b.read.Read(f))
}

// enqueue schedules the entity's own request.
func (b *base) enqueue(t opentherm.MessageType) {
	if b.enq == nil {
		return
	}
	b.enq.Enqueue(t, b.id)
}
