// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import "github.com/Thermoquad/heliotherm/pkg/opentherm"

// Consumer is a component bound to one data identity.
//
// All callbacks run on the hub's scheduling context while the hub lock is
// held. A consumer may call Hub.Enqueue from a callback but must not call any
// other Hub method.
type Consumer interface {
	MessageID() opentherm.MessageID
	MessageType() opentherm.MessageType

	// BuildRequest fills in the data field of an outgoing request whose id
	// and type match this consumer.
	BuildRequest(f *opentherm.Frame)

	// OnReceive delivers a valid response carrying this consumer's id.
	OnReceive(f opentherm.Frame)

	// OnError reports that the exchange for this consumer's id failed
	// (no response or a parity error).
	OnError()
}

// Registration is a Consumer assembled from optional callbacks.
// Nil callbacks are skipped.
type Registration struct {
	ID    opentherm.MessageID
	Type  opentherm.MessageType
	Write func(f *opentherm.Frame)
	Read  func(f opentherm.Frame)
	Error func()
}

// MessageID implements Consumer
func (r *Registration) MessageID() opentherm.MessageID { return r.ID }

// MessageType implements Consumer
func (r *Registration) MessageType() opentherm.MessageType { return r.Type }

// BuildRequest implements Consumer
func (r *Registration) BuildRequest(f *opentherm.Frame) {
	if r.Write != nil {
		r.Write(f)
	}
}

// OnReceive implements Consumer
func (r *Registration) OnReceive(f opentherm.Frame) {
	if r.Read != nil {
		r.Read(f)
	}
}

// OnError implements Consumer
func (r *Registration) OnError() {
	if r.Error != nil {
		r.Error()
	}
}
