// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hub

import (
	"time"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// EventKind identifies a scheduler event.
type EventKind int

const (
	EventEnqueued EventKind = iota
	EventDeduplicated
	EventTransmitted
	EventTransmitError
	EventReceived
	EventDecodeError
	EventParityError
	EventDataInvalid
	EventUnknownDataID
	EventReceiveTimeout
	EventMessageTimeout
	EventDone
)

var eventNames = map[EventKind]string{
	EventEnqueued:       "enqueued",
	EventDeduplicated:   "deduplicated",
	EventTransmitted:    "transmitted",
	EventTransmitError:  "transmit_error",
	EventReceived:       "received",
	EventDecodeError:    "decode_error",
	EventParityError:    "parity_error",
	EventDataInvalid:    "data_invalid",
	EventUnknownDataID:  "unknown_data_id",
	EventReceiveTimeout: "receive_timeout",
	EventMessageTimeout: "message_timeout",
	EventDone:           "done",
}

// String implements fmt.Stringer
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event describes one step of the scheduler.
//
// Frame is the request for enqueue, transmit and timeout events and the
// response for receive events. Elapsed is the time since transmission and is
// set for receive, timeout and done events.
type Event struct {
	Kind    EventKind
	Frame   opentherm.Frame
	Elapsed time.Duration
	Pending int
	Err     error
}

// Observer receives scheduler events. OnEvent may be called from several
// goroutines and, for exchange events, while the hub lock is held, so it
// must not block or call back into the hub.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// OnEvent implements Observer
func (f ObserverFunc) OnEvent(e Event) { f(e) }
