// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hub schedules OpenTherm exchanges.
//
// The hub owns the request queue and the single in-flight exchange. Each tick
// in the idle state pops one request, lets every matching consumer fill in
// the data, transmits it and then waits for the boiler's response:
//
//	Idle -> PreReceive -> Receiving -> PostReceive -> Idle
//
// PreReceive masks the line while our own transmission echoes back, Receiving
// accepts the response until the receive timeout, and PostReceive enforces
// the settle gap before the next request. A per-exchange max timeout returns
// the hub to Idle if anything stalls.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ErrNoTransmitter is returned by New when Options.Transmitter is nil.
var ErrNoTransmitter = errors.New("hub: transmitter is required")

// State is the scheduler state.
type State int

const (
	Idle State = iota
	PreReceive
	Receiving
	PostReceive
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case PreReceive:
		return "PRE_RECEIVE"
	case Receiving:
		return "RECEIVING"
	case PostReceive:
		return "POST_RECEIVE"
	}
	return "UNKNOWN"
}

// Transmitter sends an encoded request on the line.
type Transmitter interface {
	Transmit(p *opentherm.PulseTrain) error
}

// Timeouts bounds each phase of an exchange.
type Timeouts struct {
	Max        time.Duration
	PreReceive time.Duration
	Receive    time.Duration
	Settle     time.Duration
}

// DefaultTimeouts returns the protocol timing.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Max:        1150 * time.Millisecond,
		PreReceive: 20 * time.Millisecond,
		Receive:    834 * time.Millisecond,
		Settle:     100 * time.Millisecond,
	}
}

// Options configures a Hub.
type Options struct {
	Transmitter  Transmitter
	Logger       zerolog.Logger
	Clock        Clock    // defaults to RealClock
	Timeouts     Timeouts // zero fields take the defaults
	TickInterval time.Duration
}

// Hub is the exchange scheduler. It is safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	state     State
	consumers []Consumer
	current   opentherm.Frame
	sentAt    time.Time
	closed    bool

	queue    *opentherm.Queue
	timers   *timerSet
	tx       Transmitter
	clock    Clock
	timeouts Timeouts
	tick     time.Duration
	logger   zerolog.Logger

	statsMu sync.Mutex
	stats   *opentherm.Statistics

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates a hub in the Idle state.
func New(opts Options) (*Hub, error) {
	if opts.Transmitter == nil {
		return nil, ErrNoTransmitter
	}

	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}

	timeouts := DefaultTimeouts()
	if opts.Timeouts.Max > 0 {
		timeouts.Max = opts.Timeouts.Max
	}
	if opts.Timeouts.PreReceive > 0 {
		timeouts.PreReceive = opts.Timeouts.PreReceive
	}
	if opts.Timeouts.Receive > 0 {
		timeouts.Receive = opts.Timeouts.Receive
	}
	if opts.Timeouts.Settle > 0 {
		timeouts.Settle = opts.Timeouts.Settle
	}

	tick := opts.TickInterval
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}

	h := &Hub{
		state:    Idle,
		queue:    opentherm.NewQueue(),
		tx:       opts.Transmitter,
		clock:    clock,
		timeouts: timeouts,
		tick:     tick,
		logger:   opts.Logger.With().Str("component", "hub").Logger(),
		stats:    opentherm.NewStatistics(),
	}
	h.timers = newTimerSet(&h.mu, clock)
	return h, nil
}

// RegisterConsumer adds c to the dispatch list.
func (h *Hub) RegisterConsumer(c Consumer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consumers = append(h.consumers, c)
}

// AddObserver subscribes o to scheduler events.
func (h *Hub) AddObserver(o Observer) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	h.observers = append(h.observers, o)
}

// Enqueue schedules a request for (t, id). It reports false when an equal
// request is already pending. Enqueue may be called from consumer callbacks.
func (h *Hub) Enqueue(t opentherm.MessageType, id opentherm.MessageID) bool {
	req := opentherm.NewFrame(t.Masked(), id)

	if !h.queue.Enqueue(t, id) {
		h.logger.Debug().
			Str("type", opentherm.FormatMessageType(t)).
			Uint8("id", uint8(id)).
			Msg("Enqueued message is not unique")
		h.updateStats(func(s *opentherm.Statistics) { s.Deduplicated++ })
		h.emit(Event{Kind: EventDeduplicated, Frame: req, Pending: h.queue.Size()})
		return false
	}

	h.logger.Debug().
		Str("type", opentherm.FormatMessageType(t)).
		Uint8("id", uint8(id)).
		Msg("Enqueued message")
	h.emit(Event{Kind: EventEnqueued, Frame: req, Pending: h.queue.Size()})
	return true
}

// Tick runs one scheduling step. It only acts in the Idle state: it clears
// the previous exchange's max timeout and starts the next queued request.
func (h *Hub) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Idle || h.closed {
		return
	}

	h.timers.cancel(timerMax)

	req, ok := h.queue.PopFront()
	if !ok {
		return
	}

	h.state = PreReceive
	h.timers.set(timerMax, h.timeouts.Max, h.onMessageTimeout)

	for _, c := range h.consumers {
		if c.MessageID() == req.MessageID() && c.MessageType().Masked() == req.MessageType() {
			c.BuildRequest(&req)
		}
	}
	req.CalcParity()

	h.current = req
	h.sentAt = h.clock.Now()
	h.updateStats(func(s *opentherm.Statistics) { s.Requests++ })

	h.logger.Debug().
		Uint8("type", req.Type).
		Uint8("id", req.ID).
		Uint16("data", req.Data).
		Msg("Send Opentherm")

	if err := h.tx.Transmit(opentherm.EncodeFrame(req)); err != nil {
		h.logger.Error().Err(err).Uint8("id", req.ID).Msg("Transmit failed")
		h.emit(Event{Kind: EventTransmitError, Frame: req, Err: err})
	} else {
		h.emit(Event{Kind: EventTransmitted, Frame: req, Pending: h.queue.Size()})
	}

	h.timers.set(timerPreReceive, h.timeouts.PreReceive, func() {
		if h.state == PreReceive {
			h.state = Receiving
		}
	})
	h.timers.set(timerReceive, h.timeouts.Receive, func() {
		h.onReceiveTimeout(req)
	})
}

// OnTransportEvent offers a captured pulse sequence to the hub. It reports
// true when the sequence was taken as the response to the in-flight request.
//
// Sequences are ignored outside the Receiving state. Any sequence that
// arrives cancels the receive timeout. One that does not decode leaves the
// hub in Receiving until a valid response or the max timeout.
func (h *Hub) OnTransportEvent(src opentherm.PulseSource) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Receiving {
		return false
	}

	h.timers.cancel(timerReceive)
	resp, err := opentherm.Decode(src)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Discarding undecodable capture")
		h.updateStats(func(s *opentherm.Statistics) { s.DecodeErrors++ })
		h.emit(Event{Kind: EventDecodeError, Err: err})
		return false
	}

	elapsed := h.clock.Now().Sub(h.sentAt)

	h.logger.Debug().
		Uint8("type", resp.Type).
		Uint8("id", resp.ID).
		Uint16("data", resp.Data).
		Msg("Received Opentherm")

	anomalies := opentherm.ValidateResponse(h.current, resp)
	h.updateStats(func(s *opentherm.Statistics) { s.RecordResponse(anomalies) })
	h.emit(Event{Kind: EventReceived, Frame: resp, Elapsed: elapsed})

	switch {
	case !resp.CheckParity():
		h.logger.Warn().Uint32("raw", resp.Raw()).Msg("Invalid parity")
		h.emit(Event{Kind: EventParityError, Frame: resp, Elapsed: elapsed})
		h.dispatchError(resp.MessageID())

	case resp.MessageType() == opentherm.DataInvalid:
		h.logger.Warn().Uint8("id", resp.ID).Msg("Data invalid")
		h.emit(Event{Kind: EventDataInvalid, Frame: resp, Elapsed: elapsed})

	case resp.MessageType() == opentherm.UnknownDataID:
		h.logger.Warn().Uint8("id", resp.ID).Msg("Unknown data id")
		h.emit(Event{Kind: EventUnknownDataID, Frame: resp, Elapsed: elapsed})

	default:
		for _, c := range h.consumers {
			if c.MessageID() == resp.MessageID() {
				c.OnReceive(resp)
			}
		}
	}

	h.state = PostReceive
	h.timers.set(timerSettle, h.timeouts.Settle, func() {
		h.state = Idle
		pending := h.queue.Size()
		h.logger.Debug().Int("remaining", pending).Msg("Message done")
		h.emit(Event{Kind: EventDone, Frame: h.current, Elapsed: h.clock.Now().Sub(h.sentAt), Pending: pending})
	})
	return true
}

// onReceiveTimeout runs with the lock held.
func (h *Hub) onReceiveTimeout(req opentherm.Frame) {
	h.logger.Warn().Uint8("id", req.ID).Msg("Receive timeout")
	h.updateStats(func(s *opentherm.Statistics) { s.Timeouts++ })
	h.emit(Event{Kind: EventReceiveTimeout, Frame: req, Elapsed: h.clock.Now().Sub(h.sentAt)})
	h.dispatchError(req.MessageID())
	h.state = Idle
}

// onMessageTimeout runs with the lock held. It resets the exchange without
// notifying consumers.
func (h *Hub) onMessageTimeout() {
	h.logger.Warn().Uint8("id", h.current.ID).Str("state", h.state.String()).Msg("Message timeout")
	h.timers.cancel(timerPreReceive)
	h.timers.cancel(timerReceive)
	h.timers.cancel(timerSettle)
	h.updateStats(func(s *opentherm.Statistics) { s.MaxTimeouts++ })
	h.emit(Event{Kind: EventMessageTimeout, Frame: h.current, Elapsed: h.clock.Now().Sub(h.sentAt)})
	h.state = Idle
}

func (h *Hub) dispatchError(id opentherm.MessageID) {
	for _, c := range h.consumers {
		if c.MessageID() == id {
			c.OnError()
		}
	}
}

func (h *Hub) emit(e Event) {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	for _, o := range h.observers {
		o.OnEvent(e)
	}
}

func (h *Hub) updateStats(fn func(s *opentherm.Statistics)) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	fn(h.stats)
}

// State returns the current scheduler state.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Pending returns the number of queued requests.
func (h *Hub) Pending() int {
	return h.queue.Size()
}

// Stats returns a snapshot of the exchange statistics.
func (h *Hub) Stats() opentherm.Statistics {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	snapshot := *h.stats
	snapshot.CalculateRates()
	return snapshot
}

// Consumers returns the number of registered consumers.
func (h *Hub) Consumers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// LogConfig logs the registered consumers.
func (h *Hub) LogConfig() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info().
		Int("consumers", len(h.consumers)).
		Dur("max_timeout", h.timeouts.Max).
		Dur("receive_timeout", h.timeouts.Receive).
		Msg("OpenTherm hub")
	for _, c := range h.consumers {
		h.logger.Info().
			Str("type", opentherm.FormatMessageType(c.MessageType())).
			Str("id", opentherm.FormatMessageID(c.MessageID())).
			Msg("Consumer")
	}
}

// Run ticks the hub until ctx is cancelled, then closes it.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	defer h.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Close cancels every timer and stops scheduling. Pending requests are
// dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.timers.cancelAll()
	h.queue.Clear()
	h.state = Idle
}
