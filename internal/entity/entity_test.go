// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package entity

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ============================================================
// Test Helpers
// ============================================================

type enqueued struct {
	t  opentherm.MessageType
	id opentherm.MessageID
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []enqueued
}

func (r *recordingEnqueuer) Enqueue(t opentherm.MessageType, id opentherm.MessageID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, enqueued{t, id})
	return true
}

func (r *recordingEnqueuer) snapshot() []enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]enqueued(nil), r.calls...)
}

type recordingPublisher struct {
	states []State
}

func (r *recordingPublisher) Publish(s State) {
	r.states = append(r.states, s)
}

func accessor(t *testing.T, s string) *opentherm.Accessor {
	t.Helper()
	a, err := opentherm.ParseAccessor(s)
	if err != nil {
		t.Fatalf("ParseAccessor(%q): %v", s, err)
	}
	return &a
}

func testOptions(enq Enqueuer, id opentherm.MessageID, typ opentherm.MessageType) Options {
	return Options{
		Name:     "test",
		ID:       id,
		Type:     typ,
		Enqueuer: enq,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func response(t opentherm.MessageType, id opentherm.MessageID, data uint16) opentherm.Frame {
	f := opentherm.Frame{Type: uint8(t), ID: uint8(id), Data: data}
	f.CalcParity()
	return f
}

// ============================================================
// Sensor
// ============================================================

func TestSensor_ReceivePublishes(t *testing.T) {
	enq := &recordingEnqueuer{}
	opts := testOptions(enq, opentherm.FeedTemp, opentherm.ReadData)
	opts.Read = accessor(t, "q7_8")

	s := NewSensor(opts, 0)
	pub := &recordingPublisher{}
	s.Subscribe(pub)

	if s.UpdateInterval() != DefaultUpdateInterval {
		t.Errorf("UpdateInterval() = %v, want %v", s.UpdateInterval(), DefaultUpdateInterval)
	}

	s.Update()
	if got := enq.snapshot(); len(got) != 1 || got[0] != (enqueued{opentherm.ReadData, opentherm.FeedTemp}) {
		t.Fatalf("Update enqueued %v", got)
	}

	s.OnReceive(response(opentherm.ReadAck, opentherm.FeedTemp, 0x3C80))
	st := s.State()
	if !st.Valid || st.Value != 60.5 {
		t.Errorf("State() = %+v, want valid 60.5", st)
	}
	if len(pub.states) != 1 || pub.states[0].Value != 60.5 {
		t.Errorf("published %v", pub.states)
	}
}

func TestSensor_ErrorClearsState(t *testing.T) {
	opts := testOptions(nil, opentherm.FeedTemp, opentherm.ReadData)
	opts.Read = accessor(t, "q7_8")
	s := NewSensor(opts, time.Second)
	pub := &recordingPublisher{}
	s.Subscribe(pub)

	s.OnReceive(response(opentherm.ReadAck, opentherm.FeedTemp, 0x2800))
	s.OnError()
	if s.HasState() {
		t.Error("state still valid after OnError")
	}
	if len(pub.states) != 2 || pub.states[1].Valid {
		t.Errorf("published %v, want valid then invalid", pub.states)
	}

	// A second error is not republished
	s.OnError()
	if len(pub.states) != 2 {
		t.Errorf("repeated error published again: %v", pub.states)
	}
}

func TestSensor_IDMismatchClearsState(t *testing.T) {
	opts := testOptions(nil, opentherm.FeedTemp, opentherm.ReadData)
	opts.Read = accessor(t, "q7_8")
	s := NewSensor(opts, 0)

	s.OnReceive(response(opentherm.ReadAck, opentherm.FeedTemp, 0x2800))
	s.OnReceive(response(opentherm.ReadAck, opentherm.ReturnWaterTemp, 0x2800))
	if s.HasState() {
		t.Error("state still valid after id mismatch")
	}
}

func TestSensor_NoReadAccessor(t *testing.T) {
	s := NewSensor(testOptions(nil, opentherm.FeedTemp, opentherm.ReadData), 0)
	s.OnReceive(response(opentherm.ReadAck, opentherm.FeedTemp, 0x2800))
	if s.HasState() {
		t.Error("sensor without read accessor holds a state")
	}
}

func TestBinarySensor_Flag(t *testing.T) {
	opts := testOptions(nil, opentherm.Status, opentherm.ReadData)
	opts.Read = accessor(t, "flag3_lb")
	s := NewBinarySensor(opts, 0)

	tests := []struct {
		data uint16
		want bool
	}{
		{0x0008, true},
		{0x0000, false},
		{0xFFF7, false},
	}
	for _, tt := range tests {
		s.OnReceive(response(opentherm.ReadAck, opentherm.Status, tt.data))
		st := s.State()
		if !st.Valid || st.Bool() != tt.want {
			t.Errorf("data 0x%04X: state %+v, want %v", tt.data, st, tt.want)
		}
	}
}

// ============================================================
// Switch
// ============================================================

func TestSwitch_SetPublishesThenEnqueues(t *testing.T) {
	enq := &recordingEnqueuer{}
	opts := testOptions(enq, opentherm.Status, opentherm.ReadData)
	opts.Write = accessor(t, "flag0_hb")

	var order []string
	sw := NewSwitch(opts)
	sw.Subscribe(PublisherFunc(func(s State) {
		order = append(order, "publish")
		if len(enq.snapshot()) != 0 {
			t.Error("enqueued before publishing")
		}
	}))

	if err := sw.Set(1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(order) != 1 {
		t.Fatalf("published %d times, want 1", len(order))
	}
	if got := enq.snapshot(); len(got) != 1 || got[0].id != opentherm.Status {
		t.Fatalf("enqueued %v", got)
	}

	f := opentherm.NewFrame(opentherm.ReadData, opentherm.Status)
	sw.BuildRequest(&f)
	if f.Data != 0x0100 {
		t.Errorf("BuildRequest data = 0x%04X, want 0x0100", f.Data)
	}
	if !sw.AssumedState() {
		t.Error("switch without read accessor should report assumed state")
	}
}

func TestSwitch_ErrorKeepsState(t *testing.T) {
	sw := NewSwitch(testOptions(nil, opentherm.Status, opentherm.ReadData))
	_ = sw.Set(1)
	sw.OnError()
	sw.OnReceive(response(opentherm.ReadAck, opentherm.FeedTemp, 0))
	if st := sw.State(); !st.Valid || !st.Bool() {
		t.Errorf("State() = %+v, want assumed on", st)
	}
}

func TestSwitch_ReadBack(t *testing.T) {
	opts := testOptions(nil, opentherm.Status, opentherm.ReadData)
	opts.Read = accessor(t, "flag0_hb")
	opts.Write = accessor(t, "flag0_hb")
	sw := NewSwitch(opts)

	_ = sw.Set(1)
	sw.OnReceive(response(opentherm.ReadAck, opentherm.Status, 0x0000))
	if sw.State().Bool() {
		t.Error("read back off, state still on")
	}
}

// ============================================================
// Number
// ============================================================

func TestNumber_StartReads(t *testing.T) {
	enq := &recordingEnqueuer{}
	n := NewNumber(testOptions(enq, opentherm.CHSetpoint, opentherm.WriteData), 0, 100)
	n.Start()
	if got := enq.snapshot(); len(got) != 1 || got[0] != (enqueued{opentherm.ReadData, opentherm.CHSetpoint}) {
		t.Errorf("Start enqueued %v", got)
	}
}

func TestNumber_SetWritesSetpoint(t *testing.T) {
	enq := &recordingEnqueuer{}
	opts := testOptions(enq, opentherm.CHSetpoint, opentherm.WriteData)
	opts.Read = accessor(t, "q7_8")
	opts.Write = accessor(t, "q7_8")
	n := NewNumber(opts, 20, 80)

	if err := n.Set(60); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := enq.snapshot(); len(got) != 1 || got[0] != (enqueued{opentherm.WriteData, opentherm.CHSetpoint}) {
		t.Fatalf("Set enqueued %v", got)
	}

	f := opentherm.NewFrame(opentherm.WriteData, opentherm.CHSetpoint)
	n.BuildRequest(&f)
	f.CalcParity()
	if f.Raw() != 0x10013C00 {
		t.Errorf("request raw = 0x%08X, want 0x10013C00", f.Raw())
	}
}

func TestNumber_RejectsOutOfRange(t *testing.T) {
	enq := &recordingEnqueuer{}
	n := NewNumber(testOptions(enq, opentherm.CHSetpoint, opentherm.WriteData), 20, 80)

	for _, v := range []float64{19.9, 80.1, math.NaN()} {
		if err := n.Set(v); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Set(%v) error = %v, want ErrOutOfRange", v, err)
		}
	}
	if len(enq.snapshot()) != 0 {
		t.Error("rejected values were enqueued")
	}
}

func TestNumber_ErrorClearsState(t *testing.T) {
	opts := testOptions(nil, opentherm.CHSetpoint, opentherm.WriteData)
	opts.Read = accessor(t, "q7_8")
	n := NewNumber(opts, math.Inf(-1), math.Inf(1))
	n.OnReceive(response(opentherm.WriteAck, opentherm.CHSetpoint, 0x3C00))
	if !n.HasState() {
		t.Fatal("no state after receive")
	}
	n.OnError()
	if n.HasState() {
		t.Error("state still valid after OnError")
	}
}

// ============================================================
// Configuration and registry
// ============================================================

func TestFromConfig(t *testing.T) {
	lo, hi, initial := 20.0, 80.0, 45.0
	cfgs := []config.EntityConfig{
		{Name: "boiler_temp", Kind: config.KindSensor, MessageID: "FEED_TEMP", Read: "q7_8"},
		{Name: "flame", Kind: config.KindBinarySensor, MessageID: "STATUS", Read: "flag3_lb"},
		{Name: "ch_enable", Kind: config.KindSwitch, MessageID: "STATUS", MessageType: "READ_DATA", Write: "flag0_hb"},
		{Name: "ch_setpoint", Kind: config.KindNumber, MessageID: "1", Read: "q7_8", Write: "q7_8", Min: &lo, Max: &hi, Initial: &initial},
	}

	enq := &recordingEnqueuer{}
	reg, err := Build(cfgs, enq, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if reg.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", reg.Len())
	}

	tests := []struct {
		name string
		kind Kind
		typ  opentherm.MessageType
		id   opentherm.MessageID
	}{
		{"boiler_temp", KindSensor, opentherm.ReadData, opentherm.FeedTemp},
		{"flame", KindBinarySensor, opentherm.ReadData, opentherm.Status},
		{"ch_enable", KindSwitch, opentherm.ReadData, opentherm.Status},
		{"ch_setpoint", KindNumber, opentherm.WriteData, opentherm.CHSetpoint},
	}
	for _, tt := range tests {
		e, err := reg.Get(tt.name)
		if err != nil {
			t.Errorf("Get(%q): %v", tt.name, err)
			continue
		}
		if e.Kind() != tt.kind || e.MessageType() != tt.typ || e.MessageID() != tt.id {
			t.Errorf("%s: kind=%s type=%s id=%s", tt.name, e.Kind(), e.MessageType(), e.MessageID())
		}
	}

	// Initial values are written but not published
	num, _ := reg.Get("ch_setpoint")
	if num.State().Valid {
		t.Error("initial value marked valid")
	}
	f := opentherm.NewFrame(opentherm.WriteData, opentherm.CHSetpoint)
	num.BuildRequest(&f)
	if f.Q78() != 45 {
		t.Errorf("initial request value = %v, want 45", f.Q78())
	}
	if len(enq.snapshot()) != 0 {
		t.Error("construction enqueued requests")
	}
}

func TestRegistry_Set(t *testing.T) {
	reg, err := Build([]config.EntityConfig{
		{Name: "boiler_temp", Kind: config.KindSensor, MessageID: "FEED_TEMP", Read: "q7_8"},
		{Name: "ch_enable", Kind: config.KindSwitch, MessageID: "STATUS", Write: "flag0_hb"},
	}, &recordingEnqueuer{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := reg.Set("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Set(missing) = %v, want ErrNotFound", err)
	}
	if err := reg.Set("boiler_temp", 1); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Set(sensor) = %v, want ErrReadOnly", err)
	}
	if err := reg.Set("ch_enable", 1); err != nil {
		t.Errorf("Set(switch) = %v", err)
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	_, err := Build([]config.EntityConfig{
		{Name: "a", Kind: config.KindSensor, MessageID: "FEED_TEMP", Read: "q7_8"},
		{Name: "a", Kind: config.KindSensor, MessageID: "RETURN_WATER_TEMP", Read: "q7_8"},
	}, nil, zerolog.Nop())
	if err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestRegistry_StartPollsAndStarts(t *testing.T) {
	enq := &recordingEnqueuer{}
	reg, err := Build([]config.EntityConfig{
		{Name: "boiler_temp", Kind: config.KindSensor, MessageID: "FEED_TEMP", Read: "q7_8",
			UpdateInterval: config.Duration{Duration: time.Hour}},
		{Name: "ch_setpoint", Kind: config.KindNumber, MessageID: "CH_SETPOINT", Write: "q7_8"},
	}, enq, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(enq.snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("enqueued %v, want 2 requests", enq.snapshot())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	got := enq.snapshot()
	want := map[enqueued]bool{
		{opentherm.ReadData, opentherm.FeedTemp}: true,
		{opentherm.ReadData, opentherm.CHSetpoint}:    true,
	}
	for _, e := range got {
		if !want[e] {
			t.Errorf("unexpected request %v", e)
		}
	}
}
