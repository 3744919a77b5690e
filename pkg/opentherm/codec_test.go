// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"errors"
	"testing"
)

// ============================================================
// Encoder Tests
// ============================================================

// recordingWriter keeps every call without merging levels
type recordingWriter struct {
	carrier  uint32
	reserved int
	levels   []int32
}

func (w *recordingWriter) SetCarrierFrequency(hz uint32) { w.carrier = hz }
func (w *recordingWriter) Reserve(n int)                 { w.reserved = n }
func (w *recordingWriter) Mark(us uint32)                { w.levels = append(w.levels, int32(us)) }
func (w *recordingWriter) Space(us uint32)               { w.levels = append(w.levels, -int32(us)) }

func (w *recordingWriter) Item(m, s uint32) {
	w.Mark(m)
	w.Space(s)
}

func TestEncode_Layout(t *testing.T) {
	w := &recordingWriter{}
	Encode(w, FrameFromRaw(0x80000001))

	if w.carrier != 2000 {
		t.Errorf("carrier = %d, want 2000", w.carrier)
	}
	if w.reserved != 68 {
		t.Errorf("reserved = %d, want 68", w.reserved)
	}
	if len(w.levels) != 68 {
		t.Fatalf("level count = %d, want 68", len(w.levels))
	}

	// start bit
	if w.levels[0] != 500 || w.levels[1] != -500 {
		t.Errorf("start bit = %v", w.levels[:2])
	}
	// bit 31 is one: mark then space
	if w.levels[2] != 500 || w.levels[3] != -500 {
		t.Errorf("msb = %v, want [500 -500]", w.levels[2:4])
	}
	// bit 30 is zero: space then mark
	if w.levels[4] != -500 || w.levels[5] != 500 {
		t.Errorf("bit 30 = %v, want [-500 500]", w.levels[4:6])
	}
	// stop bit
	if w.levels[66] != 500 || w.levels[67] != -500 {
		t.Errorf("stop bit = %v", w.levels[66:])
	}
}

func TestPulseTrain_Coalesces(t *testing.T) {
	p := NewPulseTrain()
	p.Mark(500)
	p.Mark(500)
	p.Space(500)
	p.Space(500)
	p.Mark(500)

	got := p.Durations()
	want := []int32{1000, -1000, 500}
	if len(got) != len(want) {
		t.Fatalf("Durations() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Durations()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodeFrame_AllZeroLevels(t *testing.T) {
	// start mark, then start space merges with the first zero's space
	p := EncodeFrame(Frame{})
	d := p.Durations()
	if d[0] != 500 || d[1] != -1000 {
		t.Errorf("leading levels = %v, want [500 -1000 ...]", d[:2])
	}
	// last zero's mark merges with the stop mark
	if d[len(d)-2] != 1000 || d[len(d)-1] != -500 {
		t.Errorf("trailing levels = %v, want [... 1000 -500]", d[len(d)-2:])
	}
	if p.CarrierFrequency() != CarrierFrequency {
		t.Errorf("carrier = %d", p.CarrierFrequency())
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecode_RoundTrip(t *testing.T) {
	raws := []uint32{
		0x00000000,
		0xFFFFFFFF,
		0x80010000,
		0x10013C00,
		0xC0181580,
		0xAAAAAAAA,
		0x55555555,
		0x00000001,
		0x80000000,
	}

	for _, raw := range raws {
		p := EncodeFrame(FrameFromRaw(raw))
		got, err := DecodeDurations(p.Durations(), DefaultTolerance)
		if err != nil {
			t.Errorf("0x%08X: Decode error: %v", raw, err)
			continue
		}
		if got.Raw() != raw {
			t.Errorf("round trip 0x%08X -> 0x%08X", raw, got.Raw())
		}
	}
}

func TestDecode_ToleratesJitter(t *testing.T) {
	p := EncodeFrame(FrameFromRaw(0x40190F00))
	d := p.Durations()
	for i := range d {
		// stretch every level by 20%
		d[i] = d[i] * 6 / 5
	}
	got, err := DecodeDurations(d, DefaultTolerance)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if got.Raw() != 0x40190F00 {
		t.Errorf("got 0x%08X", got.Raw())
	}
}

func TestDecode_TrailingSpaceOptional(t *testing.T) {
	d := EncodeFrame(FrameFromRaw(0x10013C00)).Durations()
	got, err := DecodeDurations(d[:len(d)-1], DefaultTolerance)
	if err != nil {
		t.Fatalf("Decode without trailing space: %v", err)
	}
	if got.Raw() != 0x10013C00 {
		t.Errorf("got 0x%08X", got.Raw())
	}
}

func TestDecode_Malformed(t *testing.T) {
	good := EncodeFrame(FrameFromRaw(0x10013C00)).Durations()
	endsInOne := EncodeFrame(FrameFromRaw(0x00000001)).Durations()

	tests := []struct {
		name      string
		durations []int32
	}{
		{"empty", nil},
		{"starts with space", []int32{-500, 500}},
		{"start mark too long", append([]int32{900}, good[1:]...)},
		{"start space too long", append([]int32{500, -1600}, good[2:]...)},
		{"truncated", good[:20]},
		{"level out of tolerance", replaceAt(good, 10, 700)},
		{"missing stop mark", endsInOne[:len(endsInOne)-2]},
		{"missing final mark", good[:len(good)-2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeDurations(tt.durations, DefaultTolerance)
			if err == nil {
				t.Fatalf("expected error, got frame %s", f)
			}
			if !errors.Is(err, ErrDecode) {
				t.Errorf("error %v is not ErrDecode", err)
			}
			if f != (Frame{}) {
				t.Errorf("partial frame returned: %s", f)
			}
		})
	}
}

// replaceAt copies d and sets index i to v keeping the level polarity
func replaceAt(d []int32, i int, v int32) []int32 {
	out := make([]int32, len(d))
	copy(out, d)
	if out[i] < 0 {
		v = -v
	}
	out[i] = v
	return out
}

func TestPulseReader_FailedExpectationConsumesNothing(t *testing.T) {
	r := NewPulseReader([]int32{1000, -500}, DefaultTolerance)
	if r.ExpectMark(500) {
		t.Fatal("ExpectMark(500) matched 1000")
	}
	if r.ExpectSpace(500) {
		t.Fatal("ExpectSpace matched a mark")
	}
	if r.Remaining() != 2 {
		t.Fatalf("Remaining() = %d after failed expectations", r.Remaining())
	}
	if !r.ExpectMark(1000) || !r.ExpectSpace(500) {
		t.Fatal("expected levels did not match")
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestPulseReader_ToleranceBounds(t *testing.T) {
	tests := []struct {
		observed int32
		want     bool
	}{
		{375, true},
		{625, true},
		{374, false},
		{626, false},
	}
	for _, tt := range tests {
		r := NewPulseReader([]int32{tt.observed}, 25)
		if got := r.ExpectMark(500); got != tt.want {
			t.Errorf("ExpectMark(500) on %d = %v, want %v", tt.observed, got, tt.want)
		}
	}
}
