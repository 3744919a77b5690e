// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

// PulseWriter receives the levels of an outgoing frame.
// Durations are in microseconds.
type PulseWriter interface {
	SetCarrierFrequency(hz uint32)
	Reserve(n int)
	Mark(us uint32)
	Space(us uint32)
	Item(markUs, spaceUs uint32)
}

// PulseSource yields the levels of a captured frame.
//
// An expectation that matches consumes exactly one observed level. An
// expectation that does not match consumes nothing, so the caller may try an
// alternative length against the same level.
type PulseSource interface {
	ExpectMark(us uint32) bool
	ExpectSpace(us uint32) bool
}

// PulseTrain is a buffer of signed durations in microseconds: positive values
// are marks, negative values are spaces. Adjacent levels of the same polarity
// are merged, the way they appear on the wire.
type PulseTrain struct {
	carrier   uint32
	durations []int32
}

// NewPulseTrain returns an empty train.
func NewPulseTrain() *PulseTrain {
	return &PulseTrain{}
}

// SetCarrierFrequency implements PulseWriter
func (p *PulseTrain) SetCarrierFrequency(hz uint32) {
	p.carrier = hz
}

// CarrierFrequency returns the carrier requested by the encoder.
func (p *PulseTrain) CarrierFrequency() uint32 {
	return p.carrier
}

// Reserve implements PulseWriter
func (p *PulseTrain) Reserve(n int) {
	if cap(p.durations)-len(p.durations) >= n {
		return
	}
	grown := make([]int32, len(p.durations), len(p.durations)+n)
	copy(grown, p.durations)
	p.durations = grown
}

// Mark implements PulseWriter
func (p *PulseTrain) Mark(us uint32) {
	p.push(int32(us))
}

// Space implements PulseWriter
func (p *PulseTrain) Space(us uint32) {
	p.push(-int32(us))
}

// Item implements PulseWriter
func (p *PulseTrain) Item(markUs, spaceUs uint32) {
	p.Mark(markUs)
	p.Space(spaceUs)
}

func (p *PulseTrain) push(d int32) {
	if d == 0 {
		return
	}
	if n := len(p.durations); n > 0 && (p.durations[n-1] > 0) == (d > 0) {
		p.durations[n-1] += d
		return
	}
	p.durations = append(p.durations, d)
}

// Durations returns a copy of the signed durations.
func (p *PulseTrain) Durations() []int32 {
	out := make([]int32, len(p.durations))
	copy(out, p.durations)
	return out
}

// Len returns the number of levels in the train.
func (p *PulseTrain) Len() int {
	return len(p.durations)
}

// Reset empties the train and keeps its capacity.
func (p *PulseTrain) Reset() {
	p.durations = p.durations[:0]
	p.carrier = 0
}

// PulseReader walks a captured slice of signed durations.
type PulseReader struct {
	data      []int32
	index     int
	tolerance uint32
}

// NewPulseReader returns a reader over durations accepting a deviation of
// tolerance percent on every level.
func NewPulseReader(durations []int32, tolerance uint32) *PulseReader {
	return &PulseReader{data: durations, tolerance: tolerance}
}

// ExpectMark implements PulseSource
func (r *PulseReader) ExpectMark(us uint32) bool {
	if r.index >= len(r.data) || r.data[r.index] <= 0 {
		return false
	}
	if !r.within(uint32(r.data[r.index]), us) {
		return false
	}
	r.index++
	return true
}

// ExpectSpace implements PulseSource
func (r *PulseReader) ExpectSpace(us uint32) bool {
	if r.index >= len(r.data) || r.data[r.index] >= 0 {
		return false
	}
	if !r.within(uint32(-r.data[r.index]), us) {
		return false
	}
	r.index++
	return true
}

// Remaining returns the number of levels not yet consumed.
func (r *PulseReader) Remaining() int {
	return len(r.data) - r.index
}

// Rewind moves back to the first level.
func (r *PulseReader) Rewind() {
	r.index = 0
}

func (r *PulseReader) within(observed, expected uint32) bool {
	lower := uint64(expected) * uint64(100-min(r.tolerance, 100)) / 100
	upper := uint64(expected) * uint64(100+r.tolerance) / 100
	return uint64(observed) >= lower && uint64(observed) <= upper
}
