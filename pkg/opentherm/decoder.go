// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"errors"
	"fmt"
)

// ErrDecode is returned when a pulse sequence is not a well-formed frame.
var ErrDecode = errors.New("opentherm: malformed pulse sequence")

// Decoder states
const (
	stateTransition = iota
	stateZero
	stateOne
)

// Decode reads one frame from src.
//
// The walk follows the Manchester grammar: after the start bit every level is
// either one bit time (a transition inside the current bit) or two bit times
// (the level spans the boundary into the next bit). When the last data bit
// leaves the walk between levels, the stop mark must follow. Any trailing
// space is ignored. Parity is not checked.
func Decode(src PulseSource) (Frame, error) {
	var raw uint32
	mask := uint32(1) << (NBits - 1)

	if !src.ExpectMark(BitTimeUs) {
		return Frame{}, fmt.Errorf("%w: missing start mark", ErrDecode)
	}

	var state int
	switch {
	case src.ExpectSpace(BitTimeUs):
		state = stateTransition
	case src.ExpectSpace(2 * BitTimeUs):
		state = stateZero
	default:
		return Frame{}, fmt.Errorf("%w: missing start space", ErrDecode)
	}

	for mask != 0 {
		switch state {
		case stateTransition:
			switch {
			case src.ExpectSpace(BitTimeUs):
				state = stateZero
			case src.ExpectMark(BitTimeUs):
				state = stateOne
			default:
				return Frame{}, fmt.Errorf("%w: no level at bit %d", ErrDecode, bitIndex(mask))
			}

		case stateZero:
			raw &^= mask
			mask >>= 1
			switch {
			case src.ExpectMark(BitTimeUs):
				state = stateTransition
			case src.ExpectMark(2 * BitTimeUs):
				state = stateOne
			default:
				return Frame{}, fmt.Errorf("%w: bad mark after zero at bit %d", ErrDecode, bitIndex(mask))
			}

		case stateOne:
			raw |= mask
			mask >>= 1
			switch {
			case src.ExpectSpace(BitTimeUs):
				state = stateTransition
			case src.ExpectSpace(2 * BitTimeUs):
				state = stateZero
			default:
				return Frame{}, fmt.Errorf("%w: bad space after one at bit %d", ErrDecode, bitIndex(mask))
			}
		}
	}

	if state == stateTransition && !src.ExpectMark(BitTimeUs) {
		return Frame{}, fmt.Errorf("%w: missing stop mark", ErrDecode)
	}

	return FrameFromRaw(raw), nil
}

// DecodeDurations decodes a captured slice of signed durations.
func DecodeDurations(durations []int32, tolerance uint32) (Frame, error) {
	return Decode(NewPulseReader(durations, tolerance))
}

// bitIndex returns the number of data bits already consumed for a mask.
func bitIndex(mask uint32) int {
	n := 0
	for m := uint32(1) << (NBits - 1); m != 0 && m != mask; m >>= 1 {
		n++
	}
	return n
}
