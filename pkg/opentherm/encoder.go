// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

// Encode writes f to dst as a start bit, 32 Manchester-coded data bits
// (most significant first) and a stop bit. A one is sent as mark then space,
// a zero as space then mark. Parity is sent as stored in f.
func Encode(dst PulseWriter, f Frame) {
	value := f.Raw()

	dst.SetCarrierFrequency(CarrierFrequency)
	dst.Reserve(PulseCount)

	// Start bit
	dst.Item(BitTimeUs, BitTimeUs)

	for mask := uint32(1) << (NBits - 1); mask != 0; mask >>= 1 {
		if value&mask != 0 {
			dst.Mark(BitTimeUs)
			dst.Space(BitTimeUs)
		} else {
			dst.Space(BitTimeUs)
			dst.Mark(BitTimeUs)
		}
	}

	// Stop bit
	dst.Item(BitTimeUs, BitTimeUs)
}

// EncodeFrame returns f as a new pulse train.
func EncodeFrame(f Frame) *PulseTrain {
	p := NewPulseTrain()
	Encode(p, f)
	return p
}
