// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ============================================================
// Test Helpers
// ============================================================

// frameData stuffs and frames an arbitrary data section
func frameData(data []byte) []byte {
	out := []byte{StartByte}
	out = append(out, stuffBytes(data)...)
	return append(out, EndByte)
}

func decodeAll(t *testing.T, d *Decoder, wire []byte) ([]*Packet, []error) {
	t.Helper()
	var packets []*Packet
	var errs []error
	for _, b := range wire {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}

// ============================================================
// CRC
// ============================================================

func TestCalculateCRC(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"check string", []byte("123456789"), 0x29B1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateCRC(tt.data); got != tt.want {
				t.Errorf("CalculateCRC() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

// ============================================================
// Encode / Decode
// ============================================================

func TestEncodePacket_RoundTrip(t *testing.T) {
	frames := []uint32{0x00000000, 0x10013C00, 0xC0193C80, 0x7E7F7D00, 0xFFFFFFFF}
	for _, raw := range frames {
		f := opentherm.FrameFromRaw(raw)
		want := Packet{Kind: KindCapture, Durations: opentherm.EncodeFrame(f).Durations()}

		wire, err := EncodePacket(want)
		if err != nil {
			t.Fatalf("0x%08X: EncodePacket: %v", raw, err)
		}
		if wire[0] != StartByte || wire[len(wire)-1] != EndByte {
			t.Fatalf("0x%08X: packet not framed", raw)
		}
		inner := wire[1 : len(wire)-1]
		if bytes.IndexByte(inner, StartByte) >= 0 || bytes.IndexByte(inner, EndByte) >= 0 {
			t.Errorf("0x%08X: framing byte inside stuffed body", raw)
		}

		packets, errs := decodeAll(t, NewDecoder(), wire)
		if len(errs) != 0 || len(packets) != 1 {
			t.Fatalf("0x%08X: packets=%d errs=%v", raw, len(packets), errs)
		}
		if !reflect.DeepEqual(*packets[0], want) {
			t.Errorf("0x%08X: decoded %+v, want %+v", raw, *packets[0], want)
		}
	}
}

func TestDecoder_StuffedBytes(t *testing.T) {
	// Durations whose CBOR encoding contains every special byte
	want := Packet{Kind: KindTransmit, Durations: []int32{0x7E, 0x7F, 0x7D, -0x7E}}
	wire, err := EncodePacket(want)
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	if bytes.IndexByte(wire[1:len(wire)-1], EscByte) < 0 {
		t.Fatal("expected escaped bytes in the encoded packet")
	}

	packets, errs := decodeAll(t, NewDecoder(), wire)
	if len(errs) != 0 || len(packets) != 1 || !reflect.DeepEqual(*packets[0], want) {
		t.Errorf("packets=%v errs=%v", packets, errs)
	}
}

func TestDecoder_ResyncsAfterGarbage(t *testing.T) {
	p1, _ := EncodePacket(Packet{Kind: KindCapture, Durations: []int32{500, -500}})
	p2, _ := EncodePacket(Packet{Kind: KindCapture, Durations: []int32{1000}})

	var wire []byte
	wire = append(wire, 0x01, 0x02, EndByte, 0x55)
	wire = append(wire, p1[:4]...) // truncated, restarted by the next START
	wire = append(wire, p1...)
	wire = append(wire, p2...)

	packets, _ := decodeAll(t, NewDecoder(), wire)
	if len(packets) != 2 {
		t.Fatalf("decoded %d packets, want 2", len(packets))
	}
	if !reflect.DeepEqual(packets[1].Durations, []int32{1000}) {
		t.Errorf("second packet durations = %v", packets[1].Durations)
	}
}

func TestDecoder_Errors(t *testing.T) {
	body, err := cbor.Marshal(Packet{Kind: KindCapture, Durations: []int32{500}})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	data := append([]byte{0, byte(len(body))}, body...)
	crc := CalculateCRC(data)

	badCRC := append(append([]byte(nil), data...), byte(crc>>8), byte(crc)^0x01)
	trailing := append(append([]byte(nil), data...), byte(crc>>8), byte(crc), 0x00)
	garbage := []byte{0, 2, 0xFF, 0xFF}
	garbageCRC := CalculateCRC(garbage)
	garbage = append(garbage, byte(garbageCRC>>8), byte(garbageCRC))

	tests := []struct {
		name string
		wire []byte
	}{
		{"CRC mismatch", frameData(badCRC)},
		{"trailing byte", frameData(trailing)},
		{"unexpected END", []byte{StartByte, 0x00, EndByte}},
		{"zero length", []byte{StartByte, 0x00, 0x00}},
		{"length too large", []byte{StartByte, 0x10, 0x00}},
		{"invalid CBOR", frameData(garbage)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packets, errs := decodeAll(t, NewDecoder(), tt.wire)
			if len(packets) != 0 {
				t.Errorf("decoded %d packets, want 0", len(packets))
			}
			if len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
				t.Errorf("errors = %v, want one ErrFraming", errs)
			}
		})
	}
}

func TestEncodePacket_TooLarge(t *testing.T) {
	durations := make([]int32, MaxPayloadSize)
	for i := range durations {
		durations[i] = 100000
	}
	if _, err := EncodePacket(Packet{Kind: KindTransmit, Durations: durations}); err == nil {
		t.Error("expected size error")
	}
}
