// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"math"
)

// Frame is a single 32-bit OpenTherm message.
//
//	bit  31      parity
//	bits 30..24  message type (bits 28..30) and spare bits
//	bits 23..16  data identity
//	bits 15..0   data value
//
// Frame is a plain value; two frames are equal when all three fields match.
type Frame struct {
	Type uint8
	ID   uint8
	Data uint16
}

// NewFrame creates a frame with the given type and id and zero data.
// Parity is not computed.
func NewFrame(t MessageType, id MessageID) Frame {
	return Frame{Type: uint8(t), ID: uint8(id)}
}

// FrameFromRaw splits a 32-bit word into its fields.
func FrameFromRaw(raw uint32) Frame {
	return Frame{
		Type: uint8(raw >> 24),
		ID:   uint8(raw >> 16),
		Data: uint16(raw),
	}
}

// Raw packs the frame into a 32-bit word.
func (f Frame) Raw() uint32 {
	return uint32(f.Type)<<24 | uint32(f.ID)<<16 | uint32(f.Data)
}

// MessageType returns the type with parity and spare bits stripped.
func (f Frame) MessageType() MessageType {
	return MessageType(f.Type).Masked()
}

// MessageID returns the data identity.
func (f Frame) MessageID() MessageID {
	return MessageID(f.ID)
}

// parity XOR-folds the word down to one bit.
func parity(raw uint32) uint32 {
	raw ^= raw >> 16
	raw ^= raw >> 8
	raw ^= raw >> 4
	raw ^= raw >> 2
	raw ^= raw >> 1
	return raw & 1
}

// CheckParity reports whether the frame has an even number of set bits.
func (f Frame) CheckParity() bool {
	return parity(f.Raw()) == 0
}

// CalcParity sets the parity bit so the frame has even parity.
// Calling it twice leaves the frame unchanged.
func (f *Frame) CalcParity() {
	if parity(f.Raw()) == 1 {
		f.Type ^= ParityMask
	}
}

// Mask extracts length bits of Data starting at position.
func (f Frame) Mask(length, position uint) uint16 {
	return (f.Data >> position) & lowBits(length)
}

// SetMask replaces length bits of Data starting at position.
// Bits of v above length are discarded.
func (f *Frame) SetMask(length, position uint, v uint16) {
	m := lowBits(length) << position
	f.Data = (f.Data &^ m) | ((v << position) & m)
}

func lowBits(length uint) uint16 {
	if length >= 16 {
		return 0xFFFF
	}
	return uint16(1)<<length - 1
}

// Flag returns bit pos of Data.
func (f Frame) Flag(pos uint) bool {
	return f.Mask(1, pos) != 0
}

// SetFlag sets or clears bit pos of Data.
func (f *Frame) SetFlag(pos uint, v bool) {
	var b uint16
	if v {
		b = 1
	}
	f.SetMask(1, pos, b)
}

// U8 returns the unsigned byte at bit position pos (0 = low byte, 8 = high byte).
func (f Frame) U8(pos uint) uint8 {
	return uint8(f.Mask(8, pos))
}

// SetU8 writes an unsigned byte at bit position pos.
func (f *Frame) SetU8(pos uint, v uint8) {
	f.SetMask(8, pos, uint16(v))
}

// S8 returns the two's complement byte at bit position pos.
func (f Frame) S8(pos uint) int8 {
	return int8(f.Mask(8, pos))
}

// SetS8 writes a two's complement byte at bit position pos.
func (f *Frame) SetS8(pos uint, v int8) {
	f.SetMask(8, pos, uint16(uint8(v)))
}

// U16 returns Data as unsigned.
func (f Frame) U16() uint16 {
	return f.Data
}

// SetU16 sets Data.
func (f *Frame) SetU16(v uint16) {
	f.Data = v
}

// S16 returns Data as two's complement.
func (f Frame) S16() int16 {
	return int16(f.Data)
}

// SetS16 sets Data from a signed value.
func (f *Frame) SetS16(v int16) {
	f.Data = uint16(v)
}

// Q78 returns Data as signed fixed point with 8 fractional bits.
func (f Frame) Q78() float64 {
	return float64(f.S16()) / 256
}

// SetQ78 stores v as signed fixed point with 8 fractional bits.
// Values outside [-128, 128) wrap to 16 bits.
func (f *Frame) SetQ78(v float64) {
	f.Data = uint16(int64(math.Round(v * 256)))
}

// String implements fmt.Stringer
func (f Frame) String() string {
	return fmt.Sprintf("type=0x%02X id=0x%02X data=0x%04X", f.Type, f.ID, f.Data)
}
