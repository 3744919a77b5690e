// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Adapter framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// MaxPayloadSize bounds the CBOR body of one adapter packet.
const MaxPayloadSize = 1024

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Packet kinds
const (
	KindTransmit uint8 = 1 // host -> adapter: drive the line
	KindCapture  uint8 = 2 // adapter -> host: captured line activity
)

// ErrFraming is wrapped by every decoder error.
var ErrFraming = errors.New("adapter framing error")

// Packet is one message exchanged with the pulse adapter. The CBOR body is
// the array [kind, durations].
type Packet struct {
	_         struct{} `cbor:",toarray"`
	Kind      uint8
	Durations []int32
}

// CalculateCRC computes CRC-16-CCITT checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodePacket creates a complete wire-formatted adapter packet: START,
// stuffed [length(2) body crc(2)], END.
func EncodePacket(p Packet) ([]byte, error) {
	body, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR body: %w", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR body too large: %d bytes (max %d)", len(body), MaxPayloadSize)
	}

	data := make([]byte, 0, 2+len(body)+2)
	data = append(data, byte(len(body)>>8), byte(len(body)))
	data = append(data, body...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	packet := make([]byte, 0, len(stuffed)+2)
	packet = append(packet, StartByte)
	packet = append(packet, stuffed...)
	packet = append(packet, EndByte)
	return packet, nil
}

// stuffBytes replaces START, END and ESC with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// Decoder states
const (
	stateIdle = iota
	stateLengthHi
	stateLengthLo
	stateBody
	stateCRC1
	stateCRC2
	stateEnd
)

// Decoder reassembles adapter packets from a byte stream.
type Decoder struct {
	state      int
	escapeNext bool
	length     int
	buffer     []byte
	crc        uint16
}

// NewDecoder creates a new packet decoder
func NewDecoder() *Decoder {
	return &Decoder{buffer: make([]byte, 0, MaxPayloadSize+2)}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.length = 0
	d.buffer = d.buffer[:0]
	d.crc = 0
}

// DecodeByte processes a single byte. It returns a packet once END closes a
// valid frame, nil while a frame is incomplete, and an error wrapping
// ErrFraming when the frame is malformed.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	if d.escapeNext {
		d.escapeNext = false
		return d.accept(b ^ EscXor)
	}

	switch b {
	case EscByte:
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil
	case StartByte:
		d.Reset()
		d.state = stateLengthHi
		return nil, nil
	case EndByte:
		return d.finish()
	}
	return d.accept(b)
}

func (d *Decoder) accept(b byte) (*Packet, error) {
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLengthHi:
		d.length = int(b) << 8
		d.buffer = append(d.buffer, b)
		d.state = stateLengthLo

	case stateLengthLo:
		d.length |= int(b)
		d.buffer = append(d.buffer, b)
		if d.length == 0 || d.length > MaxPayloadSize {
			n := d.length
			d.Reset()
			return nil, fmt.Errorf("%w: invalid length %d (max %d)", ErrFraming, n, MaxPayloadSize)
		}
		d.state = stateBody

	case stateBody:
		d.buffer = append(d.buffer, b)
		if len(d.buffer)-2 >= d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd

	default:
		d.Reset()
		return nil, fmt.Errorf("%w: trailing byte before END", ErrFraming)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Packet, error) {
	if d.state == stateIdle {
		return nil, nil
	}
	defer d.Reset()

	if d.state != stateEnd {
		return nil, fmt.Errorf("%w: unexpected END in state %d", ErrFraming, d.state)
	}
	if calc := CalculateCRC(d.buffer); calc != d.crc {
		return nil, fmt.Errorf("%w: CRC mismatch: expected 0x%04X, got 0x%04X", ErrFraming, calc, d.crc)
	}

	var p Packet
	if err := cbor.Unmarshal(d.buffer[2:], &p); err != nil {
		return nil, fmt.Errorf("%w: decoding CBOR body: %v", ErrFraming, err)
	}
	return &p, nil
}
