// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"strconv"
	"strings"
)

// AccessorKind selects how a value is laid out in the data field.
type AccessorKind uint8

const (
	AccessFlag AccessorKind = iota
	AccessU8
	AccessS8
	AccessU16
	AccessS16
	AccessQ78
	AccessMask
)

var accessorKindNames = map[AccessorKind]string{
	AccessFlag: "flag",
	AccessU8:   "u8",
	AccessS8:   "s8",
	AccessU16:  "u16",
	AccessS16:  "s16",
	AccessQ78:  "q7_8",
	AccessMask: "mask",
}

// Accessor reads and writes one value in the data field of a frame.
type Accessor struct {
	Kind     AccessorKind
	Position uint
	Length   uint // mask only
}

// NewAccessor builds an accessor and checks that it fits in 16 bits.
func NewAccessor(kind AccessorKind, position, length uint) (Accessor, error) {
	a := Accessor{Kind: kind, Position: position, Length: length}
	switch kind {
	case AccessFlag:
		if position > 15 {
			return Accessor{}, fmt.Errorf("flag position %d out of range", position)
		}
	case AccessU8, AccessS8:
		if position > 8 {
			return Accessor{}, fmt.Errorf("%s position %d out of range", kind, position)
		}
	case AccessU16, AccessS16, AccessQ78:
		a.Position = 0
	case AccessMask:
		if length == 0 || position+length > 16 {
			return Accessor{}, fmt.Errorf("mask length %d at position %d does not fit", length, position)
		}
	default:
		return Accessor{}, fmt.Errorf("unknown accessor kind %d", kind)
	}
	if kind != AccessMask {
		a.Length = 0
	}
	return a, nil
}

// ParseAccessor parses an accessor name.
//
// Accepted forms are the aliases flag0..flag15, flagN_lb, flagN_hb, u8_lb,
// u8_hb, s8_lb, s8_hb, u16, s16 and q7_8, the positional forms flag:N, u8:N
// and s8:N, and mask:LENGTH:POSITION.
func ParseAccessor(s string) (Accessor, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	if parts := strings.Split(name, ":"); len(parts) > 1 {
		return parsePositional(parts)
	}

	switch name {
	case "u16":
		return Accessor{Kind: AccessU16}, nil
	case "s16":
		return Accessor{Kind: AccessS16}, nil
	case "q7_8":
		return Accessor{Kind: AccessQ78}, nil
	case "u8_lb":
		return Accessor{Kind: AccessU8, Position: 0}, nil
	case "u8_hb":
		return Accessor{Kind: AccessU8, Position: 8}, nil
	case "s8_lb":
		return Accessor{Kind: AccessS8, Position: 0}, nil
	case "s8_hb":
		return Accessor{Kind: AccessS8, Position: 8}, nil
	}

	if rest, ok := strings.CutPrefix(name, "flag"); ok {
		offset := uint(0)
		limit := uint(15)
		switch {
		case strings.HasSuffix(rest, "_lb"):
			rest = strings.TrimSuffix(rest, "_lb")
			limit = 7
		case strings.HasSuffix(rest, "_hb"):
			rest = strings.TrimSuffix(rest, "_hb")
			offset = 8
			limit = 7
		}
		n, err := strconv.ParseUint(rest, 10, 8)
		if err != nil || uint(n) > limit {
			return Accessor{}, fmt.Errorf("invalid accessor %q", s)
		}
		return Accessor{Kind: AccessFlag, Position: uint(n) + offset}, nil
	}

	return Accessor{}, fmt.Errorf("invalid accessor %q", s)
}

func parsePositional(parts []string) (Accessor, error) {
	nums := make([]uint, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Accessor{}, fmt.Errorf("invalid accessor argument %q", p)
		}
		nums = append(nums, uint(n))
	}

	switch parts[0] {
	case "flag", "u8", "s8":
		if len(nums) != 1 {
			return Accessor{}, fmt.Errorf("%s accessor takes one position", parts[0])
		}
		kind := map[string]AccessorKind{"flag": AccessFlag, "u8": AccessU8, "s8": AccessS8}[parts[0]]
		return NewAccessor(kind, nums[0], 0)
	case "mask":
		if len(nums) != 2 {
			return Accessor{}, fmt.Errorf("mask accessor takes length and position")
		}
		return NewAccessor(AccessMask, nums[1], nums[0])
	}
	return Accessor{}, fmt.Errorf("unknown accessor kind %q", parts[0])
}

// Read extracts the value from f.
func (a Accessor) Read(f Frame) float64 {
	switch a.Kind {
	case AccessFlag:
		if f.Flag(a.Position) {
			return 1
		}
		return 0
	case AccessU8:
		return float64(f.U8(a.Position))
	case AccessS8:
		return float64(f.S8(a.Position))
	case AccessU16:
		return float64(f.U16())
	case AccessS16:
		return float64(f.S16())
	case AccessQ78:
		return f.Q78()
	case AccessMask:
		return float64(f.Mask(a.Length, a.Position))
	}
	return 0
}

// ReadBool extracts the value from f as a boolean.
func (a Accessor) ReadBool(f Frame) bool {
	return a.Read(f) != 0
}

// Write stores v into f. Integer kinds truncate toward zero and wrap to
// their width.
func (a Accessor) Write(f *Frame, v float64) {
	switch a.Kind {
	case AccessFlag:
		f.SetFlag(a.Position, v != 0)
	case AccessU8:
		f.SetU8(a.Position, uint8(int64(v)))
	case AccessS8:
		f.SetS8(a.Position, int8(int64(v)))
	case AccessU16:
		f.SetU16(uint16(int64(v)))
	case AccessS16:
		f.SetS16(int16(int64(v)))
	case AccessQ78:
		f.SetQ78(v)
	case AccessMask:
		f.SetMask(a.Length, a.Position, uint16(int64(v)))
	}
}

// WriteBool stores b into f as 1 or 0.
func (a Accessor) WriteBool(f *Frame, b bool) {
	if b {
		a.Write(f, 1)
	} else {
		a.Write(f, 0)
	}
}

// String implements fmt.Stringer
func (a Accessor) String() string {
	switch a.Kind {
	case AccessFlag, AccessU8, AccessS8:
		return fmt.Sprintf("%s:%d", a.Kind, a.Position)
	case AccessMask:
		return fmt.Sprintf("mask:%d:%d", a.Length, a.Position)
	}
	return a.Kind.String()
}

// String implements fmt.Stringer
func (k AccessorKind) String() string {
	if name, ok := accessorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}
