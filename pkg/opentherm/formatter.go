// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(t MessageType) string {
	if name, ok := messageTypeNames[t.Masked()]; ok {
		return name
	}
	return fmt.Sprintf("RESERVED_0x%02X", uint8(t.Masked()))
}

// FormatMessageID returns the human-readable name for a data identity
func FormatMessageID(id MessageID) string {
	if name, ok := messageIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("ID_%d", uint8(id))
}

// String implements fmt.Stringer
func (t MessageType) String() string {
	return FormatMessageType(t)
}

// String implements fmt.Stringer
func (id MessageID) String() string {
	return FormatMessageID(id)
}

// ParseMessageType accepts an upper- or lower-case type name or a number.
func ParseMessageType(s string) (MessageType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for t, n := range messageTypeNames {
		if n == name {
			return t, nil
		}
	}
	v, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown message type %q", s)
	}
	t := MessageType(v)
	if _, ok := messageTypeNames[t]; !ok {
		return 0, fmt.Errorf("message type 0x%02X is not defined", v)
	}
	return t, nil
}

// ParseMessageID accepts an identity name or a number from 0 to 127.
func ParseMessageID(s string) (MessageID, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for id, n := range messageIDNames {
		if n == name {
			return id, nil
		}
	}
	v, err := strconv.ParseUint(strings.ToLower(name), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown message id %q", s)
	}
	if v > MaxMessageID {
		return 0, fmt.Errorf("message id %d out of range (max %d)", v, MaxMessageID)
	}
	return MessageID(v), nil
}

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f Frame) string {
	parity := "ok"
	if !f.CheckParity() {
		parity = "BAD"
	}
	return fmt.Sprintf("%s %s (0x%02X) data=0x%04X parity=%s %s",
		FormatMessageType(f.MessageType()), FormatMessageID(f.MessageID()), f.ID, f.Data, parity, FormatValue(f))
}

// FormatTimestampedFrame prefixes FormatFrame with a wall clock time.
func FormatTimestampedFrame(ts time.Time, direction string, f Frame) string {
	return fmt.Sprintf("[%s] %-3s %s", ts.Format("15:04:05.000"), direction, FormatFrame(f))
}

// FormatValue decodes the data field according to the data identity.
// Unknown identities are shown as hb/lb bytes.
func FormatValue(f Frame) string {
	switch f.MessageID() {
	case Status:
		return formatStatus(f)

	case CHSetpoint, CH2Setpoint, CHSetpointOverride, RoomSetpoint, RoomSetpointCH2,
		RoomTemp, FeedTemp, DHWTemp, OutsideTemp, ReturnWaterTemp, SolarStoreTemp,
		FeedTempCH2, DHW2Temp, DHWSetpoint, MaxCHSetpoint,
		SupplyInletTemp, SupplyOutletTemp, ExhaustInletTemp, ExhaustOutletTemp:
		return fmt.Sprintf("%.2f°C", f.Q78())

	case ModulationLevel, MaxModulationLevel, RelVentSetpoint, RelVentilation, NomRelVentilation:
		return fmt.Sprintf("%.2f%%", f.Q78())

	case CHWaterPressure:
		return fmt.Sprintf("%.2f bar", f.Q78())

	case DHWFlowRate:
		return fmt.Sprintf("%.2f l/min", f.Q78())

	case OTCCurveRatio:
		return fmt.Sprintf("%.2f", f.Q78())

	case SolarCollectTemp, ExhaustTemp:
		return fmt.Sprintf("%d°C", f.S16())

	case DHWBounds, CHBounds, OTCCurveBounds:
		return fmt.Sprintf("min=%d max=%d", f.S8(0), f.S8(8))

	case FaultFlags:
		return fmt.Sprintf("flags=0x%02X oem=%d", f.U8(8), f.U8(0))

	case MaxBoilerCapacity:
		return fmt.Sprintf("capacity=%dkW min_modulation=%d%%", f.U8(8), f.U8(0))

	case DayTime:
		return fmt.Sprintf("day=%d %02d:%02d", f.Mask(3, 13), f.Mask(5, 8), f.U8(0))

	case Date:
		return fmt.Sprintf("month=%d day=%d", f.U8(8), f.U8(0))

	case BurnerStarts, CHPumpStarts, DHWPumpStarts, DHWBurnerStarts,
		BurnerHours, CHPumpHours, DHWPumpHours, DHWBurnerHours, Year, FanSpeed, OEMDiagnostic:
		return fmt.Sprintf("%d", f.U16())

	case OTVersionController, OTVersionDevice:
		return fmt.Sprintf("v%.2f", f.Q78())

	case VersionController, VersionDevice:
		return fmt.Sprintf("type=%d version=%d", f.U8(8), f.U8(0))
	}

	return fmt.Sprintf("hb=%d lb=%d", f.U8(8), f.U8(0))
}

func formatStatus(f Frame) string {
	master := []string{"ch", "dhw", "cooling", "otc", "ch2"}
	slave := []string{"fault", "ch", "dhw", "flame", "cooling", "ch2", "diag"}

	var b strings.Builder
	b.WriteString("master[")
	writeFlags(&b, f, 8, master)
	b.WriteString("] slave[")
	writeFlags(&b, f, 0, slave)
	b.WriteString("]")
	return b.String()
}

func writeFlags(b *strings.Builder, f Frame, offset uint, names []string) {
	first := true
	for i, name := range names {
		if !f.Flag(offset + uint(i)) {
			continue
		}
		if !first {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		first = false
	}
}
