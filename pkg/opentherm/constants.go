// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package opentherm provides a Go implementation of the OpenTherm boiler link.
//
// OpenTherm is a point-to-point, half-duplex protocol between a room controller
// (master) and a boiler (slave). Every exchange is a single 32-bit frame in each
// direction, carried as Manchester-coded marks and spaces at 500µs per half bit.
// This package provides the frame model, parity, the bit-timing codec, the
// deduplicating request queue and the bit-field accessors used by entities.
package opentherm

import "time"

// Bit timing
const (
	BitTime          = 500 * time.Microsecond
	BitTimeUs        = 500
	NBits            = 32
	CarrierFrequency = 2000 // Hz, fixed by the line driver

	// DefaultTolerance is the accepted deviation of an observed level, in percent.
	DefaultTolerance = 25

	// PulseCount is the number of levels in an encoded frame (start + 32 bits + stop).
	PulseCount = 2 * (NBits + 2)
)

// Type byte layout
const (
	TypeMask   = 0x70
	ParityMask = 0x80
)

// MessageType is the message kind carried in bits 4-6 of the type byte.
type MessageType uint8

// Message types. Master to slave: ReadData, WriteData, InvalidData.
// Slave to master: ReadAck, WriteAck, DataInvalid, UnknownDataID.
const (
	ReadData      MessageType = 0x00
	WriteData     MessageType = 0x10
	InvalidData   MessageType = 0x20
	ReadAck       MessageType = 0x40
	WriteAck      MessageType = 0x50
	DataInvalid   MessageType = 0x60
	UnknownDataID MessageType = 0x70
)

// Masked strips the parity bit and spare bits.
func (t MessageType) Masked() MessageType {
	return t & TypeMask
}

// IsMaster reports whether t is sent by the master.
func (t MessageType) IsMaster() bool {
	return t.Masked() < ReadAck
}

// MessageID is the data identity of a frame.
type MessageID uint8

// Well-known data identities
const (
	Status              MessageID = 0
	CHSetpoint          MessageID = 1
	ControllerConfig    MessageID = 2
	DeviceConfig        MessageID = 3
	CommandCode         MessageID = 4
	FaultFlags          MessageID = 5
	Remote              MessageID = 6
	CoolingControl      MessageID = 7
	CH2Setpoint         MessageID = 8
	CHSetpointOverride  MessageID = 9
	TSPCount            MessageID = 10
	TSPCommand          MessageID = 11
	FHBSize             MessageID = 12
	FHBCommand          MessageID = 13
	MaxModulationLevel  MessageID = 14
	MaxBoilerCapacity   MessageID = 15
	RoomSetpoint        MessageID = 16
	ModulationLevel     MessageID = 17
	CHWaterPressure     MessageID = 18
	DHWFlowRate         MessageID = 19
	DayTime             MessageID = 20
	Date                MessageID = 21
	Year                MessageID = 22
	RoomSetpointCH2     MessageID = 23
	RoomTemp            MessageID = 24
	FeedTemp            MessageID = 25
	DHWTemp             MessageID = 26
	OutsideTemp         MessageID = 27
	ReturnWaterTemp     MessageID = 28
	SolarStoreTemp      MessageID = 29
	SolarCollectTemp    MessageID = 30
	FeedTempCH2         MessageID = 31
	DHW2Temp            MessageID = 32
	ExhaustTemp         MessageID = 33
	FanSpeed            MessageID = 35
	FlameCurrent        MessageID = 36
	DHWBounds           MessageID = 48
	CHBounds            MessageID = 49
	OTCCurveBounds      MessageID = 50
	DHWSetpoint         MessageID = 56
	MaxCHSetpoint       MessageID = 57
	OTCCurveRatio       MessageID = 58
	HVACStatus          MessageID = 70
	RelVentSetpoint     MessageID = 71
	DeviceVent          MessageID = 74
	RelVentilation      MessageID = 77
	RelHumidExhaust     MessageID = 78
	SupplyInletTemp     MessageID = 80
	SupplyOutletTemp    MessageID = 81
	ExhaustInletTemp    MessageID = 82
	ExhaustOutletTemp   MessageID = 83
	NomRelVentilation   MessageID = 87
	OverrideFunc        MessageID = 100
	OEMDiagnostic       MessageID = 115
	BurnerStarts        MessageID = 116
	CHPumpStarts        MessageID = 117
	DHWPumpStarts       MessageID = 118
	DHWBurnerStarts     MessageID = 119
	BurnerHours         MessageID = 120
	CHPumpHours         MessageID = 121
	DHWPumpHours        MessageID = 122
	DHWBurnerHours      MessageID = 123
	OTVersionController MessageID = 124
	OTVersionDevice     MessageID = 125
	VersionController   MessageID = 126
	VersionDevice       MessageID = 127
)

// MaxMessageID is the highest identity the 7-bit space allows.
const MaxMessageID = 127

var messageTypeNames = map[MessageType]string{
	ReadData:      "READ_DATA",
	WriteData:     "WRITE_DATA",
	InvalidData:   "INVALID_DATA",
	ReadAck:       "READ_ACK",
	WriteAck:      "WRITE_ACK",
	DataInvalid:   "DATA_INVALID",
	UnknownDataID: "UNKNOWN_DATA_ID",
}

var messageIDNames = map[MessageID]string{
	Status:              "STATUS",
	CHSetpoint:          "CH_SETPOINT",
	ControllerConfig:    "CONTROLLER_CONFIG",
	DeviceConfig:        "DEVICE_CONFIG",
	CommandCode:         "COMMAND_CODE",
	FaultFlags:          "FAULT_FLAGS",
	Remote:              "REMOTE",
	CoolingControl:      "COOLING_CONTROL",
	CH2Setpoint:         "CH2_SETPOINT",
	CHSetpointOverride:  "CH_SETPOINT_OVERRIDE",
	TSPCount:            "TSP_COUNT",
	TSPCommand:          "TSP_COMMAND",
	FHBSize:             "FHB_SIZE",
	FHBCommand:          "FHB_COMMAND",
	MaxModulationLevel:  "MAX_MODULATION_LEVEL",
	MaxBoilerCapacity:   "MAX_BOILER_CAPACITY",
	RoomSetpoint:        "ROOM_SETPOINT",
	ModulationLevel:     "MODULATION_LEVEL",
	CHWaterPressure:     "CH_WATER_PRESSURE",
	DHWFlowRate:         "DHW_FLOW_RATE",
	DayTime:             "DAY_TIME",
	Date:                "DATE",
	Year:                "YEAR",
	RoomSetpointCH2:     "ROOM_SETPOINT_CH2",
	RoomTemp:            "ROOM_TEMP",
	FeedTemp:            "FEED_TEMP",
	DHWTemp:             "DHW_TEMP",
	OutsideTemp:         "OUTSIDE_TEMP",
	ReturnWaterTemp:     "RETURN_WATER_TEMP",
	SolarStoreTemp:      "SOLAR_STORE_TEMP",
	SolarCollectTemp:    "SOLAR_COLLECT_TEMP",
	FeedTempCH2:         "FEED_TEMP_CH2",
	DHW2Temp:            "DHW2_TEMP",
	ExhaustTemp:         "EXHAUST_TEMP",
	FanSpeed:            "FAN_SPEED",
	FlameCurrent:        "FLAME_CURRENT",
	DHWBounds:           "DHW_BOUNDS",
	CHBounds:            "CH_BOUNDS",
	OTCCurveBounds:      "OTC_CURVE_BOUNDS",
	DHWSetpoint:         "DHW_SETPOINT",
	MaxCHSetpoint:       "MAX_CH_SETPOINT",
	OTCCurveRatio:       "OTC_CURVE_RATIO",
	HVACStatus:          "HVAC_STATUS",
	RelVentSetpoint:     "REL_VENT_SETPOINT",
	DeviceVent:          "DEVICE_VENT",
	RelVentilation:      "REL_VENTILATION",
	RelHumidExhaust:     "REL_HUMID_EXHAUST",
	SupplyInletTemp:     "SUPPLY_INLET_TEMP",
	SupplyOutletTemp:    "SUPPLY_OUTLET_TEMP",
	ExhaustInletTemp:    "EXHAUST_INLET_TEMP",
	ExhaustOutletTemp:   "EXHAUST_OUTLET_TEMP",
	NomRelVentilation:   "NOM_REL_VENTILATION",
	OverrideFunc:        "OVERRIDE_FUNC",
	OEMDiagnostic:       "OEM_DIAGNOSTIC",
	BurnerStarts:        "BURNER_STARTS",
	CHPumpStarts:        "CH_PUMP_STARTS",
	DHWPumpStarts:       "DHW_PUMP_STARTS",
	DHWBurnerStarts:     "DHW_BURNER_STARTS",
	BurnerHours:         "BURNER_HOURS",
	CHPumpHours:         "CH_PUMP_HOURS",
	DHWPumpHours:        "DHW_PUMP_HOURS",
	DHWBurnerHours:      "DHW_BURNER_HOURS",
	OTVersionController: "OT_VERSION_CONTROLLER",
	OTVersionDevice:     "OT_VERSION_DEVICE",
	VersionController:   "VERSION_CONTROLLER",
	VersionDevice:       "VERSION_DEVICE",
}

// IsKnown reports whether id is one of the well-known identities.
func (id MessageID) IsKnown() bool {
	_, ok := messageIDNames[id]
	return ok
}
