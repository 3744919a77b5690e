// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// OpenSerial opens a pulse adapter on a serial port (8N1).
func OpenSerial(portName string, baudRate int, tolerance uint32, logger zerolog.Logger) (Link, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	info := fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
	return newStreamLink(port, info, tolerance, logger), nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}
