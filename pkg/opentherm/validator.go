// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import "fmt"

// AnomalyType represents different types of exchange anomalies
type AnomalyType int

const (
	AnomalyParityError AnomalyType = iota
	AnomalyNegativeAck
	AnomalyIDMismatch
	AnomalyUnexpectedType
	AnomalyReservedType
)

// ValidationError represents a response validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateResponse checks a response against the request that caused it.
// Returns a slice of validation errors (empty if the exchange is clean)
func ValidateResponse(req, resp Frame) []ValidationError {
	errors := []ValidationError{}

	if !resp.CheckParity() {
		errors = append(errors, ValidationError{
			Type:    AnomalyParityError,
			Message: fmt.Sprintf("Parity error in response %s", resp),
			Details: map[string]interface{}{"raw": resp.Raw()},
		})
	}

	if resp.ID != req.ID {
		errors = append(errors, ValidationError{
			Type:    AnomalyIDMismatch,
			Message: fmt.Sprintf("Response id=%d does not match request id=%d", resp.ID, req.ID),
			Details: map[string]interface{}{"request": req.ID, "response": resp.ID},
		})
	}

	switch t := resp.MessageType(); t {
	case DataInvalid, UnknownDataID:
		errors = append(errors, ValidationError{
			Type:    AnomalyNegativeAck,
			Message: fmt.Sprintf("%s for %s", FormatMessageType(t), FormatMessageID(resp.MessageID())),
			Details: map[string]interface{}{"type": uint8(t), "id": resp.ID},
		})
	case 0x30:
		errors = append(errors, ValidationError{
			Type:    AnomalyReservedType,
			Message: "Response uses reserved message type 0x30",
			Details: map[string]interface{}{"type": uint8(t)},
		})
	default:
		if want, ok := expectedAck(req.MessageType()); ok && t != want {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnexpectedType,
				Message: fmt.Sprintf("Expected %s, got %s", FormatMessageType(want), FormatMessageType(t)),
				Details: map[string]interface{}{"expected": uint8(want), "got": uint8(t)},
			})
		}
	}

	return errors
}

// expectedAck returns the acknowledgement type that answers a request type.
func expectedAck(t MessageType) (MessageType, bool) {
	switch t {
	case ReadData:
		return ReadAck, true
	case WriteData:
		return WriteAck, true
	}
	return 0, false
}
