// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"time"
)

// Statistics tracks exchange counters and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Requests     uint64
	Responses    uint64
	ParityErrors uint64
	DecodeErrors uint64
	NegativeAcks uint64
	IDMismatches uint64
	Timeouts     uint64
	MaxTimeouts  uint64
	Deduplicated uint64

	// Rates (calculated)
	RequestRate float64 // requests/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordResponse counts a decoded response and its anomalies
func (s *Statistics) RecordResponse(validationErrors []ValidationError) {
	s.Responses++
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyParityError:
			s.ParityErrors++
		case AnomalyNegativeAck:
			s.NegativeAcks++
		case AnomalyIDMismatch:
			s.IDMismatches++
		}
	}
	s.LastUpdateTime = time.Now()
}

// Errors returns the sum of all error counters.
func (s *Statistics) Errors() uint64 {
	return s.ParityErrors + s.DecodeErrors + s.NegativeAcks + s.IDMismatches + s.Timeouts + s.MaxTimeouts
}

// CalculateRates calculates request and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.RequestRate = float64(s.Requests) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var answered float64
	if s.Requests > 0 {
		answered = float64(s.Responses) * 100.0 / float64(s.Requests)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests:        %8d\n", s.Requests)
	result += fmt.Sprintf("Responses:       %8d (%.1f%%)\n", s.Responses, answered)

	if s.ParityErrors > 0 {
		result += fmt.Sprintf("Parity Errors:   %8d\n", s.ParityErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.NegativeAcks > 0 {
		result += fmt.Sprintf("Negative Acks:   %8d\n", s.NegativeAcks)
	}
	if s.IDMismatches > 0 {
		result += fmt.Sprintf("ID Mismatches:   %8d\n", s.IDMismatches)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.MaxTimeouts > 0 {
		result += fmt.Sprintf("Message Resets:  %8d\n", s.MaxTimeouts)
	}
	if s.Deduplicated > 0 {
		result += fmt.Sprintf("Deduplicated:    %8d\n", s.Deduplicated)
	}

	result += fmt.Sprintf("Request Rate:    %8.1f req/sec\n", s.RequestRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
