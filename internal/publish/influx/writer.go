// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package influx records entity states and hub statistics in InfluxDB.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// Measurement names
const (
	MeasurementEntity = "opentherm"
	MeasurementHub    = "opentherm_hub"
)

const (
	connectTimeout = 10 * time.Second
	batchSize      = 100
)

var (
	// ErrDisabled is returned by Connect when InfluxDB is disabled.
	ErrDisabled = errors.New("influxdb: disabled")
	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Writer is an entity.StatePublisher backed by the non-blocking write API.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   zerolog.Logger
	now      func() time.Time
	done     chan struct{}
}

// Connect pings the server and sets up batched writes.
func Connect(cfg config.InfluxDBConfig, logger zerolog.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	flush := cfg.FlushInterval.Duration
	if flush <= 0 {
		flush = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flush.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.With().Str("component", "influxdb").Logger(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go w.handleWriteErrors(w.writeAPI.Errors())
	return w, nil
}

func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}
}

// Publish implements entity.StatePublisher. Invalid states are skipped.
func (w *Writer) Publish(s entity.State) {
	if !s.Valid {
		return
	}
	ts := s.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	w.writeAPI.WritePoint(statePoint(s, ts))
}

func statePoint(s entity.State, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEntity,
		map[string]string{
			"entity":     s.Name,
			"kind":       string(s.Kind),
			"message_id": s.ID.String(),
		},
		map[string]interface{}{
			"value": s.Value,
		},
		ts,
	)
}

// WriteStats records a snapshot of the hub counters.
func (w *Writer) WriteStats(stats opentherm.Statistics) {
	w.writeAPI.WritePoint(statsPoint(stats, w.now()))
}

func statsPoint(stats opentherm.Statistics, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementHub,
		nil,
		map[string]interface{}{
			"requests":      int64(stats.Requests),
			"responses":     int64(stats.Responses),
			"parity_errors": int64(stats.ParityErrors),
			"decode_errors": int64(stats.DecodeErrors),
			"negative_acks": int64(stats.NegativeAcks),
			"id_mismatches": int64(stats.IDMismatches),
			"timeouts":      int64(stats.Timeouts),
			"max_timeouts":  int64(stats.MaxTimeouts),
			"deduplicated":  int64(stats.Deduplicated),
		},
		ts,
	)
}

// StatsSource supplies hub counters.
type StatsSource interface {
	Stats() opentherm.Statistics
}

// Run writes src's statistics every interval until ctx is done, then
// flushes and closes the client.
func (w *Writer) Run(ctx context.Context, src StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteStats(src.Stats())
		}
	}
}

// Flush writes pending points now.
func (w *Writer) Flush() {
	w.writeAPI.Flush()
}

// Close flushes pending points and shuts the client down.
func (w *Writer) Close() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	w.writeAPI.Flush()
	w.client.Close()
}
