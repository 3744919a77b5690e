// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports hub activity and entity values to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
)

const namespace = "heliotherm"

// Collector is both a hub.Observer and an entity.StatePublisher. Its
// collectors live on a private registry so several instances can coexist.
type Collector struct {
	registry *prometheus.Registry

	frames      *prometheus.CounterVec
	events      *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	exchange    prometheus.Histogram
	entityValue *prometheus.GaugeVec
}

// New creates a Collector. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "frames_total",
				Help:      "Frames transmitted (tx) and received (rx) by message type.",
			},
			[]string{"direction", "type"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "events_total",
				Help:      "Scheduler events by kind.",
			},
			[]string{"event"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "queue_depth",
			Help:      "Requests waiting in the queue.",
		}),
		exchange: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "exchange_seconds",
			Help:      "Time from transmission to response.",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.2},
		}),
		entityValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "value",
				Help:      "Last valid value of each entity.",
			},
			[]string{"entity"},
		),
	}

	c.registry.MustRegister(c.frames, c.events, c.queueDepth, c.exchange, c.entityValue)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// OnEvent implements hub.Observer
func (c *Collector) OnEvent(e hub.Event) {
	c.events.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case hub.EventTransmitted:
		c.frames.WithLabelValues("tx", e.Frame.MessageType().String()).Inc()
		c.queueDepth.Set(float64(e.Pending))
	case hub.EventReceived:
		c.frames.WithLabelValues("rx", e.Frame.MessageType().String()).Inc()
		c.exchange.Observe(e.Elapsed.Seconds())
	case hub.EventEnqueued, hub.EventDeduplicated, hub.EventDone:
		c.queueDepth.Set(float64(e.Pending))
	}
}

// Publish implements entity.StatePublisher. Invalid entities are removed
// from the gauge so stale values are not scraped.
func (c *Collector) Publish(s entity.State) {
	if !s.Valid {
		c.entityValue.DeleteLabelValues(s.Name)
		return
	}
	c.entityValue.WithLabelValues(s.Name).Set(s.Value)
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
