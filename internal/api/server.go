// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves the local HTTP interface of the daemon: health, hub
// statistics, entity states and control, raw request injection and the
// Prometheus scrape endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	readTimeout             = 5 * time.Second
	writeTimeout            = 10 * time.Second
	idleTimeout             = 60 * time.Second
)

// Scheduler is the part of the hub the API drives. *hub.Hub satisfies it.
type Scheduler interface {
	Enqueue(t opentherm.MessageType, id opentherm.MessageID) bool
	Stats() opentherm.Statistics
	State() hub.State
	Pending() int
}

// Deps holds the server's collaborators. Metrics is optional.
type Deps struct {
	Config   config.APIConfig
	Logger   zerolog.Logger
	Hub      Scheduler
	Entities *entity.Registry
	Metrics  http.Handler
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	logger   zerolog.Logger
	hub      Scheduler
	entities *entity.Registry
	metrics  http.Handler
	version  string
	server   *http.Server
	addr     net.Addr
}

// New validates deps. The server does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Hub == nil {
		return nil, errors.New("api: hub is required")
	}
	if deps.Entities == nil {
		return nil, errors.New("api: entity registry is required")
	}
	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger.With().Str("component", "api").Logger(),
		hub:      deps.Hub,
		entities: deps.Entities,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}, nil
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Get("/{name}", s.handleGetEntity)
			r.Put("/{name}", s.handleSetEntity)
		})

		r.Post("/requests", s.handleEnqueue)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start listens on the configured address and serves in the background.
// The listener is bound before Start returns so the address is usable.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.cfg.Listen, err)
	}
	s.addr = ln.Addr()

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info().Str("address", s.addr.String()).Msg("API server listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close waits for in-flight requests and shuts the listener down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
