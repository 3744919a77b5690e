// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package entity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ErrNotFound is returned for an unknown entity name.
var ErrNotFound = errors.New("entity not found")

type presetter interface {
	preset(v float64)
}

// FromConfig builds one entity from its configuration.
func FromConfig(cfg config.EntityConfig, enq Enqueuer, logger zerolog.Logger) (Entity, error) {
	id, err := opentherm.ParseMessageID(cfg.MessageID)
	if err != nil {
		return nil, fmt.Errorf("entity %q: %w", cfg.Name, err)
	}

	opts := Options{
		Name:     cfg.Name,
		ID:       id,
		Type:     cfg.DefaultMessageType(),
		Enqueuer: enq,
		Logger:   logger,
	}
	if cfg.Read != "" {
		a, err := opentherm.ParseAccessor(cfg.Read)
		if err != nil {
			return nil, fmt.Errorf("entity %q read: %w", cfg.Name, err)
		}
		opts.Read = &a
	}
	if cfg.Write != "" {
		a, err := opentherm.ParseAccessor(cfg.Write)
		if err != nil {
			return nil, fmt.Errorf("entity %q write: %w", cfg.Name, err)
		}
		opts.Write = &a
	}

	var e Entity
	switch cfg.Kind {
	case config.KindSensor:
		e = NewSensor(opts, cfg.UpdateInterval.Duration)
	case config.KindBinarySensor:
		e = NewBinarySensor(opts, cfg.UpdateInterval.Duration)
	case config.KindSwitch:
		e = NewSwitch(opts)
	case config.KindNumber:
		lo, hi := math.Inf(-1), math.Inf(1)
		if cfg.Min != nil {
			lo = *cfg.Min
		}
		if cfg.Max != nil {
			hi = *cfg.Max
		}
		e = NewNumber(opts, lo, hi)
	default:
		return nil, fmt.Errorf("entity %q: unknown kind %q", cfg.Name, cfg.Kind)
	}

	if cfg.Initial != nil {
		e.(presetter).preset(*cfg.Initial)
	}

	return e, nil
}

// Registry holds the configured entities in declaration order.
type Registry struct {
	mu     sync.RWMutex
	order  []Entity
	byName map[string]Entity
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Entity),
		logger: logger,
	}
}

// Build creates every configured entity.
func Build(cfgs []config.EntityConfig, enq Enqueuer, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, c := range cfgs {
		e, err := FromConfig(c, enq, logger)
		if err != nil {
			return nil, err
		}
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers e. Names must be unique.
func (r *Registry) Add(e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[e.Name()]; ok {
		return fmt.Errorf("duplicate entity %q", e.Name())
	}
	r.order = append(r.order, e)
	r.byName[e.Name()] = e
	return nil
}

// Get returns the named entity.
func (r *Registry) Get(name string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return e, nil
}

// All returns the entities in declaration order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entity(nil), r.order...)
}

// States returns a snapshot of every entity's state.
func (r *Registry) States() []State {
	all := r.All()
	states := make([]State, 0, len(all))
	for _, e := range all {
		states = append(states, e.State())
	}
	return states
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribe adds p to every entity.
func (r *Registry) Subscribe(p StatePublisher) {
	for _, e := range r.All() {
		e.Subscribe(p)
	}
}

// Attach registers every entity as a consumer of h.
func (r *Registry) Attach(h *hub.Hub) {
	for _, e := range r.All() {
		h.RegisterConsumer(e)
	}
}

// Set writes v to the named entity.
func (r *Registry) Set(name string, v float64) error {
	e, err := r.Get(name)
	if err != nil {
		return err
	}
	c, ok := e.(Controllable)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrReadOnly)
	}
	return c.Set(v)
}

// LogConfig logs each entity's binding.
func (r *Registry) LogConfig() {
	for _, e := range r.All() {
		ev := r.logger.Info().
			Str("entity", e.Name()).
			Str("kind", string(e.Kind())).
			Str("type", e.MessageType().String()).
			Str("id", e.MessageID().String())
		if a, ok := e.(interface {
			Accessors() (read, write *opentherm.Accessor)
		}); ok {
			read, write := a.Accessors()
			if read != nil {
				ev = ev.Str("read", read.String())
			}
			if write != nil {
				ev = ev.Str("write", write.String())
			}
		}
		if p, ok := e.(Polled); ok {
			ev = ev.Dur("update_interval", p.UpdateInterval())
		}
		ev.Msg("Entity")
	}
}

// Start enqueues the initial requests and polls every polled entity until
// ctx is done. It returns once all pollers have stopped.
func (r *Registry) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range r.All() {
		if s, ok := e.(Starter); ok {
			s.Start()
		}
		if p, ok := e.(Polled); ok {
			wg.Add(1)
			go func(p Polled) {
				defer wg.Done()
				Poll(ctx, p)
			}(p)
		}
	}
	wg.Wait()
}

// Poll calls p.Update immediately and then every update interval until ctx
// is done.
func Poll(ctx context.Context, p Polled) {
	p.Update()

	ticker := time.NewTicker(p.UpdateInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Update()
		}
	}
}
