// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/internal/transport"
)

// gateway wires a line link, the hub and the configured entities.
type gateway struct {
	cfg      *config.Config
	logger   zerolog.Logger
	link     transport.Link
	hub      *hub.Hub
	entities *entity.Registry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func ptr(v float64) *float64 { return &v }

// defaultEntities is used when the config declares none.
func defaultEntities() []config.EntityConfig {
	return []config.EntityConfig{
		{Name: "boiler_temp", Kind: config.KindSensor, MessageID: "FEED_TEMP", Read: "q7_8"},
		{Name: "return_temp", Kind: config.KindSensor, MessageID: "RETURN_WATER_TEMP", Read: "q7_8"},
		{Name: "dhw_temp", Kind: config.KindSensor, MessageID: "DHW_TEMP", Read: "q7_8"},
		{Name: "modulation", Kind: config.KindSensor, MessageID: "MODULATION_LEVEL", Read: "q7_8"},
		{Name: "pressure", Kind: config.KindSensor, MessageID: "CH_WATER_PRESSURE", Read: "q7_8"},
		{Name: "ch_active", Kind: config.KindBinarySensor, MessageID: "STATUS", Read: "flag1_lb"},
		{Name: "flame", Kind: config.KindBinarySensor, MessageID: "STATUS", Read: "flag3_lb"},
		{Name: "ch_enable", Kind: config.KindSwitch, MessageID: "STATUS", MessageType: "READ_DATA", Read: "flag0_hb", Write: "flag0_hb"},
		{Name: "ch_setpoint", Kind: config.KindNumber, MessageID: "CH_SETPOINT", Read: "q7_8", Write: "q7_8", Min: ptr(10), Max: ptr(80)},
		{Name: "dhw_setpoint", Kind: config.KindNumber, MessageID: "DHW_SETPOINT", Read: "q7_8", Write: "q7_8", Min: ptr(35), Max: ptr(65)},
	}
}

// openGateway opens the configured link and builds the hub and entities.
// Nothing runs until start.
func openGateway(cfg *config.Config, logger zerolog.Logger) (*gateway, error) {
	link, err := transport.Open(cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s transport: %w", cfg.Transport.Type, err)
	}

	h, err := hub.New(hub.Options{
		Transmitter: link,
		Logger:      logger.With().Str("component", "hub").Logger(),
		Timeouts: hub.Timeouts{
			Max:        cfg.Hub.MaxTimeout.Duration,
			PreReceive: cfg.Hub.PreReceive.Duration,
			Receive:    cfg.Hub.Receive.Duration,
			Settle:     cfg.Hub.Settle.Duration,
		},
		TickInterval: cfg.Hub.TickInterval.Duration,
	})
	if err != nil {
		link.Close()
		return nil, err
	}

	cfgs := cfg.Entities
	if len(cfgs) == 0 {
		cfgs = defaultEntities()
	}
	entities, err := entity.Build(cfgs, h, logger.With().Str("component", "entity").Logger())
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("building entities: %w", err)
	}
	entities.Attach(h)

	return &gateway{
		cfg:      cfg,
		logger:   logger,
		link:     link,
		hub:      h,
		entities: entities,
	}, nil
}

// onLinkState registers fn for connection loss and recovery on links that
// reconnect.
func (g *gateway) onLinkState(fn func(connected bool, info string)) {
	if r, ok := g.link.(*transport.Reconnecting); ok {
		r.OnStateChange = fn
	}
}

// start runs the hub, the link listener and the entity pollers. withPollers
// false leaves the entities idle so only explicit requests are sent.
func (g *gateway) start(ctx context.Context, withPollers bool) {
	ctx, g.cancel = context.WithCancel(ctx)

	g.hub.LogConfig()
	g.entities.LogConfig()

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.hub.Run(ctx)
	}()
	go func() {
		defer g.wg.Done()
		err := g.link.Listen(ctx, g.hub.OnTransportEvent)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrLinkClosed) {
			g.logger.Error().Err(err).Msg("Link stopped")
		}
	}()

	if withPollers {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.entities.Start(ctx)
		}()
	}
}

// close stops every goroutine started by start and closes the link.
func (g *gateway) close() {
	if g.cancel != nil {
		g.cancel()
	}
	g.link.Close()
	g.wg.Wait()
}
