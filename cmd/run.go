// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/internal/api"
	"github.com/Thermoquad/heliotherm/internal/metrics"
	"github.com/Thermoquad/heliotherm/internal/publish/influx"
	"github.com/Thermoquad/heliotherm/internal/publish/mqtt"
)

var statsInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway daemon",
	Long: `Run the OpenTherm gateway until interrupted.

The daemon opens the configured transport, starts the exchange scheduler,
polls every configured entity and keeps their states current. Depending on
the config it also:

  - mirrors states to MQTT and accepts commands on <prefix>/command/<entity>
  - writes states and scheduler statistics to InfluxDB
  - serves the HTTP API and Prometheus metrics on api.listen

SIGINT or SIGTERM shuts everything down cleanly.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "How often scheduler statistics are logged and recorded")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.close()

	gw.onLinkState(func(connected bool, info string) {
		if connected {
			logger.Info().Str("link", info).Msg("Link restored")
		} else {
			logger.Warn().Str("link", info).Msg("Link lost, reconnecting")
		}
	})

	collector := metrics.New(true)
	gw.hub.AddObserver(collector)
	gw.entities.Subscribe(collector)

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.MQTT.Enabled {
		pub, err := mqtt.Connect(cfg.MQTT, gw.entities, logger)
		if err != nil {
			return err
		}
		gw.entities.Subscribe(pub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
		}()
	}

	if cfg.InfluxDB.Enabled {
		writer, err := influx.Connect(cfg.InfluxDB, logger)
		if err != nil {
			return err
		}
		gw.entities.Subscribe(writer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(ctx, gw.hub, statsInterval)
		}()
	}

	if cfg.API.Listen != "" {
		srv, err := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   logger,
			Hub:      gw.hub,
			Entities: gw.entities,
			Metrics:  collector.Handler(),
			Version:  Version,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Close()
	}

	logger.Info().
		Str("link", gw.link.String()).
		Int("entities", gw.entities.Len()).
		Msg("Gateway started")

	gw.start(ctx, true)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			stats := gw.hub.Stats()
			logger.Info().Msg("\n" + stats.String())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			stats := gw.hub.Stats()
			stats.CalculateRates()
			logger.Info().
				Uint64("requests", stats.Requests).
				Uint64("responses", stats.Responses).
				Uint64("errors", stats.Errors()).
				Int("pending", gw.hub.Pending()).
				Float64("error_rate", stats.ErrorRate).
				Msg("Statistics")
		}
	}
}
