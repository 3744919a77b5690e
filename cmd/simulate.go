// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/internal/transport"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var (
	simulateDuration time.Duration
	simulateFault    string
	simulateLatency  time.Duration
)

var simulateFaults = map[string]transport.Fault{
	"none":   transport.FaultNone,
	"silent": transport.FaultSilent,
	"parity": transport.FaultParity,
	"noise":  transport.FaultNoise,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the gateway against a simulated boiler",
	Long: `Run the scheduler and the configured entities against an in-memory
boiler and print every exchange.

The simulated boiler answers from a register map with typical values. Use
--fault to make it stay silent, corrupt parity or reply with line noise.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().DurationVar(&simulateDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	simulateCmd.Flags().StringVar(&simulateFault, "fault", "none", "Boiler fault (none, silent, parity, noise)")
	simulateCmd.Flags().DurationVar(&simulateLatency, "latency", 0, "Override the boiler reply delay")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	fault, ok := simulateFaults[simulateFault]
	if !ok {
		return fmt.Errorf("unknown fault %q", simulateFault)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Transport.Type = config.TransportLoopback
	if simulateLatency > 0 {
		cfg.Transport.Latency = config.Duration{Duration: simulateLatency}
	}
	logger := newLogger(cfg, true)

	gw, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.close()

	if boiler, ok := gw.link.(*transport.Boiler); ok {
		boiler.SetFault(fault)
	}

	gw.hub.AddObserver(hub.ObserverFunc(printEvent))
	gw.entities.Subscribe(entity.PublisherFunc(func(s entity.State) {
		if s.Valid {
			fmt.Printf("[%s] %-3s %s = %g\n", s.Timestamp.Format("15:04:05.000"), "ENT", s.Name, s.Value)
		} else {
			fmt.Printf("[%s] %-3s %s unavailable\n", time.Now().Format("15:04:05.000"), "ENT", s.Name)
		}
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if simulateDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simulateDuration)
		defer cancel()
	}

	fmt.Printf("Heliotherm - Simulate\n")
	fmt.Printf("Connection: %s (fault: %s)\n", gw.link, simulateFault)
	fmt.Printf("Entities: %d\n\n", gw.entities.Len())

	gw.start(ctx, true)
	<-ctx.Done()

	stats := gw.hub.Stats()
	fmt.Printf("\n%s", stats.String())
	return nil
}

// printEvent writes one line per exchange step.
func printEvent(e hub.Event) {
	now := time.Now()
	switch e.Kind {
	case hub.EventTransmitted:
		fmt.Println(opentherm.FormatTimestampedFrame(now, "TX", e.Frame))
	case hub.EventReceived, hub.EventDataInvalid, hub.EventUnknownDataID:
		fmt.Printf("%s (%s)\n", opentherm.FormatTimestampedFrame(now, "RX", e.Frame), e.Elapsed.Round(time.Millisecond))
	case hub.EventParityError:
		fmt.Printf("%s parity error\n", opentherm.FormatTimestampedFrame(now, "ERR", e.Frame))
	case hub.EventDecodeError:
		fmt.Printf("[%s] %-3s undecodable response: %v\n", now.Format("15:04:05.000"), "ERR", e.Err)
	case hub.EventReceiveTimeout:
		fmt.Printf("%s no response\n", opentherm.FormatTimestampedFrame(now, "ERR", e.Frame))
	case hub.EventTransmitError:
		fmt.Printf("[%s] %-3s transmit failed: %v\n", now.Format("15:04:05.000"), "ERR", e.Err)
	}
}
