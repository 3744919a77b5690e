// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/internal/transport"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every frame seen on the line",
	Long: `Continuously decode and display captured line activity as it arrives.

Nothing is transmitted. Each capture is decoded on its own and printed with a
timestamp, message type, data identity and decoded value, which makes this
useful for watching another master talk to the boiler.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, true)

	link, err := transport.Open(cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("Heliotherm - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", link)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = link.Listen(ctx, printCapture)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrLinkClosed) {
		return nil
	}
	return err
}

// printCapture decodes one capture and prints it.
func printCapture(src opentherm.PulseSource) bool {
	now := time.Now()
	f, err := opentherm.Decode(src)
	if err != nil {
		fmt.Printf("[%s] [ERROR] %v\n", now.Format("15:04:05.000"), err)
		return false
	}

	direction := "RX"
	if f.MessageType().IsMaster() {
		direction = "TX"
	}
	fmt.Println(opentherm.FormatTimestampedFrame(now, direction, f))
	return true
}
