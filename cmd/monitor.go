// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorShowAll bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch exchanges and entity states in a terminal UI",
	Long: `Poll the configured entities and show the results live.

The screen shows the scheduler statistics (requests, responses, timeouts,
parity and decode errors, request and error rates), the current value of
every entity and a log of recent events.

By default only failed exchanges are logged. Use --show-all, or press 'a',
to log every request and response too.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Log every exchange (not just errors)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, true)

	gw, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.close()

	f := newFeed()
	gw.hub.AddObserver(f)
	gw.entities.Subscribe(f)

	m := initialMonitorModel(gw.link.String(), gw.hub, gw.entities.States(), monitorShowAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	gw.onLinkState(func(connected bool, info string) {
		if connected {
			p.Send(reconnectedMsg{info: info})
		} else {
			p.Send(linkLostMsg{info: info})
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.run(ctx, p)
	gw.start(ctx, true)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
