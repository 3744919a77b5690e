// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling the boiler",
	Long: `Control the boiler through its entities in an interactive terminal UI.

The left panel lists every entity. Switches and numbers can be changed from
the control panel: type a value and press Enter, or press Enter on the button
to toggle a switch. Changes are written to the boiler on the next exchange.

Features:
  - Live entity values
  - Switch and number control with range checking
  - Statistics tracking
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the entity list, the value input and the button.
Arrow keys navigate the entity list.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
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

	m := initialControlModel(gw.link.String(), gw.hub, gw.entities, gw.entities.States())

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

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
