// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/logging"
)

// Version is the release version reported by --version and the API.
const Version = "0.3.0"

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "heliotherm",
	Short: "OpenTherm master gateway",
	Long: `Heliotherm - An OpenTherm master that talks to a boiler through a pulse
capture adapter.

The gateway schedules READ_DATA/WRITE_DATA exchanges with the boiler, decodes
the Manchester-coded responses and keeps a set of configured entities
(sensors, binary sensors, switches and numbers) up to date. States can be
mirrored to MQTT and InfluxDB and are served by a local HTTP API.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Loopback:  the simulate command, or transport.type: loopback in the config

For WebSocket authentication, the password is read from the HELIOTHERM_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and applies the connection flags on top.
// --url selects the websocket transport and --port the serial transport.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	switch {
	case wsURL != "":
		cfg.Transport.Type = config.TransportWebSocket
		cfg.Transport.URL = wsURL
	case portName != "":
		cfg.Transport.Type = config.TransportSerial
		cfg.Transport.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Transport.Baud = baudRate
	}
	if wsUsername != "" {
		cfg.Transport.Username = wsUsername
	}
	if wsNoSSLVerify {
		cfg.Transport.NoSSLVerify = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Interactive commands pass quiet to
// keep log lines off the terminal UI.
func newLogger(cfg *config.Config, quiet bool) zerolog.Logger {
	if quiet {
		return logging.Nop()
	}
	return logging.New(cfg.Logging, Version)
}
