// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the heliotherm gateway configuration.
//
// Files are YAML (.yaml, .yml) or TOML (.toml). Values are applied in order:
// built-in defaults, the file, HELIOTHERM_* environment variables, then the
// whole result is validated and every problem is reported at once.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// Transport types
const (
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
	TransportLoopback  = "loopback"
)

// Entity kinds
const (
	KindSensor       = "sensor"
	KindBinarySensor = "binary_sensor"
	KindSwitch       = "switch"
	KindNumber       = "number"
)

// MaxTolerance is the widest pulse tolerance in percent.
const MaxTolerance = 33

// Config is the root configuration structure.
type Config struct {
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Entities  []EntityConfig  `yaml:"entities" toml:"entities"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" toml:"influxdb"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// TransportConfig selects and configures the line adapter.
type TransportConfig struct {
	Type        string   `yaml:"type" toml:"type"`
	Port        string   `yaml:"port" toml:"port"`
	Baud        int      `yaml:"baud" toml:"baud"`
	URL         string   `yaml:"url" toml:"url"`
	Username    string   `yaml:"username" toml:"username"`
	Password    string   `yaml:"password" toml:"password"`
	NoSSLVerify bool     `yaml:"no_ssl_verify" toml:"no_ssl_verify"`
	Tolerance   uint32   `yaml:"tolerance" toml:"tolerance"`
	Latency     Duration `yaml:"latency" toml:"latency"` // loopback reply delay
}

// HubConfig holds the scheduler cadence and exchange timeouts.
type HubConfig struct {
	TickInterval Duration `yaml:"tick_interval" toml:"tick_interval"`
	MaxTimeout   Duration `yaml:"max_timeout" toml:"max_timeout"`
	PreReceive   Duration `yaml:"pre_receive" toml:"pre_receive"`
	Receive      Duration `yaml:"receive" toml:"receive"`
	Settle       Duration `yaml:"settle" toml:"settle"`
}

// EntityConfig declares one consumer bound to a data identity.
type EntityConfig struct {
	Name           string   `yaml:"name" toml:"name"`
	Kind           string   `yaml:"kind" toml:"kind"`
	MessageID      string   `yaml:"message_id" toml:"message_id"`
	MessageType    string   `yaml:"message_type" toml:"message_type"`
	Read           string   `yaml:"read" toml:"read"`
	Write          string   `yaml:"write" toml:"write"`
	UpdateInterval Duration `yaml:"update_interval" toml:"update_interval"`
	Min            *float64 `yaml:"min" toml:"min"`
	Max            *float64 `yaml:"max" toml:"max"`
	Initial        *float64 `yaml:"initial" toml:"initial"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         int    `yaml:"qos" toml:"qos"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	URL           string   `yaml:"url" toml:"url"`
	Token         string   `yaml:"token" toml:"token"`
	Org           string   `yaml:"org" toml:"org"`
	Bucket        string   `yaml:"bucket" toml:"bucket"`
	FlushInterval Duration `yaml:"flush_interval" toml:"flush_interval"`
}

// APIConfig configures the local HTTP API. An empty Listen disables it.
type APIConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // console or json
	Output string `yaml:"output" toml:"output"` // stdout or stderr
}

// Load reads the file at path, applies environment overrides and validates
// the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	case ".yaml", ".yml", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Type:      TransportSerial,
			Port:      "/dev/ttyACM0",
			Baud:      115200,
			Username:  "admin",
			Tolerance: opentherm.DefaultTolerance,
			Latency:   Duration{100 * time.Millisecond},
		},
		Hub: HubConfig{
			TickInterval: Duration{10 * time.Millisecond},
			MaxTimeout:   Duration{1150 * time.Millisecond},
			PreReceive:   Duration{20 * time.Millisecond},
			Receive:      Duration{834 * time.Millisecond},
			Settle:       Duration{100 * time.Millisecond},
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "heliotherm",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "heliotherm",
			FlushInterval: Duration{10 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies HELIOTHERM_* environment variables.
func applyEnvOverrides(cfg *Config) {
	// Transport
	if v := os.Getenv("HELIOTHERM_TRANSPORT"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv("HELIOTHERM_PORT"); v != "" {
		cfg.Transport.Port = v
	}
	if v := os.Getenv("HELIOTHERM_URL"); v != "" {
		cfg.Transport.URL = v
	}
	if v := os.Getenv("HELIOTHERM_USERNAME"); v != "" {
		cfg.Transport.Username = v
	}
	if v := os.Getenv("HELIOTHERM_PASSWORD"); v != "" {
		cfg.Transport.Password = v
	}

	// MQTT
	if v := os.Getenv("HELIOTHERM_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("HELIOTHERM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("HELIOTHERM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HELIOTHERM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("HELIOTHERM_API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}

	// Logging
	if v := os.Getenv("HELIOTHERM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch c.Transport.Type {
	case TransportSerial:
		if c.Transport.Port == "" {
			errs = append(errs, "transport.port is required for serial")
		}
		if c.Transport.Baud <= 0 {
			errs = append(errs, "transport.baud must be positive")
		}
	case TransportWebSocket:
		if c.Transport.URL == "" {
			errs = append(errs, "transport.url is required for websocket")
		}
	case TransportLoopback:
	default:
		errs = append(errs, fmt.Sprintf("transport.type %q must be serial, websocket or loopback", c.Transport.Type))
	}
	// above a third the 1 and 2 unit pulse windows overlap
	if c.Transport.Tolerance == 0 || c.Transport.Tolerance > MaxTolerance {
		errs = append(errs, fmt.Sprintf("transport.tolerance must be between 1 and %d percent", MaxTolerance))
	}

	errs = append(errs, c.Hub.validate()...)

	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		if e.Name != "" && seen[e.Name] {
			errs = append(errs, fmt.Sprintf("entities[%d]: duplicate name %q", i, e.Name))
		}
		seen[e.Name] = true
		for _, msg := range e.validate() {
			errs = append(errs, fmt.Sprintf("entities[%d]: %s", i, msg))
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (h HubConfig) validate() []string {
	var errs []string
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"hub.tick_interval", h.TickInterval.Duration},
		{"hub.max_timeout", h.MaxTimeout.Duration},
		{"hub.pre_receive", h.PreReceive.Duration},
		{"hub.receive", h.Receive.Duration},
		{"hub.settle", h.Settle.Duration},
	} {
		if d.value <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}
	if h.PreReceive.Duration+h.Receive.Duration >= h.MaxTimeout.Duration {
		errs = append(errs, "hub.pre_receive + hub.receive must be shorter than hub.max_timeout")
	}
	return errs
}

func (e EntityConfig) validate() []string {
	var errs []string

	if e.Name == "" {
		errs = append(errs, "name is required")
	}
	if _, err := opentherm.ParseMessageID(e.MessageID); err != nil {
		errs = append(errs, err.Error())
	}
	if e.MessageType != "" {
		if _, err := opentherm.ParseMessageType(e.MessageType); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if e.Read != "" {
		if _, err := opentherm.ParseAccessor(e.Read); err != nil {
			errs = append(errs, "read: "+err.Error())
		}
	}
	if e.Write != "" {
		if _, err := opentherm.ParseAccessor(e.Write); err != nil {
			errs = append(errs, "write: "+err.Error())
		}
	}

	switch e.Kind {
	case KindSensor, KindBinarySensor:
		if e.Read == "" {
			errs = append(errs, e.Kind+" requires a read accessor")
		}
		if e.UpdateInterval.Duration < 0 {
			errs = append(errs, "update_interval must not be negative")
		}
	case KindSwitch, KindNumber:
	default:
		errs = append(errs, fmt.Sprintf("kind %q must be sensor, binary_sensor, switch or number", e.Kind))
	}

	if e.Min != nil && e.Max != nil && *e.Min > *e.Max {
		errs = append(errs, "min must not exceed max")
	}

	return errs
}

// DefaultMessageType returns the configured type, or WRITE_DATA for
// switches and numbers and READ_DATA otherwise.
func (e EntityConfig) DefaultMessageType() opentherm.MessageType {
	if e.MessageType != "" {
		if t, err := opentherm.ParseMessageType(e.MessageType); err == nil {
			return t
		}
	}
	if e.Kind == KindSwitch || e.Kind == KindNumber {
		return opentherm.WriteData
	}
	return opentherm.ReadData
}
