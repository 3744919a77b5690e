// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "heliotherm.yaml", `
transport:
  type: loopback
  latency: 5ms
hub:
  receive: 800ms
  settle: 150
entities:
  - name: boiler_temperature
    kind: sensor
    message_id: FEED_TEMP
    read: q7_8
    update_interval: 10s
  - name: ch_setpoint
    kind: number
    message_id: 1
    write: q7_8
    min: 20
    max: 80
mqtt:
  enabled: true
  broker: tcp://broker:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport.Type != TransportLoopback {
		t.Errorf("Transport.Type = %q", cfg.Transport.Type)
	}
	if cfg.Transport.Latency.Duration != 5*time.Millisecond {
		t.Errorf("Transport.Latency = %v", cfg.Transport.Latency)
	}
	if cfg.Hub.Receive.Duration != 800*time.Millisecond {
		t.Errorf("Hub.Receive = %v", cfg.Hub.Receive)
	}
	if cfg.Hub.Settle.Duration != 150*time.Millisecond {
		t.Errorf("Hub.Settle = %v, want 150ms from bare integer", cfg.Hub.Settle)
	}
	if cfg.Hub.MaxTimeout.Duration != 1150*time.Millisecond {
		t.Errorf("Hub.MaxTimeout default = %v", cfg.Hub.MaxTimeout)
	}
	if len(cfg.Entities) != 2 {
		t.Fatalf("len(Entities) = %d, want 2", len(cfg.Entities))
	}
	if cfg.Entities[1].Max == nil || *cfg.Entities[1].Max != 80 {
		t.Errorf("Entities[1].Max = %v", cfg.Entities[1].Max)
	}
	if got := cfg.Entities[1].DefaultMessageType(); got != opentherm.WriteData {
		t.Errorf("number default type = %s, want WRITE_DATA", got)
	}
	if got := cfg.Entities[0].DefaultMessageType(); got != opentherm.ReadData {
		t.Errorf("sensor default type = %s, want READ_DATA", got)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "heliotherm.toml", `
[transport]
type = "websocket"
url = "wss://adapter.local/ws"

[hub]
tick_interval = "5ms"

[[entities]]
name = "flame"
kind = "binary_sensor"
message_id = "STATUS"
read = "flag3_lb"

[api]
listen = ":8080"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.URL != "wss://adapter.local/ws" {
		t.Errorf("Transport.URL = %q", cfg.Transport.URL)
	}
	if cfg.Hub.TickInterval.Duration != 5*time.Millisecond {
		t.Errorf("Hub.TickInterval = %v", cfg.Hub.TickInterval)
	}
	if len(cfg.Entities) != 1 || cfg.Entities[0].Read != "flag3_lb" {
		t.Errorf("Entities = %+v", cfg.Entities)
	}
	if cfg.API.Listen != ":8080" {
		t.Errorf("API.Listen = %q", cfg.API.Listen)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/heliotherm.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "heliotherm.ini", "type=serial\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for .ini file")
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Transport.Type != TransportSerial || cfg.Hub.PreReceive.Duration != 20*time.Millisecond {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HELIOTHERM_TRANSPORT", "websocket")
	t.Setenv("HELIOTHERM_URL", "ws://10.0.0.5/ws")
	t.Setenv("HELIOTHERM_PASSWORD", "secret")
	t.Setenv("HELIOTHERM_MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("HELIOTHERM_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport.Type != TransportWebSocket || cfg.Transport.URL != "ws://10.0.0.5/ws" {
		t.Errorf("transport overrides not applied: %+v", cfg.Transport)
	}
	if cfg.Transport.Password != "secret" {
		t.Error("password override not applied")
	}
	if cfg.MQTT.Broker != "tcp://mqtt:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Transport.Type = "carrier-pigeon"
	cfg.Hub.Receive = Duration{2 * time.Second}
	cfg.Entities = []EntityConfig{
		{Name: "a", Kind: "sensor", MessageID: "FEED_TEMP"},
		{Name: "a", Kind: "switch", MessageID: "200", Write: "flag99"},
		{Name: "b", Kind: "thermostat", MessageID: "STATUS", MessageType: "NOPE"},
	}
	cfg.MQTT.Enabled = true
	cfg.MQTT.QoS = 3

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}

	for _, want := range []string{
		"transport.type",
		"hub.pre_receive + hub.receive",
		"sensor requires a read accessor",
		"duplicate name",
		"out of range",
		"write: ",
		"kind \"thermostat\"",
		"unknown message type",
		"mqtt.qos",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_Timeouts(t *testing.T) {
	cfg := Default()
	cfg.Hub.Settle = Duration{}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "hub.settle must be positive") {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate_Tolerance(t *testing.T) {
	tests := []struct {
		tolerance uint32
		valid     bool
	}{
		{0, false},
		{1, true},
		{10, true},
		{33, true},
		{34, false},
		{99, false},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Transport.Tolerance = tt.tolerance
		err := cfg.Validate()
		if tt.valid && err != nil {
			t.Errorf("tolerance %d: Validate() = %v", tt.tolerance, err)
		}
		if !tt.valid && (err == nil || !strings.Contains(err.Error(), "transport.tolerance")) {
			t.Errorf("tolerance %d: Validate() = %v, want tolerance error", tt.tolerance, err)
		}
	}
}
