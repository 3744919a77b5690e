// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// ============================================================
// Test Helpers
// ============================================================

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes and subscriptions. Methods the publisher
// does not use are left to the embedded nil interface.
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	connected    bool
	disconnected bool
	notify       chan published
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers:  make(map[string]pahomqtt.MessageHandler),
		connected: true,
		notify:    make(chan published, 16),
	}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	p := published{topic: topic, retained: retained, payload: data}
	c.mu.Lock()
	c.published = append(c.published, p)
	c.mu.Unlock()
	select {
	case c.notify <- p:
	default:
	}
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func (c *fakeClient) deliver(filter, topic string, payload []byte) {
	c.mu.Lock()
	cb := c.handlers[filter]
	c.mu.Unlock()
	cb(c, fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type recordingController struct {
	mu   sync.Mutex
	sets map[string]float64
	err  error
}

func (r *recordingController) Set(name string, v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sets[name] = v
	return nil
}

func startPublisher(t *testing.T, ctrl Controller) (*Publisher, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	p := newPublisher(client, Topics{Prefix: "heliotherm"}, 1, "test-client", ctrl, zerolog.Nop())
	p.start()
	p.onConnect()
	t.Cleanup(p.Close)
	return p, client
}

func waitPublish(t *testing.T, c *fakeClient, topic string) published {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-c.notify:
			if p.topic == topic {
				return p
			}
		case <-deadline:
			t.Fatalf("nothing published to %s", topic)
		}
	}
}

// ============================================================
// Tests
// ============================================================

func TestPublisher_OnlineStatusAndSubscription(t *testing.T) {
	_, client := startPublisher(t, &recordingController{sets: map[string]float64{}})

	status := waitPublish(t, client, "heliotherm/status")
	if !status.retained {
		t.Error("status not retained")
	}
	var body map[string]string
	if err := json.Unmarshal(status.payload, &body); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if body["status"] != "online" || body["client_id"] != "test-client" {
		t.Errorf("status payload = %v", body)
	}

	client.mu.Lock()
	_, ok := client.handlers["heliotherm/command/+"]
	client.mu.Unlock()
	if !ok {
		t.Error("command filter not subscribed")
	}
}

func TestPublisher_PublishesState(t *testing.T) {
	p, client := startPublisher(t, nil)

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		state entity.State
		value any
	}{
		{entity.State{Name: "boiler_temp", Kind: entity.KindSensor, ID: opentherm.FeedTemp, Value: 60.5, Valid: true, Timestamp: ts}, 60.5},
		{entity.State{Name: "flame", Kind: entity.KindBinarySensor, ID: opentherm.Status, Value: 1, Valid: true, Timestamp: ts}, true},
		{entity.State{Name: "boiler_temp", Kind: entity.KindSensor, ID: opentherm.FeedTemp, Valid: false, Timestamp: ts}, nil},
	}

	for _, tt := range tests {
		p.Publish(tt.state)
		msg := waitPublish(t, client, "heliotherm/state/"+tt.state.Name)
		if !msg.retained {
			t.Errorf("%s: state not retained", tt.state.Name)
		}

		var body map[string]any
		if err := json.Unmarshal(msg.payload, &body); err != nil {
			t.Fatalf("%s: payload: %v", tt.state.Name, err)
		}
		if body["value"] != tt.value || body["valid"] != tt.state.Valid {
			t.Errorf("%s: payload = %v, want value %v", tt.state.Name, body, tt.value)
		}
		if body["message_id"] != tt.state.ID.String() {
			t.Errorf("%s: message_id = %v", tt.state.Name, body["message_id"])
		}
	}
}

func TestPublisher_Commands(t *testing.T) {
	ctrl := &recordingController{sets: map[string]float64{}}
	_, client := startPublisher(t, ctrl)

	client.deliver("heliotherm/command/+", "heliotherm/command/ch_setpoint", []byte(`{"value": 55}`))
	client.deliver("heliotherm/command/+", "heliotherm/command/ch_enable", []byte("ON"))
	client.deliver("heliotherm/command/+", "heliotherm/command/bogus", []byte("warm"))

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.sets["ch_setpoint"] != 55 || ctrl.sets["ch_enable"] != 1 {
		t.Errorf("sets = %v", ctrl.sets)
	}
	if _, ok := ctrl.sets["bogus"]; ok {
		t.Error("invalid payload was applied")
	}
}

func TestPublisher_CloseSendsOffline(t *testing.T) {
	client := newFakeClient()
	p := newPublisher(client, Topics{Prefix: "ht"}, 0, "c1", nil, zerolog.Nop())
	p.start()
	p.Close()
	p.Close()

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.disconnected {
		t.Error("client not disconnected")
	}
	last := client.published[len(client.published)-1]
	if last.topic != "ht/status" {
		t.Fatalf("last publish to %s", last.topic)
	}
	var body map[string]string
	if err := json.Unmarshal(last.payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body["status"] != "offline" || body["reason"] != "graceful_shutdown" {
		t.Errorf("offline payload = %v", body)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    float64
		wantErr bool
	}{
		{"55", 55, false},
		{" 21.5 ", 21.5, false},
		{"on", 1, false},
		{"OFF", 0, false},
		{"true", 1, false},
		{`{"value": 42.5}`, 42.5, false},
		{`{"value": false}`, 0, false},
		{`{"value": "hot"}`, 0, true},
		{`{"value":`, 0, true},
		{"warm", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCommand([]byte(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommand(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("ParseCommand(%q) error = %v, want ErrInvalidCommand", tt.payload, err)
		}
		if got != tt.want {
			t.Errorf("ParseCommand(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "heliotherm"}
	if topics.State("x") != "heliotherm/state/x" || topics.Command("x") != "heliotherm/command/x" {
		t.Errorf("topics = %s, %s", topics.State("x"), topics.Command("x"))
	}
}
