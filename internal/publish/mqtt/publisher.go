// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqtt mirrors entity states to an MQTT broker and accepts control
// commands for switches and numbers.
//
// Topics, under the configured prefix:
//
//	<prefix>/status            online/offline (retained, LWT)
//	<prefix>/state/<entity>    entity state JSON (retained)
//	<prefix>/command/<entity>  value to write ("55", "on", {"value": 55})
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heliotherm/internal/config"
	"github.com/Thermoquad/heliotherm/internal/entity"
)

// Connection constants
const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
	queueSize         = 64
)

var (
	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrInvalidCommand is returned for a command payload that is not a value.
	ErrInvalidCommand = errors.New("mqtt: invalid command payload")
)

// Controller applies a command to a named entity. *entity.Registry
// satisfies it.
type Controller interface {
	Set(name string, v float64) error
}

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status is the retained online/offline topic.
func (t Topics) Status() string { return t.Prefix + "/status" }

// State is the retained state topic of an entity.
func (t Topics) State(name string) string { return t.Prefix + "/state/" + name }

// Command is the control topic of an entity.
func (t Topics) Command(name string) string { return t.Prefix + "/command/" + name }

// CommandFilter matches every control topic.
func (t Topics) CommandFilter() string { return t.Prefix + "/command/+" }

// Publisher is an entity.StatePublisher backed by a paho client.
type Publisher struct {
	client   pahomqtt.Client
	topics   Topics
	qos      byte
	clientID string
	ctrl     Controller
	logger   zerolog.Logger

	queue chan entity.State
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// Connect dials the broker and starts the publish worker. ctrl may be nil to
// ignore commands.
func Connect(cfg config.MQTTConfig, ctrl Controller, logger zerolog.Logger) (*Publisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "heliotherm-" + uuid.NewString()[:8]
	}
	topics := Topics{Prefix: cfg.TopicPrefix}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(topics.Status(), statusPayload("offline", clientID, "unexpected_disconnect"), byte(cfg.QoS), true)

	p := newPublisher(nil, topics, byte(cfg.QoS), clientID, ctrl, logger)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		p.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p.start()
	return p, nil
}

func newPublisher(client pahomqtt.Client, topics Topics, qos byte, clientID string, ctrl Controller, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topics:   topics,
		qos:      qos,
		clientID: clientID,
		ctrl:     ctrl,
		logger:   logger.With().Str("component", "mqtt").Logger(),
		queue:    make(chan entity.State, queueSize),
		done:     make(chan struct{}),
	}
}

func (p *Publisher) start() {
	p.wg.Add(1)
	go p.worker()
}

// onConnect runs on every (re)connect: subscriptions are restored and the
// online status is published.
func (p *Publisher) onConnect() {
	p.logger.Info().Str("client_id", p.clientID).Msg("MQTT connected")
	if p.ctrl != nil {
		p.client.Subscribe(p.topics.CommandFilter(), p.qos, p.handleCommand)
	}
	p.client.Publish(p.topics.Status(), p.qos, true, statusPayload("online", p.clientID, ""))
}

// Publish implements entity.StatePublisher. It never blocks; states are
// dropped when the queue is full.
func (p *Publisher) Publish(s entity.State) {
	select {
	case p.queue <- s:
	default:
		p.logger.Warn().Str("entity", s.Name).Msg("MQTT queue full, dropping state")
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case s := <-p.queue:
			if err := p.publishState(s); err != nil {
				p.logger.Warn().Err(err).Str("entity", s.Name).Msg("MQTT publish failed")
			}
		}
	}
}

// statePayload is the JSON published on a state topic.
type statePayload struct {
	Value     any       `json:"value"`
	Valid     bool      `json:"valid"`
	Kind      string    `json:"kind"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeState(s entity.State) ([]byte, error) {
	payload := statePayload{
		Valid:     s.Valid,
		Kind:      string(s.Kind),
		MessageID: s.ID.String(),
		Timestamp: s.Timestamp.UTC(),
	}
	if s.Valid {
		switch s.Kind {
		case entity.KindBinarySensor, entity.KindSwitch:
			payload.Value = s.Bool()
		default:
			payload.Value = s.Value
		}
	}
	return json.Marshal(payload)
}

func (p *Publisher) publishState(s entity.State) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topics.State(s.Name), p.qos, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", p.topics.State(s.Name))
	}
	return token.Error()
}

func (p *Publisher) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	name := strings.TrimPrefix(msg.Topic(), p.topics.Command(""))
	logger := p.logger.With().Str("entity", name).Logger()

	v, err := ParseCommand(msg.Payload())
	if err != nil {
		logger.Warn().Err(err).Str("payload", string(msg.Payload())).Msg("Ignoring command")
		return
	}
	if err := p.ctrl.Set(name, v); err != nil {
		logger.Warn().Err(err).Msg("Command rejected")
		return
	}
	logger.Info().Float64("value", v).Msg("Command applied")
}

// ParseCommand accepts a number, on/off/true/false, or {"value": x}.
func ParseCommand(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))

	if strings.HasPrefix(s, "{") {
		var body struct {
			Value any `json:"value"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		switch v := body.Value.(type) {
		case float64:
			return v, nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("%w: value must be a number or boolean", ErrInvalidCommand)
	}

	switch strings.ToLower(s) {
	case "on", "true":
		return 1, nil
	case "off", "false":
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	return v, nil
}

func statusPayload(status, clientID, reason string) string {
	payload := map[string]string{
		"status":    status,
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// Run blocks until ctx is done and then closes the publisher.
func (p *Publisher) Run(ctx context.Context) {
	<-ctx.Done()
	p.Close()
}

// Close publishes a graceful offline status and disconnects.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()

		if p.client.IsConnected() {
			token := p.client.Publish(p.topics.Status(), p.qos, true, statusPayload("offline", p.clientID, "graceful_shutdown"))
			token.WaitTimeout(publishTimeout)
		}
		p.client.Disconnect(disconnectQuiesce)
	})
}
