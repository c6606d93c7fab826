// Package events carries cache-invalidation notices between the API server
// and its clients over MQTT.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Query keys invalidated by mutations.
const (
	KeyCarriers  = "carriers"
	KeyVehicles  = "vehicles"
	KeyDrivers   = "drivers"
	KeyTrips     = "trips"
	KeyAnalytics = "analytics"
)

// InvalidationEvent lists the query keys whose cached data is outdated.
type InvalidationEvent struct {
	Keys   []string  `json:"keys"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher announces invalidated keys.
type Publisher interface {
	Publish(ctx context.Context, keys ...string) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, ...string) error { return nil }

// ErrNoKeys is returned when decoding an event without keys.
var ErrNoKeys = errors.New("invalidation event has no keys")

// Decode parses an invalidation payload.
func Decode(payload []byte) (InvalidationEvent, error) {
	var ev InvalidationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode invalidation event: %w", err)
	}
	if len(ev.Keys) == 0 {
		return ev, ErrNoKeys
	}
	return ev, nil
}

// Topic is the invalidation topic under prefix.
func Topic(prefix string) string {
	if prefix == "" {
		prefix = "fleet"
	}
	return prefix + "/invalidate"
}

// Config describes the broker connection.
type Config struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Timeout     time.Duration
}

// MQTTBus publishes and receives invalidation events on one topic.
type MQTTBus struct {
	client  mqtt.Client
	topic   string
	source  string
	timeout time.Duration
	logger  log.FieldLogger
}

// Dial connects to the broker.
func Dial(cfg Config, logger log.FieldLogger) (*MQTTBus, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.WithField("broker", cfg.BrokerURL).Info("MQTT connected")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	return NewMQTTBus(client, cfg, logger), nil
}

// NewMQTTBus wraps an already-configured client.
func NewMQTTBus(client mqtt.Client, cfg Config, logger log.FieldLogger) *MQTTBus {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTTBus{
		client:  client,
		topic:   Topic(cfg.TopicPrefix),
		source:  cfg.ClientID,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Publish sends one event with the given keys.
func (b *MQTTBus) Publish(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(InvalidationEvent{Keys: keys, Source: b.source, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode invalidation event: %w", err)
	}
	token := b.client.Publish(b.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.timeout):
		return fmt.Errorf("publish to %s: timed out", b.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.topic, err)
	}
	b.logger.WithFields(log.Fields{"topic": b.topic, "keys": keys}).Debug("Invalidation published")
	return nil
}

// Subscribe delivers every decodable event to fn. Malformed payloads are
// logged and skipped.
func (b *MQTTBus) Subscribe(fn func(InvalidationEvent)) error {
	token := b.client.Subscribe(b.topic, 1, Handler(fn, b.logger))
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribe to %s: timed out", b.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() {
	b.client.Disconnect(250)
}

// Handler adapts fn to a paho message handler.
func Handler(fn func(InvalidationEvent), logger log.FieldLogger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := Decode(msg.Payload())
		if err != nil {
			logger.WithError(err).WithField("topic", msg.Topic()).Warn("Ignoring invalidation message")
			return
		}
		fn(ev)
	}
}
