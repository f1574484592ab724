// Package mqtt implements a relay sink publishing to an MQTT broker.
package mqtt

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"screeps-relay/config"
	"screeps-relay/internal/logger"
)

// Sink publishes relayed events to MQTT topics under a configured prefix.
type Sink struct {
	client mqtt.Client
	prefix string
	qos    byte
	log    *logger.Logger
}

// NewSink connects to the MQTT broker. Reconnection is delegated to the
// paho client.
func NewSink(cfg *config.MQTTConfig, log *logger.Logger) (*Sink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("no MQTT broker address provided")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info("mqtt client connected", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Error("mqtt connection lost", "error", err)
	}
	opts.OnReconnecting = func(_ mqtt.Client, opts *mqtt.ClientOptions) {
		log.Info("mqtt client reconnecting", "broker", opts.Servers[0])
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", token.Error())
	}

	return &Sink{
		client: client,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		log:    log,
	}, nil
}

// newSinkWithClient builds a sink around a provided client (for testing).
func newSinkWithClient(client mqtt.Client, prefix string, qos byte, log *logger.Logger) *Sink {
	return &Sink{client: client, prefix: prefix, qos: qos, log: log}
}

// Name implements relay.Sink.
func (s *Sink) Name() string {
	return "mqtt"
}

// Publish sends one event to the channel's topic.
func (s *Sink) Publish(channel string, payload []byte) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}
	topic := TopicFor(s.prefix, channel)
	if token := s.client.Publish(topic, s.qos, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	s.log.Debug("published event", "topic", topic, "payloadSize", len(payload))
	return nil
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	s.log.Info("disconnecting from mqtt broker")
	s.client.Disconnect(250)
}

// TopicFor converts a channel name to an MQTT topic under the prefix.
// Colon-separated channel names ("room:W1N1") map to topic levels, and
// MQTT wildcard characters are stripped out.
func TopicFor(prefix, channel string) string {
	topic := strings.ReplaceAll(channel, ":", "/")
	topic = strings.ReplaceAll(topic, "+", "_")
	topic = strings.ReplaceAll(topic, "#", "_")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}
