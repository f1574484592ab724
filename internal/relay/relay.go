// Package relay forwards decoded game events from the streaming client to
// downstream message brokers.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"screeps-relay/internal/logger"
	"screeps-relay/internal/metrics"
	"screeps-relay/internal/stats"
	"screeps-relay/internal/stream"
)

// Subscriber is the slice of the streaming client the relay needs. It is
// satisfied by *stream.Client.
type Subscriber interface {
	Subscribe(topic string, fn stream.Handler) func()
}

// Sink receives forwarded events.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Publish forwards one encoded event for a channel.
	Publish(channel string, payload []byte) error
	// Close releases the sink's resources.
	Close()
}

// envelope is the wire shape forwarded to sinks.
type envelope struct {
	Channel    string    `json:"channel"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Relay holds a set of topics on the streaming client and fans their events
// out to sinks. Sink failures are logged and counted, never fatal: the relay
// inherits the client's recover-and-continue posture.
type Relay struct {
	source  Subscriber
	sinks   []Sink
	topics  []string
	log     *logger.Logger
	metrics *metrics.Metrics
	stats   *stats.RelayStats

	cancels []func()
}

// New creates a relay. Metrics may be nil.
func New(source Subscriber, sinks []Sink, topics []string, log *logger.Logger, m *metrics.Metrics) (*Relay, error) {
	if source == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("at least one sink is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Relay{
		source:  source,
		sinks:   sinks,
		topics:  topics,
		log:     log,
		metrics: m,
		stats:   stats.NewRelayStats(),
	}, nil
}

// Start subscribes every configured topic. Each subscription holds one
// reference on the client, so the topics survive reconnects until Stop.
func (r *Relay) Start() {
	for _, topic := range r.topics {
		cancel := r.source.Subscribe(topic, r.handleEvent)
		r.cancels = append(r.cancels, cancel)
	}
	r.log.Info("relay started", "topics", len(r.topics), "sinks", len(r.sinks))
}

// Stop releases all subscriptions and closes the sinks.
func (r *Relay) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	for _, sink := range r.sinks {
		sink.Close()
	}
	r.log.Info("relay stopped", "stats", r.stats.GetStats())
}

// Stats exposes the relay's counters.
func (r *Relay) Stats() *stats.RelayStats {
	return r.stats
}

func (r *Relay) handleEvent(ev stream.Event) {
	r.stats.RecordEvent()

	data, err := json.Marshal(envelope{
		Channel:    ev.Channel,
		Payload:    ev.Payload,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		r.log.Error("failed to encode event", "channel", ev.Channel, "error", err)
		return
	}

	for _, sink := range r.sinks {
		if err := sink.Publish(ev.Channel, data); err != nil {
			r.stats.RecordSinkError()
			r.safeMetricsUpdate(func(m *metrics.Metrics) {
				m.IncRelayPublishes(sink.Name(), "error")
			})
			r.log.Error("failed to forward event",
				"sink", sink.Name(),
				"channel", ev.Channel,
				"error", err)
			continue
		}
		r.stats.RecordForwarded()
		r.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncRelayPublishes(sink.Name(), "success")
		})
	}
}

func (r *Relay) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if r.metrics != nil {
		fn(r.metrics)
	}
}
