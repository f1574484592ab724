// Package nats implements a relay sink publishing to a NATS server.
package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"screeps-relay/config"
	"screeps-relay/internal/logger"
)

// Sink publishes relayed events to NATS subjects under a configured prefix.
type Sink struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// NewSink connects to the NATS server. The connection manages its own
// reconnection; publishes while disconnected fail and are handled by the
// relay's error path.
func NewSink(cfg *config.NATSConfig, log *logger.Logger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no NATS server URL provided")
	}

	opts := []nats.Option{
		nats.Name("screeps-relay"),
		nats.ReconnectWait(time.Second * 2),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error("nats connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats client reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	log.Info("connecting to NATS server", "url", cfg.URL)
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	return &Sink{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		log:    log,
	}, nil
}

// Name implements relay.Sink.
func (s *Sink) Name() string {
	return "nats"
}

// Publish sends one event to the channel's subject.
func (s *Sink) Publish(channel string, payload []byte) error {
	subject := SubjectFor(s.prefix, channel)
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	s.log.Debug("published event", "subject", subject, "payloadSize", len(payload))
	return nil
}

// Close drains and closes the connection.
func (s *Sink) Close() {
	if err := s.conn.Drain(); err != nil {
		s.log.Error("failed to drain nats connection", "error", err)
		s.conn.Close()
	}
}

// SubjectFor converts a channel name to a NATS subject under the prefix.
// Channel names use / and : as separators; NATS subjects use dots and
// forbid spaces and a handful of special characters.
func SubjectFor(prefix, channel string) string {
	subject := strings.ReplaceAll(channel, "/", ".")
	subject = strings.ReplaceAll(subject, ":", ".")
	subject = sanitizeSubject(subject)
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

func sanitizeSubject(subject string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		",", "_",
		"*", "_",
		">", "_",
		"?", "_",
		"[", "_",
		"]", "_",
	)
	return replacer.Replace(subject)
}
