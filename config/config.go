package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Stream  StreamConfig  `json:"stream" yaml:"stream"`
	Relay   RelayConfig   `json:"relay" yaml:"relay"`
	Logging LogConfig     `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// StreamConfig configures the connection to the game server.
type StreamConfig struct {
	Endpoint            string `json:"endpoint" yaml:"endpoint"`
	Credential          string `json:"credential" yaml:"credential"`
	Username            string `json:"username" yaml:"username"`
	DisableReconnect    bool   `json:"disableReconnect" yaml:"disableReconnect"`
	ReconnectBaseDelay  string `json:"reconnectBaseDelay" yaml:"reconnectBaseDelay"`   // duration string
	ReconnectMaxDelay   string `json:"reconnectMaxDelay" yaml:"reconnectMaxDelay"`     // duration string
	AuthRefreshInterval string `json:"authRefreshInterval" yaml:"authRefreshInterval"` // duration string
}

// RelayConfig configures which topics are held and where their events go.
type RelayConfig struct {
	Topics []string   `json:"topics" yaml:"topics"`
	NATS   NATSConfig `json:"nats" yaml:"nats"`
	MQTT   MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

type NATSConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subjectPrefix" yaml:"subjectPrefix"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"clientId" yaml:"clientId"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`           // debug, info, warn, error
	OutputPath string `json:"outputPath" yaml:"outputPath"` // file path or "stdout"
	Encoding   string `json:"encoding" yaml:"encoding"`     // json or console
	MaxSize    int    `json:"maxSize" yaml:"maxSize"`       // megabytes before rotation
	MaxAge     int    `json:"maxAge" yaml:"maxAge"`         // days to retain
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Address        string `json:"address" yaml:"address"`
	Path           string `json:"path" yaml:"path"`
	UpdateInterval string `json:"updateInterval" yaml:"updateInterval"` // duration string
}

// Load reads and parses the configuration file. Both JSON and YAML files are
// accepted, keyed on the file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Stream.ReconnectBaseDelay == "" {
		config.Stream.ReconnectBaseDelay = "1s"
	}
	if config.Stream.ReconnectMaxDelay == "" {
		config.Stream.ReconnectMaxDelay = "20s"
	}
	if config.Stream.AuthRefreshInterval == "" {
		config.Stream.AuthRefreshInterval = "10m"
	}

	if config.Relay.NATS.SubjectPrefix == "" {
		config.Relay.NATS.SubjectPrefix = "screeps"
	}
	if config.Relay.NATS.URL == "" {
		config.Relay.NATS.URL = "nats://127.0.0.1:4222"
	}
	if config.Relay.MQTT.TopicPrefix == "" {
		config.Relay.MQTT.TopicPrefix = "screeps"
	}
	if config.Relay.MQTT.ClientID == "" {
		config.Relay.MQTT.ClientID = "screeps-relay"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.OutputPath == "" {
		config.Logging.OutputPath = "stdout"
	}
	if config.Logging.Encoding == "" {
		config.Logging.Encoding = "json"
	}

	if config.Metrics.Address == "" {
		config.Metrics.Address = ":2112"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.UpdateInterval == "" {
		config.Metrics.UpdateInterval = "15s"
	}
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	if cfg.Stream.Endpoint == "" {
		return fmt.Errorf("stream endpoint is required")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"reconnectBaseDelay", cfg.Stream.ReconnectBaseDelay},
		{"reconnectMaxDelay", cfg.Stream.ReconnectMaxDelay},
		{"authRefreshInterval", cfg.Stream.AuthRefreshInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}

	if cfg.Relay.MQTT.Enabled && cfg.Relay.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address is required when mqtt is enabled")
	}
	if cfg.Relay.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", cfg.Relay.MQTT.QoS)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.UpdateInterval); err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}
	}

	return nil
}

// ReconnectBaseDelayDuration returns the parsed backoff base delay.
func (s *StreamConfig) ReconnectBaseDelayDuration() time.Duration {
	d, _ := time.ParseDuration(s.ReconnectBaseDelay)
	return d
}

// ReconnectMaxDelayDuration returns the parsed backoff cap.
func (s *StreamConfig) ReconnectMaxDelayDuration() time.Duration {
	d, _ := time.ParseDuration(s.ReconnectMaxDelay)
	return d
}

// AuthRefreshIntervalDuration returns the parsed re-authentication period.
func (s *StreamConfig) AuthRefreshIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(s.AuthRefreshInterval)
	return d
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(endpoint, credential, metricsAddr, metricsPath string) {
	if endpoint != "" {
		c.Stream.Endpoint = endpoint
	}
	if credential != "" {
		c.Stream.Credential = credential
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
}
