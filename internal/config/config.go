package config

import (
	"fmt"
	"net"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir string     `yaml:"data_dir" env:"DATA_DIR"`
	HTTP    HTTPConfig `yaml:"http"`
	SIP     SIPConfig  `yaml:"sip"`
	MQTT    MQTTConfig `yaml:"mqtt"`

	// EventRetentionDays bounds the ring event log; older entries are
	// pruned hourly.
	EventRetentionDays int `yaml:"event_retention_days" env:"EVENT_RETENTION_DAYS"`
}

type HTTPConfig struct {
	Addr     string `yaml:"addr" env:"HTTP_ADDR"`
	BaseURL  string `yaml:"base_url" env:"HTTP_BASE_URL"`
	Username string `yaml:"username" env:"HTTP_USERNAME"`
	Password string `yaml:"password" env:"HTTP_PASSWORD"`
}

type SIPConfig struct {
	// Host is the local address written into Via/Contact/From headers.
	// Empty means it must come from each profile's local view.
	Host      string `yaml:"host" env:"SIP_HOST"`
	Port      int    `yaml:"port" env:"SIP_PORT"`
	LocalPort int    `yaml:"local_port" env:"SIP_LOCAL_PORT"`
	UserAgent string `yaml:"user_agent" env:"SIP_USER_AGENT"`

	// RingDurationSeconds is the default ring window for profiles that
	// do not set their own.
	RingDurationSeconds int `yaml:"ring_duration_seconds" env:"SIP_RING_DURATION_SECONDS"`
}

type MQTTConfig struct {
	// Enabled gates the whole bridge; the daemon runs fine without a broker.
	Enabled     bool   `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker      string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username    string `yaml:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
}

// LocalAddr is the UDP listen address for the SIP transport.
func (c *SIPConfig) LocalAddr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.LocalPort))
}

// Load reads the YAML file at path, applies defaults, then applies
// SIPRING_-prefixed environment overrides, then validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "SIPRING_"}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DataDir: "/var/lib/sipring",
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		SIP: SIPConfig{
			Port:                5060,
			LocalPort:           5062,
			UserAgent:           "sipring",
			RingDurationSeconds: 30,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "sipring",
			TopicPrefix: "sipring",
		},
		EventRetentionDays: 90,
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if (c.HTTP.Username == "") != (c.HTTP.Password == "") {
		return fmt.Errorf("http.username and http.password must be set together")
	}
	if c.SIP.Port < 1 || c.SIP.Port > 65535 {
		return fmt.Errorf("sip.port must be between 1 and 65535, got %d", c.SIP.Port)
	}
	if c.SIP.LocalPort < 1 || c.SIP.LocalPort > 65535 {
		return fmt.Errorf("sip.local_port must be between 1 and 65535, got %d", c.SIP.LocalPort)
	}
	if c.SIP.RingDurationSeconds < 1 || c.SIP.RingDurationSeconds > 300 {
		return fmt.Errorf("sip.ring_duration_seconds must be between 1 and 300, got %d", c.SIP.RingDurationSeconds)
	}
	if c.EventRetentionDays < 1 {
		return fmt.Errorf("event_retention_days must be at least 1, got %d", c.EventRetentionDays)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix is required when mqtt is enabled")
		}
	}
	return nil
}
