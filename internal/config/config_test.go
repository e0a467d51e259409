package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/sipring
http:
  addr: :9090
  username: admin
  password: s3cret
sip:
  host: 192.168.1.5
  local_port: 5070
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic_prefix: home
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected addr=:9090, got %s", cfg.HTTP.Addr)
	}
	if cfg.SIP.LocalAddr() != "192.168.1.5:5070" {
		t.Errorf("expected local addr=192.168.1.5:5070, got %s", cfg.SIP.LocalAddr())
	}
	if cfg.MQTT.TopicPrefix != "home" {
		t.Errorf("expected topic_prefix=home, got %s", cfg.MQTT.TopicPrefix)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/sipring
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default addr=:8080, got %s", cfg.HTTP.Addr)
	}
	if cfg.SIP.Port != 5060 {
		t.Errorf("expected default sip port=5060, got %d", cfg.SIP.Port)
	}
	if cfg.SIP.LocalPort != 5062 {
		t.Errorf("expected default local port=5062, got %d", cfg.SIP.LocalPort)
	}
	if cfg.SIP.RingDurationSeconds != 30 {
		t.Errorf("expected default ring duration=30, got %d", cfg.SIP.RingDurationSeconds)
	}
	if cfg.EventRetentionDays != 90 {
		t.Errorf("expected default retention=90, got %d", cfg.EventRetentionDays)
	}
	if cfg.MQTT.Enabled {
		t.Error("mqtt should be disabled by default")
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("expected default broker, got %s", cfg.MQTT.Broker)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SIPRING_HTTP_ADDR", ":7070")
	t.Setenv("SIPRING_SIP_HOST", "10.0.0.2")
	t.Setenv("SIPRING_EVENT_RETENTION_DAYS", "7")

	path := writeConfig(t, `
data_dir: /tmp/sipring
http:
  addr: :8080
sip:
  host: 192.168.1.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("env override lost: addr=%s", cfg.HTTP.Addr)
	}
	if cfg.SIP.Host != "10.0.0.2" {
		t.Errorf("env override lost: sip host=%s", cfg.SIP.Host)
	}
	if cfg.EventRetentionDays != 7 {
		t.Errorf("env override lost: retention=%d", cfg.EventRetentionDays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, `{{{invalid`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		errMsg string
	}{
		{"empty data_dir", `
data_dir: ""
`, "data_dir is required"},
		{"username without password", `
data_dir: /tmp/sipring
http:
  username: admin
`, "http.username and http.password must be set together"},
		{"sip port zero", `
data_dir: /tmp/sipring
sip:
  port: 0
`, "sip.port must be between 1 and 65535, got 0"},
		{"local port too high", `
data_dir: /tmp/sipring
sip:
  local_port: 70000
`, "sip.local_port must be between 1 and 65535, got 70000"},
		{"ring duration too long", `
data_dir: /tmp/sipring
sip:
  ring_duration_seconds: 600
`, "sip.ring_duration_seconds must be between 1 and 300, got 600"},
		{"retention zero", `
data_dir: /tmp/sipring
event_retention_days: 0
`, "event_retention_days must be at least 1, got 0"},
		{"mqtt enabled without broker", `
data_dir: /tmp/sipring
mqtt:
  enabled: true
  broker: ""
`, "mqtt.broker is required when mqtt is enabled"},
		{"mqtt enabled without topic prefix", `
data_dir: /tmp/sipring
mqtt:
  enabled: true
  topic_prefix: ""
`, "mqtt.topic_prefix is required when mqtt is enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.config)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}
