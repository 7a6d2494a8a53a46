// Package config holds the typed service configuration: YAML file on disk,
// validated snapshots in memory, atomic hot swap via Manager.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Gate     GateConfig     `yaml:"gate" json:"gate"`
	TTL      TTLConfig      `yaml:"ttl" json:"ttl"`
	Decision DecisionConfig `yaml:"decision" json:"decision"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
}

type HTTPConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	StaticDir string `yaml:"static_dir" json:"static_dir"`
}

type MQTTConfig struct {
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	Username         string `yaml:"username" json:"username"`
	Password         string `yaml:"password" json:"password"`
	ClientID         string `yaml:"client_id" json:"client_id"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds" json:"keepalive_seconds"`
}

// GateConfig names the reader topics. Templates carry a {client_id}
// placeholder substituted by the gateway.
type GateConfig struct {
	GateID            string `yaml:"gate_id" json:"gate_id"`
	TagStreamTopic    string `yaml:"tag_stream_topic" json:"tag_stream_topic"`
	ResponseTopic     string `yaml:"response_topic" json:"response_topic"`
	StatusTopic       string `yaml:"status_topic" json:"status_topic"`
	RFIDCommandTopic  string `yaml:"rfid_command_topic" json:"rfid_command_topic"`
	PowerCommandTopic string `yaml:"power_command_topic" json:"power_command_topic"`
	GPOCommandTopic   string `yaml:"gpo_command_topic" json:"gpo_command_topic"`
	GPOPulseSeconds   int    `yaml:"gpo_pulse_seconds" json:"gpo_pulse_seconds"`
}

type TTLConfig struct {
	InCartSeconds          int64 `yaml:"in_cart_seconds" json:"in_cart_seconds"`
	PaidSeconds            int64 `yaml:"paid_seconds" json:"paid_seconds"`
	CleanupIntervalSeconds int   `yaml:"cleanup_interval_seconds" json:"cleanup_interval_seconds"`
}

type DecisionConfig struct {
	PassWhenInCart  bool  `yaml:"pass_when_in_cart" json:"pass_when_in_cart"`
	DebounceMS      int64 `yaml:"debounce_ms" json:"debounce_ms"`
	AlarmCooldownMS int64 `yaml:"alarm_cooldown_ms" json:"alarm_cooldown_ms"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Token   string `yaml:"token" json:"token"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Host: "0.0.0.0", Port: 8088, StaticDir: "static"},
		MQTT: MQTTConfig{
			Host:             "127.0.0.1",
			Port:             1883,
			ClientID:         "mqttx_1e40cea4",
			KeepaliveSeconds: 30,
		},
		Gate: GateConfig{
			GateID:            "gate-1",
			TagStreamTopic:    "reader/{client_id}/stream/tag",
			ResponseTopic:     "reader/{client_id}/data/response",
			StatusTopic:       "reader/{client_id}/data/status",
			RFIDCommandTopic:  "reader/{client_id}/cmd/rfid",
			PowerCommandTopic: "reader/{client_id}/cmd/power",
			GPOCommandTopic:   "reader/{client_id}/cmd/gpo",
			GPOPulseSeconds:   5,
		},
		TTL: TTLConfig{
			InCartSeconds:          3600,
			PaidSeconds:            86400,
			CleanupIntervalSeconds: 60,
		},
		Decision: DecisionConfig{
			PassWhenInCart:  true,
			DebounceMS:      2500,
			AlarmCooldownMS: 7000,
		},
		Storage: StorageConfig{SQLitePath: "data/edge.db"},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/edge-service.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Auth: AuthConfig{},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the service runs on defaults until a config is written.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Warn("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.WithField("path", path).Info("configuration loaded")
	return cfg, nil
}

// Save writes the config as YAML, creating the parent directory if needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("config: mqtt.port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("config: mqtt.client_id must not be empty")
	}
	if c.MQTT.KeepaliveSeconds < 1 {
		return fmt.Errorf("config: mqtt.keepalive_seconds must be positive")
	}
	for name, topic := range map[string]string{
		"gate.tag_stream_topic":    c.Gate.TagStreamTopic,
		"gate.response_topic":      c.Gate.ResponseTopic,
		"gate.status_topic":        c.Gate.StatusTopic,
		"gate.rfid_command_topic":  c.Gate.RFIDCommandTopic,
		"gate.power_command_topic": c.Gate.PowerCommandTopic,
		"gate.gpo_command_topic":   c.Gate.GPOCommandTopic,
	} {
		if topic == "" {
			return fmt.Errorf("config: %s must not be empty", name)
		}
	}
	if c.Gate.GPOPulseSeconds < 1 {
		return fmt.Errorf("config: gate.gpo_pulse_seconds must be positive")
	}
	if c.TTL.InCartSeconds < 1 || c.TTL.PaidSeconds < 1 {
		return fmt.Errorf("config: ttl seconds must be positive")
	}
	if c.TTL.CleanupIntervalSeconds < 1 {
		return fmt.Errorf("config: ttl.cleanup_interval_seconds must be positive")
	}
	if c.Decision.DebounceMS < 0 || c.Decision.AlarmCooldownMS < 0 {
		return fmt.Errorf("config: decision windows must not be negative")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("config: storage.sqlite_path must not be empty")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("config: log.max_size_mb must be positive")
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("config: log.max_backups must not be negative")
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("config: auth.token required when auth.enabled")
	}
	return nil
}

// Masked returns a copy safe for API responses: credentials are replaced
// with a placeholder when set.
func (c *Config) Masked() Config {
	out := *c
	if out.MQTT.Password != "" {
		out.MQTT.Password = "***"
	}
	if out.Auth.Token != "" {
		out.Auth.Token = "***"
	}
	return out
}
