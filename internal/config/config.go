// Package config handles Concierge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "concierge", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/concierge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Concierge configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Mailbox    MailboxConfig    `yaml:"mailbox"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Store      StoreConfig      `yaml:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	AutoSend   AutoSendConfig   `yaml:"auto_send"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the operator HTTP surface bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8700
}

// MailboxConfig defines the OTA mailbox the poller watches and the
// operator identity used on outbound replies.
type MailboxConfig struct {
	// Host and Port locate the IMAP server for the OTA mailbox.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Username and Password authenticate the operator mailbox.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// From is the operator address used on outbound replies,
	// e.g. "Stay Ops <host@example.com>".
	From string `yaml:"from"`
	// SenderDomain is the OTA notification sender family,
	// e.g. "airbnb.com". Only mail from this domain is ingested.
	SenderDomain string `yaml:"sender_domain"`
	// TLSInsecure skips certificate verification (dev servers only).
	TLSInsecure bool `yaml:"tls_insecure"`
}

// LLMConfig defines the drafting/classification LLM.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// Enabled gates the LLM drafting stage. When false, replies come
	// from templates only. Default true.
	Enabled *bool `yaml:"enabled"`
	// TimeoutSec is the per-call timeout in seconds (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
}

// EmbeddingsConfig defines the embedding provider.
type EmbeddingsConfig struct {
	BaseURL string `yaml:"base_url"` // e.g. "http://localhost:11434"
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Dimension is the expected vector dimension (default 1536).
	Dimension int `yaml:"dimension"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"` // Default: concierge.db
}

// PipelineConfig tunes the ingestion loop.
type PipelineConfig struct {
	// PollIntervalSec is the mailbox poll interval (default 60).
	PollIntervalSec int `yaml:"poll_interval_sec"`
	// Workers is the message worker pool size (default 4).
	Workers int `yaml:"workers"`
	// BatchSize caps messages fetched per tick (default 50).
	BatchSize int `yaml:"batch_size"`
	// SinceDays bounds the mailbox query window (default 3).
	SinceDays int `yaml:"since_days"`
}

// AutoSendConfig tunes the auto-send eligibility gate.
type AutoSendConfig struct {
	// MinTotal is the minimum sample count per (property, FAQ key)
	// before auto-send may engage (default 5).
	MinTotal int `yaml:"min_total"`
	// MinRate is the minimum approval rate (default 0.8).
	MinRate float64 `yaml:"min_rate"`
}

// MQTTConfig defines the optional ops event mirror. Disabled unless
// BrokerURL is set.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"` // e.g. "mqtt://broker:1883"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	// TopicPrefix defaults to "concierge".
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads and validates configuration from the given path.
// Secrets may be overridden from the environment after file parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments inject secrets without
// writing them to the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONCIERGE_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("CONCIERGE_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("CONCIERGE_MAILBOX_PASSWORD"); v != "" {
		c.Mailbox.Password = v
	}
	if v := os.Getenv("CONCIERGE_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8700
	}
	if c.Mailbox.Port == 0 {
		c.Mailbox.Port = 993
	}
	if c.Mailbox.SenderDomain == "" {
		c.Mailbox.SenderDomain = "airbnb.com"
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 30
	}
	if c.Embeddings.Dimension <= 0 {
		c.Embeddings.Dimension = 1536
	}
	if c.Store.Path == "" {
		c.Store.Path = "concierge.db"
	}
	if c.Pipeline.PollIntervalSec <= 0 {
		c.Pipeline.PollIntervalSec = 60
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 50
	}
	if c.Pipeline.SinceDays <= 0 {
		c.Pipeline.SinceDays = 3
	}
	if c.AutoSend.MinTotal <= 0 {
		c.AutoSend.MinTotal = 5
	}
	if c.AutoSend.MinRate <= 0 {
		c.AutoSend.MinRate = 0.8
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "concierge"
	}
}

func (c *Config) validate() error {
	if c.Mailbox.Host == "" {
		return fmt.Errorf("mailbox.host is required")
	}
	if c.Mailbox.Username == "" {
		return fmt.Errorf("mailbox.username is required")
	}
	if c.Mailbox.From == "" {
		return fmt.Errorf("mailbox.from is required")
	}
	if c.LLMEnabled() && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm is enabled")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// LLMEnabled reports whether the LLM drafting stage is on.
// Defaults to true when unset.
func (c *Config) LLMEnabled() bool {
	return c.LLM.Enabled == nil || *c.LLM.Enabled
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalSec) * time.Second
}

// LLMTimeout returns the per-call LLM timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSec) * time.Second
}
