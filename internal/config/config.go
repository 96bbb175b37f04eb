// ABOUTME: Configuration loading and parsing for chatrelay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a field unset.
const (
	DefaultWebhookTimeout   = 10 * time.Second
	DefaultFallbackDeadline = 15 * time.Second
	DefaultReconnectBackoff = 3 * time.Second
	DefaultMaxReconnects    = 5
)

// Default user-facing texts, restored when the config leaves them unset.
const (
	DefaultGreeting        = "Olá, como posso te ajudar hoje?"
	DefaultApologyDispatch = "Desculpe, estou tendo problemas para processar sua mensagem. Por favor, tente novamente mais tarde."
	DefaultApologyTimeout  = "Não recebi resposta do servidor a tempo. Por favor, tente novamente."
)

// Config represents the complete chatrelay configuration
type Config struct {
	Webhook  WebhookConfig  `yaml:"webhook"`
	Stream   StreamConfig   `yaml:"stream"`
	Feed     FeedConfig     `yaml:"feed"`
	Fallback FallbackConfig `yaml:"fallback"`
	Database DatabaseConfig `yaml:"database"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// WebhookConfig holds the outbound workflow endpoint configuration
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// StreamConfig holds the push-stream reply channel configuration
type StreamConfig struct {
	URL              string        `yaml:"url"`
	ReconnectBackoff time.Duration `yaml:"-"`
	MaxReconnects    int           `yaml:"max_reconnects"`

	ReconnectBackoffRaw string `yaml:"reconnect_backoff"`
}

// FeedConfig holds the change-feed reply channel configuration
type FeedConfig struct {
	URL string `yaml:"url"`
}

// FallbackConfig bounds the worst-case wait for a reply
type FallbackConfig struct {
	Deadline time.Duration `yaml:"-"`

	DeadlineRaw string `yaml:"deadline"`
}

// DatabaseConfig holds the audit store configuration. An empty path
// disables the audit trail; it is not part of the delivery path.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChatConfig holds user-facing conversation texts
type ChatConfig struct {
	Greeting        string `yaml:"greeting"`
	ApologyDispatch string `yaml:"apology_dispatch"`
	ApologyTimeout  string `yaml:"apology_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required")
	}

	// Without at least one reply channel every send would end in a
	// fallback apology.
	if c.Stream.URL == "" && c.Feed.URL == "" {
		return fmt.Errorf("at least one of stream.url or feed.url is required")
	}

	if c.Stream.MaxReconnects < 0 {
		return fmt.Errorf("stream.max_reconnects must not be negative")
	}

	return nil
}

// applyDefaults fills in unset durations, counts and texts.
func (c *Config) applyDefaults() {
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = DefaultWebhookTimeout
	}
	if c.Fallback.Deadline == 0 {
		c.Fallback.Deadline = DefaultFallbackDeadline
	}
	if c.Stream.ReconnectBackoff == 0 {
		c.Stream.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.Stream.MaxReconnects == 0 {
		c.Stream.MaxReconnects = DefaultMaxReconnects
	}
	if c.Chat.Greeting == "" {
		c.Chat.Greeting = DefaultGreeting
	}
	if c.Chat.ApologyDispatch == "" {
		c.Chat.ApologyDispatch = DefaultApologyDispatch
	}
	if c.Chat.ApologyTimeout == "" {
		c.Chat.ApologyTimeout = DefaultApologyTimeout
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Webhook.TimeoutRaw != "" {
		cfg.Webhook.Timeout, err = time.ParseDuration(cfg.Webhook.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing webhook timeout %q: %w", cfg.Webhook.TimeoutRaw, err)
		}
	}

	if cfg.Stream.ReconnectBackoffRaw != "" {
		cfg.Stream.ReconnectBackoff, err = time.ParseDuration(cfg.Stream.ReconnectBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_backoff %q: %w", cfg.Stream.ReconnectBackoffRaw, err)
		}
	}

	if cfg.Fallback.DeadlineRaw != "" {
		cfg.Fallback.Deadline, err = time.ParseDuration(cfg.Fallback.DeadlineRaw)
		if err != nil {
			return fmt.Errorf("parsing fallback deadline %q: %w", cfg.Fallback.DeadlineRaw, err)
		}
	}

	return nil
}
