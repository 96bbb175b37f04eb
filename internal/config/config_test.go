// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
webhook:
  url: "https://workflow.example.com/webhook/conversar-com-bot"
  timeout: "5s"

stream:
  url: "https://chat.example.com/api/chat-response"
  reconnect_backoff: "2s"
  max_reconnects: 3

feed:
  url: "wss://chat.example.com/api/chat-feed"

fallback:
  deadline: "20s"

database:
  path: "./chat.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Webhook.URL != "https://workflow.example.com/webhook/conversar-com-bot" {
		t.Errorf("unexpected webhook url: %s", cfg.Webhook.URL)
	}
	if cfg.Webhook.Timeout != 5*time.Second {
		t.Errorf("expected 5s webhook timeout, got %v", cfg.Webhook.Timeout)
	}
	if cfg.Stream.ReconnectBackoff != 2*time.Second {
		t.Errorf("expected 2s backoff, got %v", cfg.Stream.ReconnectBackoff)
	}
	if cfg.Stream.MaxReconnects != 3 {
		t.Errorf("expected 3 max reconnects, got %d", cfg.Stream.MaxReconnects)
	}
	if cfg.Fallback.Deadline != 20*time.Second {
		t.Errorf("expected 20s deadline, got %v", cfg.Fallback.Deadline)
	}
	if cfg.Database.Path != "./chat.db" {
		t.Errorf("unexpected database path: %s", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
webhook:
  url: "https://workflow.example.com/hook"

stream:
  url: "https://chat.example.com/api/chat-response"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Webhook.Timeout != DefaultWebhookTimeout {
		t.Errorf("expected default webhook timeout, got %v", cfg.Webhook.Timeout)
	}
	if cfg.Fallback.Deadline != DefaultFallbackDeadline {
		t.Errorf("expected default deadline, got %v", cfg.Fallback.Deadline)
	}
	if cfg.Stream.ReconnectBackoff != DefaultReconnectBackoff {
		t.Errorf("expected default backoff, got %v", cfg.Stream.ReconnectBackoff)
	}
	if cfg.Stream.MaxReconnects != DefaultMaxReconnects {
		t.Errorf("expected default max reconnects, got %d", cfg.Stream.MaxReconnects)
	}
	if cfg.Chat.Greeting != DefaultGreeting {
		t.Errorf("expected default greeting, got %q", cfg.Chat.Greeting)
	}
	if cfg.Chat.ApologyTimeout != DefaultApologyTimeout {
		t.Errorf("expected default timeout apology, got %q", cfg.Chat.ApologyTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_WEBHOOK", "https://expanded.example.com/hook")

	path := writeConfig(t, `
webhook:
  url: "${CHATRELAY_TEST_WEBHOOK}"

stream:
  url: "https://chat.example.com/api/chat-response"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Webhook.URL != "https://expanded.example.com/hook" {
		t.Errorf("env var not expanded: %s", cfg.Webhook.URL)
	}
}

func TestLoad_MissingWebhookURL(t *testing.T) {
	path := writeConfig(t, `
stream:
  url: "https://chat.example.com/api/chat-response"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing webhook.url")
	}
	if !strings.Contains(err.Error(), "webhook.url") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_RequiresAReplyChannel(t *testing.T) {
	path := writeConfig(t, `
webhook:
  url: "https://workflow.example.com/hook"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error when both reply channels are unset")
	}
	if !strings.Contains(err.Error(), "stream.url or feed.url") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
webhook:
  url: "https://workflow.example.com/hook"
  timeout: "not-a-duration"

stream:
  url: "https://chat.example.com/api/chat-response"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
