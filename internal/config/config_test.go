package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		ESL:      ESLConfig{Host: "127.0.0.1", Port: 8021, Password: "ClueCon", EventFormat: "plain", ReconnectDelay: 5 * time.Second, DialTimeout: 5 * time.Second},
		Commands: CommandConfig{Timeout: 10 * time.Second, ConcurrencyLimit: 16},
		Webhook:  WebhookConfig{URL: "http://localhost:3000/api/httpapihandler", Timeout: 5 * time.Second},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"APP_ENV", "APP_PORT", "LOG_LEVEL", "FREESWITCH_HOST", "FREESWITCH_ESL_PORT", "FREESWITCH_ESL_PASSWORD",
		"ESL_EVENT_FORMAT", "COMMAND_TIMEOUT", "WEBHOOK_URL", "FORWARD_EVENTS", "REDIS_HOST", "KAFKA_BROKERS",
	} {
		t.Setenv(k, "")
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.App.Port != 8080 || c.ESLAddr() != "127.0.0.1:8021" {
		t.Fatalf("unexpected defaults: port=%d esl=%s", c.App.Port, c.ESLAddr())
	}
	if c.ESL.Password != "ClueCon" {
		t.Fatalf("expected local default password")
	}
	if c.Commands.Timeout != 10*time.Second {
		t.Fatalf("unexpected command timeout: %s", c.Commands.Timeout)
	}
	want := []string{"CHANNEL_ANSWER", "CHANNEL_HANGUP", "CUSTOM/sofia::register"}
	if strings.Join(c.Webhook.ForwardEvents, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected forward events: %v", c.Webhook.ForwardEvents)
	}
	if c.RedisEnabled() || len(c.Kafka.Brokers) != 0 {
		t.Fatalf("optional backends must be disabled by default")
	}
}

func TestLoad_AccumulatesParseErrors(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("COMMAND_TIMEOUT", "soon")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "APP_PORT") || !strings.Contains(msg, "COMMAND_TIMEOUT") {
		t.Fatalf("expected both errors reported, got %q", msg)
	}
}

func TestLoad_ProductionRequiresPassword(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("FREESWITCH_ESL_PASSWORD", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "FREESWITCH_ESL_PASSWORD") {
		t.Fatalf("expected production password error, got %v", err)
	}
}

func TestLoad_ListsAndOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("FREESWITCH_ESL_PASSWORD", "secret")
	t.Setenv("ESL_EVENT_FORMAT", "JSON")
	t.Setenv("FORWARD_EVENTS", " CHANNEL_CREATE , ,CUSTOM/sofia::unregister")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_HOST", "redis")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ESL.EventFormat != "json" {
		t.Fatalf("expected json format, got %q", c.ESL.EventFormat)
	}
	if len(c.Webhook.ForwardEvents) != 2 || c.Webhook.ForwardEvents[1] != "CUSTOM/sofia::unregister" {
		t.Fatalf("unexpected forward events: %v", c.Webhook.ForwardEvents)
	}
	if len(c.Kafka.Brokers) != 2 {
		t.Fatalf("unexpected brokers: %v", c.Kafka.Brokers)
	}
	if !c.RedisEnabled() || c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected redis addr: %s", c.RedisAddr())
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"env":       func(c *Config) { c.App.Env = "qa" },
		"format":    func(c *Config) { c.ESL.EventFormat = "xml" },
		"log level": func(c *Config) { c.App.LogLevel = "trace" },
		"webhook":   func(c *Config) { c.Webhook.URL = "ftp://example.com" },
		"timeout":   func(c *Config) { c.Commands.Timeout = 0 },
		"kafka":     func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" },
	}
	for name, mutate := range cases {
		c := validConfig()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_AcceptsLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "warning", "error"} {
		c := validConfig()
		c.App.LogLevel = lvl
		if err := c.Validate(); err != nil {
			t.Fatalf("%s: expected no error, got %v", lvl, err)
		}
	}
}

func TestLoad_WarningLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARNING")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.App.LogLevel != "warning" {
		t.Fatalf("unexpected log level: %q", c.App.LogLevel)
	}
}
