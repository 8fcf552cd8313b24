package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the bridge process.
// Values come from env, optionally seeded from a .env file.
// No component should read raw environment variables.
type Config struct {
	App      AppConfig
	ESL      ESLConfig
	Commands CommandConfig
	Webhook  WebhookConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type ESLConfig struct {
	Host     string
	Port     int
	Password string

	// EventFormat is "plain" or "json".
	EventFormat    string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

type CommandConfig struct {
	Timeout          time.Duration
	ConcurrencyLimit int
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	// ForwardEvents lists event keys ("NAME" or "CUSTOM/subclass") sent downstream.
	ForwardEvents []string
}

// RedisConfig is optional; an empty Host disables the shared command cap.
type RedisConfig struct {
	Host string
	Port int
}

// KafkaConfig is optional; no brokers disables the event mirror.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

const (
	defaultESLPassword   = "ClueCon"
	defaultWebhookURL    = "http://localhost:3000/api/httpapihandler"
	defaultForwardEvents = "CHANNEL_ANSWER,CHANNEL_HANGUP,CUSTOM/sofia::register"
)

func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = envOr("APP_ENV", "local")
	c.App.Port, parseErrs = intOr(parseErrs, "APP_PORT", 8080)
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.ESL.Host = envOr("FREESWITCH_HOST", "127.0.0.1")
	c.ESL.Port, parseErrs = intOr(parseErrs, "FREESWITCH_ESL_PORT", 8021)
	c.ESL.Password = os.Getenv("FREESWITCH_ESL_PASSWORD")
	c.ESL.EventFormat = strings.ToLower(envOr("ESL_EVENT_FORMAT", "plain"))
	c.ESL.ReconnectDelay, parseErrs = durationOr(parseErrs, "ESL_RECONNECT_DELAY", 5*time.Second)
	c.ESL.DialTimeout, parseErrs = durationOr(parseErrs, "ESL_DIAL_TIMEOUT", 5*time.Second)

	c.Commands.Timeout, parseErrs = durationOr(parseErrs, "COMMAND_TIMEOUT", 10*time.Second)
	c.Commands.ConcurrencyLimit, parseErrs = intOr(parseErrs, "COMMAND_CONCURRENCY_LIMIT", 16)

	c.Webhook.URL = envOr("WEBHOOK_URL", defaultWebhookURL)
	c.Webhook.Timeout, parseErrs = durationOr(parseErrs, "WEBHOOK_TIMEOUT", 5*time.Second)
	c.Webhook.ForwardEvents = splitList(envOr("FORWARD_EVENTS", defaultForwardEvents))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intOr(parseErrs, "REDIS_PORT", 6379)

	c.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	c.Kafka.Topic = envOr("KAFKA_TOPIC", "esl.events")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ESL.Password == "" && !c.IsProduction() {
		// Stock FreeSWITCH password; production must be explicit.
		c.ESL.Password = defaultESLPassword
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, warning, error, got %q", c.App.LogLevel))
	}

	if c.ESL.Host == "" {
		errs = append(errs, errors.New("FREESWITCH_HOST is required"))
	}
	if c.ESL.Port <= 0 || c.ESL.Port > 65535 {
		errs = append(errs, fmt.Errorf("FREESWITCH_ESL_PORT must be a valid port, got %d", c.ESL.Port))
	}
	if c.ESL.Password == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("FREESWITCH_ESL_PASSWORD is required in production"))
		} else {
			errs = append(errs, errors.New("FREESWITCH_ESL_PASSWORD is required"))
		}
	}
	if c.ESL.EventFormat != "plain" && c.ESL.EventFormat != "json" {
		errs = append(errs, fmt.Errorf("ESL_EVENT_FORMAT must be plain or json, got %q", c.ESL.EventFormat))
	}
	if c.ESL.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("ESL_RECONNECT_DELAY must be positive"))
	}
	if c.ESL.DialTimeout <= 0 {
		errs = append(errs, errors.New("ESL_DIAL_TIMEOUT must be positive"))
	}

	if c.Commands.Timeout <= 0 {
		errs = append(errs, errors.New("COMMAND_TIMEOUT must be positive"))
	}
	if c.Redis.Host != "" {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Commands.ConcurrencyLimit <= 0 {
			errs = append(errs, fmt.Errorf("COMMAND_CONCURRENCY_LIMIT must be > 0, got %d", c.Commands.ConcurrencyLimit))
		}
	}

	if c.Webhook.URL == "" {
		errs = append(errs, errors.New("WEBHOOK_URL is required"))
	} else if !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		errs = append(errs, fmt.Errorf("WEBHOOK_URL must be an http(s) URL, got %q", c.Webhook.URL))
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT must be positive"))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) ESLAddr() string {
	return fmt.Sprintf("%s:%d", c.ESL.Host, c.ESL.Port)
}

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intOr(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func durationOr(errs []error, key string, def time.Duration) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
