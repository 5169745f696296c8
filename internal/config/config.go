package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"book-aggregator/internal/core"
)

type VenueKind string

type Transport string

const (
	VenueBinance VenueKind = "binance"
	VenueLuno    VenueKind = "luno"
	VenueFile    VenueKind = "file"
)

const (
	TransportREST Transport = "rest"
	TransportWS   Transport = "ws"
)

type Config struct {
	Service        string               `yaml:"service"`
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Aggregation    AggregationConfig    `yaml:"aggregation"`
	Venues         []VenueConfig        `yaml:"venues"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int64  `yaml:"read_timeout_sec"`
	WriteTimeoutSec int64  `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int64  `yaml:"idle_timeout_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type AggregationConfig struct {
	MaxInFlight    int                `yaml:"max_in_flight"`
	FetchTimeoutMs int64              `yaml:"fetch_timeout_ms"`
	FailurePolicy  core.FailurePolicy `yaml:"failure_policy"`
}

type VenueConfig struct {
	Name           string    `yaml:"name"`
	Kind           VenueKind `yaml:"kind"`
	RestBaseURL    string    `yaml:"rest_base_url"`
	WSBaseURL      string    `yaml:"ws_base_url"`
	Transport      Transport `yaml:"transport"`
	Depth          int       `yaml:"depth"`
	HTTPTimeoutSec int64     `yaml:"http_timeout_sec"`
	DataDir        string    `yaml:"data_dir"`
}

type CircuitBreakerConfig struct {
	Enabled     bool  `yaml:"enabled"`
	MaxFailures int   `yaml:"max_failures"`
	CooldownSec int64 `yaml:"cooldown_sec"`
	ProbePasses int   `yaml:"probe_passes"`
}

type ObservabilityConfig struct {
	MetricsEnabled     bool           `yaml:"metrics_enabled"`
	AlertDropReportSec int64          `yaml:"alert_drop_report_sec"`
	AlertSuppressSec   int64          `yaml:"alert_suppress_sec"`
	Telegram           TelegramConfig `yaml:"telegram"`
	Discord            DiscordConfig  `yaml:"discord"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

// Load reads a single YAML document from path. ${VAR} references are
// expanded from the environment before decoding.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Service = strings.TrimSpace(c.Service)
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Aggregation.FailurePolicy = core.FailurePolicy(strings.ToLower(strings.TrimSpace(string(c.Aggregation.FailurePolicy))))
	for i := range c.Venues {
		v := &c.Venues[i]
		v.Name = strings.ToLower(strings.TrimSpace(v.Name))
		v.Kind = VenueKind(strings.ToLower(strings.TrimSpace(string(v.Kind))))
		v.Transport = Transport(strings.ToLower(strings.TrimSpace(string(v.Transport))))
		v.RestBaseURL = strings.TrimSpace(v.RestBaseURL)
		v.WSBaseURL = strings.TrimSpace(v.WSBaseURL)
		v.DataDir = strings.TrimSpace(v.DataDir)
	}
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
	c.Observability.Discord.WebhookURL = strings.TrimSpace(c.Observability.Discord.WebhookURL)
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "book-aggregator"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 5
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 30
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Aggregation.MaxInFlight == 0 {
		c.Aggregation.MaxInFlight = 8
	}
	if c.Aggregation.FetchTimeoutMs == 0 {
		c.Aggregation.FetchTimeoutMs = 5000
	}
	if c.Aggregation.FailurePolicy == "" {
		c.Aggregation.FailurePolicy = core.PolicyAbort
	}
	for i := range c.Venues {
		v := &c.Venues[i]
		if v.Name == "" {
			v.Name = string(v.Kind)
		}
		if v.Depth == 0 {
			v.Depth = 100
		}
		if v.HTTPTimeoutSec == 0 {
			v.HTTPTimeoutSec = 15
		}
		switch v.Kind {
		case VenueBinance:
			if v.Transport == "" {
				v.Transport = TransportREST
			}
			if v.RestBaseURL == "" {
				v.RestBaseURL = "https://api.binance.com"
			}
			if v.WSBaseURL == "" {
				v.WSBaseURL = "wss://ws-api.binance.com/ws-api/v3"
			}
		case VenueLuno:
			if v.RestBaseURL == "" {
				v.RestBaseURL = "https://api.luno.com"
			}
		}
	}
	if c.CircuitBreaker.MaxFailures == 0 {
		c.CircuitBreaker.MaxFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 30
	}
	if c.CircuitBreaker.ProbePasses == 0 {
		c.CircuitBreaker.ProbePasses = 1
	}
	if c.Observability.AlertDropReportSec == 0 {
		c.Observability.AlertDropReportSec = 60
	}
	if c.Observability.AlertSuppressSec == 0 {
		c.Observability.AlertSuppressSec = 300
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.Discord.TimeoutSec == 0 {
		c.Observability.Discord.TimeoutSec = 10
	}
}

func (c Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level must be trace, debug, info, warn, error, fatal, panic, or disabled")
	}
	if c.Server.ReadTimeoutSec < 1 || c.Server.ReadTimeoutSec > 300 {
		return fmt.Errorf("server.read_timeout_sec must be between 1 and 300")
	}
	if c.Server.WriteTimeoutSec < 1 || c.Server.WriteTimeoutSec > 300 {
		return fmt.Errorf("server.write_timeout_sec must be between 1 and 300")
	}
	if c.Server.IdleTimeoutSec < 1 || c.Server.IdleTimeoutSec > 3600 {
		return fmt.Errorf("server.idle_timeout_sec must be between 1 and 3600")
	}
	if c.Aggregation.MaxInFlight < 1 || c.Aggregation.MaxInFlight > 256 {
		return fmt.Errorf("aggregation.max_in_flight must be between 1 and 256")
	}
	if c.Aggregation.FetchTimeoutMs < 1 || c.Aggregation.FetchTimeoutMs > 120000 {
		return fmt.Errorf("aggregation.fetch_timeout_ms must be between 1 and 120000")
	}
	if _, err := core.ParseFailurePolicy(string(c.Aggregation.FailurePolicy)); err != nil {
		return fmt.Errorf("aggregation.failure_policy must be abort or partial")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for _, v := range c.Venues {
		if !isValidVenueName(v.Name) {
			return fmt.Errorf("venue name %q must match [a-z0-9_-], length 1..32", v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("venue %s is configured more than once", v.Name)
		}
		seen[v.Name] = struct{}{}
		if err := v.validate(); err != nil {
			return fmt.Errorf("venue %s: %w", v.Name, err)
		}
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 3600")
		}
		if c.CircuitBreaker.ProbePasses < 1 || c.CircuitBreaker.ProbePasses > 20 {
			return fmt.Errorf("circuit_breaker.probe_passes must be between 1 and 20")
		}
	}
	if c.Observability.AlertDropReportSec < 0 || c.Observability.AlertDropReportSec > 3600 {
		return fmt.Errorf("observability.alert_drop_report_sec must be between 0 and 3600")
	}
	if c.Observability.AlertSuppressSec < 0 || c.Observability.AlertSuppressSec > 86400 {
		return fmt.Errorf("observability.alert_suppress_sec must be between 0 and 86400")
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	if c.Observability.Discord.Enabled {
		if err := validateURL(c.Observability.Discord.WebhookURL, "https"); err != nil {
			return fmt.Errorf("observability.discord.webhook_url %v", err)
		}
		if c.Observability.Discord.TimeoutSec < 1 || c.Observability.Discord.TimeoutSec > 120 {
			return fmt.Errorf("observability.discord.timeout_sec must be between 1 and 120")
		}
	}
	return nil
}

func (v VenueConfig) validate() error {
	if v.Depth < 1 || v.Depth > 5000 {
		return fmt.Errorf("depth must be between 1 and 5000")
	}
	if v.HTTPTimeoutSec < 1 || v.HTTPTimeoutSec > 120 {
		return fmt.Errorf("http_timeout_sec must be between 1 and 120")
	}
	switch v.Kind {
	case VenueBinance:
		if err := validateURL(v.RestBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("rest_base_url %v", err)
		}
		switch v.Transport {
		case TransportREST:
		case TransportWS:
			if err := validateURL(v.WSBaseURL, "ws", "wss"); err != nil {
				return fmt.Errorf("ws_base_url %v", err)
			}
		default:
			return fmt.Errorf("transport must be rest or ws")
		}
	case VenueLuno:
		if err := validateURL(v.RestBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("rest_base_url %v", err)
		}
	case VenueFile:
		if v.DataDir == "" {
			return fmt.Errorf("data_dir is required for file venues")
		}
	default:
		return fmt.Errorf("kind must be binance, luno, or file")
	}
	return nil
}

func isValidVenueName(v string) bool {
	if len(v) < 1 || len(v) > 32 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
