package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// SerialConfig carries RTU line parameters. Ignored for TCP endpoints.
type SerialConfig struct {
	BaudRate int    `yaml:"baud_rate,omitempty"`
	DataBits int    `yaml:"data_bits,omitempty"`
	Parity   string `yaml:"parity,omitempty"`
	StopBits int    `yaml:"stop_bits,omitempty"`
}

// EndpointConfig describes how to reach the inverter.
type EndpointConfig struct {
	Driver  string       `yaml:"driver,omitempty"`
	Address string       `yaml:"address"`
	UnitID  uint8        `yaml:"unit_id"`
	Timeout Duration     `yaml:"timeout,omitempty"`
	Serial  SerialConfig `yaml:"serial,omitempty"`
}

// PollingConfig controls the poll cadence and retry behaviour.
type PollingConfig struct {
	Interval   Duration `yaml:"interval,omitempty"`
	RetryMax   int      `yaml:"retry_max,omitempty"`
	RetryDelay Duration `yaml:"retry_delay,omitempty"`
	RequestGap Duration `yaml:"request_gap,omitempty"`
	Timezone   string   `yaml:"timezone,omitempty"`
}

// Location resolves the configured timezone, defaulting to the local one.
func (p PollingConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(p.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("parse timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// DerivedConfig declares a computed quantity evaluated over the decoded snapshot.
type DerivedConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig enables the Prometheus endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Config is the root configuration structure for the gateway.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Profile   string          `yaml:"profile,omitempty"`
	SafeMode  bool            `yaml:"safe_mode,omitempty"`
	Polling   PollingConfig   `yaml:"polling"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Derived   []DerivedConfig `yaml:"derived,omitempty"`
}

const (
	defaultInterval   = 30 * time.Second
	defaultRetryMax   = 3
	defaultRetryDelay = 2 * time.Second
	defaultRequestGap = 50 * time.Millisecond
	defaultTimeout    = 5 * time.Second
)

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Endpoint.Driver == "" {
		c.Endpoint.Driver = "tcp"
	}
	if c.Endpoint.Timeout.Duration <= 0 {
		c.Endpoint.Timeout.Duration = defaultTimeout
	}
	if c.Endpoint.Serial.BaudRate == 0 {
		c.Endpoint.Serial.BaudRate = 9600
	}
	if c.Endpoint.Serial.DataBits == 0 {
		c.Endpoint.Serial.DataBits = 8
	}
	if c.Endpoint.Serial.Parity == "" {
		c.Endpoint.Serial.Parity = "N"
	}
	if c.Endpoint.Serial.StopBits == 0 {
		c.Endpoint.Serial.StopBits = 1
	}
	if c.Polling.Interval.Duration <= 0 {
		c.Polling.Interval.Duration = defaultInterval
	}
	if c.Polling.RetryMax <= 0 {
		c.Polling.RetryMax = defaultRetryMax
	}
	if c.Polling.RetryDelay.Duration <= 0 {
		c.Polling.RetryDelay.Duration = defaultRetryDelay
	}
	if c.Polling.RequestGap.Duration <= 0 {
		c.Polling.RequestGap.Duration = defaultRequestGap
	}
	if c.Telemetry.Enabled && c.Telemetry.Listen == "" {
		c.Telemetry.Listen = ":9180"
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint.Address) == "" {
		return fmt.Errorf("endpoint address is required")
	}
	switch strings.ToLower(c.Endpoint.Driver) {
	case "tcp", "rtu":
	default:
		return fmt.Errorf("unsupported endpoint driver %q", c.Endpoint.Driver)
	}
	if _, err := c.Polling.Location(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Derived))
	for _, d := range c.Derived {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("derived quantity missing name")
		}
		if strings.TrimSpace(d.Expression) == "" {
			return fmt.Errorf("derived quantity %s missing expression", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("derived quantity %s declared twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
