// Package config provides the configuration structure for the snr9816-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/snr9816-service/internal/core"
	"github.com/book-expert/snr9816-service/internal/device"
	"github.com/pelletier/go-toml/v2"
)

// Defaults.
const (
	DefaultBaudRate             = 115200
	DefaultStatusReadTimeoutMS  = 10
	DefaultPollIntervalMS       = 100
	DefaultVoiceLevel           = 2
	DefaultNotify               = "message_5"
	DefaultHTTPAddr             = "127.0.0.1:8080"
	DefaultRequestTimeoutSecond = 30
	DefaultSynthesizeSubject    = "tts.snr9816.synthesize"
)

var (
	// ErrSerialPortEmpty indicates that no serial device was configured.
	ErrSerialPortEmpty = errors.New("serial.port cannot be empty")
	// ErrBaudRate indicates a non-positive baud rate.
	ErrBaudRate = errors.New("serial.baud_rate must be positive")
	// ErrNegativeDuration indicates a negative timing value.
	ErrNegativeDuration = errors.New("durations must not be negative")
	// ErrNoTransport indicates that both the HTTP and NATS transports are disabled.
	ErrNoTransport = errors.New("at least one of http or nats must be enabled")
	// ErrNATSURLEmpty indicates that NATS is enabled without a URL.
	ErrNATSURLEmpty = errors.New("nats.url cannot be empty when nats is enabled")
)

// SerialConfig holds the serial device settings and driver timings.
type SerialConfig struct {
	Port                string `toml:"port"`
	BaudRate            int    `toml:"baud_rate"`
	StatusReadTimeoutMS int    `toml:"status_read_timeout_ms"`
	PollIntervalMS      int    `toml:"poll_interval_ms"`
	// IdleTimeoutMS bounds the wait for idle before speaking. Zero waits forever.
	IdleTimeoutMS int `toml:"idle_timeout_ms"`
}

// VoiceConfig holds the voice defaults applied to every request.
type VoiceConfig struct {
	Volume *int    `toml:"volume"`
	Speed  *int    `toml:"speed"`
	Tone   *int    `toml:"tone"`
	Notify *string `toml:"notify"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Enabled               *bool  `toml:"enabled"`
	Addr                  string `toml:"addr"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled           bool   `toml:"enabled"`
	URL               string `toml:"url"`
	SynthesizeSubject string `toml:"synthesize_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Serial SerialConfig `toml:"serial"`
	Voice  VoiceConfig  `toml:"voice"`
	HTTP   HTTPConfig   `toml:"http"`
	NATS   NATSConfig   `toml:"nats"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the snr9816-service through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finish(&cfg)
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = DefaultBaudRate
	}

	if c.Serial.StatusReadTimeoutMS == 0 {
		c.Serial.StatusReadTimeoutMS = DefaultStatusReadTimeoutMS
	}

	if c.Serial.PollIntervalMS == 0 {
		c.Serial.PollIntervalMS = DefaultPollIntervalMS
	}

	for _, level := range []**int{&c.Voice.Volume, &c.Voice.Speed, &c.Voice.Tone} {
		if *level == nil {
			value := DefaultVoiceLevel
			*level = &value
		}
	}

	if c.Voice.Notify == nil {
		notify := DefaultNotify
		c.Voice.Notify = &notify
	}

	if c.HTTP.Enabled == nil {
		enabled := true
		c.HTTP.Enabled = &enabled
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}

	if c.HTTP.RequestTimeoutSeconds == 0 {
		c.HTTP.RequestTimeoutSeconds = DefaultRequestTimeoutSecond
	}

	if c.NATS.SynthesizeSubject == "" {
		c.NATS.SynthesizeSubject = DefaultSynthesizeSubject
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return ErrSerialPortEmpty
	}

	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrBaudRate, c.Serial.BaudRate)
	}

	if c.Serial.StatusReadTimeoutMS < 0 || c.Serial.PollIntervalMS < 0 ||
		c.Serial.IdleTimeoutMS < 0 || c.HTTP.RequestTimeoutSeconds < 0 {
		return ErrNegativeDuration
	}

	if !c.HTTPEnabled() && !c.NATS.Enabled {
		return ErrNoTransport
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}

// HTTPEnabled reports whether the HTTP listener should start.
func (c *Config) HTTPEnabled() bool {
	return c.HTTP.Enabled == nil || *c.HTTP.Enabled
}

// Device returns the driver timings.
func (c *Config) Device() device.Config {
	return device.Config{
		StatusReadTimeout: time.Duration(c.Serial.StatusReadTimeoutMS) * time.Millisecond,
		PollInterval:      time.Duration(c.Serial.PollIntervalMS) * time.Millisecond,
		IdleTimeout:       time.Duration(c.Serial.IdleTimeoutMS) * time.Millisecond,
	}
}

// VoiceDefaults returns the per-request voice defaults.
func (c *Config) VoiceDefaults() core.VoiceDefaults {
	notify := ""
	if c.Voice.Notify != nil {
		notify = *c.Voice.Notify
	}

	return core.VoiceDefaults{
		Volume: intOr(c.Voice.Volume, DefaultVoiceLevel),
		Speed:  intOr(c.Voice.Speed, DefaultVoiceLevel),
		Tone:   intOr(c.Voice.Tone, DefaultVoiceLevel),
		Notify: notify,
	}
}

// RequestTimeout returns the deadline applied to each network request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutSeconds) * time.Second
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func intOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}

	return *value
}
