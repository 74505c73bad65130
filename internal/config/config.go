// Package config loads wagate configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Pairing PairingConfig `yaml:"pairing"`

	// AutoSeen marks inbound messages read automatically.
	AutoSeen bool `yaml:"auto_seen"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Seed pre-provisions one credential record at startup, bypassing the
	// pairing flow. Env-only (secrets stay out of config files).
	Seed SeedConfig `yaml:"-"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// PairRateRPM / PairRateBurst bound /pair requests per client IP.
	// RPM <= 0 disables the limiter.
	PairRateRPM   int `yaml:"pair_rate_rpm"`
	PairRateBurst int `yaml:"pair_rate_burst"`
}

type AuthConfig struct {
	// Dir holds one credential directory per phone number.
	Dir string `yaml:"dir"`
}

type PairingConfig struct {
	// CodeTimeoutSec bounds the wait for code issuance.
	CodeTimeoutSec int `yaml:"code_timeout_sec"`
	// ConnectTimeoutSec bounds the wait for connection open.
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	// SendSession delivers the credential blob back after pairing.
	SendSession bool `yaml:"send_session"`
	// DefaultMode is "code" or "qr".
	DefaultMode string `yaml:"default_mode"`
}

type SeedConfig struct {
	Number string
	Blob   string
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          3000,
			PairRateRPM:   30,
			PairRateBurst: 5,
		},
		Auth: AuthConfig{Dir: "./auth"},
		Pairing: PairingConfig{
			CodeTimeoutSec:    60,
			ConnectTimeoutSec: 120,
			SendSession:       true,
			DefaultMode:       "code",
		},
		LogLevel: "info",
	}
}

// Load builds the config: defaults, then the YAML file (when path is
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := envInt("PORT"); ok {
		c.Server.Port = v
	}
	if v := os.Getenv("WAGATE_AUTH_DIR"); v != "" {
		c.Auth.Dir = v
	}
	if v, ok := envBool("WAGATE_AUTO_SEEN"); ok {
		c.AutoSeen = v
	}
	if v, ok := envInt("WAGATE_CODE_TIMEOUT"); ok {
		c.Pairing.CodeTimeoutSec = v
	}
	if v, ok := envInt("WAGATE_CONNECT_TIMEOUT"); ok {
		c.Pairing.ConnectTimeoutSec = v
	}
	if v, ok := envBool("WAGATE_SEND_SESSION"); ok {
		c.Pairing.SendSession = v
	}
	if v := os.Getenv("WAGATE_DEFAULT_MODE"); v != "" {
		c.Pairing.DefaultMode = v
	}
	if v, ok := envInt("WAGATE_PAIR_RATE_RPM"); ok {
		c.Server.PairRateRPM = v
	}
	if v, ok := envInt("WAGATE_PAIR_RATE_BURST"); ok {
		c.Server.PairRateBurst = v
	}
	if v := os.Getenv("WAGATE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.Seed.Number = os.Getenv("WAGATE_SEED_NUMBER")
	c.Seed.Blob = os.Getenv("WAGATE_SEED_BLOB")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Pairing.CodeTimeoutSec <= 0 {
		return fmt.Errorf("code_timeout_sec must be positive")
	}
	if c.Pairing.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("connect_timeout_sec must be positive")
	}
	switch c.Pairing.DefaultMode {
	case "code", "qr":
	default:
		return fmt.Errorf("default_mode must be code or qr, got %q", c.Pairing.DefaultMode)
	}
	return nil
}

// CodeTimeout returns the code-issuance deadline as a duration.
func (c *Config) CodeTimeout() time.Duration {
	return time.Duration(c.Pairing.CodeTimeoutSec) * time.Second
}

// ConnectTimeout returns the connection-open deadline as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Pairing.ConnectTimeoutSec) * time.Second
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	switch os.Getenv(key) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	default:
		return false, false
	}
}
