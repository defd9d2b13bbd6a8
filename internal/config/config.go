// Package config loads the gateway configuration from a yaml file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml files can use "30s"-style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the gateway settings.
type Config struct {
	HTTPAddr          string   `yaml:"http_addr"`
	DatabaseURL       string   `yaml:"database_url"`
	AuditLogPath      string   `yaml:"audit_log_path"`
	JWTSecret         string   `yaml:"jwt_secret"`
	ElectionDatesPath string   `yaml:"election_dates_path"`
	SessionSignalURL  string   `yaml:"session_signal_url"`
	SessionSignalKey  string   `yaml:"session_signal_key"`
	SessionPoll       Duration `yaml:"session_poll"`
	RateLimitRPS      float64  `yaml:"rate_limit_rps"`
	RateLimitBurst    int      `yaml:"rate_limit_burst"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		SessionPoll:    Duration(time.Minute),
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}
}

// Load reads the yaml file at path (optional) and applies environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.HTTPAddr == "" {
		return Config{}, fmt.Errorf("http_addr is required")
	}
	if cfg.SessionPoll <= 0 {
		cfg.SessionPoll = Duration(time.Minute)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.AuditLogPath, "AUDIT_LOG_PATH")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.ElectionDatesPath, "ELECTION_DATES_PATH")
	setString(&cfg.SessionSignalURL, "SESSION_SIGNAL_URL")
	setString(&cfg.SessionSignalKey, "SESSION_SIGNAL_KEY")

	if v := os.Getenv("SESSION_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SessionPoll = Duration(d)
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
}
