// Package config loads daemon settings from an optional YAML file and
// ACADEMY_* environment variables. Environment values win over the file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration errors
var (
	ErrMissingBaseURL = errors.New("backend.base_url is required")
	ErrBadScope       = errors.New("academy.academy_id or academy.class_id is required")
	ErrBadCSRFKey     = errors.New("server.csrf_key must be 64 hex characters (32 bytes)")
	ErrMissingCSRFKey = errors.New("server.csrf_key is required in production")
	ErrBadInterval    = errors.New("intervals must be positive")
	ErrBadLogLevel    = errors.New("log.level must be debug, info, warn or error")
	ErrBadTimezone    = errors.New("academy.timezone is not a known location")
)

// Config is the full daemon configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Academy   AcademyConfig   `yaml:"academy"`
	Storage   StorageConfig   `yaml:"storage"`
	Listener  ListenerConfig  `yaml:"listener"`
	PushToken PushTokenConfig `yaml:"push_token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	CSRFKey        string        `yaml:"csrf_key"`
	Secure         bool          `yaml:"secure"`
	TrustedOrigins []string      `yaml:"trusted_origins"`
	RatePerSecond  int           `yaml:"rate_per_second"`
	SlowRequest    time.Duration `yaml:"slow_request"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	PushURL string        `yaml:"push_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// AcademyConfig names the default scope the bridge serves.
type AcademyConfig struct {
	AcademyID int64  `yaml:"academy_id"`
	ClassID   int64  `yaml:"class_id"`
	Timezone  string `yaml:"timezone"`
}

type StorageConfig struct {
	DBPath           string        `yaml:"db_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	OutboxInterval   time.Duration `yaml:"outbox_interval"`
}

type ListenerConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// PushTokenConfig is registered with the backend at startup when Token is set.
type PushTokenConfig struct {
	Token    string `yaml:"token"`
	Platform string `yaml:"platform"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Env: "development",
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			TrustedOrigins: []string{"localhost:8080", "127.0.0.1:8080"},
			RatePerSecond:  20,
			SlowRequest:    200 * time.Millisecond,
		},
		Backend: BackendConfig{Timeout: 10 * time.Second},
		Academy: AcademyConfig{Timezone: "UTC"},
		Storage: StorageConfig{
			DBPath:           "academy.db",
			SnapshotInterval: time.Minute,
			OutboxInterval:   time.Minute,
		},
		Listener:  ListenerConfig{QueueSize: 256},
		PushToken: PushTokenConfig{Platform: "web"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
// POST: Returns a valid Config or an error naming the bad setting
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("ACADEMY_ENV", &c.Env)
	str("ACADEMY_LOG_LEVEL", &c.Log.Level)
	str("ACADEMY_LOG_FORMAT", &c.Log.Format)
	str("ACADEMY_ADDR", &c.Server.Addr)
	str("ACADEMY_CSRF_KEY", &c.Server.CSRFKey)
	str("ACADEMY_API_URL", &c.Backend.BaseURL)
	str("ACADEMY_PUSH_URL", &c.Backend.PushURL)
	str("ACADEMY_API_TOKEN", &c.Backend.Token)
	str("ACADEMY_TIMEZONE", &c.Academy.Timezone)
	str("ACADEMY_DB_PATH", &c.Storage.DBPath)
	str("ACADEMY_PUSH_TOKEN", &c.PushToken.Token)
	str("ACADEMY_PUSH_PLATFORM", &c.PushToken.Platform)
	if v := getenv("ACADEMY_TRUSTED_ORIGINS"); v != "" {
		c.Server.TrustedOrigins = strings.Split(v, ",")
	}

	ints := []struct {
		key string
		dst *int64
	}{
		{"ACADEMY_ACADEMY_ID", &c.Academy.AcademyID},
		{"ACADEMY_CLASS_ID", &c.Academy.ClassID},
	}
	for _, e := range ints {
		if v := getenv(e.key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	if v := getenv("ACADEMY_SLOW_REQUEST_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACADEMY_SLOW_REQUEST_MS: %w", err)
		}
		c.Server.SlowRequest = time.Duration(n) * time.Millisecond
	}
	return nil
}

// Validate checks the configuration is usable.
// POST: Returns nil if valid, the first problem found otherwise
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	if c.Academy.AcademyID <= 0 && c.Academy.ClassID <= 0 {
		return ErrBadScope
	}
	if _, err := time.LoadLocation(c.Academy.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrBadTimezone, err)
	}
	if c.Server.CSRFKey != "" {
		if key, err := hex.DecodeString(c.Server.CSRFKey); err != nil || len(key) != 32 {
			return ErrBadCSRFKey
		}
	} else if c.IsProduction() {
		return ErrMissingCSRFKey
	}
	if c.Storage.SnapshotInterval <= 0 || c.Storage.OutboxInterval <= 0 || c.Backend.Timeout <= 0 {
		return ErrBadInterval
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether Env is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, ErrBadLogLevel
}

// Location returns the academy's time zone.
// PRE: Validate returned nil
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Academy.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PushURL returns the websocket URL, derived from the base URL when unset.
func (c *Config) PushURL() string {
	if c.Backend.PushURL != "" {
		return c.Backend.PushURL
	}
	u := strings.TrimRight(c.Backend.BaseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/events"
}

// CSRFKey decodes the configured key. Outside production a random key is
// generated when none is set, so tokens do not survive a restart.
// PRE: Validate returned nil
func (c *Config) CSRFKey() ([]byte, error) {
	if c.Server.CSRFKey != "" {
		return hex.DecodeString(c.Server.CSRFKey)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("csrf_key_generated", "reason", "server.csrf_key not set")
	return key, nil
}
