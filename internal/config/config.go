package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"marketbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig        `yaml:"app"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	Backup      BackupConfig     `yaml:"backup"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
	Logging     LoggingConfig    `yaml:"logging"`
	API         APIConfig        `yaml:"api"`
	Booking     BookingConfig    `yaml:"booking"`
	Outbox      OutboxConfig     `yaml:"outbox"`
	CatalogPath string           `yaml:"catalog_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// Feed fan-out.
	FeedChannel string `yaml:"feed_channel"`
	FeedLength  int    `yaml:"feed_length"`
	StatusTTL   string `yaml:"status_ttl"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// BookingConfig tunes the booking lifecycle. Durations use time.ParseDuration syntax.
type BookingConfig struct {
	HoldTTL       string `yaml:"hold_ttl"`
	SweepInterval string `yaml:"sweep_interval"`
	Retention     string `yaml:"retention"`
	AutoComplete  bool   `yaml:"auto_complete"`
	Location      string `yaml:"location"`

	// Requests per requester per window; 0 disables throttling.
	RequesterLimit  int    `yaml:"requester_limit"`
	RequesterWindow string `yaml:"requester_window"`
}

type OutboxConfig struct {
	PollInterval  string `yaml:"poll_interval"`
	BatchSize     int    `yaml:"batch_size"`
	MaxRetries    int    `yaml:"max_retries"`
	InitialDelay  string `yaml:"initial_delay"`
	MaxDelay      string `yaml:"max_delay"`
	DeadLetterKey string `yaml:"dead_letter_key"`
}

// Load reads an optional .env file, expands environment variables in the
// YAML at configPath, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.CatalogPath == "" {
		return errors.New("catalog_path is required")
	}

	durations := map[string]string{
		"booking.hold_ttl":         c.Booking.HoldTTL,
		"booking.sweep_interval":   c.Booking.SweepInterval,
		"booking.retention":        c.Booking.Retention,
		"booking.requester_window": c.Booking.RequesterWindow,
		"outbox.poll_interval":     c.Outbox.PollInterval,
		"outbox.initial_delay":     c.Outbox.InitialDelay,
		"outbox.max_delay":         c.Outbox.MaxDelay,
		"redis.status_ttl":         c.Redis.StatusTTL,
	}
	for name, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, raw)
		}
	}

	if _, err := time.LoadLocation(c.Booking.Location); err != nil {
		return fmt.Errorf("booking.location: %w", err)
	}
	if c.Booking.RequesterLimit < 0 {
		return errors.New("booking.requester_limit must not be negative")
	}

	if c.API.Auth.Enabled {
		seen := make(map[string]bool, len(c.API.Auth.APIKeys))
		for _, k := range c.API.Auth.APIKeys {
			if strings.TrimSpace(k.Key) == "" {
				return fmt.Errorf("api key %q is empty", k.Name)
			}
			if seen[k.Key] {
				return fmt.Errorf("duplicate api key for client %q", k.Name)
			}
			seen[k.Key] = true
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "marketbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Redis.FeedChannel == "" {
		c.Redis.FeedChannel = "marketbook:booking_events"
	}
	if c.Redis.FeedLength == 0 {
		c.Redis.FeedLength = 100
	}

	if c.Booking.HoldTTL == "" {
		c.Booking.HoldTTL = models.DefaultHoldTTL.String()
	}
	if c.Booking.SweepInterval == "" {
		c.Booking.SweepInterval = models.DefaultSweepInterval.String()
	}
	if c.Booking.Retention == "" {
		c.Booking.Retention = models.DefaultRetention.String()
	}
	if c.Booking.Location == "" {
		c.Booking.Location = "UTC"
	}
	if c.Booking.RequesterWindow == "" {
		c.Booking.RequesterWindow = "1m"
	}

	if c.Outbox.PollInterval == "" {
		c.Outbox.PollInterval = "2s"
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = models.DefaultOutboxBatchSize
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Outbox.InitialDelay == "" {
		c.Outbox.InitialDelay = "1s"
	}
	if c.Outbox.MaxDelay == "" {
		c.Outbox.MaxDelay = "5m"
	}
	if c.Outbox.DeadLetterKey == "" {
		c.Outbox.DeadLetterKey = "marketbook:outbox:dead_letter"
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "24h"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
}

// Duration parses raw, returning def when raw is empty or malformed.
// Validate rejects malformed values, so the fallback only covers configs
// built in code.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (b BookingConfig) HoldTTLDuration() time.Duration {
	return Duration(b.HoldTTL, models.DefaultHoldTTL)
}

func (b BookingConfig) SweepIntervalDuration() time.Duration {
	return Duration(b.SweepInterval, models.DefaultSweepInterval)
}

func (b BookingConfig) RetentionDuration() time.Duration {
	return Duration(b.Retention, models.DefaultRetention)
}

func (b BookingConfig) RequesterWindowDuration() time.Duration {
	return Duration(b.RequesterWindow, time.Minute)
}

// LoadLocation resolves Location, defaulting to UTC.
func (b BookingConfig) LoadLocation() *time.Location {
	loc, err := time.LoadLocation(b.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r RedisConfig) StatusTTLDuration() time.Duration {
	return Duration(r.StatusTTL, 0)
}
