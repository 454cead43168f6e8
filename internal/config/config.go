package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	alarms "equipment-alerts/internal/alarms/domain"
	episodes "equipment-alerts/internal/episodes/domain"
)

// EnvConfigPath names the env var holding the config file path.
const EnvConfigPath = "ALERTS_CONFIG"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the service configuration.
type Config struct {
	HTTPAddr string              `yaml:"http_addr" toml:"http_addr"`
	Timezone string              `yaml:"timezone" toml:"timezone"`
	Store    StoreConfig         `yaml:"store" toml:"store"`
	Episodes episodes.Config     `yaml:"episodes" toml:"episodes"`
	Windows  alarms.WindowConfig `yaml:"windows" toml:"windows"`
	Alerts   AlertsConfig        `yaml:"alerts" toml:"alerts"`
	Rules    RulesConfig         `yaml:"rules" toml:"rules"`
	Pipeline PipelineConfig      `yaml:"pipeline" toml:"pipeline"`
	Source   SourceConfig        `yaml:"source" toml:"source"`
	Notify   NotifyConfig        `yaml:"notify" toml:"notify"`
	Auth     AuthConfig          `yaml:"auth" toml:"auth"`
}

// StoreConfig selects where final alerts are persisted.
type StoreConfig struct {
	Driver          string `yaml:"driver" toml:"driver"`
	PostgresDSN     string `yaml:"postgres_dsn" toml:"postgres_dsn"`
	SQLitePath      string `yaml:"sqlite_path" toml:"sqlite_path"`
	PersistEpisodes bool   `yaml:"persist_episodes" toml:"persist_episodes"`
}

// AlertsConfig tunes alert construction.
type AlertsConfig struct {
	AutoScaleSeverity        bool              `yaml:"auto_scale_severity" toml:"auto_scale_severity"`
	StripUnknownPlaceholders bool              `yaml:"strip_unknown_placeholders" toml:"strip_unknown_placeholders"`
	OperatingIdentifiers     []string          `yaml:"operating_identifiers" toml:"operating_identifiers"`
	DefaultTemplate          string            `yaml:"default_template" toml:"default_template"`
	GroupTemplates           map[string]string `yaml:"group_templates" toml:"group_templates"`
}

// RulesConfig points at the rule catalog.
type RulesConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PipelineConfig controls the refresh loop.
type PipelineConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" toml:"refresh_interval"`
	SweepInterval   time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	BufferLimit     int           `yaml:"buffer_limit" toml:"buffer_limit"`
}

// SourceConfig configures the optional HTTP pull source.
type SourceConfig struct {
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	Token      string        `yaml:"token" toml:"token"`
	Equipments []string      `yaml:"equipments" toml:"equipments"`
	Lookback   time.Duration `yaml:"lookback" toml:"lookback"`
	RateLimit  time.Duration `yaml:"rate_limit" toml:"rate_limit"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	WebhookURL    string        `yaml:"webhook_url" toml:"webhook_url"`
	Template      string        `yaml:"template" toml:"template"`
	MarkdownTitle string        `yaml:"markdown_title" toml:"markdown_title"`
	MinSeverity   string        `yaml:"min_severity" toml:"min_severity"`
	Cooldown      time.Duration `yaml:"cooldown" toml:"cooldown"`
	DedupeWindow  time.Duration `yaml:"dedupe_window" toml:"dedupe_window"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
}

// AuthConfig holds API and ingest secrets.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" toml:"jwt_secret"`
	IngestSecret  string        `yaml:"ingest_secret" toml:"ingest_secret"`
	IngestMaxSkew time.Duration `yaml:"ingest_max_skew" toml:"ingest_max_skew"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Timezone: "UTC",
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: filepath.FromSlash("var/alerts.db"),
		},
		Episodes: episodes.DefaultConfig(),
		Windows:  alarms.DefaultWindowConfig(),
		Pipeline: PipelineConfig{
			RefreshInterval: time.Minute,
			SweepInterval:   5 * time.Minute,
			BufferLimit:     10000,
		},
		Source: SourceConfig{
			Lookback:  time.Hour,
			RateLimit: 500 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Cooldown:     10 * time.Minute,
			DedupeWindow: 30 * time.Minute,
			Timeout:      5 * time.Second,
		},
		Auth: AuthConfig{
			IngestMaxSkew: 5 * time.Minute,
		},
	}
}

// Load reads the file named by ALERTS_CONFIG (if set), applies env
// overrides and validates the result.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(EnvConfigPath))
}

// LoadFrom is Load with an explicit path. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("config: parse toml: %w", err)
		}
	default:
		return fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Timezone = getenvDefault("ALERTS_TIMEZONE", cfg.Timezone)

	cfg.Store.Driver = getenvDefault("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.PostgresDSN = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.Store.PostgresDSN))
	cfg.Store.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.PersistEpisodes = getenvBool("PERSIST_EPISODES", cfg.Store.PersistEpisodes)

	cfg.Alerts.AutoScaleSeverity = getenvBool("ALERT_AUTO_SCALE_SEVERITY", cfg.Alerts.AutoScaleSeverity)
	cfg.Rules.Path = getenvDefault("RULES_PATH", cfg.Rules.Path)

	cfg.Pipeline.RefreshInterval = getenvDuration("REFRESH_INTERVAL", cfg.Pipeline.RefreshInterval)
	cfg.Pipeline.SweepInterval = getenvDuration("SWEEP_INTERVAL", cfg.Pipeline.SweepInterval)
	cfg.Pipeline.BufferLimit = getenvIntDefault("INGEST_BUFFER_LIMIT", cfg.Pipeline.BufferLimit)

	cfg.Source.BaseURL = getenvDefault("SOURCE_BASE_URL", cfg.Source.BaseURL)
	cfg.Source.Token = getenvDefault("SOURCE_TOKEN", cfg.Source.Token)
	if equipments := splitCSV(os.Getenv("SOURCE_EQUIPMENTS")); len(equipments) > 0 {
		cfg.Source.Equipments = equipments
	}
	cfg.Source.Lookback = getenvDuration("SOURCE_LOOKBACK", cfg.Source.Lookback)

	cfg.Notify.WebhookURL = getenvDefault("ALERT_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.Template = getenvDefault("ALERT_NOTIFY_TEMPLATE", cfg.Notify.Template)
	cfg.Notify.MinSeverity = getenvDefault("ALERT_NOTIFY_MIN_SEVERITY", cfg.Notify.MinSeverity)
	cfg.Notify.Cooldown = getenvDuration("ALERT_NOTIFY_COOLDOWN", cfg.Notify.Cooldown)
	cfg.Notify.DedupeWindow = getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", cfg.Notify.DedupeWindow)
	cfg.Notify.Timeout = getenvDuration("ALERT_NOTIFY_TIMEOUT", cfg.Notify.Timeout)

	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret))
	cfg.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Auth.IngestSecret)
	cfg.Auth.IngestMaxSkew = getenvDuration("INGEST_MAX_SKEW", cfg.Auth.IngestMaxSkew)
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: http_addr is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("config: store.postgres_dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("config: store.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.PersistEpisodes && c.Store.Driver != DriverPostgres {
		return errors.New("config: store.persist_episodes requires the postgres driver")
	}
	if err := c.Episodes.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Windows.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Pipeline.RefreshInterval <= 0 {
		return errors.New("config: pipeline.refresh_interval must be positive")
	}
	if c.Pipeline.SweepInterval <= 0 {
		return errors.New("config: pipeline.sweep_interval must be positive")
	}
	if c.Pipeline.BufferLimit < 0 {
		return errors.New("config: pipeline.buffer_limit must not be negative")
	}
	if c.Notify.MinSeverity != "" && alarms.Severity(strings.ToLower(c.Notify.MinSeverity)).Rank() == 0 {
		return fmt.Errorf("config: unknown notify.min_severity %q", c.Notify.MinSeverity)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	return nil
}

// Location returns the configured time zone, UTC when invalid.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
