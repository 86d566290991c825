package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Usage       UsageConfig       `mapstructure:"usage"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Events      EventsConfig      `mapstructure:"events"`
}

// ServerConfig defines the metrics endpoint
type ServerConfig struct {
	MetricsPort int    `mapstructure:"metrics_port" validate:"gte=0,lte=65535"`
	BindAddress string `mapstructure:"bind_address" validate:"required"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type" validate:"omitempty,oneof=redis"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db" validate:"gte=0"`
	PoolSize     int    `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int    `mapstructure:"min_idle_conns" validate:"gte=0"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// EnforcementConfig tunes signal ingestion and the enforcement engine
type EnforcementConfig struct {
	OwnPackage          string  `mapstructure:"own_package" validate:"required"`
	HomePackage         string  `mapstructure:"home_package"`
	PixelsPerUnit       float64 `mapstructure:"pixels_per_unit" validate:"gt=0"`
	FallbackPixels      float64 `mapstructure:"fallback_pixels" validate:"gt=0"`
	QueueCapacity       int     `mapstructure:"queue_capacity" validate:"gt=0"`
	ImmunityWindow      string  `mapstructure:"immunity_window"`
	FlushInterval       string  `mapstructure:"flush_interval"`
	UIMinInterval       string  `mapstructure:"ui_min_interval"`
	UIMinDistance       float64 `mapstructure:"ui_min_distance" validate:"gte=0"`
	RealityCheckTimeout string  `mapstructure:"reality_check_timeout"`
	SafeCommand         string  `mapstructure:"safe_command"`
}

// UsageConfig defines usage retention settings
type UsageConfig struct {
	RetentionDays int    `mapstructure:"retention_days" validate:"gt=0"`
	ArchiveTime   string `mapstructure:"archive_time"`
}

// SettingsConfig defines fallbacks for user settings missing from the store
type SettingsConfig struct {
	DefaultGlobalLimit float64 `mapstructure:"default_global_limit" validate:"gt=0"`
}

// EventsConfig defines where platform events are read from
type EventsConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SCROLLCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// KnownKeys returns every configuration key scrollcap reads.
func KnownKeys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	slices.Sort(keys)
	return keys
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile with a missing path surfaces as a plain fs error
	return errors.Is(err, fs.ErrNotExist)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "scrollcap:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Enforcement defaults
	v.SetDefault("enforcement.own_package", "scrollcap")
	v.SetDefault("enforcement.home_package", "launcher")
	v.SetDefault("enforcement.pixels_per_unit", 3780.0)
	v.SetDefault("enforcement.fallback_pixels", 150.0)
	v.SetDefault("enforcement.queue_capacity", 50)
	v.SetDefault("enforcement.immunity_window", "1s")
	v.SetDefault("enforcement.flush_interval", "20s")
	v.SetDefault("enforcement.ui_min_interval", "1500ms")
	v.SetDefault("enforcement.ui_min_distance", 2.0)
	v.SetDefault("enforcement.reality_check_timeout", "250ms")
	v.SetDefault("enforcement.safe_command", "")

	// Usage defaults
	v.SetDefault("usage.retention_days", 7)
	v.SetDefault("usage.archive_time", "03:30")

	// Settings defaults
	v.SetDefault("settings.default_global_limit", 100.0)

	// Events defaults
	v.SetDefault("events.path", "-")
}

var durationFields = []struct {
	name  string
	value func(*Config) string
}{
	{"storage.redis.dial_timeout", func(c *Config) string { return c.Storage.Redis.DialTimeout }},
	{"storage.redis.read_timeout", func(c *Config) string { return c.Storage.Redis.ReadTimeout }},
	{"storage.redis.write_timeout", func(c *Config) string { return c.Storage.Redis.WriteTimeout }},
	{"enforcement.immunity_window", func(c *Config) string { return c.Enforcement.ImmunityWindow }},
	{"enforcement.flush_interval", func(c *Config) string { return c.Enforcement.FlushInterval }},
	{"enforcement.ui_min_interval", func(c *Config) string { return c.Enforcement.UIMinInterval }},
	{"enforcement.reality_check_timeout", func(c *Config) string { return c.Enforcement.RealityCheckTimeout }},
}

// validate validates the configuration
func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	for _, field := range durationFields {
		raw := field.value(cfg)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", field.name)
		}
	}

	if cfg.Usage.ArchiveTime != "" {
		if _, err := time.Parse("15:04", cfg.Usage.ArchiveTime); err != nil {
			return fmt.Errorf("invalid usage.archive_time %q (want HH:MM): %w", cfg.Usage.ArchiveTime, err)
		}
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}

	if cfg.Enforcement.HomePackage == cfg.Enforcement.OwnPackage {
		return fmt.Errorf("enforcement.home_package must differ from enforcement.own_package")
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
