// Package config loads labrun settings from defaults, an optional YAML file
// and LABRUN_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LABRUN_LOG_LEVEL.
const EnvPrefix = "LABRUN"

// Store types.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Store   StoreConfig    `mapstructure:"store"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Devices []DeviceConfig `mapstructure:"devices"`
	Claims  ClaimsConfig   `mapstructure:"claims"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig selects where run snapshots are persisted.
type StoreConfig struct {
	Type          string        `mapstructure:"type"`
	Path          string        `mapstructure:"path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DeviceConfig declares a simulated value node.
type DeviceConfig struct {
	Path         string        `mapstructure:"path"`
	Initial      any           `mapstructure:"initial"`
	Latency      time.Duration `mapstructure:"latency"`
	Disconnected bool          `mapstructure:"disconnected"`
}

type ClaimsConfig struct {
	// AutoTransfer hands a released device to the next waiting scope.
	AutoTransfer bool `mapstructure:"auto_transfer"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info"},
		Store:   StoreConfig{Type: StoreMemory, Path: "labrun.db", Prefix: "labrun:run:", LockTTL: time.Minute},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Claims:  ClaimsConfig{AutoTransfer: true},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// SetDefaults registers every default on v so environment overrides apply to
// keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("store.lock_ttl", d.Store.LockTTL)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("claims.auto_transfer", d.Claims.AutoTransfer)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// New returns a viper instance wired for labrun: defaults, env overrides and,
// when path is set, the config file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the configuration and validates it.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Type {
	case StoreNone, StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis store"))
		}
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not one of none, memory, redis, sqlite", c.Store.Type))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.Path == "":
			errs = append(errs, fmt.Errorf("devices[%d].path is required", i))
		case seen[d.Path]:
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate path %q", i, d.Path))
		}
		seen[d.Path] = true
		if d.Latency < 0 {
			errs = append(errs, fmt.Errorf("devices[%d].latency must not be negative", i))
		}
	}
	return errors.Join(errs...)
}
