package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"meter-indicators/internal/analysis"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Engine    EngineConfig    `yaml:"engine"`
	Devices   DevicesConfig   `yaml:"devices"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	// SQLite file, or ":memory:".
	DSN string `yaml:"dsn"`
	// Keep the newest record when two computations of the same key race.
	ConditionalWrites bool `yaml:"conditional_writes"`
}

type TelemetryConfig struct {
	// Empty means measurements are read from the local database.
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // overridden by TELEMETRY_PASSWORD
}

type EngineConfig struct {
	// IANA zone that defines calendar days, e.g. "America/Sao_Paulo".
	Timezone  string          `yaml:"timezone"`
	Workers   int             `yaml:"workers"`
	Precision PrecisionConfig `yaml:"precision"`
}

type PrecisionConfig struct {
	Energy  int32 `yaml:"energy"`
	Percent int32 `yaml:"percent"`
	Factor  int32 `yaml:"factor"`
}

// Device sources.
const (
	DeviceSourceFile      = "file"
	DeviceSourceDatabase  = "database"
	DeviceSourceTelemetry = "telemetry"
)

type DevicesConfig struct {
	Source     string        `yaml:"source"`
	File       string        `yaml:"file"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Categories []string      `yaml:"categories"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	GroupID    string   `yaml:"group_id"`
	MaxRetries uint64   `yaml:"max_retries"`
}

type APIConfig struct {
	Port string `yaml:"port"` // overridden by API_PORT
	Env  string `yaml:"env"`  // overridden by API_ENV
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns a configuration that runs locally against ./data/indicators.db.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, fills in defaults, applies environment overrides and validates the result.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads config, but does not default or validate it.
// Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	var c Config
	if path == "" {
		return &c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/indicators.db"
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "UTC"
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.Precision == (PrecisionConfig{}) {
		p := analysis.DefaultPrecision
		c.Engine.Precision = PrecisionConfig{Energy: p.Energy, Percent: p.Percent, Factor: p.Factor}
	}
	if c.Devices.Source == "" {
		c.Devices.Source = DeviceSourceFile
	}
	if c.Devices.File == "" {
		c.Devices.File = "./data/devices.json"
	}
	if c.Devices.CacheTTL == 0 {
		c.Devices.CacheTTL = 10 * time.Minute
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "indicator-engine"
	}
	if c.Kafka.MaxRetries == 0 {
		c.Kafka.MaxRetries = 5
	}
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("API_PORT"); v != "" {
		c.API.Port = v
	}
	if v := os.Getenv("API_ENV"); v != "" {
		c.API.Env = v
	}
	if v := os.Getenv("TELEMETRY_PASSWORD"); v != "" {
		c.Telemetry.Password = v
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("engine.timezone invalid: %w", err)
	}
	if c.Engine.Workers < 1 {
		return errors.New("engine.workers must be at least 1")
	}
	p := c.Engine.Precision
	if p.Energy < 0 || p.Percent < 0 || p.Factor < 0 {
		return errors.New("engine.precision values must not be negative")
	}
	switch c.Devices.Source {
	case DeviceSourceFile:
		if c.Devices.File == "" {
			return errors.New("devices.file is required when devices.source is file")
		}
	case DeviceSourceDatabase:
	case DeviceSourceTelemetry:
		if c.Telemetry.BaseURL == "" {
			return errors.New("telemetry.base_url is required when devices.source is telemetry")
		}
	default:
		return fmt.Errorf("devices.source must be one of file, database, telemetry (got %q)", c.Devices.Source)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level invalid: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json (got %q)", c.Log.Format)
	}
	return nil
}

// Location resolves the engine timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}

func (p PrecisionConfig) Analysis() analysis.Precision {
	return analysis.Precision{Energy: p.Energy, Percent: p.Percent, Factor: p.Factor}
}

// Production reports whether the API runs in production mode.
func (a APIConfig) Production() bool {
	return a.Env == "production"
}
