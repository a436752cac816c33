// Package config loads the server configuration from an optional YAML file
// and applies environment variable overrides on top. The environment contract
// (ADMIN_ID, ADMIN_PWD, CCTV_KEY, DATABASE_URL) is kept compatible with the
// original deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	Env       string `yaml:"env"`
	StaticDir string `yaml:"static_dir"`
	UploadDir string `yaml:"upload_dir"`
	DataDir   string `yaml:"data_dir"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// AdminConfig holds the admin credential pair checked by admin endpoints.
type AdminConfig struct {
	ID  string `yaml:"id"`
	Pwd string `yaml:"pwd"`
}

// RedisConfig holds optional Redis settings for the report read-through
// cache. An empty Addr selects the in-memory backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// SchedulerConfig holds worker pool settings for the periodic task scheduler.
type SchedulerConfig struct {
	Workers    int           `yaml:"workers"`
	Resolution time.Duration `yaml:"resolution"`
}

// TelemetryConfig holds optional OTLP tracing settings.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Admin     AdminConfig     `yaml:"admin"`
	CctvKey   string          `yaml:"cctv_key"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8000",
			Env:       "production",
			StaticDir: "static",
			UploadDir: "upload/images",
			DataDir:   "data",
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Scheduler: SchedulerConfig{
			Workers:    4,
			Resolution: 100 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			SampleRate: 1.0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ADMIN_ID"); v != "" {
		cfg.Admin.ID = v
	}
	if v := os.Getenv("ADMIN_PWD"); v != "" {
		cfg.Admin.Pwd = v
	}
	if v := os.Getenv("CCTV_KEY"); v != "" {
		cfg.CctvKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("FIREMAP_ENV"); v != "" {
		cfg.Server.Env = v
	} else if v := os.Getenv("ROCKET_ENV"); v != "" {
		// Legacy name from the previous deployment.
		cfg.Server.Env = v
	}
	if v := os.Getenv("FIREMAP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FIREMAP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FIREMAP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

// Validate reports missing required settings. These are fatal at startup.
func (c *Config) Validate() error {
	if c.Admin.ID == "" {
		return fmt.Errorf("ADMIN_ID must be set")
	}
	if c.Admin.Pwd == "" {
		return fmt.Errorf("ADMIN_PWD must be set")
	}
	if c.CctvKey == "" {
		return fmt.Errorf("CCTV_KEY must be set")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	return nil
}

var devEnvs = []string{"dev", "development", "staging", "stage"}

// IsDev reports whether the configured environment enables CORS headers,
// the /test-captcha diagnostic and test/ static files.
func (c *Config) IsDev() bool {
	for _, env := range devEnvs {
		if c.Server.Env == env {
			return true
		}
	}
	return false
}
