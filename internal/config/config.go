// Package config loads the ThreeMeal backend configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all backend configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Images   ImagesConfig   `yaml:"images"`
	Export   ExportConfig   `yaml:"export"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	DataDir       string `yaml:"data_dir"`
	FileName      string `yaml:"file_name"`
	WAL           bool   `yaml:"wal"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`

	// Path overrides DataDir/FileName when set (DB_PATH).
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json
}

// ImagesConfig configures food card image processing.
type ImagesConfig struct {
	MaxBytes        int64 `yaml:"max_bytes"`
	Quality         int   `yaml:"quality"`
	MinQuality      int   `yaml:"min_quality"`
	MaxDimension    int   `yaml:"max_dimension"`
	ThumbnailWidth  int   `yaml:"thumbnail_width"`
	ThumbnailHeight int   `yaml:"thumbnail_height"`
	Workers         int   `yaml:"workers"`
}

// ExportConfig configures backups.
type ExportConfig struct {
	Dir           string `yaml:"dir"`
	Interval      string `yaml:"interval"`  // manual, daily, weekly, monthly
	Retention     int    `yaml:"retention"` // archives to keep, 0 = unlimited
	IncludeImages bool   `yaml:"include_images"`
}

// ServerConfig configures the local realtime server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:       defaultDataDir(),
			FileName:      "threemeal.db",
			WAL:           true,
			BusyTimeoutMS: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Images: ImagesConfig{
			MaxBytes:        1 << 20,
			Quality:         80,
			MinQuality:      40,
			MaxDimension:    1600,
			ThumbnailWidth:  300,
			ThumbnailHeight: 300,
			Workers:         2,
		},
		Export: ExportConfig{
			Dir:       "exports",
			Interval:  "manual",
			Retention: 7,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8090",
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".threemeal")
	}
	return "data"
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("THREEMEAL_DATA_DIR"); dir != "" {
		c.Database.DataDir = dir
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("THREEMEAL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("THREEMEAL_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if v := os.Getenv("THREEMEAL_BUSY_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Database.BusyTimeoutMS = ms
		}
	}
}

// Validate checks the configuration for values the backend cannot run with.
func (c *Config) Validate() error {
	if c.Database.DataDir == "" && c.Database.Path == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	img := c.Images
	if img.MaxBytes <= 0 {
		return fmt.Errorf("images.max_bytes must be positive")
	}
	if img.Quality < 1 || img.Quality > 100 || img.MinQuality < 1 || img.MinQuality > img.Quality {
		return fmt.Errorf("images quality range %d..%d is invalid", img.MinQuality, img.Quality)
	}
	if img.MaxDimension <= 0 || img.ThumbnailWidth <= 0 || img.ThumbnailHeight <= 0 {
		return fmt.Errorf("image dimensions must be positive")
	}
	if img.Workers < 1 {
		return fmt.Errorf("images.workers must be at least 1")
	}

	switch c.Export.Interval {
	case "manual", "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("invalid export.interval %q", c.Export.Interval)
	}
	if c.Export.Retention < 0 {
		return fmt.Errorf("export.retention must not be negative")
	}
	return nil
}

// DatabasePath returns the SQLite file path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Database.DataDir, c.Database.FileName)
}

// DataDir returns the directory holding the database and images.
func (c *Config) DataDir() string {
	if c.Database.DataDir != "" {
		return c.Database.DataDir
	}
	return filepath.Dir(c.Database.Path)
}

// ExportDir returns the backup directory, resolved against the data dir when relative.
func (c *Config) ExportDir() string {
	if filepath.IsAbs(c.Export.Dir) {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir(), c.Export.Dir)
}
