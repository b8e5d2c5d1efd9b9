package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backup   BackupConfig   `yaml:"backup"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
}

// BackupConfig holds export and artifact storage settings
type BackupConfig struct {
	BlobDir       string `yaml:"blob_dir"`
	DefaultFormat string `yaml:"default_format"`
	Compression   string `yaml:"compression"`
	WorkerLimit   int    `yaml:"worker_limit"`
	CreatedBy     string `yaml:"created_by"`
}

// ScheduleConfig holds scheduler settings
type ScheduleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Period    string `yaml:"period"`
	Interval  string `yaml:"interval"`
	Retention int    `yaml:"retention"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:  "0.0.0.0:8080",
			DataDir: "/var/lib/rollcall",
			DBPath:  "",
		},
		Backup: BackupConfig{
			BlobDir:       "",
			DefaultFormat: "structured",
			Compression:   "zstd",
			WorkerLimit:   4,
			CreatedBy:     "admin",
		},
		Schedule: ScheduleConfig{
			Enabled:   true,
			Period:    "daily",
			Interval:  "24h",
			Retention: 7,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"rollcall.yaml",
		"/etc/rollcall/rollcall.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "rollcall", "rollcall.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks enumerated settings and limits.
func (c *Config) Validate() error {
	switch c.Backup.DefaultFormat {
	case "structured", "tabular":
	default:
		return fmt.Errorf("backup.default_format must be structured or tabular, got %q", c.Backup.DefaultFormat)
	}
	switch c.Backup.Compression {
	case "zstd", "xz":
	default:
		return fmt.Errorf("backup.compression must be zstd or xz, got %q", c.Backup.Compression)
	}
	if c.Backup.WorkerLimit <= 0 {
		return fmt.Errorf("backup.worker_limit must be positive, got %d", c.Backup.WorkerLimit)
	}
	switch c.Schedule.Period {
	case "daily", "weekly", "monthly", "full":
	default:
		return fmt.Errorf("schedule.period must be daily, weekly, monthly or full, got %q", c.Schedule.Period)
	}
	if c.Schedule.Retention <= 0 {
		return fmt.Errorf("schedule.retention must be positive, got %d", c.Schedule.Retention)
	}
	if _, err := c.ScheduleInterval(); err != nil {
		return err
	}
	return nil
}

// ScheduleInterval parses schedule.interval.
func (c *Config) ScheduleInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Schedule.Interval)
	if err != nil {
		return 0, fmt.Errorf("schedule.interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule.interval must be positive, got %s", c.Schedule.Interval)
	}
	return d, nil
}

// DatabasePath returns the SQLite path, defaulting under the data directory.
func (c *Config) DatabasePath() string {
	if c.Server.DBPath != "" {
		return c.Server.DBPath
	}
	return filepath.Join(c.Server.DataDir, "rollcall.db")
}

// BlobRoot returns the artifact blob directory, defaulting under the data directory.
func (c *Config) BlobRoot() string {
	if c.Backup.BlobDir != "" {
		return c.Backup.BlobDir
	}
	return filepath.Join(c.Server.DataDir, "blobs")
}

// Save writes the config as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Set assigns one setting by its dotted YAML key and revalidates.
func (c *Config) Set(key, value string) error {
	switch key {
	case "server.listen":
		c.Server.Listen = value
	case "server.data_dir":
		c.Server.DataDir = value
	case "server.db_path":
		c.Server.DBPath = value
	case "backup.blob_dir":
		c.Backup.BlobDir = value
	case "backup.default_format":
		c.Backup.DefaultFormat = value
	case "backup.compression":
		c.Backup.Compression = value
	case "backup.worker_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Backup.WorkerLimit = n
	case "backup.created_by":
		c.Backup.CreatedBy = value
	case "schedule.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Schedule.Enabled = b
	case "schedule.period":
		c.Schedule.Period = value
	case "schedule.interval":
		c.Schedule.Interval = value
	case "schedule.retention":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Schedule.Retention = n
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return c.Validate()
}
