package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pezi/treedb/internal/paths"
)

const (
	DefaultDriver    = "sqlite"
	DefaultFetchSize = 256
	DefaultMaxConns  = 4
	DefaultSchema    = "treedb"
)

// Environment overrides, applied after config.yaml.
const (
	EnvDSN      = "TREEDB_DSN"
	EnvDriver   = "TREEDB_DRIVER"
	EnvLogLevel = "TREEDB_LOG_LEVEL"
)

type StorageConfig struct {
	Driver     string `yaml:"driver"` // postgres, sqlite or memory
	DSN        string `yaml:"dsn"`
	Schema     string `yaml:"schema"` // postgres only
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int32  `yaml:"max_conns"`
	MinConns   int32  `yaml:"min_conns"`
}

type ExportConfig struct {
	FetchSize     int    `yaml:"fetch_size"`
	Serialization string `yaml:"serialization"` // json, xml or binary
	Compression   string `yaml:"compression"`   // deflate or store
	ActiveOnly    bool   `yaml:"active_only"`
	IncludeUsers  *bool  `yaml:"include_users"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
}

// UsersIncluded reports whether domain backups export referenced users.
func (c ExportConfig) UsersIncluded() bool {
	return c.IncludeUsers == nil || *c.IncludeUsers
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			Driver:     DefaultDriver,
			Schema:     DefaultSchema,
			SQLitePath: filepath.Join(paths.Home(), "treedb.sqlite"),
			MaxConns:   DefaultMaxConns,
		},
		Export: ExportConfig{FetchSize: DefaultFetchSize, Serialization: "json", Compression: "deflate"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Path returns the expected path to the config.yaml file.
func Path() string {
	return filepath.Join(paths.Home(), "config.yaml")
}

// Load reads .env from the working directory, then config.yaml, then the
// environment overrides. Missing files are not errors.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return defaults(), fmt.Errorf("read .env: %w", err)
	}
	return LoadFile(Path())
}

// LoadFile is Load without the .env step, reading config from p.
func LoadFile(p string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(p)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(b, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		merge(&cfg, fileCfg)
	}
	if v := os.Getenv(EnvDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv(EnvDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	return cfg, cfg.Validate()
}

// merge overrides defaults with provided values if non-zero.
func merge(cfg *Config, f Config) {
	if f.Storage.Driver != "" {
		cfg.Storage.Driver = f.Storage.Driver
	}
	if f.Storage.DSN != "" {
		cfg.Storage.DSN = f.Storage.DSN
	}
	if f.Storage.Schema != "" {
		cfg.Storage.Schema = f.Storage.Schema
	}
	if f.Storage.SQLitePath != "" {
		cfg.Storage.SQLitePath = f.Storage.SQLitePath
	}
	if f.Storage.MaxConns != 0 {
		cfg.Storage.MaxConns = f.Storage.MaxConns
	}
	if f.Storage.MinConns != 0 {
		cfg.Storage.MinConns = f.Storage.MinConns
	}
	if f.Export.FetchSize != 0 {
		cfg.Export.FetchSize = f.Export.FetchSize
	}
	if f.Export.Serialization != "" {
		cfg.Export.Serialization = f.Export.Serialization
	}
	if f.Export.Compression != "" {
		cfg.Export.Compression = f.Export.Compression
	}
	if f.Export.ActiveOnly {
		cfg.Export.ActiveOnly = true
	}
	if f.Export.IncludeUsers != nil {
		cfg.Export.IncludeUsers = f.Export.IncludeUsers
	}
	if f.Log.Level != "" {
		cfg.Log.Level = f.Log.Level
	}
	if f.Log.Format != "" {
		cfg.Log.Format = f.Log.Format
	}
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn (or %s) is required for the postgres driver", EnvDSN)
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Export.FetchSize < 1 {
		return fmt.Errorf("export.fetch_size must be positive, got %d", c.Export.FetchSize)
	}
	return nil
}
