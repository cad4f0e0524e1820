// Package cmdutil holds what every treedb subcommand needs: the loaded
// config, the logger and the store it names.
package cmdutil

import (
	"context"
	"os"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/pezi/treedb/internal/config"
	"github.com/pezi/treedb/internal/dao"
	"github.com/pezi/treedb/internal/logging"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

// LogLevel overrides the configured level when set (root --log-level).
var LogLevel string

// Load reads the config and sets up logging from it.
func Load() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		logrus.WithError(err).Warn("invalid log level, keeping default")
	}
	return cfg, nil
}

// Open returns the registry of built-in types and the configured store.
func Open(ctx context.Context, cfg config.Config) (*registry.Registry, store.Store, error) {
	reg := registry.Default()
	st, err := dao.Open(ctx, cfg.Storage, reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, st, nil
}

// PrintJSON writes v to stdout, indented.
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
