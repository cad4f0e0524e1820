// Package dao selects and opens the storage backend named in the config.
package dao

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pezi/treedb/internal/config"
	"github.com/pezi/treedb/internal/dao/postgres"
	"github.com/pezi/treedb/internal/dao/sqlite"
	"github.com/pezi/treedb/internal/logging"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/store/memstore"
)

// Open returns the store for cfg.Driver with its schema in place.
func Open(ctx context.Context, cfg config.StorageConfig, reg *registry.Registry) (store.Store, error) {
	log := logging.For("dao").WithField("driver", cfg.Driver)
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.Open(ctx, cfg, reg)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		log.WithField("schema", cfg.Schema).Debug("opened postgres store")
		return st, nil
	case "sqlite", "":
		st, err := sqlite.Open(ctx, cfg.SQLitePath, reg)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"path": cfg.SQLitePath}).Debug("opened sqlite store")
		return st, nil
	case "memory":
		log.Warn("memory store selected; nothing outlives the process")
		return memstore.New(reg), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
