// Package postgres implements store.Store on PostgreSQL through a pgx
// connection pool. All tables live in one schema (config storage.schema).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pezi/treedb/internal/config"
	"github.com/pezi/treedb/internal/dao/dbutil"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store holds the pool and the qualified table names.
type Store struct {
	pool   *pgxpool.Pool
	reg    *registry.Registry
	schema string
}

// Open connects with cfg.DSN, applies the pool limits and pings the server.
// It does not touch the schema; call EnsureSchema for that.
func Open(ctx context.Context, cfg config.StorageConfig, reg *registry.Registry) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	schema := cfg.Schema
	if schema == "" {
		schema = config.DefaultSchema
	}
	return &Store{pool: pool, reg: reg, schema: schema}, nil
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close implements store.Store.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Backend implements store.Store.
func (s *Store) Backend() store.Backend {
	return store.Backend{PersistenceLayer: "treedb-store", Implementation: "pgx/v5", Database: "postgres"}
}

// Begin implements store.Store.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, dbutil.ErrWrap("postgres.begin", err)
	}
	return &tx{reg: s.reg, tx: t, entities: s.qual("entities"), blocks: s.qual("dbfs_blocks")}, nil
}

func (s *Store) qual(tbl string) string { return pgx.Identifier{s.schema, tbl}.Sanitize() }
