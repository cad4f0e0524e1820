// Package sqlite implements store.Store on a single SQLite file through sqlx
// and the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pezi/treedb/internal/dao/dbutil"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const busyTimeout = 5 * time.Second

var _ store.Store = (*Store)(nil)

// Store wraps the sqlx connection pool. SQLite admits one writer, so the pool
// holds a single connection and transactions queue on it.
type Store struct {
	db  *sqlx.DB
	reg *registry.Registry
}

// Open opens (and creates) the database at path and migrates its schema.
func Open(ctx context.Context, path string, reg *registry.Registry) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	dsn := "file::memory:"
	if path != MemoryPath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve sqlite path: %w", err)
		}
		dsn = "file:" + abs
	}
	dsn += fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, busyTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, reg: reg}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying pool.
func (s *Store) DB() *sqlx.DB { return s.db }

// Backend implements store.Store.
func (s *Store) Backend() store.Backend {
	return store.Backend{PersistenceLayer: "treedb-store", Implementation: "sqlx/modernc", Database: "sqlite"}
}

// Begin implements store.Store.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbutil.ErrWrap("sqlite.begin", err)
	}
	return &tx{reg: s.reg, tx: t}, nil
}

func (s *Store) migrate(ctx context.Context) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                type_name TEXT NOT NULL,
                hist_id INTEGER NOT NULL DEFAULT 0,
                domain_id INTEGER NOT NULL DEFAULT 0,
                status INTEGER NOT NULL DEFAULT 0,
                modified INTEGER NOT NULL DEFAULT 0,
                payload TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type_name, id);`,
	`CREATE INDEX IF NOT EXISTS idx_entities_domain ON entities(type_name, domain_id, id);`,
	`CREATE INDEX IF NOT EXISTS idx_entities_hist ON entities(type_name, hist_id);`,
	`CREATE TABLE IF NOT EXISTS dbfs_blocks (
                block_key INTEGER PRIMARY KEY,
                data BLOB NOT NULL
        );`,
}

// stamp maps a modification time onto the integer column. Microseconds keep
// the zero time inside int64.
func stamp(t time.Time) int64 { return t.UTC().UnixMicro() }

func isDone(err error) bool { return errors.Is(err, sql.ErrTxDone) }
