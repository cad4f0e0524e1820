// Package store defines the storage access interface used by backup and
// restore. Implementations live in memstore (tests, ephemeral databases),
// dao/postgres and dao/sqlite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
)

// ErrNotFound is returned by Get for a missing row.
var ErrNotFound = errors.New("store: not found")

// DefaultPageSize is used when a Query has no limit.
const DefaultPageSize = 256

// Query selects rows of one type ordered by ascending row ID. Paging is by
// keyset: pass the last seen ID as AfterID.
type Query struct {
	Type          string
	DomainID      int32 // 0 matches every domain
	ActiveOnly    bool
	ModifiedSince time.Time
	AfterID       int64
	Limit         int
}

// PageSize returns the effective limit of q.
func (q Query) PageSize() int {
	if q.Limit <= 0 {
		return DefaultPageSize
	}
	return q.Limit
}

// Backend names the storage stack, for manifests and diagnostics.
type Backend struct {
	PersistenceLayer string // e.g. "treedb-store"
	Implementation   string // e.g. "pgx/v5"
	Database         string // e.g. "postgres"
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Backend() Backend
	Close() error
}

// Tx is an explicit transaction. Every unit of work ends with Commit or
// Rollback; nothing is auto-committed.
type Tx interface {
	dbfs.BlockStore

	// Save inserts e, allocating a new row ID (see model.Assign).
	Save(ctx context.Context, e model.Entity) error
	// Update overwrites the row identified by e's ID.
	Update(ctx context.Context, e model.Entity) error
	Get(ctx context.Context, typ string, id int64) (model.Entity, error)
	Find(ctx context.Context, q Query) ([]model.Entity, error)
	Count(ctx context.Context, q Query) (int64, error)
	// DeleteAll removes every row of typ and returns the number removed.
	DeleteAll(ctx context.Context, typ string) (int64, error)
	// Release drops whatever the session caches for e. Callers use it after
	// handling large records so memory does not grow with the run.
	Release(e model.Entity)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Each pages through every row matching q and calls fn per page.
func Each(ctx context.Context, tx Tx, q Query, fn func([]model.Entity) error) error {
	for {
		page, err := tx.Find(ctx, q)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < q.PageSize() {
			return nil
		}
		q.AfterID = page[len(page)-1].Meta().ID
	}
}

// InTx runs fn inside a transaction, committing on success and rolling back
// on error.
func InTx(ctx context.Context, s Store, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
