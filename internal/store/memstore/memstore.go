// Package memstore is an in-memory implementation of store.Store. Rows are
// kept encoded so callers never share memory with the store.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

var errTxDone = errors.New("memstore: transaction already finished")

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

// Store holds all rows of every type plus the block table. Only one
// transaction is open at a time; Begin blocks until the previous one ends.
type Store struct {
	reg *registry.Registry

	txMu sync.Mutex // held for the lifetime of a transaction

	mu       sync.Mutex
	nextID   int64
	rows     map[string]map[int64][]byte
	blocks   map[int64][]byte
	released int
}

// New returns an empty store for the types in reg.
func New(reg *registry.Registry) *Store {
	return &Store{
		reg:    reg,
		rows:   map[string]map[int64][]byte{},
		blocks: map[int64][]byte{},
	}
}

// Backend implements store.Store.
func (s *Store) Backend() store.Backend {
	return store.Backend{PersistenceLayer: "treedb-store", Implementation: "memstore", Database: "memory"}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Released returns how many times Tx.Release was called.
func (s *Store) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// BlockCount returns the number of stored blocks.
func (s *Store) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

// Begin implements store.Store.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &tx{s: s}, nil
}

type undo struct {
	block   bool
	typ     string
	key     int64
	prev    []byte
	existed bool
}

type tx struct {
	s    *Store
	log  []undo
	done bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	return ctx.Err()
}

func (t *tx) table(typ string) map[int64][]byte {
	m := t.s.rows[typ]
	if m == nil {
		m = map[int64][]byte{}
		t.s.rows[typ] = m
	}
	return m
}

func (t *tx) put(typ string, id int64, data []byte) {
	m := t.table(typ)
	prev, existed := m[id]
	t.log = append(t.log, undo{typ: typ, key: id, prev: prev, existed: existed})
	m[id] = data
}

func (t *tx) decode(typ string, data []byte) (model.Entity, error) {
	return store.Unmarshal(t.s.reg, typ, data)
}

func (t *tx) Save(ctx context.Context, e model.Entity) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextID++
	model.Assign(e, t.s.nextID)
	data, err := store.Marshal(e)
	if err != nil {
		return err
	}
	t.put(e.TypeName(), e.Meta().ID, data)
	return nil
}

func (t *tx) Update(ctx context.Context, e model.Entity) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.table(e.TypeName())[e.Meta().ID]; !ok {
		return fmt.Errorf("memstore: update %s %d: %w", e.TypeName(), e.Meta().ID, store.ErrNotFound)
	}
	data, err := store.Marshal(e)
	if err != nil {
		return err
	}
	t.put(e.TypeName(), e.Meta().ID, data)
	return nil
}

func (t *tx) Get(ctx context.Context, typ string, id int64) (model.Entity, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	data, ok := t.s.rows[typ][id]
	if !ok {
		return nil, fmt.Errorf("memstore: get %s %d: %w", typ, id, store.ErrNotFound)
	}
	return t.decode(typ, data)
}

func (t *tx) match(ctx context.Context, q store.Query, fn func(model.Entity) bool) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	m := t.s.rows[q.Type]
	ids := make([]int64, 0, len(m))
	for id := range m {
		if id > q.AfterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e, err := t.decode(q.Type, m[id])
		if err != nil {
			return err
		}
		b := e.Meta()
		if q.DomainID != 0 && b.DomainID != q.DomainID {
			continue
		}
		if q.ActiveOnly && !b.IsActive() {
			continue
		}
		if !q.ModifiedSince.IsZero() && b.Modified.Before(q.ModifiedSince) {
			continue
		}
		if !fn(e) {
			return nil
		}
	}
	return nil
}

func (t *tx) Find(ctx context.Context, q store.Query) ([]model.Entity, error) {
	limit := q.PageSize()
	var out []model.Entity
	err := t.match(ctx, q, func(e model.Entity) bool {
		out = append(out, e)
		return len(out) < limit
	})
	return out, err
}

func (t *tx) Count(ctx context.Context, q store.Query) (int64, error) {
	var n int64
	err := t.match(ctx, q, func(model.Entity) bool {
		n++
		return true
	})
	return n, err
}

func (t *tx) DeleteAll(ctx context.Context, typ string) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if typ == model.TypeDBFSBlock {
		n := int64(len(t.s.blocks))
		for key, prev := range t.s.blocks {
			t.log = append(t.log, undo{block: true, key: key, prev: prev, existed: true})
			delete(t.s.blocks, key)
		}
		return n, nil
	}
	m := t.s.rows[typ]
	n := int64(len(m))
	for id, prev := range m {
		t.log = append(t.log, undo{typ: typ, key: id, prev: prev, existed: true})
		delete(m, id)
	}
	return n, nil
}

func (t *tx) Release(model.Entity) {
	t.s.mu.Lock()
	t.s.released++
	t.s.mu.Unlock()
}

func (t *tx) WriteBlock(ctx context.Context, key int64, data []byte) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, existed := t.s.blocks[key]
	t.log = append(t.log, undo{block: true, key: key, prev: prev, existed: existed})
	t.s.blocks[key] = append([]byte(nil), data...)
	return nil
}

func (t *tx) ReadBlock(ctx context.Context, key int64) ([]byte, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.blocks[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (t *tx) DeleteBlocks(ctx context.Context, owner uint32) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for key, prev := range t.s.blocks {
		if o, _ := dbfs.SplitBlockKey(key); o == owner {
			t.log = append(t.log, undo{block: true, key: key, prev: prev, existed: true})
			delete(t.s.blocks, key)
		}
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.log = nil
	t.s.txMu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Lock()
	for i := len(t.log) - 1; i >= 0; i-- {
		u := t.log[i]
		switch {
		case u.block && u.existed:
			t.s.blocks[u.key] = u.prev
		case u.block:
			delete(t.s.blocks, u.key)
		case u.existed:
			t.table(u.typ)[u.key] = u.prev
		default:
			delete(t.table(u.typ), u.key)
		}
	}
	t.s.mu.Unlock()
	t.log = nil
	t.s.txMu.Unlock()
	return nil
}
