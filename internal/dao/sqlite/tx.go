package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/pezi/treedb/internal/dao/dbutil"
	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

type tx struct {
	reg *registry.Registry
	tx  *sqlx.Tx
}

func (t *tx) Save(ctx context.Context, e model.Entity) error {
	typ := e.TypeName()
	res, err := t.tx.ExecContext(ctx, `INSERT INTO entities(type_name, payload) VALUES(?, '{}')`, typ)
	if err != nil {
		return dbutil.ErrWrap("sqlite.save", err, dbutil.ParamSummary("type", typ))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return dbutil.ErrWrap("sqlite.save", err, dbutil.ParamSummary("type", typ))
	}
	model.Assign(e, id)
	return t.write(ctx, "sqlite.save", e)
}

func (t *tx) Update(ctx context.Context, e model.Entity) error {
	return t.write(ctx, "sqlite.update", e)
}

func (t *tx) write(ctx context.Context, op string, e model.Entity) error {
	data, err := store.Marshal(e)
	if err != nil {
		return err
	}
	m := e.Meta()
	res, err := t.tx.ExecContext(ctx, `UPDATE entities
                SET hist_id = ?, domain_id = ?, status = ?, modified = ?, payload = ?
                WHERE id = ? AND type_name = ?`,
		m.HistID, m.DomainID, int(m.Status), stamp(m.Modified), string(data), m.ID, e.TypeName())
	if err != nil {
		return dbutil.ErrWrap(op, err, dbutil.ParamSummary("type", e.TypeName()), dbutil.ParamSummary("id", m.ID))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlite: update %s %d: %w", e.TypeName(), m.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) Get(ctx context.Context, typ string, id int64) (model.Entity, error) {
	var payload []byte
	err := t.tx.GetContext(ctx, &payload, `SELECT payload FROM entities WHERE id = ? AND type_name = ?`, id, typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: get %s %d: %w", typ, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, dbutil.ErrWrap("sqlite.get", err, dbutil.ParamSummary("type", typ), dbutil.ParamSummary("id", id))
	}
	return store.Unmarshal(t.reg, typ, payload)
}

// where renders the filter of q. Paging columns are appended by the caller.
func where(q store.Query) (string, []any) {
	conds := []string{"type_name = ?", "id > ?"}
	args := []any{q.Type, q.AfterID}
	if q.DomainID != 0 {
		conds = append(conds, "domain_id = ?")
		args = append(args, q.DomainID)
	}
	if q.ActiveOnly {
		conds = append(conds, "status = ?")
		args = append(args, int(model.StatusActive))
	}
	if !q.ModifiedSince.IsZero() {
		conds = append(conds, "modified >= ?")
		args = append(args, stamp(q.ModifiedSince))
	}
	return strings.Join(conds, " AND "), args
}

func (t *tx) Find(ctx context.Context, q store.Query) ([]model.Entity, error) {
	cond, args := where(q)
	args = append(args, q.PageSize())
	var payloads [][]byte
	if err := t.tx.SelectContext(ctx, &payloads, `SELECT payload FROM entities WHERE `+cond+` ORDER BY id LIMIT ?`, args...); err != nil {
		return nil, dbutil.ErrWrap("sqlite.find", err, dbutil.ParamSummary("type", q.Type), dbutil.ParamSummary("after", q.AfterID))
	}
	out := make([]model.Entity, 0, len(payloads))
	for _, p := range payloads {
		e, err := store.Unmarshal(t.reg, q.Type, p)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) Count(ctx context.Context, q store.Query) (int64, error) {
	cond, args := where(q)
	var n int64
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM entities WHERE `+cond, args...); err != nil {
		return 0, dbutil.ErrWrap("sqlite.count", err, dbutil.ParamSummary("type", q.Type))
	}
	return n, nil
}

func (t *tx) DeleteAll(ctx context.Context, typ string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if typ == model.TypeDBFSBlock {
		res, err = t.tx.ExecContext(ctx, `DELETE FROM dbfs_blocks`)
	} else {
		res, err = t.tx.ExecContext(ctx, `DELETE FROM entities WHERE type_name = ?`, typ)
	}
	if err != nil {
		return 0, dbutil.ErrWrap("sqlite.delete_all", err, dbutil.ParamSummary("type", typ))
	}
	return res.RowsAffected()
}

// Release is a no-op: rows are decoded per call and nothing is cached.
func (t *tx) Release(model.Entity) {}

func (t *tx) WriteBlock(ctx context.Context, key int64, data []byte) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO dbfs_blocks(block_key, data) VALUES(?, ?)
                ON CONFLICT(block_key) DO UPDATE SET data = excluded.data`, key, data)
	if err != nil {
		return dbutil.ErrWrap("sqlite.write_block", err, dbutil.ParamSummary("key", key), dbutil.ParamSummary("data", data))
	}
	return nil
}

func (t *tx) ReadBlock(ctx context.Context, key int64) ([]byte, error) {
	var data []byte
	err := t.tx.GetContext(ctx, &data, `SELECT data FROM dbfs_blocks WHERE block_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbutil.ErrWrap("sqlite.read_block", err, dbutil.ParamSummary("key", key))
	}
	return data, nil
}

func (t *tx) DeleteBlocks(ctx context.Context, owner uint32) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM dbfs_blocks WHERE block_key BETWEEN ? AND ?`,
		dbfs.BlockKey(owner, 0), dbfs.BlockKey(owner, ^uint32(0)))
	if err != nil {
		return dbutil.ErrWrap("sqlite.delete_blocks", err, dbutil.ParamSummary("owner", int64(owner)))
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return dbutil.ErrWrap("sqlite.commit", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !isDone(err) {
		return dbutil.ErrWrap("sqlite.rollback", err)
	}
	return nil
}
