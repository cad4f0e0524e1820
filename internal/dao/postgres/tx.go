package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pezi/treedb/internal/dao/dbutil"
	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

type tx struct {
	reg      *registry.Registry
	tx       pgx.Tx
	entities string
	blocks   string
}

// modified maps the zero time to NULL.
func modified(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (t *tx) Save(ctx context.Context, e model.Entity) error {
	typ := e.TypeName()
	var id int64
	q := `INSERT INTO ` + t.entities + ` (type_name, payload) VALUES ($1, '{}'::jsonb) RETURNING id`
	if err := t.tx.QueryRow(ctx, q, typ).Scan(&id); err != nil {
		return dbutil.ErrWrap("postgres.save", err, dbutil.ParamSummary("type", typ))
	}
	model.Assign(e, id)
	return t.write(ctx, "postgres.save", e)
}

func (t *tx) Update(ctx context.Context, e model.Entity) error {
	return t.write(ctx, "postgres.update", e)
}

func (t *tx) write(ctx context.Context, op string, e model.Entity) error {
	data, err := store.Marshal(e)
	if err != nil {
		return err
	}
	m := e.Meta()
	q := `UPDATE ` + t.entities + `
          SET hist_id = $1, domain_id = $2, status = $3, modified = $4, payload = $5::jsonb
          WHERE id = $6 AND type_name = $7`
	tag, err := t.tx.Exec(ctx, q, m.HistID, m.DomainID, int16(m.Status), modified(m.Modified), string(data), m.ID, e.TypeName())
	if err != nil {
		return dbutil.ErrWrap(op, err, dbutil.ParamSummary("type", e.TypeName()), dbutil.ParamSummary("id", m.ID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update %s %d: %w", e.TypeName(), m.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) Get(ctx context.Context, typ string, id int64) (model.Entity, error) {
	var payload []byte
	q := `SELECT payload FROM ` + t.entities + ` WHERE id = $1 AND type_name = $2`
	err := t.tx.QueryRow(ctx, q, id, typ).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get %s %d: %w", typ, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, dbutil.ErrWrap("postgres.get", err, dbutil.ParamSummary("type", typ), dbutil.ParamSummary("id", id))
	}
	return store.Unmarshal(t.reg, typ, payload)
}

func (t *tx) where(q store.Query) (string, []any) {
	args := []any{q.Type, q.AfterID}
	conds := []string{"type_name = $1", "id > $2"}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+strconv.Itoa(len(args)))
	}
	if q.DomainID != 0 {
		add("domain_id = $", q.DomainID)
	}
	if q.ActiveOnly {
		add("status = $", int16(model.StatusActive))
	}
	if !q.ModifiedSince.IsZero() {
		add("modified >= $", q.ModifiedSince)
	}
	return strings.Join(conds, " AND "), args
}

func (t *tx) Find(ctx context.Context, q store.Query) ([]model.Entity, error) {
	cond, args := t.where(q)
	args = append(args, q.PageSize())
	sql := `SELECT payload FROM ` + t.entities + ` WHERE ` + cond + ` ORDER BY id LIMIT $` + strconv.Itoa(len(args))
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, dbutil.ErrWrap("postgres.find", err, dbutil.ParamSummary("type", q.Type), dbutil.ParamSummary("after", q.AfterID))
	}
	defer rows.Close()
	var out []model.Entity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, dbutil.ErrWrap("postgres.find", err, dbutil.ParamSummary("type", q.Type))
		}
		e, err := store.Unmarshal(t.reg, q.Type, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbutil.ErrWrap("postgres.find", err, dbutil.ParamSummary("type", q.Type))
	}
	return out, nil
}

func (t *tx) Count(ctx context.Context, q store.Query) (int64, error) {
	cond, args := t.where(q)
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+t.entities+` WHERE `+cond, args...).Scan(&n); err != nil {
		return 0, dbutil.ErrWrap("postgres.count", err, dbutil.ParamSummary("type", q.Type))
	}
	return n, nil
}

func (t *tx) DeleteAll(ctx context.Context, typ string) (int64, error) {
	var err error
	var n int64
	if typ == model.TypeDBFSBlock {
		tag, e := t.tx.Exec(ctx, `DELETE FROM `+t.blocks)
		n, err = tag.RowsAffected(), e
	} else {
		tag, e := t.tx.Exec(ctx, `DELETE FROM `+t.entities+` WHERE type_name = $1`, typ)
		n, err = tag.RowsAffected(), e
	}
	if err != nil {
		return 0, dbutil.ErrWrap("postgres.delete_all", err, dbutil.ParamSummary("type", typ))
	}
	return n, nil
}

// Release is a no-op: pgx holds no row cache.
func (t *tx) Release(model.Entity) {}

func (t *tx) WriteBlock(ctx context.Context, key int64, data []byte) error {
	q := `INSERT INTO ` + t.blocks + ` (block_key, data) VALUES ($1, $2)
          ON CONFLICT (block_key) DO UPDATE SET data = EXCLUDED.data`
	if _, err := t.tx.Exec(ctx, q, key, data); err != nil {
		return dbutil.ErrWrap("postgres.write_block", err, dbutil.ParamSummary("key", key), dbutil.ParamSummary("data", data))
	}
	return nil
}

func (t *tx) ReadBlock(ctx context.Context, key int64) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRow(ctx, `SELECT data FROM `+t.blocks+` WHERE block_key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbutil.ErrWrap("postgres.read_block", err, dbutil.ParamSummary("key", key))
	}
	return data, nil
}

func (t *tx) DeleteBlocks(ctx context.Context, owner uint32) error {
	q := `DELETE FROM ` + t.blocks + ` WHERE block_key BETWEEN $1 AND $2`
	if _, err := t.tx.Exec(ctx, q, dbfs.BlockKey(owner, 0), dbfs.BlockKey(owner, ^uint32(0))); err != nil {
		return dbutil.ErrWrap("postgres.delete_blocks", err, dbutil.ParamSummary("owner", int64(owner)))
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	return dbutil.ErrWrap("postgres.commit", t.tx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return dbutil.ErrWrap("postgres.rollback", err)
	}
	return nil
}
