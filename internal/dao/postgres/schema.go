package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pezi/treedb/internal/dao/dbutil"
)

// EnsureSchema creates the schema, tables and indexes if missing. It does not
// require superuser privileges.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sid := pgx.Identifier{s.schema}.Sanitize()
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, sid),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id BIGSERIAL PRIMARY KEY,
            type_name TEXT NOT NULL,
            hist_id INTEGER NOT NULL DEFAULT 0,
            domain_id INTEGER NOT NULL DEFAULT 0,
            status SMALLINT NOT NULL DEFAULT 0,
            modified TIMESTAMPTZ NULL,
            payload JSONB NOT NULL
        )`, s.qual("entities")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_entities_type ON %s(type_name, id)`, s.qual("entities")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_entities_domain ON %s(type_name, domain_id, id)`, s.qual("entities")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_entities_hist ON %s(type_name, hist_id)`, s.qual("entities")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            block_key BIGINT PRIMARY KEY,
            data BYTEA NOT NULL
        )`, s.qual("dbfs_blocks")),
	}
	for i, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return dbutil.ErrWrap("postgres.schema", err, dbutil.ParamSummary("statement", i+1))
		}
	}
	return nil
}
