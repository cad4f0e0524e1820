// Package storetest checks that a store.Store implementation honours the
// contract backup and restore rely on.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/store"
)

// Run executes every contract test against fresh stores from open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("SaveAssignsIDs", func(t *testing.T) { saveAssignsIDs(t, open(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { updateMissing(t, open(t)) })
	t.Run("Filters", func(t *testing.T) { filters(t, open(t)) })
	t.Run("Paging", func(t *testing.T) { paging(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { rollback(t, open(t)) })
	t.Run("Blocks", func(t *testing.T) { blocks(t, open(t)) })
}

func saveAssignsIDs(t *testing.T, st store.Store) {
	ctx := context.Background()
	a := &model.CIType{Name: "a"}
	b := &model.CIType{Base: model.Base{HistID: 7}, Name: "b"}
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		if err := tx.Save(ctx, a); err != nil {
			return err
		}
		return tx.Save(ctx, b)
	}))
	require.NotZero(t, a.ID)
	require.Greater(t, b.ID, a.ID)
	require.Equal(t, int32(a.ID), a.HistID)
	require.Equal(t, int32(7), b.HistID)

	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		e, err := tx.Get(ctx, model.TypeCIType, a.ID)
		require.NoError(t, err)
		got := e.(*model.CIType)
		require.Equal(t, "a", got.Name)
		got.Name = "renamed"
		require.NoError(t, tx.Update(ctx, got))

		e, err = tx.Get(ctx, model.TypeCIType, a.ID)
		require.NoError(t, err)
		require.Equal(t, "renamed", e.(*model.CIType).Name)

		_, err = tx.Get(ctx, model.TypeCI, a.ID)
		require.True(t, errors.Is(err, store.ErrNotFound), "row IDs are typed")
		return nil
	}))
}

func updateMissing(t *testing.T, st store.Store) {
	ctx := context.Background()
	err := store.InTx(ctx, st, func(tx store.Tx) error {
		return tx.Update(ctx, &model.CI{Base: model.Base{ID: 999}})
	})
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func filters(t *testing.T, st store.Store) {
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []*model.CI{
		{Base: model.Base{DomainID: 1, Modified: old}, Name: "d1-old"},
		{Base: model.Base{DomainID: 1, Modified: recent}, Name: "d1-new"},
		{Base: model.Base{DomainID: 2, Modified: recent, Status: model.StatusHistoric}, Name: "d2-hist"},
	}
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		for _, r := range rows {
			if err := tx.Save(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
	names := func(q store.Query) []string {
		q.Type = model.TypeCI
		var out []string
		require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
			return store.Each(ctx, tx, q, func(page []model.Entity) error {
				for _, e := range page {
					out = append(out, e.(*model.CI).Name)
				}
				return nil
			})
		}))
		return out
	}
	require.Equal(t, []string{"d1-old", "d1-new", "d2-hist"}, names(store.Query{}))
	require.Equal(t, []string{"d1-old", "d1-new"}, names(store.Query{DomainID: 1}))
	require.Equal(t, []string{"d1-old", "d1-new"}, names(store.Query{ActiveOnly: true}))
	require.Equal(t, []string{"d1-new", "d2-hist"}, names(store.Query{ModifiedSince: recent}))

	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		n, err := tx.Count(ctx, store.Query{Type: model.TypeCI, ActiveOnly: true, DomainID: 1})
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		return nil
	}))
}

func paging(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		for i := 0; i < 7; i++ {
			if err := tx.Save(ctx, &model.Domain{Name: "d"}); err != nil {
				return err
			}
		}
		return nil
	}))
	var sizes []int
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		return store.Each(ctx, tx, store.Query{Type: model.TypeDomain, Limit: 3}, func(page []model.Entity) error {
			sizes = append(sizes, len(page))
			return nil
		})
	}))
	require.Equal(t, []int{3, 3, 1}, sizes)
}

func rollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	keep := &model.CIType{Name: "keep"}
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error { return tx.Save(ctx, keep) }))

	boom := errors.New("boom")
	err := store.InTx(ctx, st, func(tx store.Tx) error {
		require.NoError(t, tx.Save(ctx, &model.CIType{Name: "drop"}))
		n, err := tx.DeleteAll(ctx, model.TypeCIType)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		n, err := tx.Count(ctx, store.Query{Type: model.TypeCIType})
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return nil
	}))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
}

func blocks(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		for _, owner := range []uint32{1, 2, 1 << 31} {
			for i := uint32(0); i < 3; i++ {
				if err := tx.WriteBlock(ctx, dbfs.BlockKey(owner, i), []byte{byte(owner), byte(i)}); err != nil {
					return err
				}
			}
		}
		return tx.WriteBlock(ctx, dbfs.BlockKey(2, 0), []byte("over"))
	}))
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		b, err := tx.ReadBlock(ctx, dbfs.BlockKey(2, 0))
		require.NoError(t, err)
		require.Equal(t, []byte("over"), b)

		require.NoError(t, tx.DeleteBlocks(ctx, 1<<31))
		b, err = tx.ReadBlock(ctx, dbfs.BlockKey(1<<31, 1))
		require.NoError(t, err)
		require.Nil(t, b)
		b, err = tx.ReadBlock(ctx, dbfs.BlockKey(1, 2))
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2}, b)

		n, err := tx.DeleteAll(ctx, model.TypeDBFSBlock)
		require.NoError(t, err)
		require.Equal(t, int64(6), n)
		return nil
	}))
}
