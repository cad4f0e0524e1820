package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/store/memstore"
)

func TestCountTypes(t *testing.T) {
	ctx := context.Background()
	reg := registry.Default()
	st := memstore.New(reg)
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		for _, e := range []model.Entity{
			&model.CI{Name: "a"},
			&model.CI{Base: model.Base{Status: model.StatusHistoric}, Name: "a-old"},
			&model.Domain{Name: "Lab"},
		} {
			if err := tx.Save(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	var counts []typeCount
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		var err error
		counts, err = countTypes(ctx, tx, reg)
		return err
	}))
	byType := map[string]typeCount{}
	for i, c := range counts {
		byType[c.Type] = c
		if i > 0 {
			require.Less(t, counts[i-1].Tag, c.Tag)
		}
	}
	require.Equal(t, typeCount{Type: model.TypeCI, Tag: registry.TagCI, Total: 2, Active: 1}, byType[model.TypeCI])
	require.Equal(t, int64(1), byType[model.TypeDomain].Total)
	require.NotContains(t, byType, model.TypeUIElement)
	require.NotContains(t, byType, model.TypeDBFSBlock)
}
