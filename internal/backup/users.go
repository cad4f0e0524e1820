package backup

import (
	"context"

	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/privacy"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

// exportUsers writes the users referenced by the domain's records. Only
// active and soft-deleted versions are exported; each is anonymized, marked
// virtual and stripped of attribution.
func (r *exportRun) exportUsers(ctx context.Context, t *registry.Type, filter *privacy.Filter) (int64, error) {
	var (
		count   int64
		batches int
		pending []model.Entity
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := r.writeBatch(ctx, t, batches, pending); err != nil {
			return err
		}
		batches++
		count += int64(len(pending))
		pending = pending[:0]
		return nil
	}
	if len(r.userRefs) == 0 {
		return 0, nil
	}
	q := store.Query{Type: t.Name, Limit: r.opt.FetchSize}
	err := store.Each(ctx, r.tx, q, func(page []model.Entity) error {
		for _, e := range page {
			u, ok := e.(*model.User)
			if !ok {
				continue
			}
			if _, ref := r.userRefs[u.HistID]; !ref {
				continue
			}
			if u.Status != model.StatusActive && u.Status != model.StatusSoftDeleted {
				continue
			}
			pending = append(pending, anonymize(u, filter))
			if len(pending) == r.opt.FetchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, flush()
}

func anonymize(u *model.User, filter *privacy.Filter) *model.User {
	c := filter.Apply(u)
	c.Status = model.StatusVirtual
	c.CreatorID = 0
	c.ModifierID = 0
	return c
}
