package backup

import "github.com/pezi/treedb/internal/model"

// versions tracks, per historization ID of a virtual file type, the row whose
// content the shared blocks hold: the active version, else the newest one.
// Export and restore see the same rows and so agree on the choice.
type versions map[int32]version

type version struct {
	id     int64
	active bool
}

func (v versions) add(b *model.Base) {
	cur, ok := v[b.HistID]
	active := b.IsActive()
	if !ok || (active && !cur.active) || (active == cur.active && b.ID > cur.id) {
		v[b.HistID] = version{id: b.ID, active: active}
	}
}

// current reports whether row id is the content holder of hist.
func (v versions) current(hist int32, id int64) bool {
	cur, ok := v[hist]
	return ok && cur.id == id
}
