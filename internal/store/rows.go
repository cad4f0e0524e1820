package store

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
)

// Marshal encodes the row payload of e. Every backend stores entities in
// this form, next to whatever columns it indexes.
func Marshal(e model.Entity) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", e.TypeName(), err)
	}
	return data, nil
}

// Unmarshal decodes a payload written by Marshal into a fresh entity of typ.
func Unmarshal(reg *registry.Registry, typ string, data []byte) (model.Entity, error) {
	e, err := reg.NewEntity(typ)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", typ, err)
	}
	return e, nil
}
