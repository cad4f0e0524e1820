// Package registry declares the entity types known to TreeDB and the role of
// every field that matters to backup and restore.
//
// Descriptors are plain values built once at startup. Field accessors are
// closures over the concrete entity type, so no reflection is needed to find
// foreign keys or detached binaries.
package registry

import (
	"fmt"

	"github.com/pezi/treedb/internal/model"
)

// Role classifies a field.
type Role int

const (
	RolePlain Role = iota
	// RoleForeignKey is an int32 holding the target's historization ID.
	RoleForeignKey
	// RoleComposedKey is an int64 (targetTag << 32 | targetHistID).
	RoleComposedKey
	// RolePolymorphic is a model.Reference whose target type is read at runtime.
	RolePolymorphic
	// RoleDetached is a []byte stored outside the serialized record.
	RoleDetached
)

func (r Role) String() string {
	switch r {
	case RolePlain:
		return "plain"
	case RoleForeignKey:
		return "foreign-key"
	case RoleComposedKey:
		return "composed-key"
	case RolePolymorphic:
		return "polymorphic"
	case RoleDetached:
		return "detached"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Field describes one field of an entity type. Only the accessor matching
// Role is set.
type Field struct {
	Name   string
	Role   Role
	Target string // static target type, RoleForeignKey only

	Ref  func(model.Entity) *int32
	Key  func(model.Entity) *int64
	Poly func(model.Entity) *model.Reference
	Blob func(model.Entity) *[]byte
}

// Type describes one registered entity type.
type Type struct {
	Name string
	// Tag is the stable identifier used in composed IDs and archive file names.
	// Tags are pinned per type and never derived from registration order.
	Tag    uint32
	Parent *Type

	Abstract bool
	// Infrastructure types are never exported as records.
	Infrastructure bool
	// DomainScoped types carry a meaningful DomainID and take part in domain backups.
	DomainScoped bool
	// StreamIndividually types are exported and restored one record at a time
	// and released from the storage session right after use.
	StreamIndividually bool
	// VirtualFile types own block content in the virtual file store.
	VirtualFile bool
	// CollectUserRefs makes domain backups remember the users this type points at.
	CollectUserRefs bool

	Fields []Field
	New    func() model.Entity
}

func (t *Type) String() string { return t.Name }

// AllFields returns the type's own fields followed by inherited ones, walking
// the parent chain. The universal Base columns are not included.
func (t *Type) AllFields() []Field {
	var out []Field
	for cur := t; cur != nil; cur = cur.Parent {
		out = append(out, cur.Fields...)
	}
	return out
}

// References returns every reference-bearing field including the Base
// columns (domain, creator, modifier).
func (t *Type) References() []Field {
	out := make([]Field, 0, len(BaseFields)+4)
	out = append(out, BaseFields...)
	for _, f := range t.AllFields() {
		switch f.Role {
		case RoleForeignKey, RoleComposedKey, RolePolymorphic:
			out = append(out, f)
		}
	}
	return out
}

// DetachedFields returns the detached binary fields in declaration order.
// The position in this slice is the field index used in archive file names.
func (t *Type) DetachedFields() []Field {
	var out []Field
	for _, f := range t.AllFields() {
		if f.Role == RoleDetached {
			out = append(out, f)
		}
	}
	return out
}

// HasDetached reports whether the type has at least one detached field.
func (t *Type) HasDetached() bool { return len(t.DetachedFields()) > 0 }

// BaseFields are the foreign keys every entity inherits from model.Base.
var BaseFields = []Field{
	{Name: "domainId", Role: RoleForeignKey, Target: model.TypeDomain,
		Ref: func(e model.Entity) *int32 { return &e.Meta().DomainID }},
	{Name: "creatorId", Role: RoleForeignKey, Target: model.TypeUser,
		Ref: func(e model.Entity) *int32 { return &e.Meta().CreatorID }},
	{Name: "modifierId", Role: RoleForeignKey, Target: model.TypeUser,
		Ref: func(e model.Entity) *int32 { return &e.Meta().ModifierID }},
}

// ForeignKey declares an int32 foreign key field on T.
func ForeignKey[T model.Entity](name, target string, ptr func(T) *int32) Field {
	return Field{Name: name, Role: RoleForeignKey, Target: target,
		Ref: func(e model.Entity) *int32 { return ptr(e.(T)) }}
}

// ComposedKey declares an int64 composed-ID field on T.
func ComposedKey[T model.Entity](name string, ptr func(T) *int64) Field {
	return Field{Name: name, Role: RoleComposedKey,
		Key: func(e model.Entity) *int64 { return ptr(e.(T)) }}
}

// Polymorphic declares a model.Reference field on T.
func Polymorphic[T model.Entity](name string, ptr func(T) *model.Reference) Field {
	return Field{Name: name, Role: RolePolymorphic,
		Poly: func(e model.Entity) *model.Reference { return ptr(e.(T)) }}
}

// Detached declares a []byte field on T that is stored out of line.
func Detached[T model.Entity](name string, ptr func(T) *[]byte) Field {
	return Field{Name: name, Role: RoleDetached,
		Blob: func(e model.Entity) *[]byte { return ptr(e.(T)) }}
}

// Registry is an immutable, ordered set of entity types.
type Registry struct {
	types  []*Type
	byName map[string]*Type
	byTag  map[uint32]*Type
}

// New validates the descriptors and builds a registry. Names and tags must be
// unique, tags non-zero, and every static foreign key target registered.
func New(types ...*Type) (*Registry, error) {
	r := &Registry{
		types:  make([]*Type, 0, len(types)),
		byName: make(map[string]*Type, len(types)),
		byTag:  make(map[uint32]*Type, len(types)),
	}
	for _, t := range types {
		if t.Name == "" {
			return nil, fmt.Errorf("registry: type without name")
		}
		if t.Tag == 0 {
			return nil, fmt.Errorf("registry: type %s has no tag", t.Name)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate type name %s", t.Name)
		}
		if other, dup := r.byTag[t.Tag]; dup {
			return nil, fmt.Errorf("registry: tag %d used by %s and %s", t.Tag, other.Name, t.Name)
		}
		if !t.Abstract && t.New == nil {
			return nil, fmt.Errorf("registry: concrete type %s has no constructor", t.Name)
		}
		r.types = append(r.types, t)
		r.byName[t.Name] = t
		r.byTag[t.Tag] = t
	}
	for _, t := range r.types {
		for _, f := range t.References() {
			if f.Role != RoleForeignKey {
				continue
			}
			if _, ok := r.byName[f.Target]; !ok {
				return nil, fmt.Errorf("registry: %s.%s points at unknown type %s", t.Name, f.Name, f.Target)
			}
		}
	}
	return r, nil
}

// MustNew is like New but panics on invalid descriptors.
func MustNew(types ...*Type) *Registry {
	r, err := New(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []*Type {
	out := make([]*Type, len(r.types))
	copy(out, r.types)
	return out
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// ByTag returns the type registered under tag.
func (r *Registry) ByTag(tag uint32) (*Type, bool) {
	t, ok := r.byTag[tag]
	return t, ok
}

// TypeOf returns the descriptor of e, or nil when e's type is not registered.
func (r *Registry) TypeOf(e model.Entity) *Type {
	return r.byName[e.TypeName()]
}

// NewEntity allocates an empty entity of the named type.
func (r *Registry) NewEntity(name string) (model.Entity, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown type %s", name)
	}
	if t.Abstract {
		return nil, fmt.Errorf("registry: type %s is abstract", name)
	}
	return t.New(), nil
}
