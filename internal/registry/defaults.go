package registry

import "github.com/pezi/treedb/internal/model"

// Stable type tags. A tag, once released, is never reused for another type.
const (
	TagDBInfo     uint32 = 1
	TagDomain     uint32 = 2
	TagUser       uint32 = 3
	TagCIType     uint32 = 4
	TagCI         uint32 = 5
	TagUIElement  uint32 = 6
	TagUIForm     uint32 = 7
	TagUIField    uint32 = 8
	TagPermission uint32 = 9
	TagAttachment uint32 = 10
	TagDBFile     uint32 = 11
	TagDBFSBlock  uint32 = 12
)

// DefaultTypes returns the descriptors of the built-in CMDB entities.
func DefaultTypes() []*Type {
	uiElement := &Type{
		Name: model.TypeUIElement, Tag: TagUIElement, Abstract: true, DomainScoped: true,
		Fields: []Field{
			ForeignKey("formId", model.TypeUIForm, func(e model.FormElement) *int32 { return &e.Element().FormID }),
		},
	}
	return []*Type{
		{Name: model.TypeDBInfo, Tag: TagDBInfo,
			New: func() model.Entity { return &model.DBInfo{} }},
		{Name: model.TypeDomain, Tag: TagDomain, DomainScoped: true,
			New: func() model.Entity { return &model.Domain{} }},
		{Name: model.TypeUser, Tag: TagUser,
			New: func() model.Entity { return &model.User{} }},
		{Name: model.TypeCIType, Tag: TagCIType, DomainScoped: true, CollectUserRefs: true,
			Fields: []Field{
				ForeignKey("parentTypeId", model.TypeCIType, func(e *model.CIType) *int32 { return &e.ParentTypeID }),
			},
			New: func() model.Entity { return &model.CIType{} }},
		{Name: model.TypeCI, Tag: TagCI, DomainScoped: true, CollectUserRefs: true,
			Fields: []Field{
				ForeignKey("typeId", model.TypeCIType, func(e *model.CI) *int32 { return &e.TypeID }),
				ForeignKey("parentId", model.TypeCI, func(e *model.CI) *int32 { return &e.ParentID }),
				Detached("icon", func(e *model.CI) *[]byte { return &e.Icon }),
			},
			New: func() model.Entity { return &model.CI{} }},
		uiElement,
		{Name: model.TypeUIForm, Tag: TagUIForm, Parent: uiElement, DomainScoped: true, CollectUserRefs: true,
			Fields: []Field{
				ForeignKey("ciTypeId", model.TypeCIType, func(e *model.UIForm) *int32 { return &e.CITypeID }),
			},
			New: func() model.Entity { return &model.UIForm{} }},
		{Name: model.TypeUIField, Tag: TagUIField, Parent: uiElement, DomainScoped: true, CollectUserRefs: true,
			Fields: []Field{
				ComposedKey("bindingKey", func(e *model.UIField) *int64 { return &e.BindingKey }),
			},
			New: func() model.Entity { return &model.UIField{} }},
		{Name: model.TypePermission, Tag: TagPermission, DomainScoped: true, CollectUserRefs: true,
			Fields: []Field{
				ForeignKey("userId", model.TypeUser, func(e *model.Permission) *int32 { return &e.UserID }),
				Polymorphic("target", func(e *model.Permission) *model.Reference { return &e.Target }),
			},
			New: func() model.Entity { return &model.Permission{} }},
		{Name: model.TypeAttachment, Tag: TagAttachment, DomainScoped: true, StreamIndividually: true, CollectUserRefs: true,
			Fields: []Field{
				ForeignKey("ciId", model.TypeCI, func(e *model.Attachment) *int32 { return &e.CIID }),
				Detached("data", func(e *model.Attachment) *[]byte { return &e.Data }),
			},
			New: func() model.Entity { return &model.Attachment{} }},
		{Name: model.TypeDBFile, Tag: TagDBFile, DomainScoped: true, VirtualFile: true, CollectUserRefs: true,
			Fields: []Field{
				ComposedKey("ownerKey", func(e *model.DBFile) *int64 { return &e.OwnerKey }),
			},
			New: func() model.Entity { return &model.DBFile{} }},
		{Name: model.TypeDBFSBlock, Tag: TagDBFSBlock, Infrastructure: true,
			New: func() model.Entity { return &model.DBFSBlock{} }},
	}
}

// Default returns a registry holding DefaultTypes.
func Default() *Registry {
	return MustNew(DefaultTypes()...)
}
