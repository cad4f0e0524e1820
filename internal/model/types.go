package model

import "time"

// Type names used by the registry and in archive paths.
const (
	TypeDBInfo     = "DBInfo"
	TypeDomain     = "Domain"
	TypeUser       = "User"
	TypeCIType     = "CIType"
	TypeCI         = "CI"
	TypeUIElement  = "UIElement"
	TypeUIForm     = "UIForm"
	TypeUIField    = "UIField"
	TypePermission = "Permission"
	TypeAttachment = "Attachment"
	TypeDBFile     = "DBFile"
	TypeDBFSBlock  = "DBFSBlock"
)

// DBInfo is the single global row describing the installation.
type DBInfo struct {
	Base
	SchemaVersion string    `json:"schemaVersion" xml:"schemaVersion"`
	InstalledAt   time.Time `json:"installedAt" xml:"installedAt"`
	Note          string    `json:"note,omitempty" xml:"note,omitempty"`
}

func (*DBInfo) TypeName() string { return TypeDBInfo }

// LocalizedText is a text in one language.
type LocalizedText struct {
	Lang string `json:"lang" xml:"lang,attr"`
	Text string `json:"text" xml:",chardata"`
}

// Domain is an isolated partition of the entity graph. A domain belongs to
// itself: its DomainID equals its own historization ID.
type Domain struct {
	Base
	Name         string          `json:"name" xml:"name"`
	Descriptions []LocalizedText `json:"descriptions,omitempty" xml:"description,omitempty"`
}

func (*Domain) TypeName() string { return TypeDomain }

func (d *Domain) assigned() {
	if d.DomainID == 0 {
		d.DomainID = d.HistID
	}
}

// User is an account. Users are global and not bound to a domain.
type User struct {
	Base
	Login        string `json:"login" xml:"login"`
	FirstName    string `json:"firstName" xml:"firstName"`
	LastName     string `json:"lastName" xml:"lastName"`
	DisplayName  string `json:"displayName" xml:"displayName"`
	Email        string `json:"email" xml:"email"`
	Phone        string `json:"phone,omitempty" xml:"phone,omitempty"`
	Mobile       string `json:"mobile,omitempty" xml:"mobile,omitempty"`
	ExternalID   string `json:"externalId,omitempty" xml:"externalId,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty" xml:"passwordHash,omitempty"`
}

func (*User) TypeName() string { return TypeUser }

// Clone returns a shallow copy of u.
func (u *User) Clone() *User {
	c := *u
	return &c
}

// CIType classifies CIs. Types form a tree through ParentTypeID.
type CIType struct {
	Base
	Name         string `json:"name" xml:"name"`
	ParentTypeID int32  `json:"parentTypeId" xml:"parentTypeId"`
	Description  string `json:"description,omitempty" xml:"description,omitempty"`
}

func (*CIType) TypeName() string { return TypeCIType }

// Attribute is a free-form key/value pair on a CI.
type Attribute struct {
	Key   string `json:"key" xml:"key,attr"`
	Value string `json:"value" xml:",chardata"`
}

// CI is a configuration item.
type CI struct {
	Base
	Name       string      `json:"name" xml:"name"`
	TypeID     int32       `json:"typeId" xml:"typeId"`
	ParentID   int32       `json:"parentId" xml:"parentId"`
	Attributes []Attribute `json:"attributes,omitempty" xml:"attribute,omitempty"`
	Icon       []byte      `json:"icon,omitempty" xml:"icon,omitempty"`
}

func (*CI) TypeName() string { return TypeCI }

// UIElement holds the columns shared by form elements. It is never stored on
// its own.
type UIElement struct {
	Base
	Label    string `json:"label" xml:"label"`
	FormID   int32  `json:"formId" xml:"formId"`
	Position int    `json:"position" xml:"position"`
}

func (*UIElement) TypeName() string { return TypeUIElement }

// Element returns the shared form element columns.
func (u *UIElement) Element() *UIElement { return u }

// FormElement is implemented by UIElement and every type embedding it.
type FormElement interface {
	Entity
	Element() *UIElement
}

// UIForm is a form bound to a CI type. Forms may nest through FormID.
type UIForm struct {
	UIElement
	CITypeID int32  `json:"ciTypeId" xml:"ciTypeId"`
	Title    string `json:"title" xml:"title"`
}

func (*UIForm) TypeName() string { return TypeUIForm }

// UIField is an input on a form. BindingKey is a composed ID naming the
// entity the field edits.
type UIField struct {
	UIElement
	BindingKey int64  `json:"bindingKey" xml:"bindingKey"`
	Widget     string `json:"widget" xml:"widget"`
}

func (*UIField) TypeName() string { return TypeUIField }

// Permission grants a user rights on an arbitrary entity.
type Permission struct {
	Base
	UserID int32     `json:"userId" xml:"userId"`
	Target Reference `json:"target" xml:"target"`
	Rights string    `json:"rights" xml:"rights"`
}

func (*Permission) TypeName() string { return TypePermission }

// Attachment is a large binary document attached to a CI.
type Attachment struct {
	Base
	CIID     int32  `json:"ciId" xml:"ciId"`
	Name     string `json:"name" xml:"name"`
	MimeType string `json:"mimeType,omitempty" xml:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty" xml:"data,omitempty"`
}

func (*Attachment) TypeName() string { return TypeAttachment }

// DBFile is a virtual file whose content lives in DBFSBlock rows keyed by the
// file's historization ID. OwnerKey is the composed ID of the owning entity;
// Path may embed composed IDs as decimal segments.
type DBFile struct {
	Base
	OwnerKey int64  `json:"ownerKey" xml:"ownerKey"`
	Path     string `json:"path" xml:"path"`
	Name     string `json:"name" xml:"name"`
	MimeType string `json:"mimeType,omitempty" xml:"mimeType,omitempty"`
	Size     int64  `json:"size" xml:"size"`
	CRC32    uint32 `json:"crc32" xml:"crc32"`
}

func (*DBFile) TypeName() string { return TypeDBFile }

// BlockOwner returns the owner half of the file's block keys.
func (f *DBFile) BlockOwner() uint32 { return uint32(f.HistID) }

// FileSize returns the declared content size.
func (f *DBFile) FileSize() int64 { return f.Size }

// PathRef exposes Path for rewriting during import.
func (f *DBFile) PathRef() *string { return &f.Path }

// FileCRC returns the declared content checksum.
func (f *DBFile) FileCRC() uint32 { return f.CRC32 }

// SetContent records the size and checksum of the content.
func (f *DBFile) SetContent(size int64, crc uint32) {
	f.Size = size
	f.CRC32 = crc
}

// DBFSBlock is one stored block of a virtual file.
type DBFSBlock struct {
	Base
	Key  int64  `json:"key" xml:"key"`
	Data []byte `json:"data,omitempty" xml:"data,omitempty"`
}

func (*DBFSBlock) TypeName() string { return TypeDBFSBlock }
