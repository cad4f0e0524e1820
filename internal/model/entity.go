// Package model defines the CMDB entities persisted by TreeDB.
//
// Every entity embeds Base, which carries the database row ID (unique within
// one storage instance) and the historization ID (the logical identity that
// survives export and import). Foreign keys between entities always hold the
// historization ID of the target.
package model

import (
	"fmt"
	"time"
)

// Status is the historization status of a row.
type Status int8

const (
	StatusActive Status = iota
	StatusSoftDeleted
	StatusHistoric
	// StatusVirtual marks users that were imported from an anonymized domain backup.
	StatusVirtual
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSoftDeleted:
		return "soft-deleted"
	case StatusHistoric:
		return "historic"
	case StatusVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("status(%d)", int8(s))
	}
}

// Entity is implemented by every persisted struct.
type Entity interface {
	TypeName() string
	Meta() *Base
}

// Base holds the columns shared by all entities.
type Base struct {
	ID         int64     `json:"id" xml:"id"`
	HistID     int32     `json:"histId" xml:"histId"`
	DomainID   int32     `json:"domainId" xml:"domainId"`
	Status     Status    `json:"status" xml:"status"`
	CreatorID  int32     `json:"creatorId" xml:"creatorId"`
	ModifierID int32     `json:"modifierId" xml:"modifierId"`
	Created    time.Time `json:"created" xml:"created"`
	Modified   time.Time `json:"modified" xml:"modified"`
}

// Meta returns the shared columns of an entity.
func (b *Base) Meta() *Base { return b }

// IsActive reports whether the row is the current, non-deleted version.
func (b *Base) IsActive() bool { return b.Status == StatusActive }

type assigner interface {
	assigned()
}

// Assign records a freshly allocated row ID on e. A zero historization ID is
// initialised to the row ID, which makes the first version of an entity the
// anchor of its history.
func Assign(e Entity, id int64) {
	m := e.Meta()
	m.ID = id
	if m.HistID == 0 {
		m.HistID = int32(id)
	}
	if a, ok := e.(assigner); ok {
		a.assigned()
	}
}
