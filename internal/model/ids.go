package model

// ComposeID packs a type tag and a historization ID into one 64-bit key:
// (tag << 32) | uint32(id).
func ComposeID(tag uint32, id int32) int64 {
	return int64(uint64(tag)<<32 | uint64(uint32(id)))
}

// SplitID is the inverse of ComposeID.
func SplitID(key int64) (tag uint32, id int32) {
	return uint32(uint64(key) >> 32), int32(uint32(uint64(key)))
}

// Reference is a polymorphic foreign key. The discriminator (the target's type
// tag) travels inline with the target's historization ID.
type Reference struct {
	TargetType uint32 `json:"targetType" xml:"targetType,attr"`
	TargetID   int32  `json:"targetId" xml:"targetId,attr"`
}

// IsZero reports whether the reference points nowhere.
func (r Reference) IsZero() bool { return r.TargetType == 0 && r.TargetID == 0 }
