package backup

// Session holds the ID remap tables of one import run. It is created by
// FullRestore and handed back in the Result; nothing is shared between runs.
type Session struct {
	oldToNew map[string]map[int64]int64
	newToOld map[string]map[int64]int64
	hist     map[string]map[int32]int32
	span     map[string][2]int64 // first and last new row ID per type
}

// NewSession returns empty remap tables.
func NewSession() *Session {
	return &Session{
		oldToNew: map[string]map[int64]int64{},
		newToOld: map[string]map[int64]int64{},
		hist:     map[string]map[int32]int32{},
		span:     map[string][2]int64{},
	}
}

// mapRow records that old row ID became newID. The reverse entry is only
// kept when reverse is set: types with detached fields or file content need it
// to find their archive entries again.
func (s *Session) mapRow(typ string, old, newID int64, reverse bool) {
	m := s.oldToNew[typ]
	if m == nil {
		m = map[int64]int64{}
		s.oldToNew[typ] = m
	}
	m[old] = newID
	if reverse {
		r := s.newToOld[typ]
		if r == nil {
			r = map[int64]int64{}
			s.newToOld[typ] = r
		}
		r[newID] = old
	}
	sp, ok := s.span[typ]
	if !ok {
		sp[0] = newID
	}
	sp[1] = newID
	s.span[typ] = sp
}

// mapHist records the new row ID that anchors old historization ID oldHist.
// Only the first version seen for a historization ID counts.
func (s *Session) mapHist(typ string, oldHist int32, newID int64) {
	m := s.hist[typ]
	if m == nil {
		m = map[int32]int32{}
		s.hist[typ] = m
	}
	if _, ok := m[oldHist]; !ok {
		m[oldHist] = int32(newID)
	}
}

// NewID returns the new row ID of an old row.
func (s *Session) NewID(typ string, old int64) (int64, bool) {
	v, ok := s.oldToNew[typ][old]
	return v, ok
}

// OldID returns the archived row ID of a new row. Only types with detached
// fields or file content are tracked.
func (s *Session) OldID(typ string, newID int64) (int64, bool) {
	v, ok := s.newToOld[typ][newID]
	return v, ok
}

// Hist returns the new historization ID of an old one.
func (s *Session) Hist(typ string, oldHist int32) (int32, bool) {
	v, ok := s.hist[typ][oldHist]
	return v, ok
}

// Rows returns the number of rows inserted for typ.
func (s *Session) Rows(typ string) int { return len(s.oldToNew[typ]) }

// inserted reports whether id is one of the rows this run inserted for typ.
func (s *Session) inserted(typ string, id int64) bool {
	sp, ok := s.span[typ]
	return ok && id >= sp[0] && id <= sp[1]
}

func (s *Session) firstID(typ string) (int64, bool) {
	sp, ok := s.span[typ]
	return sp[0], ok
}
