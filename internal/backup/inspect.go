package backup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/tdef"
)

// TypeStat describes the entries of one type in an archive.
type TypeStat struct {
	Name     string `json:"name"`
	Tag      uint32 `json:"tag"`
	Expected int64  `json:"expected"`          // manifest count
	Found    int64  `json:"found"`             // records decoded, Verify only
	Batches  int    `json:"batches"`           // numbered batch entries
	Files    int    `json:"files"`             // _files entries carrying the type's tag
	Bytes    int64  `json:"bytes"`             // their uncompressed size
	Problem  string `json:"problem,omitempty"` // Verify only
}

// Inventory is the content of an archive grouped by type.
type Inventory struct {
	Manifest *tdef.Manifest `json:"manifest"`
	Types    []TypeStat     `json:"types"`
	Files    int            `json:"files"`
	Bytes    int64          `json:"bytes"`
	Orphans  []string       `json:"orphans,omitempty"` // entries matching no manifest type
}

// Inspect reads the manifest and lists the entries of ar without decoding
// records.
func Inspect(ar *tdef.Reader) (*Inventory, error) {
	m, err := tdef.ReadManifest(ar)
	if err != nil {
		return nil, err
	}
	counts, err := m.CountMap()
	if err != nil {
		return nil, err
	}
	tags, err := m.TagMap()
	if err != nil {
		return nil, err
	}
	inv := &Inventory{Manifest: m}
	idx := map[string]int{}
	byTag := map[uint32]int{}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if tags[names[i]] != tags[names[j]] {
			return tags[names[i]] < tags[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		idx[name] = len(inv.Types)
		if tag, ok := tags[name]; ok {
			byTag[tag] = len(inv.Types)
		}
		inv.Types = append(inv.Types, TypeStat{Name: name, Tag: tags[name], Expected: counts[name]})
	}
	for _, name := range ar.List(tdef.Root) {
		if strings.HasPrefix(name, tdef.FilesDir) {
			tag, _, _, err := tdef.ParseFilePath(name)
			size := ar.Size(name)
			inv.Files++
			inv.Bytes += size
			if i, ok := byTag[tag]; ok && err == nil {
				inv.Types[i].Files++
				inv.Types[i].Bytes += size
			} else {
				inv.Orphans = append(inv.Orphans, name)
			}
			continue
		}
		typ, _, ok := tdef.ParseBatchPath(name)
		if i, known := idx[typ]; ok && known {
			inv.Types[i].Batches++
			continue
		}
		inv.Orphans = append(inv.Orphans, name)
	}
	return inv, nil
}

// Verify is Inspect plus decoding every batch: record counts must match the
// manifest, batches must be numbered without gaps, and every detached or
// file entry must belong to an exported record.
func Verify(ar *tdef.Reader, reg *registry.Registry) (*Inventory, error) {
	inv, err := Inspect(ar)
	if err != nil {
		return nil, err
	}
	codec, err := tdef.CodecFor(inv.Manifest.Serialization)
	if err != nil {
		return nil, err
	}
	rows := map[uint32]map[int64]bool{}
	for i := range inv.Types {
		st := &inv.Types[i]
		t, ok := reg.Lookup(st.Name)
		if !ok {
			st.Problem = "type not registered"
			continue
		}
		seen := map[int64]bool{}
		for n := 0; n < st.Batches; n++ {
			name := tdef.BatchPath(st.Name, n)
			if !ar.Has(name) {
				st.Problem = fmt.Sprintf("batch %d missing", n)
				break
			}
			data, err := ar.ReadAll(name)
			if err != nil {
				return nil, err
			}
			batch, err := codec.Decode(data, st.Name, reg.NewEntity)
			if err != nil {
				st.Problem = err.Error()
				break
			}
			for _, e := range batch {
				seen[e.Meta().ID] = true
			}
			st.Found += int64(len(batch))
		}
		rows[t.Tag] = seen
		if st.Problem == "" && st.Found != st.Expected {
			st.Problem = fmt.Sprintf("manifest says %d records, batches hold %d", st.Expected, st.Found)
		}
	}
	for _, name := range ar.List(tdef.FilesDir) {
		tag, id, _, err := tdef.ParseFilePath(name)
		if err != nil || !rows[tag][id] {
			inv.Orphans = appendOnce(inv.Orphans, name)
		}
	}
	return inv, nil
}

// OK reports whether verification found no problem.
func (inv *Inventory) OK() bool {
	if len(inv.Orphans) > 0 {
		return false
	}
	for _, t := range inv.Types {
		if t.Problem != "" {
			return false
		}
	}
	return true
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
