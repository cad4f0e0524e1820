package tdef

import (
	"context"
	"encoding/xml"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/pezi/treedb/internal/model"
)

// SchemaVersion is written into every manifest and checked on import.
const SchemaVersion = "3.1"

// Kind distinguishes full from domain backups.
type Kind string

const (
	KindFull   Kind = "FULL"
	KindDomain Kind = "DOMAIN"
)

// Manifest is the content of dbinfo.xml. It is always XML, whatever the
// record serialization.
type Manifest struct {
	XMLName          xml.Name              `xml:"dbinfo"`
	SchemaVersion    string                `xml:"schemaVersion"`
	ExportID         string                `xml:"exportId"`
	Kind             Kind                  `xml:"kind"`
	Serialization    Serialization         `xml:"serialization"`
	Compression      Method                `xml:"compression"`
	PersistenceLayer string                `xml:"persistenceLayer"`
	Implementation   string                `xml:"implementation"`
	Database         string                `xml:"database"`
	Hostname         string                `xml:"hostname"`
	OS               string                `xml:"os"`
	Platform         string                `xml:"platform,omitempty"`
	Start            int64                 `xml:"start"`
	End              int64                 `xml:"end"`
	FetchSize        int                   `xml:"fetchSize"`
	ActiveOnly       bool                  `xml:"activeOnly"`
	ModifiedSince    int64                 `xml:"modifiedSince,omitempty"` // epoch ms, set on incremental archives
	DomainID         int32                 `xml:"domainId,omitempty"`
	Descriptions     []model.LocalizedText `xml:"description,omitempty"`
	Counts           []string              `xml:"counts>entity"`
	Tags             []string              `xml:"tags>type"`
}

// NewManifest returns a manifest stamped with a fresh export ID, the start
// time and the local host description.
func NewManifest(ctx context.Context, kind Kind, ser Serialization) *Manifest {
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		ExportID:      ulid.Make().String(),
		Kind:          kind,
		Serialization: ser,
		Start:         time.Now().UnixMilli(),
		OS:            runtime.GOOS,
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		m.Hostname = info.Hostname
		m.OS = info.OS
		m.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	}
	return m
}

// SetCount records the number of exported records of typ.
func (m *Manifest) SetCount(typ string, n int64) {
	entry := typ + ":" + strconv.FormatInt(n, 10)
	for i, c := range m.Counts {
		if name, _, _ := strings.Cut(c, ":"); name == typ {
			m.Counts[i] = entry
			return
		}
	}
	m.Counts = append(m.Counts, entry)
}

// CountMap parses the per-type counts.
func (m *Manifest) CountMap() (map[string]int64, error) {
	out := make(map[string]int64, len(m.Counts))
	for _, c := range m.Counts {
		name, v, ok := strings.Cut(c, ":")
		if !ok {
			return nil, fmt.Errorf("tdef: malformed count %q", c)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tdef: malformed count %q: %w", c, err)
		}
		out[name] = n
	}
	return out, nil
}

// SetTag records the tag typ had at export time.
func (m *Manifest) SetTag(typ string, tag uint32) {
	m.Tags = append(m.Tags, typ+":"+strconv.FormatUint(uint64(tag), 10))
	sort.Strings(m.Tags)
}

// TagMap parses the type tag table.
func (m *Manifest) TagMap() (map[string]uint32, error) {
	out := make(map[string]uint32, len(m.Tags))
	for _, t := range m.Tags {
		name, v, ok := strings.Cut(t, ":")
		if !ok {
			return nil, fmt.Errorf("tdef: malformed tag %q", t)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("tdef: malformed tag %q: %w", t, err)
		}
		out[name] = uint32(n)
	}
	return out, nil
}

// Started returns the start time.
func (m *Manifest) Started() time.Time { return time.UnixMilli(m.Start) }

// Ended returns the end time.
func (m *Manifest) Ended() time.Time { return time.UnixMilli(m.End) }

// Incremental reports whether only rows modified after a point in time were
// exported. Such archives may reference rows they do not contain.
func (m *Manifest) Incremental() bool { return m.ModifiedSince != 0 }

// Since returns the modification cutoff of an incremental archive.
func (m *Manifest) Since() time.Time { return time.UnixMilli(m.ModifiedSince) }

// Finish stamps the end time.
func (m *Manifest) Finish() { m.End = time.Now().UnixMilli() }

// WriteManifest stores m as dbinfo.xml.
func WriteManifest(w *Writer, m *Manifest) error {
	data, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("tdef: encode manifest: %w", err)
	}
	return w.Put(ManifestName, append([]byte(xml.Header), data...), Deflate)
}

// ReadManifest loads dbinfo.xml from r.
func ReadManifest(r *Reader) (*Manifest, error) {
	if !r.Has(ManifestName) {
		return nil, ErrMissingManifest
	}
	data, err := r.ReadAll(ManifestName)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tdef: decode manifest: %w", err)
	}
	return &m, nil
}
