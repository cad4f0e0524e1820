package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	dbutil "github.com/pezi/treedb/internal/dao/dbutil"
	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/depgraph"
	"github.com/pezi/treedb/internal/logging"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/tdef"
)

// Importer restores TDEF archives into a store.
type Importer struct {
	reg   *registry.Registry
	store store.Store
	order []*registry.Type
	opt   RestoreOptions
	log   *logrus.Entry
}

// NewImporter returns an importer into st for the types in reg.
func NewImporter(reg *registry.Registry, st store.Store, opt RestoreOptions) *Importer {
	if opt.FetchSize <= 0 {
		opt.FetchSize = store.DefaultPageSize
	}
	return &Importer{
		reg:   reg,
		store: st,
		order: depgraph.Analyze(reg).Order(),
		opt:   opt,
		log:   logging.For("restore"),
	}
}

// Result summarizes a restore.
type Result struct {
	Manifest *tdef.Manifest
	Records  map[string]int64 // inserted rows per type
	Purged   map[string]int64 // rows deleted per type, with RestoreOptions.Purge
	Files    int              // detached payloads and file contents restored
	Bytes    int64            // their total size
	Session  *Session
}

// importRun is the state of one restore call.
type importRun struct {
	*Importer
	ar     *tdef.Reader
	m      *tdef.Manifest
	codec  tdef.Codec
	domain bool
	s      *Session
	res    *Result
	files  map[string]versions // content holders per virtual file type, by archived IDs
	log    *logrus.Entry
}

// FullRestore inserts every record of the archive at path with new row IDs
// and rewrites all references to match. A failed restore leaves the target
// in an undefined state.
func (im *Importer) FullRestore(ctx context.Context, path string) (*Result, error) {
	ar, err := tdef.Open(path)
	if err != nil {
		return nil, dbutil.ErrWrap("restore.open_archive", err, dbutil.ParamSummary("path", path))
	}
	defer ar.Close()
	return im.Restore(ctx, ar)
}

// Restore is FullRestore on an open archive.
func (im *Importer) Restore(ctx context.Context, ar *tdef.Reader) (*Result, error) {
	m, err := tdef.ReadManifest(ar)
	if err != nil {
		return nil, err
	}
	if !compatible(m.SchemaVersion) {
		return nil, fmt.Errorf("%w: archive %q, supported %q", ErrSchemaVersion, m.SchemaVersion, tdef.SchemaVersion)
	}
	codec, err := tdef.CodecFor(m.Serialization)
	if err != nil {
		return nil, err
	}
	if err := im.checkTypes(m); err != nil {
		return nil, err
	}
	s := NewSession()
	r := &importRun{
		Importer: im,
		ar:       ar,
		m:        m,
		codec:    codec,
		domain:   m.Kind == tdef.KindDomain,
		s:        s,
		res:      &Result{Manifest: m, Records: map[string]int64{}, Purged: map[string]int64{}, Session: s},
		files:    map[string]versions{},
		log:      im.log.WithFields(logrus.Fields{"export_id": m.ExportID, "kind": m.Kind}),
	}
	start := time.Now()
	if im.opt.Purge {
		if err := r.purge(ctx); err != nil {
			return nil, err
		}
	}
	counts, err := m.CountMap()
	if err != nil {
		return nil, err
	}
	for _, t := range im.order {
		want, ok := counts[t.Name]
		if !ok {
			continue
		}
		if err := r.insertType(ctx, t, want); err != nil {
			return nil, dbutil.ErrWrap("restore.insert", err, dbutil.ParamSummary("type", t.Name))
		}
	}
	for _, t := range im.order {
		if _, ok := s.firstID(t.Name); !ok {
			continue
		}
		if err := r.fixType(ctx, t); err != nil {
			return nil, dbutil.ErrWrap("restore.fixup", err, dbutil.ParamSummary("type", t.Name))
		}
	}
	r.log.WithFields(logrus.Fields{
		"files": r.res.Files,
		"size":  humanize.Bytes(uint64(r.res.Bytes)),
		"took":  time.Since(start),
	}).Info("restore finished")
	return r.res, nil
}

// checkTypes rejects archives whose types are unknown here or whose tags
// differ from the registry's: composed keys would decode to the wrong type.
func (im *Importer) checkTypes(m *tdef.Manifest) error {
	tags, err := m.TagMap()
	if err != nil {
		return err
	}
	counts, err := m.CountMap()
	if err != nil {
		return err
	}
	for name, n := range counts {
		t, ok := im.reg.Lookup(name)
		if !ok {
			if n > 0 {
				return consistencyf("archive holds %d records of unknown type %s", n, name)
			}
			continue
		}
		if t.Abstract || t.Infrastructure {
			return consistencyf("archive holds records of non-exportable type %s", name)
		}
		if tag, ok := tags[name]; ok && tag != t.Tag {
			return consistencyf("type %s has tag %d in the archive and %d here", name, tag, t.Tag)
		}
	}
	return nil
}

func (r *importRun) purge(ctx context.Context) error {
	for i := len(r.order) - 1; i >= 0; i-- {
		t := r.order[i]
		if t.Abstract {
			continue
		}
		err := store.InTx(ctx, r.store, func(tx store.Tx) error {
			n, err := tx.DeleteAll(ctx, t.Name)
			r.res.Purged[t.Name] = n
			return err
		})
		if err != nil {
			return dbutil.ErrWrap("restore.purge", err, dbutil.ParamSummary("type", t.Name))
		}
	}
	r.log.WithField("types", len(r.res.Purged)).Info("target purged")
	return nil
}

// insertType is pass one: every record is inserted in its own transaction
// with placeholders for detached payloads and its old references untouched.
func (r *importRun) insertType(ctx context.Context, t *registry.Type, want int64) error {
	detached := t.DetachedFields()
	reverse := len(detached) > 0 || t.VirtualFile
	if t.VirtualFile {
		r.files[t.Name] = versions{}
	}
	start := time.Now()
	var got int64
	for n := 0; ; n++ {
		name := tdef.BatchPath(t.Name, n)
		if !r.ar.Has(name) {
			break
		}
		data, err := r.ar.ReadAll(name)
		if err != nil {
			return err
		}
		batch, err := r.codec.Decode(data, t.Name, r.reg.NewEntity)
		if err != nil {
			return err
		}
		for _, e := range batch {
			meta := e.Meta()
			oldID, oldHist := meta.ID, meta.HistID
			for _, f := range detached {
				*f.Blob(e) = []byte{}
			}
			if t.VirtualFile {
				r.files[t.Name].add(meta)
			}
			err := store.InTx(ctx, r.store, func(tx store.Tx) error {
				if err := tx.Save(ctx, e); err != nil {
					return err
				}
				if t.StreamIndividually {
					tx.Release(e)
				}
				return nil
			})
			if err != nil {
				return dbutil.ErrWrap("restore.save", err, dbutil.ParamSummary("old_id", oldID))
			}
			r.s.mapRow(t.Name, oldID, meta.ID, reverse)
			r.s.mapHist(t.Name, oldHist, meta.ID)
			got++
		}
	}
	if got != want {
		return fmt.Errorf("%w: %s has %d records in batches, manifest says %d", tdef.ErrMissingEntry, t.Name, got, want)
	}
	r.res.Records[t.Name] = got
	r.log.WithFields(logrus.Fields{"type": t.Name, "records": got, "took": time.Since(start)}).Info("type inserted")
	return nil
}

// fixType is pass two: the type's new rows are paged through in one
// transaction, references and historization IDs remapped, payloads
// re-attached and file content re-streamed.
func (r *importRun) fixType(ctx context.Context, t *registry.Type) error {
	first, _ := r.s.firstID(t.Name)
	start := time.Now()
	return store.InTx(ctx, r.store, func(tx store.Tx) error {
		q := store.Query{Type: t.Name, AfterID: first - 1, Limit: r.opt.FetchSize}
		err := store.Each(ctx, tx, q, func(page []model.Entity) error {
			for _, e := range page {
				if !r.s.inserted(t.Name, e.Meta().ID) {
					continue
				}
				if err := r.fixRecord(ctx, tx, t, e); err != nil {
					return dbutil.ErrWrap("restore.fix_record", err, dbutil.ParamSummary("id", e.Meta().ID))
				}
			}
			return nil
		})
		if err == nil {
			r.log.WithFields(logrus.Fields{"type": t.Name, "took": time.Since(start)}).Debug("type fixed up")
		}
		return err
	})
}

func (r *importRun) fixRecord(ctx context.Context, tx store.Tx, t *registry.Type, e model.Entity) error {
	meta := e.Meta()
	oldHist := meta.HistID
	hist, ok := r.s.Hist(t.Name, oldHist)
	if !ok {
		return consistencyf("%s %d: historization ID %d was never inserted", t.Name, meta.ID, meta.HistID)
	}
	if err := r.remap(t, e); err != nil {
		return err
	}
	meta.HistID = hist

	var oldID int64
	if t.HasDetached() || t.VirtualFile {
		if oldID, ok = r.s.OldID(t.Name, meta.ID); !ok {
			return consistencyf("%s %d has no archived row ID", t.Name, meta.ID)
		}
	}
	if err := r.reattach(t, e, oldID); err != nil {
		return err
	}
	if t.VirtualFile {
		if err := r.restream(ctx, tx, t, e, oldID, oldHist); err != nil {
			return err
		}
	} else if err := tx.Update(ctx, e); err != nil {
		return err
	}
	if t.StreamIndividually {
		tx.Release(e)
		for _, f := range t.DetachedFields() {
			*f.Blob(e) = nil
		}
	}
	return nil
}

// resolve maps an old historization ID of type target to the new one. Domain
// archives only carry the users their records point at, filtered by status,
// so unresolved user references are cleared instead of failing.
func (r *importRun) resolve(target string, old int32) (int32, error) {
	if v, ok := r.s.Hist(target, old); ok {
		return v, nil
	}
	if r.domain && target == model.TypeUser {
		return 0, nil
	}
	if r.m.Incremental() {
		return 0, consistencyf("no %s with historization ID %d in the archive: it only holds rows modified since %s, restore a full backup first",
			target, old, r.m.Since().UTC().Format(time.RFC3339))
	}
	return 0, consistencyf("no %s with historization ID %d in the archive", target, old)
}

func (r *importRun) remap(t *registry.Type, e model.Entity) error {
	for _, f := range t.References() {
		switch f.Role {
		case registry.RoleForeignKey:
			p := f.Ref(e)
			if *p == 0 {
				continue
			}
			v, err := r.resolve(f.Target, *p)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
			}
			*p = v
		case registry.RoleComposedKey:
			p := f.Key(e)
			if *p == 0 {
				continue
			}
			tag, id := model.SplitID(*p)
			tt, ok := r.reg.ByTag(tag)
			if !ok {
				return consistencyf("%s.%s: unknown type tag %d", t.Name, f.Name, tag)
			}
			v, err := r.resolve(tt.Name, id)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
			}
			if v == 0 {
				*p = 0
				continue
			}
			*p = model.ComposeID(tag, v)
		case registry.RolePolymorphic:
			p := f.Poly(e)
			if p.IsZero() {
				continue
			}
			tt, ok := r.reg.ByTag(p.TargetType)
			if !ok {
				return consistencyf("%s.%s: unknown type tag %d", t.Name, f.Name, p.TargetType)
			}
			v, err := r.resolve(tt.Name, p.TargetID)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
			}
			if v == 0 {
				*p = model.Reference{}
				continue
			}
			p.TargetID = v
		}
	}
	return nil
}

// reattach restores detached payloads from the entries keyed by the old row
// ID. A missing entry means the payload was nil at export.
func (r *importRun) reattach(t *registry.Type, e model.Entity, oldID int64) error {
	fields := t.DetachedFields()
	multi := len(fields) > 1
	for i, f := range fields {
		name := tdef.FilePath(t.Tag, oldID, i, multi)
		if !r.ar.Has(name) {
			*f.Blob(e) = nil
			continue
		}
		data, err := r.ar.ReadAll(name)
		if err != nil {
			return err
		}
		*f.Blob(e) = data
		r.res.Files++
		r.res.Bytes += int64(len(data))
	}
	return nil
}

type pathRef interface {
	PathRef() *string
}

// restream rewrites composed IDs embedded in the file's path, writes the
// archived content into the blocks of the new historization ID and checks
// size and checksum against the archived record. Older versions of a file
// have no content of their own and are only updated.
func (r *importRun) restream(ctx context.Context, tx store.Tx, t *registry.Type, e model.Entity, oldID int64, oldHist int32) error {
	f, ok := e.(dbfs.File)
	if !ok {
		return fmt.Errorf("backup: %s is marked as virtual file but has no content accessors", t.Name)
	}
	if p, ok := e.(pathRef); ok {
		*p.PathRef() = r.rewritePath(*p.PathRef())
	}
	if !r.files[t.Name].current(oldHist, oldID) {
		return tx.Update(ctx, e)
	}
	wantSize, wantCRC := f.FileSize(), f.FileCRC()
	var src io.Reader = bytes.NewReader(nil)
	name := tdef.ContentPath(t.Tag, oldID)
	if r.ar.Has(name) {
		rc, err := r.ar.OpenEntry(name)
		if err != nil {
			return err
		}
		defer rc.Close()
		src = rc
	} else if wantSize > 0 {
		return fmt.Errorf("%w: content of %s %d (%s)", tdef.ErrMissingEntry, t.Name, oldID, name)
	}
	n, err := dbfs.Store(ctx, tx, f, src, func(ctx context.Context) error { return tx.Update(ctx, e) })
	if err != nil {
		return err
	}
	if f.FileSize() != wantSize || f.FileCRC() != wantCRC {
		return consistencyf("%s %d: restored %d bytes crc %08x, archived %d bytes crc %08x",
			t.Name, e.Meta().ID, f.FileSize(), f.FileCRC(), wantSize, wantCRC)
	}
	if n > 0 {
		r.res.Files++
		r.res.Bytes += n
	}
	return nil
}

// rewritePath remaps every path segment that decodes as a composed ID of a
// registered type. Other segments are kept verbatim.
func (r *importRun) rewritePath(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		v, err := strconv.ParseInt(seg, 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		tag, id := model.SplitID(v)
		tt, ok := r.reg.ByTag(tag)
		if !ok {
			continue
		}
		if nv, ok := r.s.Hist(tt.Name, id); ok {
			segs[i] = strconv.FormatInt(model.ComposeID(tag, nv), 10)
		}
	}
	return strings.Join(segs, "/")
}
