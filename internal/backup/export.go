package backup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	dbutil "github.com/pezi/treedb/internal/dao/dbutil"
	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/depgraph"
	"github.com/pezi/treedb/internal/logging"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/privacy"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/tdef"
)

// sniffLen is how many leading bytes of a payload decide its compression.
const sniffLen = 512

// Exporter writes TDEF archives from a store.
type Exporter struct {
	reg   *registry.Registry
	store store.Store
	opt   Options
	log   *logrus.Entry
}

// NewExporter returns an exporter over st for the types in reg.
func NewExporter(reg *registry.Registry, st store.Store, opt Options) *Exporter {
	return &Exporter{reg: reg, store: st, opt: opt.normalized(), log: logging.For("export")}
}

// Backup writes every record of every exportable type to path.
func (x *Exporter) Backup(ctx context.Context, path string) (*tdef.Manifest, error) {
	return x.run(ctx, path, 0, nil)
}

// BackupDomain writes the records of one domain to path. Users referenced by
// those records are exported anonymized through filter when the options
// include users; a nil filter keeps no personal fields.
func (x *Exporter) BackupDomain(ctx context.Context, path string, domainID int32, filter *privacy.Filter) (*tdef.Manifest, error) {
	if domainID == 0 {
		return nil, fmt.Errorf("backup: domain ID is required")
	}
	if filter == nil {
		filter = &privacy.Filter{}
	}
	return x.run(ctx, path, domainID, filter)
}

// exportRun is the state of one backup call.
type exportRun struct {
	*Exporter
	tx       store.Tx
	w        *tdef.Writer
	m        *tdef.Manifest
	codec    tdef.Codec
	domainID int32
	userTag  uint32
	userRefs map[int32]struct{}
	current  versions // content holders of the virtual file type being exported
	log      *logrus.Entry
}

func (x *Exporter) run(ctx context.Context, path string, domainID int32, filter *privacy.Filter) (m *tdef.Manifest, err error) {
	codec, err := tdef.CodecFor(x.opt.Serialization)
	if err != nil {
		return nil, err
	}
	kind := tdef.KindFull
	if domainID != 0 {
		kind = tdef.KindDomain
	}
	w, err := tdef.Create(path)
	if err != nil {
		return nil, dbutil.ErrWrap("export.create_archive", err, dbutil.ParamSummary("path", path))
	}
	tx, err := x.store.Begin(ctx)
	if err != nil {
		_ = w.Close()
		_ = os.Remove(path)
		return nil, dbutil.ErrWrap("export.begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			_ = w.Close()
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				x.log.WithError(rmErr).WithField("path", path).Warn("could not delete partial archive")
			}
			m = nil
		}
	}()

	m = tdef.NewManifest(ctx, kind, x.opt.Serialization)
	b := x.store.Backend()
	m.PersistenceLayer, m.Implementation, m.Database = b.PersistenceLayer, b.Implementation, b.Database
	m.Compression = x.opt.Compression
	m.FetchSize = x.opt.FetchSize
	m.ActiveOnly = x.opt.ActiveOnly
	if !x.opt.ModifiedSince.IsZero() {
		m.ModifiedSince = x.opt.ModifiedSince.UnixMilli()
	}
	m.DomainID = domainID

	r := &exportRun{
		Exporter: x,
		tx:       tx,
		w:        w,
		m:        m,
		codec:    codec,
		domainID: domainID,
		userRefs: map[int32]struct{}{},
		log:      x.log.WithFields(logrus.Fields{"export_id": m.ExportID, "kind": kind}),
	}
	if ut, ok := x.reg.Lookup(model.TypeUser); ok {
		r.userTag = ut.Tag
	}
	if domainID != 0 {
		d, err := r.domain(ctx)
		if err != nil {
			return nil, err
		}
		m.Descriptions = d.Descriptions
	}
	if err := w.Dir(tdef.Root); err != nil {
		return nil, err
	}
	if err := w.Dir(tdef.FilesDir); err != nil {
		return nil, err
	}

	r.log.Info("backup started")
	for _, t := range depgraph.Analyze(x.reg).Order() {
		if r.skip(t) {
			continue
		}
		start := time.Now()
		n, batches, err := r.exportType(ctx, t)
		if err != nil {
			return nil, dbutil.ErrWrap("export.type", err, dbutil.ParamSummary("type", t.Name))
		}
		m.SetCount(t.Name, n)
		m.SetTag(t.Name, t.Tag)
		r.log.WithFields(logrus.Fields{"type": t.Name, "records": n, "batches": batches, "took": time.Since(start)}).Info("type exported")
	}
	if domainID != 0 && x.opt.IncludeUsers {
		ut, ok := x.reg.Lookup(model.TypeUser)
		if !ok {
			return nil, fmt.Errorf("backup: type %s is not registered", model.TypeUser)
		}
		n, err := r.exportUsers(ctx, ut, filter)
		if err != nil {
			return nil, dbutil.ErrWrap("export.users", err)
		}
		m.SetCount(ut.Name, n)
		m.SetTag(ut.Name, ut.Tag)
		r.log.WithFields(logrus.Fields{"type": ut.Name, "records": n}).Info("users exported")
	}

	m.Finish()
	if err := tdef.WriteManifest(w, m); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbutil.ErrWrap("export.commit", err)
	}
	if err := w.Close(); err != nil {
		return nil, dbutil.ErrWrap("export.close_archive", err, dbutil.ParamSummary("path", path))
	}
	r.log.WithFields(logrus.Fields{
		"entries": w.Entries(),
		"size":    humanize.Bytes(uint64(w.Written())),
		"took":    m.Ended().Sub(m.Started()),
	}).Info("backup finished")
	return m, nil
}

// skip reports whether t is left out of this run. Users of a domain backup
// are written separately by exportUsers.
func (r *exportRun) skip(t *registry.Type) bool {
	if t.Abstract || t.Infrastructure {
		return true
	}
	if r.domainID != 0 {
		return !t.DomainScoped || t.Name == model.TypeUser
	}
	return false
}

func (r *exportRun) domain(ctx context.Context) (*model.Domain, error) {
	var found *model.Domain
	q := store.Query{Type: model.TypeDomain, DomainID: r.domainID, Limit: r.opt.FetchSize}
	err := store.Each(ctx, r.tx, q, func(page []model.Entity) error {
		for _, e := range page {
			d, ok := e.(*model.Domain)
			if !ok || d.HistID != r.domainID {
				continue
			}
			if found == nil || d.IsActive() {
				found = d
			}
		}
		return nil
	})
	if err != nil {
		return nil, dbutil.ErrWrap("export.domain", err, dbutil.ParamSummary("domain", r.domainID))
	}
	if found == nil {
		return nil, fmt.Errorf("backup: domain %d: %w", r.domainID, store.ErrNotFound)
	}
	return found, nil
}

func (r *exportRun) exportType(ctx context.Context, t *registry.Type) (count int64, batches int, err error) {
	q := store.Query{
		Type:          t.Name,
		DomainID:      r.domainID,
		ActiveOnly:    r.opt.ActiveOnly,
		ModifiedSince: r.opt.ModifiedSince,
		Limit:         r.opt.FetchSize,
	}
	if t.VirtualFile {
		if r.current, err = r.holders(ctx, t, q); err != nil {
			return 0, 0, err
		}
	}
	err = store.Each(ctx, r.tx, q, func(page []model.Entity) error {
		if !t.StreamIndividually {
			if err := r.writeBatch(ctx, t, batches, page); err != nil {
				return err
			}
			batches++
			count += int64(len(page))
			return nil
		}
		for _, e := range page {
			if err := r.writeBatch(ctx, t, batches, []model.Entity{e}); err != nil {
				return err
			}
			r.tx.Release(e)
			batches++
			count++
		}
		return nil
	})
	return count, batches, err
}

// holders pages through the rows q selects and picks the content holder of
// every historization ID.
func (r *exportRun) holders(ctx context.Context, t *registry.Type, q store.Query) (versions, error) {
	v := versions{}
	err := store.Each(ctx, r.tx, q, func(page []model.Entity) error {
		for _, e := range page {
			v.add(e.Meta())
			if t.StreamIndividually {
				r.tx.Release(e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, dbutil.ErrWrap("export.file_versions", err, dbutil.ParamSummary("type", t.Name))
	}
	return v, nil
}

func (r *exportRun) writeBatch(ctx context.Context, t *registry.Type, n int, batch []model.Entity) error {
	for _, e := range batch {
		if r.domainID != 0 && t.CollectUserRefs {
			r.collectUserRefs(t, e)
		}
		if t.VirtualFile {
			if err := r.writeContent(ctx, t, e); err != nil {
				return err
			}
			continue
		}
		if err := r.detach(t, e); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := r.codec.Encode(&buf, batch); err != nil {
		return dbutil.ErrWrap("export.encode", err, dbutil.ParamSummary("batch", n))
	}
	name := tdef.BatchPath(t.Name, n)
	if err := r.w.Put(name, buf.Bytes(), r.opt.Compression); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"type": t.Name, "batch": n, "records": len(batch)}).Debug("batch written")
	return nil
}

// detach moves every non-nil detached payload of e into its own entry and
// clears the field.
func (r *exportRun) detach(t *registry.Type, e model.Entity) error {
	fields := t.DetachedFields()
	multi := len(fields) > 1
	for i, f := range fields {
		p := f.Blob(e)
		if *p == nil {
			continue
		}
		name := tdef.FilePath(t.Tag, e.Meta().ID, i, multi)
		if err := r.w.Put(name, *p, tdef.MethodFor(*p, r.opt.Compression)); err != nil {
			return err
		}
		*p = nil
	}
	return nil
}

// writeContent copies the blocks of a virtual file into the archive. All
// versions of a file share the blocks of their historization ID, so only the
// current version carries content; the others keep their declared size and
// checksum in the record. Empty files get no entry.
func (r *exportRun) writeContent(ctx context.Context, t *registry.Type, e model.Entity) error {
	f, ok := e.(dbfs.File)
	if !ok {
		return fmt.Errorf("backup: %s is marked as virtual file but has no content accessors", t.Name)
	}
	meta := e.Meta()
	if !r.current.current(meta.HistID, meta.ID) {
		return nil
	}
	if !dbfs.CheckIntegrity(f) {
		return fmt.Errorf("%w: %s %d has size %d but no checksum", dbfs.ErrCorrupt, t.Name, meta.ID, f.FileSize())
	}
	if f.FileSize() == 0 {
		return nil
	}
	br := bufio.NewReaderSize(dbfs.NewReader(ctx, r.tx, f), sniffLen)
	head, _ := br.Peek(sniffLen)
	out, err := r.w.Create(tdef.ContentPath(t.Tag, meta.ID), tdef.MethodFor(head, r.opt.Compression))
	if err != nil {
		return err
	}
	sum := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(out, sum), br)
	if err != nil {
		return dbutil.ErrWrap("export.file_content", err, dbutil.ParamSummary("id", meta.ID))
	}
	if n != f.FileSize() || sum.Sum32() != f.FileCRC() {
		return fmt.Errorf("%w: %s %d declares %d bytes crc %08x, blocks hold %d bytes crc %08x",
			dbfs.ErrCorrupt, t.Name, meta.ID, f.FileSize(), f.FileCRC(), n, sum.Sum32())
	}
	return nil
}

func (r *exportRun) collectUserRefs(t *registry.Type, e model.Entity) {
	add := func(id int32) {
		if id != 0 {
			r.userRefs[id] = struct{}{}
		}
	}
	for _, f := range t.References() {
		switch f.Role {
		case registry.RoleForeignKey:
			if f.Target == model.TypeUser {
				add(*f.Ref(e))
			}
		case registry.RoleComposedKey:
			if tag, id := model.SplitID(*f.Key(e)); tag == r.userTag {
				add(id)
			}
		case registry.RolePolymorphic:
			if ref := f.Poly(e); ref.TargetType == r.userTag {
				add(ref.TargetID)
			}
		}
	}
}
