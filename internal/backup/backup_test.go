package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/privacy"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/store/memstore"
	"github.com/pezi/treedb/internal/tdef"
)

func TestFullRoundTrip(t *testing.T) {
	for _, ser := range []tdef.Serialization{tdef.JSON, tdef.XML, tdef.Binary} {
		t.Run(string(ser), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			path := filepath.Join(t.TempDir(), "full.tdef")

			opt := DefaultOptions()
			opt.Serialization = ser
			m, err := NewExporter(f.reg, f.st, opt).Backup(ctx, path)
			require.NoError(t, err)
			require.Equal(t, tdef.KindFull, m.Kind)
			counts, err := m.CountMap()
			require.NoError(t, err)
			require.Equal(t, map[string]int64{
				"DBInfo": 1, "Domain": 2, "User": 4, "CIType": 3, "CI": 5,
				"UIForm": 1, "UIField": 1, "Permission": 1, "Attachment": 1, "DBFile": 1,
			}, counts)

			dst := emptyTarget(t, f.reg, 17)
			res, err := NewImporter(f.reg, dst, RestoreOptions{Purge: true}).FullRestore(ctx, path)
			require.NoError(t, err)
			require.Equal(t, int64(17), res.Purged[model.TypeDBInfo])
			require.Equal(t, counts, res.Records)
			s := res.Session

			hist := func(typ string, old int32) int32 {
				v, ok := s.Hist(typ, old)
				require.True(t, ok, "%s hist %d", typ, old)
				return v
			}
			newID := func(typ string, old int64) int64 {
				v, ok := s.NewID(typ, old)
				require.True(t, ok, "%s row %d", typ, old)
				return v
			}

			lab := load[*model.Domain](t, dst, model.TypeDomain, newID(model.TypeDomain, f.lab.ID))
			require.Equal(t, "Lab", lab.Name)
			require.Equal(t, f.lab.Descriptions, lab.Descriptions)
			require.Equal(t, lab.HistID, lab.DomainID)
			require.Equal(t, hist(model.TypeDomain, f.lab.HistID), lab.HistID)
			require.True(t, fixtureTime.Equal(lab.Created))

			alice := load[*model.User](t, dst, model.TypeUser, newID(model.TypeUser, f.alice.ID))
			require.Equal(t, "Alice", alice.FirstName)
			require.Equal(t, "hash-a", alice.PasswordHash)
			require.Equal(t, model.StatusActive, alice.Status)

			rack := load[*model.CIType](t, dst, model.TypeCIType, newID(model.TypeCIType, f.rack.ID))
			require.Equal(t, hist(model.TypeCIType, f.server.HistID), rack.ParentTypeID)

			ci1 := load[*model.CI](t, dst, model.TypeCI, newID(model.TypeCI, f.ci1.ID))
			require.Equal(t, "web-01", ci1.Name)
			require.Equal(t, f.ci1.Attributes, ci1.Attributes)
			require.Equal(t, f.icon, ci1.Icon)
			require.Equal(t, int32(newID(model.TypeCI, f.ci1.ID)), ci1.HistID)
			require.Equal(t, hist(model.TypeCIType, f.rack.HistID), ci1.TypeID)
			require.Equal(t, lab.HistID, ci1.DomainID)
			require.Equal(t, hist(model.TypeUser, f.bob.HistID), ci1.CreatorID)

			old := load[*model.CI](t, dst, model.TypeCI, newID(model.TypeCI, f.ci1old.ID))
			require.Equal(t, ci1.HistID, old.HistID)
			require.Equal(t, model.StatusHistoric, old.Status)
			require.Nil(t, old.Icon)

			ci2 := load[*model.CI](t, dst, model.TypeCI, newID(model.TypeCI, f.ci2.ID))
			require.Equal(t, ci1.HistID, ci2.ParentID)
			require.Equal(t, hist(model.TypeUser, f.carol.HistID), ci2.CreatorID)

			form := load[*model.UIForm](t, dst, model.TypeUIForm, newID(model.TypeUIForm, f.form.ID))
			require.Equal(t, hist(model.TypeCIType, f.server.HistID), form.CITypeID)
			field := load[*model.UIField](t, dst, model.TypeUIField, newID(model.TypeUIField, f.field.ID))
			require.Equal(t, form.HistID, field.FormID)
			require.Equal(t, model.ComposeID(registry.TagCI, ci1.HistID), field.BindingKey)
			require.Equal(t, "Name", field.Label)

			perm := load[*model.Permission](t, dst, model.TypePermission, newID(model.TypePermission, f.perm.ID))
			require.Equal(t, alice.HistID, perm.UserID)
			require.Equal(t, model.Reference{TargetType: registry.TagCI, TargetID: ci2.HistID}, perm.Target)

			att := load[*model.Attachment](t, dst, model.TypeAttachment, newID(model.TypeAttachment, f.att.ID))
			require.Equal(t, f.manual, att.Data)
			require.Equal(t, hist(model.TypeCI, f.ci3.HistID), att.CIID)
			require.Positive(t, dst.Released())

			file := load[*model.DBFile](t, dst, model.TypeDBFile, newID(model.TypeDBFile, f.file.ID))
			owner := model.ComposeID(registry.TagCI, ci1.HistID)
			require.Equal(t, owner, file.OwnerKey)
			require.Equal(t, fmt.Sprintf("ci/%d/docs", owner), file.Path)
			require.Equal(t, f.file.Size, file.Size)
			require.Equal(t, f.file.CRC32, file.CRC32)
			require.True(t, dbfs.CheckIntegrity(file))
			require.Equal(t, f.content, readFile(t, dst, file))

			require.Equal(t, 3, res.Files) // icon, manual and the file content
			require.Len(t, all(t, dst, model.TypeDBInfo), 1)
		})
	}
}

func readFile(t *testing.T, st store.Store, f dbfs.File) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, store.InTx(context.Background(), st, func(tx store.Tx) error {
		var err error
		out, err = io.ReadAll(dbfs.NewReader(context.Background(), tx, f))
		return err
	}))
	return out
}

func TestDetachedFieldsLeaveTheRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "full.tdef")
	_, err := NewExporter(f.reg, f.st, DefaultOptions()).Backup(ctx, path)
	require.NoError(t, err)

	ar, err := tdef.Open(path)
	require.NoError(t, err)
	defer ar.Close()

	for _, e := range decodeBatch(t, ar, f.reg, model.TypeCI, 0) {
		require.Nil(t, e.(*model.CI).Icon)
	}
	iconEntry := tdef.FilePath(registry.TagCI, f.ci1.ID, 0, false)
	require.Equal(t, int64(len(f.icon)), ar.Size(iconEntry))
	require.Equal(t, tdef.Store, ar.Method(iconEntry))
	require.False(t, ar.Has(tdef.FilePath(registry.TagCI, f.ci2.ID, 0, false)))

	contentEntry := tdef.ContentPath(registry.TagDBFile, f.file.ID)
	require.Equal(t, int64(len(f.content)), ar.Size(contentEntry))
	file := decodeBatch(t, ar, f.reg, model.TypeDBFile, 0)[0].(*model.DBFile)
	require.Equal(t, f.file.CRC32, file.CRC32)

	_, err = ar.ReadAll(tdef.BatchPath(model.TypeDBFSBlock, 0))
	require.True(t, errors.Is(err, tdef.ErrMissingEntry))
}

func TestBatchBoundary(t *testing.T) {
	ctx := context.Background()
	reg := registry.Default()
	st := memstore.New(reg)
	const fetch = 4
	var domain model.Domain
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		domain.Name = "Batches"
		if err := tx.Save(ctx, &domain); err != nil {
			return err
		}
		for i := 0; i < fetch+1; i++ {
			if err := tx.Save(ctx, &model.CIType{Base: model.Base{DomainID: domain.HistID}, Name: fmt.Sprintf("t%d", i)}); err != nil {
				return err
			}
		}
		if err := tx.Save(ctx, &model.CIType{Base: model.Base{DomainID: domain.HistID, Status: model.StatusHistoric}, Name: "old"}); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			if err := tx.Save(ctx, &model.Attachment{Base: model.Base{DomainID: domain.HistID}, Name: "a", Data: []byte("x")}); err != nil {
				return err
			}
		}
		return nil
	}))

	opt := DefaultOptions()
	opt.FetchSize = fetch
	opt.ActiveOnly = true
	path := filepath.Join(t.TempDir(), "domain.tdef")
	m, err := NewExporter(reg, st, opt).BackupDomain(ctx, path, domain.HistID, nil)
	require.NoError(t, err)
	require.True(t, m.ActiveOnly)
	require.Equal(t, fetch, m.FetchSize)

	ar, err := tdef.Open(path)
	require.NoError(t, err)
	defer ar.Close()
	require.Len(t, decodeBatch(t, ar, reg, model.TypeCIType, 0), fetch)
	require.Len(t, decodeBatch(t, ar, reg, model.TypeCIType, 1), 1)
	require.False(t, ar.Has(tdef.BatchPath(model.TypeCIType, 2)))

	// streamed individually: one record per batch
	require.Len(t, decodeBatch(t, ar, reg, model.TypeAttachment, 0), 1)
	require.Len(t, decodeBatch(t, ar, reg, model.TypeAttachment, 1), 1)
	require.False(t, ar.Has(tdef.BatchPath(model.TypeAttachment, 2)))
	require.Equal(t, 2, st.Released())

	// no users were referenced
	counts, err := m.CountMap()
	require.NoError(t, err)
	require.Equal(t, int64(0), counts[model.TypeUser])
}

func TestDomainBackupAnonymizesUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "lab.tdef")
	m, err := NewExporter(f.reg, f.st, DefaultOptions()).BackupDomain(ctx, path, f.lab.HistID, &privacy.Filter{Keep: privacy.KeepPhone})
	require.NoError(t, err)
	require.Equal(t, tdef.KindDomain, m.Kind)
	require.Equal(t, f.lab.HistID, m.DomainID)
	require.Equal(t, f.lab.Descriptions, m.Descriptions)

	counts, err := m.CountMap()
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[model.TypeDomain])
	require.Equal(t, int64(2), counts[model.TypeCIType])
	require.Equal(t, int64(4), counts[model.TypeCI])
	require.Equal(t, int64(2), counts[model.TypeUser]) // alice and bob; carol is historic, dave unreferenced
	_, hasInfo := counts[model.TypeDBInfo]
	require.False(t, hasInfo)

	ar, err := tdef.Open(path)
	require.NoError(t, err)
	users := decodeBatch(t, ar, f.reg, model.TypeUser, 0)
	require.NoError(t, ar.Close())
	require.Len(t, users, 2)
	byLogin := map[string]*model.User{}
	for _, e := range users {
		u := e.(*model.User)
		byLogin[u.Login] = u
		require.Equal(t, model.StatusVirtual, u.Status)
		require.Empty(t, u.PasswordHash)
		require.Zero(t, u.CreatorID)
		require.Zero(t, u.ModifierID)
		require.Empty(t, u.Mobile)
		require.Empty(t, u.ExternalID)
	}
	a := byLogin["alice"]
	require.NotNil(t, a)
	require.NotEqual(t, "Alice", a.FirstName)
	require.NotEqual(t, "alice@corp.example", a.Email)
	require.Equal(t, "111", a.Phone)
	require.NotNil(t, byLogin["bob"])

	dst := memstore.New(f.reg)
	res, err := NewImporter(f.reg, dst, RestoreOptions{}).FullRestore(ctx, path)
	require.NoError(t, err)

	ci2 := load[*model.CI](t, dst, model.TypeCI, mustNew(t, res.Session, model.TypeCI, f.ci2.ID))
	require.Zero(t, ci2.CreatorID) // carol was not exported
	ci1 := load[*model.CI](t, dst, model.TypeCI, mustNew(t, res.Session, model.TypeCI, f.ci1.ID))
	bob, ok := res.Session.Hist(model.TypeUser, f.bob.HistID)
	require.True(t, ok)
	require.Equal(t, bob, ci1.CreatorID)
	require.Empty(t, all(t, dst, model.TypeDBInfo))
}

func mustNew(t *testing.T, s *Session, typ string, old int64) int64 {
	t.Helper()
	v, ok := s.NewID(typ, old)
	require.True(t, ok)
	return v
}

// Three CIs in a domain, one carrying a 1 MiB image, restored into an empty
// database.
func TestThreeCIsWithImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	opt := DefaultOptions()
	opt.ActiveOnly = true
	path := filepath.Join(t.TempDir(), "lab.tdef")
	_, err := NewExporter(f.reg, f.st, opt).BackupDomain(ctx, path, f.lab.HistID, nil)
	require.NoError(t, err)

	ar, err := tdef.Open(path)
	require.NoError(t, err)
	var ciFiles []string
	for _, name := range ar.List(tdef.FilesDir) {
		if tag, _, _, err := tdef.ParseFilePath(name); err == nil && tag == registry.TagCI {
			ciFiles = append(ciFiles, name)
		}
	}
	require.Equal(t, []string{tdef.FilePath(registry.TagCI, f.ci1.ID, 0, false)}, ciFiles)
	require.Equal(t, int64(1<<20), ar.Size(ciFiles[0]))
	require.NoError(t, ar.Close())

	dst := memstore.New(f.reg)
	res, err := NewImporter(f.reg, dst, RestoreOptions{}).FullRestore(ctx, path)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Records[model.TypeCI])

	cis := all(t, dst, model.TypeCI)
	require.Len(t, cis, 3)
	var withIcon int
	for _, src := range []*model.CI{f.ci1, f.ci2, f.ci3} {
		id := mustNew(t, res.Session, model.TypeCI, src.ID)
		got := load[*model.CI](t, dst, model.TypeCI, id)
		require.Equal(t, src.Name, got.Name)
		h, ok := res.Session.Hist(model.TypeCI, src.HistID)
		require.True(t, ok)
		require.Equal(t, h, got.HistID)
		if got.Icon != nil {
			withIcon++
			require.Equal(t, f.icon, got.Icon)
		}
	}
	require.Equal(t, 1, withIcon)
}

func TestFailedExportDeletesArchive(t *testing.T) {
	ctx := context.Background()
	reg := registry.Default()
	st := memstore.New(reg)
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		// size without checksum: the writer was never closed
		return tx.Save(ctx, &model.DBFile{Path: "broken", Size: 10})
	}))
	path := filepath.Join(t.TempDir(), "broken.tdef")
	_, err := NewExporter(reg, st, DefaultOptions()).Backup(ctx, path)
	require.Error(t, err)
	require.True(t, errors.Is(err, dbfs.ErrCorrupt))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestBackupDomainUnknownDomain(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "none.tdef")
	_, err := NewExporter(f.reg, f.st, DefaultOptions()).BackupDomain(context.Background(), path, 9999, nil)
	require.True(t, errors.Is(err, store.ErrNotFound))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestRestoreRejectsTagDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "full.tdef")
	_, err := NewExporter(f.reg, f.st, DefaultOptions()).Backup(ctx, path)
	require.NoError(t, err)

	types := registry.DefaultTypes()
	for _, ty := range types {
		if ty.Name == model.TypeCI {
			ty.Tag = 50
		}
	}
	drifted := registry.MustNew(types...)
	_, err = NewImporter(drifted, memstore.New(drifted), RestoreOptions{}).FullRestore(ctx, path)
	require.True(t, errors.Is(err, ErrConsistency))
}

func writeArchive(t *testing.T, build func(w *tdef.Writer, m *tdef.Manifest)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handmade.tdef")
	w, err := tdef.Create(path)
	require.NoError(t, err)
	m := tdef.NewManifest(context.Background(), tdef.KindFull, tdef.JSON)
	build(w, m)
	require.NoError(t, w.Close())
	return path
}

func TestRestoreStructuralErrors(t *testing.T) {
	ctx := context.Background()
	reg := registry.Default()
	encode := func(batch ...model.Entity) []byte {
		c, err := tdef.CodecFor(tdef.JSON)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, c.Encode(&buf, batch))
		return buf.Bytes()
	}

	t.Run("missing manifest", func(t *testing.T) {
		path := writeArchive(t, func(w *tdef.Writer, _ *tdef.Manifest) {
			require.NoError(t, w.Dir(tdef.Root))
		})
		_, err := NewImporter(reg, memstore.New(reg), RestoreOptions{}).FullRestore(ctx, path)
		require.True(t, errors.Is(err, tdef.ErrMissingManifest))
	})

	t.Run("missing batch", func(t *testing.T) {
		path := writeArchive(t, func(w *tdef.Writer, m *tdef.Manifest) {
			ty := &model.CIType{Base: model.Base{ID: 3, HistID: 3}, Name: "only one"}
			require.NoError(t, w.Put(tdef.BatchPath(model.TypeCIType, 0), encode(ty), tdef.Deflate))
			m.SetCount(model.TypeCIType, 2)
			m.SetTag(model.TypeCIType, registry.TagCIType)
			require.NoError(t, tdef.WriteManifest(w, m))
		})
		_, err := NewImporter(reg, memstore.New(reg), RestoreOptions{}).FullRestore(ctx, path)
		require.True(t, errors.Is(err, tdef.ErrMissingEntry))
	})

	t.Run("dangling foreign key", func(t *testing.T) {
		path := writeArchive(t, func(w *tdef.Writer, m *tdef.Manifest) {
			ci := &model.CI{Base: model.Base{ID: 8, HistID: 8}, Name: "orphan", TypeID: 77}
			require.NoError(t, w.Put(tdef.BatchPath(model.TypeCI, 0), encode(ci), tdef.Deflate))
			m.SetCount(model.TypeCI, 1)
			m.SetTag(model.TypeCI, registry.TagCI)
			require.NoError(t, tdef.WriteManifest(w, m))
		})
		_, err := NewImporter(reg, memstore.New(reg), RestoreOptions{}).FullRestore(ctx, path)
		require.True(t, errors.Is(err, ErrConsistency))
	})

	t.Run("schema version", func(t *testing.T) {
		path := writeArchive(t, func(w *tdef.Writer, m *tdef.Manifest) {
			m.SchemaVersion = "1.0"
			require.NoError(t, tdef.WriteManifest(w, m))
		})
		_, err := NewImporter(reg, memstore.New(reg), RestoreOptions{}).FullRestore(ctx, path)
		require.True(t, errors.Is(err, ErrSchemaVersion))
	})
}

func TestInspectAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "full.tdef")
	_, err := NewExporter(f.reg, f.st, DefaultOptions()).Backup(ctx, path)
	require.NoError(t, err)

	ar, err := tdef.Open(path)
	require.NoError(t, err)
	defer ar.Close()

	inv, err := Verify(ar, f.reg)
	require.NoError(t, err)
	require.True(t, inv.OK(), "%+v", inv)
	require.Equal(t, 3, inv.Files)
	for _, st := range inv.Types {
		require.Equal(t, st.Expected, st.Found, st.Name)
		if st.Name == model.TypeCI {
			require.Equal(t, 1, st.Batches)
			require.Equal(t, 1, st.Files)
			require.Equal(t, int64(len(f.icon)), st.Bytes)
		}
	}
	require.Equal(t, model.TypeDBInfo, inv.Types[0].Name)
}

func TestSessionMaps(t *testing.T) {
	s := NewSession()
	s.mapRow("CI", 5, 105, true)
	s.mapHist("CI", 5, 105)
	s.mapRow("CI", 6, 107, true)
	s.mapHist("CI", 5, 107)
	s.mapRow("CIType", 2, 106, false)

	v, ok := s.NewID("CI", 6)
	require.True(t, ok)
	require.Equal(t, int64(107), v)
	old, ok := s.OldID("CI", 107)
	require.True(t, ok)
	require.Equal(t, int64(6), old)
	_, ok = s.OldID("CIType", 106)
	require.False(t, ok)

	h, ok := s.Hist("CI", 5)
	require.True(t, ok)
	require.Equal(t, int32(105), h)

	require.True(t, s.inserted("CI", 106)) // inside the CI span
	require.False(t, s.inserted("CI", 104))
	require.Equal(t, 2, s.Rows("CI"))
}

// saveVersions stores one file per content under a single historization ID.
// Every version but the last is marked historic once the next one is written.
func saveVersions(t *testing.T, st store.Store, contents ...string) []*model.DBFile {
	t.Helper()
	ctx := context.Background()
	var out []*model.DBFile
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		for i, c := range contents {
			f := &model.DBFile{Base: meta(0, 0), Path: "docs", Name: fmt.Sprintf("readme.v%d", i+1)}
			if i > 0 {
				prev := out[i-1]
				f.HistID = prev.HistID
				prev.Status = model.StatusHistoric
				if err := tx.Update(ctx, prev); err != nil {
					return err
				}
			}
			if err := tx.Save(ctx, f); err != nil {
				return err
			}
			if _, err := dbfs.Store(ctx, tx, f, bytes.NewReader([]byte(c)), func(ctx context.Context) error {
				return tx.Update(ctx, f)
			}); err != nil {
				return err
			}
			out = append(out, f)
		}
		return nil
	}))
	return out
}

func TestVersionedFileRoundTrip(t *testing.T) {
	for name, contents := range map[string][]string{
		"same size":     {"first version content", "fresh version content"},
		"older larger":  {"first version content, longer than the next", "second"},
		"older smaller": {"v1", "second version content"},
		"three":         {"one", "two two", "three three three"},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := registry.Default()
			src := memstore.New(reg)
			files := saveVersions(t, src, contents...)
			last := files[len(files)-1]
			path := filepath.Join(t.TempDir(), "versions.tdef")

			_, err := NewExporter(reg, src, DefaultOptions()).Backup(ctx, path)
			require.NoError(t, err)

			ar, err := tdef.Open(path)
			require.NoError(t, err)
			for _, f := range files {
				require.Equal(t, f == last, ar.Has(tdef.ContentPath(registry.TagDBFile, f.ID)), f.Name)
			}
			require.NoError(t, ar.Close())

			dst := emptyTarget(t, reg, 9)
			res, err := NewImporter(reg, dst, RestoreOptions{}).FullRestore(ctx, path)
			require.NoError(t, err)
			require.Equal(t, int64(len(files)), res.Records[model.TypeDBFile])
			require.Equal(t, 1, res.Files)

			hist, ok := res.Session.Hist(model.TypeDBFile, last.HistID)
			require.True(t, ok)
			for i, f := range files {
				got := load[*model.DBFile](t, dst, model.TypeDBFile, mustNew(t, res.Session, model.TypeDBFile, f.ID))
				require.Equal(t, hist, got.HistID)
				require.Equal(t, f.Status, got.Status)
				require.Equal(t, int64(len(contents[i])), got.Size)
				require.Equal(t, f.CRC32, got.CRC32)
			}
			got := load[*model.DBFile](t, dst, model.TypeDBFile, mustNew(t, res.Session, model.TypeDBFile, last.ID))
			require.Equal(t, []byte(contents[len(contents)-1]), readFile(t, dst, got))
		})
	}
}

func TestVersionedFileWithoutActiveVersion(t *testing.T) {
	ctx := context.Background()
	reg := registry.Default()
	src := memstore.New(reg)
	files := saveVersions(t, src, "old and long content", "newest")
	require.NoError(t, store.InTx(ctx, src, func(tx store.Tx) error {
		files[1].Status = model.StatusSoftDeleted
		return tx.Update(ctx, files[1])
	}))
	path := filepath.Join(t.TempDir(), "deleted.tdef")
	_, err := NewExporter(reg, src, DefaultOptions()).Backup(ctx, path)
	require.NoError(t, err)

	dst := memstore.New(reg)
	res, err := NewImporter(reg, dst, RestoreOptions{}).FullRestore(ctx, path)
	require.NoError(t, err)
	got := load[*model.DBFile](t, dst, model.TypeDBFile, mustNew(t, res.Session, model.TypeDBFile, files[1].ID))
	require.Equal(t, []byte("newest"), readFile(t, dst, got))
}

func TestExportChecksFileChecksum(t *testing.T) {
	ctx := context.Background()
	reg := registry.Default()
	st := memstore.New(reg)
	f := saveVersions(t, st, "some content")[0]
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		f.CRC32 ^= 0xff
		return tx.Update(ctx, f)
	}))
	path := filepath.Join(t.TempDir(), "stale.tdef")
	_, err := NewExporter(reg, st, DefaultOptions()).Backup(ctx, path)
	require.Error(t, err)
	require.True(t, errors.Is(err, dbfs.ErrCorrupt))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestIncrementalArchiveNamesItsCutoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	since := fixtureTime.Add(time.Hour)
	require.NoError(t, store.InTx(ctx, f.st, func(tx store.Tx) error {
		f.ci2.Name = "web-02 renamed"
		f.ci2.Modified = since.Add(time.Minute)
		return tx.Update(ctx, f.ci2)
	}))

	opt := DefaultOptions()
	opt.ModifiedSince = since
	path := filepath.Join(t.TempDir(), "since.tdef")
	m, err := NewExporter(f.reg, f.st, opt).Backup(ctx, path)
	require.NoError(t, err)
	require.True(t, m.Incremental())
	require.True(t, since.Equal(m.Since()))
	counts, err := m.CountMap()
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[model.TypeCI])
	ar, err := tdef.Open(path)
	require.NoError(t, err)
	stored, err := tdef.ReadManifest(ar)
	require.NoError(t, err)
	require.Equal(t, since.UnixMilli(), stored.ModifiedSince)
	require.NoError(t, ar.Close())

	_, err = NewImporter(f.reg, memstore.New(f.reg), RestoreOptions{}).FullRestore(ctx, path)
	require.ErrorIs(t, err, ErrConsistency)
	require.Contains(t, err.Error(), "only holds rows modified since "+since.Format(time.RFC3339))

	full, err := NewExporter(f.reg, f.st, DefaultOptions()).Backup(ctx, filepath.Join(t.TempDir(), "full.tdef"))
	require.NoError(t, err)
	require.False(t, full.Incremental())
}
