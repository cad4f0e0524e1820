package backup

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pezi/treedb/internal/dbfs"
	"github.com/pezi/treedb/internal/model"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
	"github.com/pezi/treedb/internal/store/memstore"
	"github.com/pezi/treedb/internal/tdef"
)

var fixtureTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// fixture is a small CMDB with two domains. Lab holds every entity kind;
// Shop holds one CI type and one CI.
type fixture struct {
	reg *registry.Registry
	st  *memstore.Store

	lab, shop               *model.Domain
	alice, bob, carol, dave *model.User
	server, rack            *model.CIType
	ci1, ci1old, ci2, ci3   *model.CI
	shelfType               *model.CIType
	shelf                   *model.CI
	form                    *model.UIForm
	field                   *model.UIField
	perm                    *model.Permission
	att                     *model.Attachment
	file                    *model.DBFile
	info                    *model.DBInfo

	icon    []byte // 1 MiB, PNG signature
	manual  []byte
	content []byte // spans three blocks
}

func randomBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func pngPayload(n int) []byte {
	sig := []byte("\x89PNG\x0D\x0A\x1A\x0A")
	return append(sig, randomBytes(1, n-len(sig))...)
}

func meta(domain, creator int32) model.Base {
	return model.Base{DomainID: domain, CreatorID: creator, ModifierID: creator, Created: fixtureTime, Modified: fixtureTime}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := registry.Default()
	f := &fixture{
		reg:     reg,
		st:      memstore.New(reg),
		icon:    pngPayload(1 << 20),
		manual:  append([]byte("%PDF-1.4\n"), randomBytes(2, 4000)...),
		content: randomBytes(3, 2*dbfs.BlockSize+200*1024),
	}
	err := store.InTx(ctx, f.st, func(tx store.Tx) error {
		save := func(e model.Entity) {
			require.NoError(t, tx.Save(ctx, e))
		}
		f.info = &model.DBInfo{SchemaVersion: tdef.SchemaVersion, InstalledAt: fixtureTime, Note: "fixture"}
		save(f.info)

		f.alice = &model.User{Base: meta(0, 0), Login: "alice", FirstName: "Alice", LastName: "Adams", DisplayName: "Alice Adams",
			Email: "alice@corp.example", Phone: "111", Mobile: "222", ExternalID: "ext-a", PasswordHash: "hash-a"}
		save(f.alice)
		f.bob = &model.User{Base: meta(0, f.alice.HistID), Login: "bob", FirstName: "Bob", LastName: "Brown", Email: "bob@corp.example", PasswordHash: "hash-b"}
		f.bob.Status = model.StatusSoftDeleted
		save(f.bob)
		f.carol = &model.User{Base: meta(0, f.alice.HistID), Login: "carol", FirstName: "Carol", LastName: "Clark"}
		f.carol.Status = model.StatusHistoric
		save(f.carol)
		f.dave = &model.User{Base: meta(0, f.alice.HistID), Login: "dave", FirstName: "Dave", LastName: "Doe"}
		save(f.dave)

		f.lab = &model.Domain{Base: meta(0, f.alice.HistID), Name: "Lab",
			Descriptions: []model.LocalizedText{{Lang: "en", Text: "Laboratory"}, {Lang: "de", Text: "Labor"}}}
		save(f.lab)
		f.shop = &model.Domain{Base: meta(0, f.alice.HistID), Name: "Shop"}
		save(f.shop)
		lab, shop := f.lab.HistID, f.shop.HistID

		f.server = &model.CIType{Base: meta(lab, f.alice.HistID), Name: "Server"}
		save(f.server)
		f.rack = &model.CIType{Base: meta(lab, f.alice.HistID), Name: "Rack server", ParentTypeID: f.server.HistID}
		save(f.rack)

		f.ci1 = &model.CI{Base: meta(lab, f.bob.HistID), Name: "web-01", TypeID: f.rack.HistID,
			Attributes: []model.Attribute{{Key: "ip", Value: "10.0.0.1"}}, Icon: f.icon}
		save(f.ci1)
		f.ci1old = &model.CI{Base: meta(lab, f.bob.HistID), Name: "web-01 (2023)", TypeID: f.server.HistID}
		f.ci1old.HistID = f.ci1.HistID
		f.ci1old.Status = model.StatusHistoric
		save(f.ci1old)
		f.ci2 = &model.CI{Base: meta(lab, f.carol.HistID), Name: "web-02", TypeID: f.rack.HistID, ParentID: f.ci1.HistID}
		save(f.ci2)
		f.ci3 = &model.CI{Base: meta(lab, f.alice.HistID), Name: "db-01", TypeID: f.server.HistID}
		save(f.ci3)

		f.form = &model.UIForm{UIElement: model.UIElement{Base: meta(lab, f.alice.HistID), Label: "Server form"},
			CITypeID: f.server.HistID, Title: "Server"}
		save(f.form)
		f.field = &model.UIField{UIElement: model.UIElement{Base: meta(lab, f.alice.HistID), Label: "Name", FormID: f.form.HistID, Position: 1},
			BindingKey: model.ComposeID(registry.TagCI, f.ci1.HistID), Widget: "text"}
		save(f.field)
		f.perm = &model.Permission{Base: meta(lab, f.alice.HistID), UserID: f.alice.HistID,
			Target: model.Reference{TargetType: registry.TagCI, TargetID: f.ci2.HistID}, Rights: "rw"}
		save(f.perm)
		f.att = &model.Attachment{Base: meta(lab, f.bob.HistID), CIID: f.ci3.HistID, Name: "manual.pdf", MimeType: "application/pdf", Data: f.manual}
		save(f.att)

		owner := model.ComposeID(registry.TagCI, f.ci1.HistID)
		f.file = &model.DBFile{Base: meta(lab, f.alice.HistID), OwnerKey: owner, Path: fmt.Sprintf("ci/%d/docs", owner), Name: "notes.bin"}
		save(f.file)
		if _, err := dbfs.Store(ctx, tx, f.file, bytes.NewReader(f.content), func(ctx context.Context) error {
			return tx.Update(ctx, f.file)
		}); err != nil {
			return err
		}

		f.shelfType = &model.CIType{Base: meta(shop, f.dave.HistID), Name: "Shelf"}
		save(f.shelfType)
		f.shelf = &model.CI{Base: meta(shop, f.dave.HistID), Name: "shelf-1", TypeID: f.shelfType.HistID}
		save(f.shelf)
		return nil
	})
	require.NoError(t, err)
	return f
}

// emptyTarget returns a store whose row IDs are already offset, so restored
// IDs differ from the source's.
func emptyTarget(t *testing.T, reg *registry.Registry, burn int) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	st := memstore.New(reg)
	require.NoError(t, store.InTx(ctx, st, func(tx store.Tx) error {
		for i := 0; i < burn; i++ {
			if err := tx.Save(ctx, &model.DBInfo{Note: "placeholder"}); err != nil {
				return err
			}
		}
		return nil
	}))
	return st
}

func load[T model.Entity](t *testing.T, st store.Store, typ string, id int64) T {
	t.Helper()
	var out T
	require.NoError(t, store.InTx(context.Background(), st, func(tx store.Tx) error {
		e, err := tx.Get(context.Background(), typ, id)
		if err != nil {
			return err
		}
		out = e.(T)
		return nil
	}))
	return out
}

func all(t *testing.T, st store.Store, typ string) []model.Entity {
	t.Helper()
	var out []model.Entity
	require.NoError(t, store.InTx(context.Background(), st, func(tx store.Tx) error {
		return store.Each(context.Background(), tx, store.Query{Type: typ}, func(page []model.Entity) error {
			out = append(out, page...)
			return nil
		})
	}))
	return out
}

func decodeBatch(t *testing.T, ar *tdef.Reader, reg *registry.Registry, typ string, n int) []model.Entity {
	t.Helper()
	m, err := tdef.ReadManifest(ar)
	require.NoError(t, err)
	codec, err := tdef.CodecFor(m.Serialization)
	require.NoError(t, err)
	data, err := ar.ReadAll(tdef.BatchPath(typ, n))
	require.NoError(t, err)
	batch, err := codec.Decode(data, typ, reg.NewEntity)
	require.NoError(t, err)
	return batch
}
