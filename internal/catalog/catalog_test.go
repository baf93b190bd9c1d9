package catalog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chunkstash/chunkstash/internal/catalog"
	"github.com/chunkstash/chunkstash/internal/errors"
	rtest "github.com/chunkstash/chunkstash/internal/test"
)

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New(t.TempDir())
	rtest.OK(t, c.Init(map[string]string{
		catalog.MetaSchemaVersion: "1",
		catalog.MetaID:            "testrepo",
	}))
	return c
}

func TestMeta(t *testing.T) {
	c := newCatalog(t)

	rtest.OK(t, c.View(func(tx *catalog.Tx) error {
		v, err := tx.Meta(catalog.MetaSchemaVersion)
		rtest.OK(t, err)
		rtest.Equals(t, "1", v)

		_, err = tx.Meta(catalog.MetaGCGeneration)
		rtest.Assert(t, errors.Is(err, catalog.ErrMetaNotFound),
			"expected ErrMetaNotFound, got %v", err)
		return nil
	}))

	rtest.OK(t, c.Update(func(tx *catalog.Tx) error {
		return tx.SetMeta(catalog.MetaGCGeneration, "gen-1")
	}))

	rtest.OK(t, c.View(func(tx *catalog.Tx) error {
		v, err := tx.Meta(catalog.MetaGCGeneration)
		rtest.OK(t, err)
		rtest.Equals(t, "gen-1", v)
		return nil
	}))
}

func TestAddLookupRemoveItem(t *testing.T) {
	c := newCatalog(t)

	var id1, id2 int64
	rtest.OK(t, c.Update(func(tx *catalog.Tx) error {
		var err error
		id1, err = tx.AddItem([]byte("first"))
		rtest.OK(t, err)
		id2, err = tx.AddItem([]byte("second"))
		rtest.OK(t, err)
		return nil
	}))

	rtest.Equals(t, int64(1), id1)
	rtest.Equals(t, int64(2), id2)

	rtest.OK(t, c.View(func(tx *catalog.Tx) error {
		blob, ok, err := tx.Item(id1)
		rtest.OK(t, err)
		rtest.Assert(t, ok, "item %d missing", id1)
		rtest.Equals(t, []byte("first"), blob)

		_, ok, err = tx.Item(999)
		rtest.OK(t, err)
		rtest.Assert(t, !ok, "lookup of absent id succeeded")
		return nil
	}))

	rtest.OK(t, c.Update(func(tx *catalog.Tx) error {
		ok, err := tx.RemoveItem(id1)
		rtest.OK(t, err)
		rtest.Assert(t, ok, "remove of existing item reported not found")

		ok, err = tx.RemoveItem(id1)
		rtest.OK(t, err)
		rtest.Assert(t, !ok, "second remove of the same item succeeded")
		return nil
	}))

	// Ids are never reused, also after a removal.
	var id3 int64
	rtest.OK(t, c.Update(func(tx *catalog.Tx) error {
		var err error
		id3, err = tx.AddItem([]byte("third"))
		return err
	}))
	rtest.Equals(t, int64(3), id3)
}

func TestWalkItems(t *testing.T) {
	c := newCatalog(t)

	const n = 257 // forces several batches plus a partial one
	want := make([]catalog.Row, 0, n)
	rtest.OK(t, c.Update(func(tx *catalog.Tx) error {
		for i := 0; i < n; i++ {
			blob := []byte{byte(i), byte(i >> 8)}
			id, err := tx.AddItem(blob)
			if err != nil {
				return err
			}
			want = append(want, catalog.Row{ID: id, Blob: blob})
		}
		return nil
	}))

	var got []catalog.Row
	batches := 0
	rtest.OK(t, c.View(func(tx *catalog.Tx) error {
		return tx.WalkItems(func(batch []catalog.Row) error {
			rtest.Assert(t, len(batch) > 0, "callback invoked with an empty batch")
			batches++
			got = append(got, batch...)
			return nil
		})
	}))

	rtest.Assert(t, batches >= 3, "expected multiple batches, got %d", batches)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("walked items differ (-want +got):\n%s", diff)
	}
}

func TestWalkEmpty(t *testing.T) {
	c := newCatalog(t)

	rtest.OK(t, c.View(func(tx *catalog.Tx) error {
		return tx.WalkItems(func(batch []catalog.Row) error {
			t.Fatal("callback invoked on an empty catalog")
			return nil
		})
	}))
}

func TestSequentialHandles(t *testing.T) {
	dir := t.TempDir()
	c1 := catalog.New(dir)
	rtest.OK(t, c1.Init(map[string]string{catalog.MetaSchemaVersion: "1"}))

	// A second handle over the same directory sees committed state once
	// the first handle's transaction is done.
	c2 := catalog.New(dir)
	rtest.OK(t, c2.View(func(tx *catalog.Tx) error {
		v, err := tx.Meta(catalog.MetaSchemaVersion)
		rtest.OK(t, err)
		rtest.Equals(t, "1", v)
		return nil
	}))
}
