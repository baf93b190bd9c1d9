package archive_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/archive"
	"github.com/chunkstash/chunkstash/internal/chunkstore"
	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/keys"
	rtest "github.com/chunkstash/chunkstash/internal/test"
)

func TestMain(m *testing.M) {
	crypto.Init()
	os.Exit(m.Run())
}

func newKey(t *testing.T) *keys.Key {
	t.Helper()
	k, err := keys.New()
	rtest.OK(t, err)
	return k
}

func TestPutGetRoundTrip(t *testing.T) {
	engine := chunkstore.NewMem()
	key := newKey(t)

	for _, size := range []int{0, 1, 1 << 10, 4 << 20} {
		data := rtest.Random(size, size)

		root, height, err := archive.Put(engine, key, bytes.NewReader(data))
		rtest.OK(t, err)

		var out bytes.Buffer
		rtest.OK(t, archive.Get(engine, key, root, height, &out))
		rtest.Assert(t, bytes.Equal(data, out.Bytes()),
			"stream of size %d did not round trip", size)
	}
}

func TestPutDeduplicates(t *testing.T) {
	engine := chunkstore.NewMem()
	key := newKey(t)

	data := rtest.Random(7, 4<<20)

	root1, height1, err := archive.Put(engine, key, bytes.NewReader(data))
	rtest.OK(t, err)
	stored := engine.Len()

	root2, height2, err := archive.Put(engine, key, bytes.NewReader(data))
	rtest.OK(t, err)

	rtest.Equals(t, root1, root2)
	rtest.Equals(t, height1, height2)
	rtest.Equals(t, stored, engine.Len())
}

func TestGetWrongKey(t *testing.T) {
	engine := chunkstore.NewMem()
	key := newKey(t)

	data := rtest.Random(3, 2048)
	root, height, err := archive.Put(engine, key, bytes.NewReader(data))
	rtest.OK(t, err)

	other := newKey(t)
	other.ChunkerPolynomial = key.ChunkerPolynomial

	var out bytes.Buffer
	err = archive.Get(engine, other, root, height, &out)
	rtest.NotOK(t, err)
}

func TestGetMissingChunk(t *testing.T) {
	engine := chunkstore.NewMem()
	key := newKey(t)

	data := rtest.Random(5, 2048)
	root, height, err := archive.Put(engine, key, bytes.NewReader(data))
	rtest.OK(t, err)

	// Sweep everything away, then the tree is unreadable.
	_, err = engine.GC(func(address.Address) bool { return false })
	rtest.OK(t, err)

	var out bytes.Buffer
	err = archive.Get(engine, key, root, height, &out)
	rtest.NotOK(t, err)
}
