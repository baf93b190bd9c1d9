package chunkstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/chunkstore"
	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/errors"
	rtest "github.com/chunkstash/chunkstash/internal/test"
)

func TestMain(m *testing.M) {
	crypto.Init()
	os.Exit(m.Run())
}

func newLocal(t *testing.T) *chunkstore.Local {
	t.Helper()
	s, err := chunkstore.NewLocal(t.TempDir(), 2)
	rtest.OK(t, err)
	return s
}

func testAddr(b byte) address.Address {
	var a address.Address
	a[0] = b
	a[address.Size-1] = b
	return a
}

func TestAddGetChunk(t *testing.T) {
	s := newLocal(t)

	addr := testAddr(1)
	data := rtest.Random(1, 4096)

	rtest.OK(t, s.AddChunk(addr, data))
	rtest.OK(t, s.Sync())

	got, err := s.GetChunk(addr)
	rtest.OK(t, err)
	rtest.Equals(t, data, got)

	rtest.OK(t, s.Close())
}

func TestGetChunkNotFound(t *testing.T) {
	s := newLocal(t)

	_, err := s.GetChunk(testAddr(42))
	rtest.Assert(t, errors.Is(err, chunkstore.ErrChunkNotFound),
		"expected ErrChunkNotFound, got %v", err)
}

func TestAddChunkFirstWriteWins(t *testing.T) {
	dir := t.TempDir()
	s, err := chunkstore.NewLocal(dir, 2)
	rtest.OK(t, err)

	addr := address.Address{} // the null sentinel works like any address here

	rtest.OK(t, s.AddChunk(addr, []byte{1}))
	rtest.OK(t, s.Sync())
	rtest.OK(t, s.AddChunk(addr, []byte{2}))
	rtest.OK(t, s.Sync())

	got, err := s.GetChunk(addr)
	rtest.OK(t, err)
	rtest.Equals(t, []byte{1}, got)
	rtest.OK(t, s.Close())

	// A fresh engine over the same directory must still not rewrite.
	s2, err := chunkstore.NewLocal(dir, 2)
	rtest.OK(t, err)
	rtest.OK(t, s2.AddChunk(addr, []byte{3}))
	rtest.OK(t, s2.Sync())

	got, err = s2.GetChunk(addr)
	rtest.OK(t, err)
	rtest.Equals(t, []byte{1}, got)
	rtest.OK(t, s2.Close())
}

func TestConcurrentAdds(t *testing.T) {
	s := newLocal(t)

	const n = 100
	payloads := make(map[address.Address][]byte, n)
	for i := 0; i < n; i++ {
		data := rtest.Random(i, 512+i)
		addr := address.Compute(data, crypto.NewContext("testdata"), nil)
		payloads[addr] = data
		rtest.OK(t, s.AddChunk(addr, data))
	}
	rtest.OK(t, s.Sync())

	for addr, data := range payloads {
		got, err := s.GetChunk(addr)
		rtest.OK(t, err)
		rtest.Equals(t, data, got)
	}
	rtest.OK(t, s.Close())
}

func TestGC(t *testing.T) {
	s := newLocal(t)

	keep := make(map[address.Address][]byte)
	var dropSize uint64
	var keepSize uint64

	for i := 0; i < 20; i++ {
		data := rtest.Random(i, 1000+i)
		addr := address.Compute(data, crypto.NewContext("testdata"), nil)
		rtest.OK(t, s.AddChunk(addr, data))
		if i%2 == 0 {
			keep[addr] = data
			keepSize += uint64(len(data))
		} else {
			dropSize += uint64(len(data))
		}
	}
	rtest.OK(t, s.Sync())

	stats, err := s.GC(func(addr address.Address) bool {
		_, ok := keep[addr]
		return ok
	})
	rtest.OK(t, err)
	rtest.Equals(t, 10, stats.ChunksDeleted)
	rtest.Equals(t, dropSize, stats.BytesFreed)
	rtest.Equals(t, keepSize, stats.BytesRemaining)

	for addr, data := range keep {
		got, err := s.GetChunk(addr)
		rtest.OK(t, err)
		rtest.Equals(t, data, got)
	}

	// Sweeping everything empties the store, and a chunk deleted by the
	// sweep can be stored again afterwards.
	stats, err = s.GC(func(address.Address) bool { return false })
	rtest.OK(t, err)
	rtest.Equals(t, 10, stats.ChunksDeleted)
	rtest.Equals(t, uint64(0), stats.BytesRemaining)

	for addr := range keep {
		rtest.OK(t, s.AddChunk(addr, keep[addr]))
	}
	rtest.OK(t, s.Sync())
	for addr, data := range keep {
		got, err := s.GetChunk(addr)
		rtest.OK(t, err)
		rtest.Equals(t, data, got)
	}
	rtest.OK(t, s.Close())
}

func TestGCPreservesForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := chunkstore.NewLocal(dir, 2)
	rtest.OK(t, err)

	foreign := filepath.Join(dir, "aa")
	rtest.OK(t, os.MkdirAll(foreign, 0700))
	rtest.OK(t, os.WriteFile(filepath.Join(foreign, "not-an-address"), []byte("x"), 0600))

	stats, err := s.GC(func(address.Address) bool { return false })
	rtest.OK(t, err)
	rtest.Equals(t, 0, stats.ChunksDeleted)

	_, err = os.Stat(filepath.Join(foreign, "not-an-address"))
	rtest.OK(t, err)
	rtest.OK(t, s.Close())
}

func TestMemEngine(t *testing.T) {
	m := chunkstore.NewMem()

	addr := testAddr(7)
	rtest.OK(t, m.AddChunk(addr, []byte{1}))
	rtest.OK(t, m.Sync())
	rtest.OK(t, m.AddChunk(addr, []byte{2}))
	rtest.OK(t, m.Sync())

	got, err := m.GetChunk(addr)
	rtest.OK(t, err)
	rtest.Equals(t, []byte{1}, got)

	_, err = m.GetChunk(testAddr(8))
	rtest.Assert(t, errors.Is(err, chunkstore.ErrChunkNotFound), "expected ErrChunkNotFound, got %v", err)

	stats, err := m.GC(func(address.Address) bool { return false })
	rtest.OK(t, err)
	rtest.Equals(t, 1, stats.ChunksDeleted)
	rtest.Equals(t, 0, m.Len())
}
