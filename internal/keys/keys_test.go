package keys_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/keys"
	rtest "github.com/chunkstash/chunkstash/internal/test"
)

func TestMain(m *testing.M) {
	crypto.Init()
	os.Exit(m.Run())
}

func TestSaveLoad(t *testing.T) {
	k, err := keys.New()
	rtest.OK(t, err)
	rtest.Assert(t, k.HashKey != k.DataKey, "hash and data key are identical")

	path := filepath.Join(t.TempDir(), "backup.key")
	rtest.OK(t, k.Save(path))

	got, err := keys.Load(path)
	rtest.OK(t, err)
	if diff := cmp.Diff(k, got); diff != "" {
		t.Fatalf("key changed through save/load (-want +got):\n%s", diff)
	}
}

func TestSaveRefusesOverwrite(t *testing.T) {
	k, err := keys.New()
	rtest.OK(t, err)

	path := filepath.Join(t.TempDir(), "backup.key")
	rtest.OK(t, k.Save(path))
	rtest.NotOK(t, k.Save(path))
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.key")
	rtest.OK(t, os.WriteFile(path, []byte("not a key file"), 0600))

	_, err := keys.Load(path)
	rtest.NotOK(t, err)
}
