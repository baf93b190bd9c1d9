// Package repository ties the pieces together: it owns the on-disk
// layout, enforces shared versus exclusive access through an advisory
// file lock, manages item records in the catalog, and implements the
// mark-and-sweep garbage collector over the chunk storage engine.
package repository

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/catalog"
	"github.com/chunkstash/chunkstash/internal/chunkstore"
	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/debug"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/fsutil"
	"github.com/chunkstash/chunkstash/internal/htree"
)

// Setup errors. All of them are fatal to the requested operation and are
// surfaced to the caller verbatim.
var (
	ErrAlreadyExists            = errors.New("path already exists, refusing to overwrite it")
	ErrRepoDoesNotExist         = errors.New("repository does not exist")
	ErrNotInitializedProperly   = errors.New("repository was not initialized properly")
	ErrUnsupportedSchemaVersion = errors.New("repository is at an unsupported schema version")

	// ErrExclusiveLockRequired is the policy error for garbage collection
	// attempted on a handle that was not opened exclusively.
	ErrExclusiveLockRequired = errors.New("garbage collection requires the repository to be open in exclusive mode")
)

// SchemaVersion is the repository schema this implementation understands.
const SchemaVersion = 1

const (
	dataDirName   = "data"
	dbDirName     = "db"
	lockFileName  = "lock"
	initTmpSuffix = ".chunkstash-init-tmp"
)

// OpenMode selects shared or exclusive access to a repository.
type OpenMode int

const (
	// OpenShared admits any number of concurrent shared handles, for
	// normal reading and writing of items and chunks.
	OpenShared OpenMode = iota
	// OpenExclusive excludes every other handle and is required for
	// garbage collection.
	OpenExclusive
)

// StorageEngineSpec selects and configures the chunk storage engine. It
// is recorded at init time and decoded on every open.
type StorageEngineSpec struct {
	Kind    string `json:"kind"`
	Workers int    `json:"workers,omitempty"`
}

const engineKindLocal = "local"

// LocalEngineSpec returns the spec for the local filesystem engine.
func LocalEngineSpec() StorageEngineSpec {
	return StorageEngineSpec{Kind: engineKindLocal}
}

// Repo is an open repository handle. It owns the held lock for its
// lifetime; Close releases it.
type Repo struct {
	path string
	mode OpenMode
	lock *fileLock
	cat  *catalog.Catalog
}

// initCommitHook runs right before the staging directory is renamed into
// place. Overridden by tests to simulate an interrupted init.
var initCommitHook func() error

// Init builds a new repository at path. The layout is assembled in a
// sibling staging directory and atomically renamed into place, so a half
// built repository is never visible at the target path, even across a
// crash. It fails with ErrAlreadyExists when the target or the staging
// path exists.
func Init(path string, spec StorageEngineSpec) (err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.WithStack(err)
	}

	if fsutil.Exists(abs) {
		return errors.Wrapf(ErrAlreadyExists, "path %v", abs)
	}
	tmp := abs + initTmpSuffix
	if fsutil.Exists(tmp) {
		return errors.Wrapf(ErrAlreadyExists, "staging path %v", tmp)
	}

	if err := os.Mkdir(tmp, 0700); err != nil {
		return errors.WithStack(err)
	}
	// A failed init must not leave the staging directory behind, the
	// next attempt has to be able to start over.
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err = os.Mkdir(filepath.Join(tmp, dataDirName), 0700); err != nil {
		return errors.WithStack(err)
	}
	if err = fsutil.CreateEmptyFile(filepath.Join(tmp, lockFileName)); err != nil {
		return err
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return errors.Wrap(err, "encoding storage engine spec")
	}

	if err = os.Mkdir(filepath.Join(tmp, dbDirName), 0700); err != nil {
		return errors.WithStack(err)
	}
	err = catalog.New(filepath.Join(tmp, dbDirName)).Init(map[string]string{
		catalog.MetaSchemaVersion: strconv.Itoa(SchemaVersion),
		catalog.MetaID:            crypto.RandomToken(),
		catalog.MetaGCGeneration:  crypto.RandomToken(),
		catalog.MetaStorageEngine: string(specJSON),
	})
	if err != nil {
		return err
	}

	if err = fsutil.SyncDir(tmp); err != nil {
		return err
	}

	if initCommitHook != nil {
		if err = initCommitHook(); err != nil {
			return err
		}
	}

	if err = os.Rename(tmp, abs); err != nil {
		return errors.WithStack(err)
	}
	return fsutil.SyncDir(filepath.Dir(abs))
}

// checkSane verifies the expected layout is present.
func checkSane(path string) error {
	if !fsutil.Exists(path) {
		return errors.Wrapf(ErrRepoDoesNotExist, "path %v", path)
	}
	for _, name := range []string{dataDirName, dbDirName, lockFileName} {
		if !fsutil.Exists(filepath.Join(path, name)) {
			return errors.Wrapf(ErrNotInitializedProperly, "missing %v", name)
		}
	}
	return nil
}

// Open opens the repository at path, acquiring the repository lock in
// the requested mode before returning a usable handle. Opening blocks
// until the lock is available.
func Open(path string, mode OpenMode) (*Repo, error) {
	if err := checkSane(path); err != nil {
		return nil, err
	}

	var (
		lock *fileLock
		err  error
	)
	switch mode {
	case OpenShared:
		lock, err = lockShared(filepath.Join(path, lockFileName))
	case OpenExclusive:
		lock, err = lockExclusive(filepath.Join(path, lockFileName))
	default:
		return nil, errors.Errorf("invalid open mode %d", mode)
	}
	if err != nil {
		return nil, err
	}

	// The lock must not leak when any later step fails.
	success := false
	defer func() {
		if !success {
			_ = lock.Close()
		}
	}()

	cat := catalog.New(filepath.Join(path, dbDirName))

	var version string
	err = cat.View(func(tx *catalog.Tx) error {
		var err error
		version, err = tx.Meta(catalog.MetaSchemaVersion)
		return err
	})
	if errors.Is(err, catalog.ErrMetaNotFound) {
		return nil, errors.Wrap(ErrNotInitializedProperly, "schema version missing")
	}
	if err != nil {
		return nil, err
	}

	v, err := strconv.Atoi(version)
	if err != nil || v != SchemaVersion {
		return nil, errors.Wrapf(ErrUnsupportedSchemaVersion, "stored version %q", version)
	}

	debug.Log("opened repository %v (mode %d)", path, mode)
	success = true
	return &Repo{path: path, mode: mode, lock: lock, cat: cat}, nil
}

// Close releases the repository lock. The handle is unusable afterwards.
func (r *Repo) Close() error {
	return r.lock.Close()
}

// Mode returns the mode the repository was opened with.
func (r *Repo) Mode() OpenMode {
	return r.mode
}

func (r *Repo) meta(name string) (string, error) {
	var value string
	err := r.cat.View(func(tx *catalog.Tx) error {
		var err error
		value, err = tx.Meta(name)
		return err
	})
	return value, err
}

// ID returns the random token identifying this repository.
func (r *Repo) ID() (string, error) {
	return r.meta(catalog.MetaID)
}

// GCGeneration returns the current GC generation token.
func (r *Repo) GCGeneration() (string, error) {
	return r.meta(catalog.MetaGCGeneration)
}

// StorageEngine opens the chunk storage engine the repository was
// initialized with. The caller owns the returned engine and must close
// it.
func (r *Repo) StorageEngine() (chunkstore.Engine, error) {
	specStr, err := r.meta(catalog.MetaStorageEngine)
	if err != nil {
		return nil, err
	}

	var spec StorageEngineSpec
	if err := json.Unmarshal([]byte(specStr), &spec); err != nil {
		return nil, errors.Wrap(err, "decoding storage engine spec")
	}

	switch spec.Kind {
	case engineKindLocal:
		return chunkstore.NewLocal(filepath.Join(r.path, dataDirName), spec.Workers)
	default:
		return nil, errors.Errorf("unsupported storage engine kind %q", spec.Kind)
	}
}

// AddItem records metadata as a new item and returns the assigned id.
func (r *Repo) AddItem(md ItemMetadata) (int64, error) {
	blob, err := cbor.Marshal(md)
	if err != nil {
		return 0, errors.Wrap(err, "encoding item metadata")
	}

	var id int64
	err = r.cat.Update(func(tx *catalog.Tx) error {
		id, err = tx.AddItem(blob)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LookupItemByID returns the item with the given id, or nil when no such
// item exists. A stored record that cannot be decoded is an error.
func (r *Repo) LookupItemByID(id int64) (*Item, error) {
	var item *Item
	err := r.cat.View(func(tx *catalog.Tx) error {
		blob, ok, err := tx.Item(id)
		if err != nil || !ok {
			return err
		}

		var md ItemMetadata
		if err := cbor.Unmarshal(blob, &md); err != nil {
			return errors.Wrapf(err, "item %d metadata is corrupt", id)
		}
		item = &Item{ID: id, Metadata: md}
		return nil
	})
	return item, err
}

// RemoveItem deletes the item with the given id from the catalog. The
// chunks it referenced stay until the next garbage collection. ok
// reports whether the item existed.
func (r *Repo) RemoveItem(id int64) (ok bool, err error) {
	err = r.cat.Update(func(tx *catalog.Tx) error {
		ok, err = tx.RemoveItem(id)
		return err
	})
	return ok, err
}

// WalkAllItems streams all items to fn in bounded batches. Batches are
// never empty and a final partial batch is still delivered.
func (r *Repo) WalkAllItems(fn func(items []Item) error) error {
	return r.cat.View(func(tx *catalog.Tx) error {
		return tx.WalkItems(func(rows []catalog.Row) error {
			items := make([]Item, 0, len(rows))
			for _, row := range rows {
				var md ItemMetadata
				if err := cbor.Unmarshal(row.Blob, &md); err != nil {
					return errors.Wrapf(err, "item %d metadata is corrupt", row.ID)
				}
				items = append(items, Item{ID: row.ID, Metadata: md})
			}
			return fn(items)
		})
	})
}

// GC reclaims every chunk no retained item reaches. It fails before
// doing any work unless the repository is open exclusive.
//
// The algorithm is mark then sweep with a durable checkpoint in between:
// inside one catalog transaction a fresh GC generation token is written
// and every item's hash tree is walked into the reachable set; the
// transaction is committed; only then is the engine's sweep invoked. A
// crash after the commit but before the sweep finishes leaves the
// repository merely due for another GC pass, never missing live data.
func (r *Repo) GC() (chunkstore.Stats, error) {
	if r.mode != OpenExclusive {
		return chunkstore.Stats{}, ErrExclusiveLockRequired
	}

	engine, err := r.StorageEngine()
	if err != nil {
		return chunkstore.Stats{}, err
	}
	defer func() { _ = engine.Close() }()

	reachable := make(map[address.Address]struct{})

	err = r.cat.Update(func(tx *catalog.Tx) error {
		if err := tx.SetMeta(catalog.MetaGCGeneration, crypto.RandomToken()); err != nil {
			return err
		}

		return tx.WalkItems(func(rows []catalog.Row) error {
			for _, row := range rows {
				var md ItemMetadata
				if err := cbor.Unmarshal(row.Blob, &md); err != nil {
					return errors.Wrapf(err, "item %d metadata is corrupt", row.ID)
				}

				if _, ok := reachable[md.Address]; ok {
					continue
				}

				tr := htree.NewReader(engine, md.TreeHeight, md.Address)
				for {
					e, ok := tr.Next()
					if !ok {
						break
					}
					if _, seen := reachable[e.Addr]; seen {
						continue
					}
					reachable[e.Addr] = struct{}{}
					if e.Height > 0 {
						// Any node that cannot be read or parsed aborts
						// the whole run: an under-marked reachable set
						// must never feed the sweep.
						if err := tr.Push(e.Height-1, e.Addr); err != nil {
							return err
						}
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return chunkstore.Stats{}, err
	}

	// The new generation is durably committed, deletions may begin.
	debug.Log("marked %d reachable addresses, sweeping", len(reachable))

	return engine.GC(func(addr address.Address) bool {
		_, ok := reachable[addr]
		return ok
	})
}
