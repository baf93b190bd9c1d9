// Package catalog is the persistent item-metadata store of a repository:
// a handful of metadata keys plus a table of items keyed by an
// auto-assigned, monotonically increasing id that is never reused.
//
// The store opens its backing database per transaction, so independent
// repository handles (including ones in other processes) serialize
// through the database's directory lock. Lock contention is retried with
// exponential backoff up to a bounded timeout, then reported.
package catalog

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"

	"github.com/chunkstash/chunkstash/internal/debug"
	"github.com/chunkstash/chunkstash/internal/errors"
)

// Metadata keys every repository carries.
const (
	MetaSchemaVersion = "schema-version"
	MetaID            = "id"
	MetaGCGeneration  = "gc-generation"
	MetaStorageEngine = "storage-engine"
)

const (
	// walkBatchSize is the number of items handed to a WalkItems callback
	// at once. A tuning constant, not part of the contract.
	walkBatchSize = 100

	// openTimeout bounds how long a transaction waits for another holder
	// of the database to let go.
	openTimeout = time.Minute
)

var (
	metaPrefix = []byte("meta/")
	itemPrefix = []byte("item/")
	nextIDKey  = []byte("seq/item")
)

// ErrMetaNotFound is returned by Tx.Meta for absent metadata keys.
var ErrMetaNotFound = errors.New("metadata key not found")

// Catalog is a handle to the item store at a directory. It holds no open
// resources between transactions.
type Catalog struct {
	dir string
}

// New returns a Catalog for the database directory dir.
func New(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Init creates the database and stores the initial metadata. The
// directory must not contain a database yet.
func (c *Catalog) Init(meta map[string]string) error {
	return c.Update(func(tx *Tx) error {
		for k, v := range meta {
			if err := tx.SetMeta(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func isLockContention(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Cannot acquire directory lock")
}

// open acquires the database, waiting out other holders.
func (c *Catalog) open() (*badger.DB, error) {
	opts := badger.DefaultOptions(c.dir).
		WithLogger(nil).
		WithSyncWrites(true)

	var db *badger.DB

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openTimeout

	err := backoff.Retry(func() error {
		var err error
		db, err = badger.Open(opts)
		if isLockContention(err) {
			debug.Log("catalog %v is busy, retrying", c.dir)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, bo)

	if err != nil {
		return nil, errors.Wrap(err, "opening catalog")
	}
	return db, nil
}

// Update runs fn in a read-write transaction. The transaction is durably
// committed when fn and Update both return nil.
func (c *Catalog) Update(fn func(tx *Tx) error) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	err = db.Update(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
	if err != nil {
		return err
	}
	return errors.Wrap(db.Sync(), "syncing catalog")
}

// View runs fn in a read-only transaction.
func (c *Catalog) View(fn func(tx *Tx) error) error {
	db, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Tx is one catalog transaction.
type Tx struct {
	txn *badger.Txn
}

// Row is one item record: the assigned id and the opaque metadata blob.
type Row struct {
	ID   int64
	Blob []byte
}

func metaKey(name string) []byte {
	return append(append([]byte(nil), metaPrefix...), name...)
}

func itemKey(id int64) []byte {
	key := append([]byte(nil), itemPrefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return append(key, buf[:]...)
}

// Meta returns the value of the metadata key name, or an error wrapping
// ErrMetaNotFound.
func (tx *Tx) Meta(name string) (string, error) {
	item, err := tx.txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", errors.Wrapf(ErrMetaNotFound, "key %q", name)
	}
	if err != nil {
		return "", errors.WithStack(err)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(val), nil
}

// SetMeta stores value under the metadata key name.
func (tx *Tx) SetMeta(name, value string) error {
	return errors.WithStack(tx.txn.Set(metaKey(name), []byte(value)))
}

// AddItem inserts blob as a new item and returns its assigned id. Ids are
// monotonic and never reused, also across removals.
func (tx *Tx) AddItem(blob []byte) (int64, error) {
	var next int64 = 1

	seq, err := tx.txn.Get(nextIDKey)
	switch {
	case err == nil:
		val, err := seq.ValueCopy(nil)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		if len(val) != 8 {
			return 0, errors.Errorf("corrupt item id sequence (%d bytes)", len(val))
		}
		next = int64(binary.BigEndian.Uint64(val))
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, errors.WithStack(err)
	}

	if err := tx.txn.Set(itemKey(next), blob); err != nil {
		return 0, errors.WithStack(err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next+1))
	if err := tx.txn.Set(nextIDKey, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}

	debug.Log("added item %d (%d bytes)", next, len(blob))
	return next, nil
}

// Item returns the blob stored for id. ok is false when no such item
// exists.
func (tx *Tx) Item(id int64) (blob []byte, ok bool, err error) {
	item, err := tx.txn.Get(itemKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}

	blob, err = item.ValueCopy(nil)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	return blob, true, nil
}

// RemoveItem deletes the item with the given id. ok reports whether it
// existed.
func (tx *Tx) RemoveItem(id int64) (ok bool, err error) {
	if _, err := tx.txn.Get(itemKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.WithStack(err)
	}

	if err := tx.txn.Delete(itemKey(id)); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// WalkItems streams all items to fn in batches, ordered by id. Batches
// are never empty and a final partial batch is still delivered.
func (tx *Tx) WalkItems(fn func(batch []Row) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = itemPrefix

	it := tx.txn.NewIterator(opts)
	defer it.Close()

	var batch []Row
	for it.Seek(itemPrefix); it.ValidForPrefix(itemPrefix); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) != len(itemPrefix)+8 {
			return errors.Errorf("corrupt item key %q", key)
		}
		id := int64(binary.BigEndian.Uint64(key[len(itemPrefix):]))

		blob, err := item.ValueCopy(nil)
		if err != nil {
			return errors.WithStack(err)
		}

		batch = append(batch, Row{ID: id, Blob: blob})
		if len(batch) >= walkBatchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = nil
		}
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
