package chunkstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/debug"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/fsutil"
)

const (
	// DefaultWorkers is the write worker pool size used when the caller
	// does not configure one.
	DefaultWorkers = 4

	// seenCacheSize bounds the number of addresses the engine remembers
	// as already present, so that re-adding recently stored content does
	// not hit the filesystem at all.
	seenCacheSize = 1 << 16

	dirMode  = 0700
	fileMode = 0600
)

// Local stores each chunk as a file named by its hex address, sharded
// into 256 subdirectories by the first address byte. Writes go through a
// bounded worker pool; Sync drains the pool and fsyncs the directories
// that were touched.
type Local struct {
	dir     string
	workers int

	group *errgroup.Group

	mu        sync.Mutex
	dirtyDirs map[string]struct{}

	seen *lru.Cache[address.Address, struct{}]
}

var _ Engine = &Local{}

// NewLocal opens a local engine rooted at dir, which must already exist.
// workers bounds the number of concurrent chunk writes.
func NewLocal(dir string, workers int) (*Local, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	if fi, err := os.Stat(dir); err != nil {
		return nil, errors.WithStack(err)
	} else if !fi.IsDir() {
		return nil, errors.Errorf("chunk store path %v is not a directory", dir)
	}

	seen, err := lru.New[address.Address, struct{}](seenCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	s := &Local{
		dir:       dir,
		workers:   workers,
		dirtyDirs: make(map[string]struct{}),
		seen:      seen,
	}
	s.group = s.newGroup()
	return s, nil
}

func (s *Local) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	return g
}

// chunkPath returns the file name for addr.
func (s *Local) chunkPath(addr address.Address) string {
	name := addr.String()
	return filepath.Join(s.dir, name[:2], name)
}

// AddChunk schedules data for storage at addr. The caller must not modify
// data afterwards. Write errors are deferred and reported by Sync.
func (s *Local) AddChunk(addr address.Address, data []byte) error {
	if _, ok := s.seen.Get(addr); ok {
		return nil
	}

	s.group.Go(func() error {
		return s.writeChunk(addr, data)
	})
	return nil
}

func (s *Local) writeChunk(addr address.Address, data []byte) error {
	p := s.chunkPath(addr)
	if _, err := os.Stat(p); err == nil {
		// First write wins, the content already present stays.
		s.seen.Add(addr, struct{}{})
		return nil
	}

	dir := filepath.Dir(p)
	tmpname := filepath.Base(p) + "-tmp-"
	f, err := os.CreateTemp(dir, tmpname)
	if errors.Is(err, os.ErrNotExist) {
		// Shard directory is missing, create it and try again.
		if mkdirErr := os.MkdirAll(dir, dirMode); mkdirErr != nil {
			return errors.WithStack(mkdirErr)
		}
		f, err = os.CreateTemp(dir, tmpname)
	}
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		if err != nil {
			_ = f.Close() // double close is harmless
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return errors.WithStack(err)
	}
	if err = f.Sync(); err != nil {
		return errors.WithStack(err)
	}
	if err = f.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err = os.Rename(f.Name(), p); err != nil {
		return errors.WithStack(err)
	}

	debug.Log("wrote chunk %v (%d bytes)", addr.Str(), len(data))

	s.mu.Lock()
	s.dirtyDirs[dir] = struct{}{}
	s.mu.Unlock()
	s.seen.Add(addr, struct{}{})
	return nil
}

// GetChunk reads the chunk stored at addr.
func (s *Local) GetChunk(addr address.Address) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(addr))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrChunkNotFound, "chunk %v", addr.Str())
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// Sync waits for all pending writes and commits them durably. It returns
// the first error any buffered write encountered; chunks whose writes
// completed stay valid regardless.
func (s *Local) Sync() error {
	err := s.group.Wait()
	s.group = s.newGroup()

	s.mu.Lock()
	dirty := s.dirtyDirs
	s.dirtyDirs = make(map[string]struct{})
	s.mu.Unlock()

	if err != nil {
		return err
	}

	for dir := range dirty {
		if err := fsutil.SyncDir(dir); err != nil {
			return err
		}
	}
	if len(dirty) > 0 {
		if err := fsutil.SyncDir(s.dir); err != nil {
			return err
		}
	}
	return nil
}

// GC deletes every stored chunk whose address the predicate rejects. The
// sweep operates on a point-in-time directory listing; files that do not
// parse as chunk addresses are preserved, any ambiguity resolves to
// keeping data.
func (s *Local) GC(reachable func(address.Address) bool) (Stats, error) {
	if err := s.Sync(); err != nil {
		return Stats{}, err
	}

	shards, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, errors.WithStack(err)
	}

	var (
		statsMu sync.Mutex
		stats   Stats
	)

	g := &errgroup.Group{}
	g.SetLimit(s.workers)

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.dir, shard.Name())

		g.Go(func() error {
			entries, err := os.ReadDir(shardDir)
			if err != nil {
				return errors.WithStack(err)
			}

			var deleted, freed, remaining = 0, uint64(0), uint64(0)
			for _, entry := range entries {
				if entry.IsDir() || strings.Contains(entry.Name(), "-tmp-") {
					continue
				}
				addr, err := address.Parse(entry.Name())
				if err != nil {
					continue
				}

				info, err := entry.Info()
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					return errors.WithStack(err)
				}

				if reachable(addr) {
					remaining += uint64(info.Size())
					continue
				}

				if err := os.Remove(filepath.Join(shardDir, entry.Name())); err != nil {
					return errors.WithStack(err)
				}
				debug.Log("swept chunk %v (%d bytes)", addr.Str(), info.Size())
				deleted++
				freed += uint64(info.Size())
			}

			statsMu.Lock()
			stats.ChunksDeleted += deleted
			stats.BytesFreed += freed
			stats.BytesRemaining += remaining
			statsMu.Unlock()
			return nil
		})
	}

	err = g.Wait()

	// Deleted addresses must not linger in the seen cache or a later
	// AddChunk for them would be skipped.
	s.seen.Purge()

	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Close drains pending writes.
func (s *Local) Close() error {
	return s.Sync()
}
