// Package chunkstore implements content-addressed chunk storage. Chunks
// are opaque byte payloads identified by their address; storing the same
// address twice is a no-op, the first write wins.
package chunkstore

import (
	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/errors"
)

// ErrChunkNotFound is returned by GetChunk for absent addresses.
var ErrChunkNotFound = errors.New("chunk not found")

// Stats summarizes one sweep of the garbage collector over an engine.
type Stats struct {
	ChunksDeleted  int    `json:"chunks_deleted"`
	BytesFreed     uint64 `json:"bytes_freed"`
	BytesRemaining uint64 `json:"bytes_remaining"`
}

// Engine is a content-addressed chunk store. Implementations must be safe
// for concurrent AddChunk/GetChunk calls on different addresses, and for
// racing AddChunk calls on the same address (at most one write wins and
// no corruption results).
type Engine interface {
	// AddChunk stages data for storage at addr. If content at addr
	// already exists the call succeeds without rewriting it. Writes may
	// be buffered; errors from buffered writes are reported by Sync.
	AddChunk(addr address.Address, data []byte) error

	// GetChunk returns the chunk stored at addr, or an error wrapping
	// ErrChunkNotFound if it is absent.
	GetChunk(addr address.Address) ([]byte, error)

	// Sync is the durability barrier: after it returns without error,
	// every chunk added before the call survives a crash.
	Sync() error

	// GC enumerates a point-in-time listing of the stored chunks and
	// deletes every chunk whose address the predicate rejects. Chunks
	// added after the listing was taken are not touched.
	GC(reachable func(address.Address) bool) (Stats, error)

	// Close flushes pending writes and releases resources.
	Close() error
}
