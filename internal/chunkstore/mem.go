package chunkstore

import (
	"sync"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/errors"
)

// Mem is an in-memory Engine, used by tests and as the reference for the
// dedup semantics the on-disk engines must provide.
type Mem struct {
	mu     sync.RWMutex
	chunks map[address.Address][]byte
}

var _ Engine = &Mem{}

// NewMem returns an empty in-memory engine.
func NewMem() *Mem {
	return &Mem{chunks: make(map[address.Address][]byte)}
}

func (m *Mem) AddChunk(addr address.Address, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chunks[addr]; ok {
		return nil
	}
	m.chunks[addr] = append([]byte(nil), data...)
	return nil
}

func (m *Mem) GetChunk(addr address.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.chunks[addr]
	if !ok {
		return nil, errors.Wrapf(ErrChunkNotFound, "chunk %v", addr.Str())
	}
	return append([]byte(nil), data...), nil
}

func (m *Mem) Sync() error { return nil }

func (m *Mem) GC(reachable func(address.Address) bool) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	for addr, data := range m.chunks {
		if reachable(addr) {
			stats.BytesRemaining += uint64(len(data))
			continue
		}
		delete(m.chunks, addr)
		stats.ChunksDeleted++
		stats.BytesFreed += uint64(len(data))
	}
	return stats, nil
}

func (m *Mem) Close() error { return nil }

// Len returns the number of stored chunks.
func (m *Mem) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}
