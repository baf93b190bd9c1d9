// Package archive converts between byte streams and hash trees: Put
// splits a stream into content-defined chunks, seals them and stores
// them through a chunk engine while building the tree, Get walks the
// tree and reassembles the stream.
package archive

import (
	"io"

	"github.com/restic/chunker"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/chunkstore"
	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/debug"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/htree"
	"github.com/chunkstash/chunkstash/internal/keys"
)

// dataContext separates data chunk digests and ciphertexts from every
// other use of the keys.
var dataContext = crypto.NewContext("datachnk")

// dataTag marks sealed data chunk payloads.
const dataTag = 1

// Put stores the contents of r and returns the root address and height
// of the resulting hash tree. Chunks are addressed by the keyed digest of
// their plaintext, so identical content deduplicates under one key, and
// are stored sealed under the data key. Put issues the engine's
// durability barrier before returning.
func Put(engine chunkstore.Engine, key *keys.Key, r io.Reader) (address.Address, int, error) {
	tw := htree.NewWriter(engine, &key.HashKey)

	cnkr := chunker.New(r, key.ChunkerPolynomial)
	buf := make([]byte, chunker.MaxSize)

	chunks := 0
	for {
		c, err := cnkr.Next(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return address.Address{}, 0, errors.Wrap(err, "chunking input")
		}

		if err := addChunk(engine, tw, key, c.Data); err != nil {
			return address.Address{}, 0, err
		}
		chunks++
	}

	// An empty stream is still representable: it becomes a single empty
	// chunk so every item has a root.
	if chunks == 0 {
		if err := addChunk(engine, tw, key, nil); err != nil {
			return address.Address{}, 0, err
		}
	}

	root, height, err := tw.Finish()
	if err != nil {
		return address.Address{}, 0, err
	}

	if err := engine.Sync(); err != nil {
		return address.Address{}, 0, err
	}

	debug.Log("stored stream as tree %v height %d (%d chunks)", root.Str(), height, chunks)
	return root, height, nil
}

func addChunk(engine chunkstore.Engine, tw *htree.Writer, key *keys.Key, data []byte) error {
	addr := address.Compute(data, dataContext, &key.HashKey)

	// Seal copies data into a fresh buffer, so the chunker is free to
	// reuse its buffer while the engine's workers still hold the
	// ciphertext.
	ct := crypto.Seal(data, dataTag, dataContext, &key.DataKey)
	if err := engine.AddChunk(addr, ct); err != nil {
		return errors.Wrapf(err, "storing chunk %v", addr.Str())
	}
	return tw.Add(addr)
}

// Get reassembles the stream stored under (root, height) into w. Every
// leaf is decrypted and its plaintext digest checked against the address
// it was fetched under.
func Get(engine chunkstore.Engine, key *keys.Key, root address.Address, height int, w io.Writer) error {
	tr := htree.NewReader(engine, height, root)
	for {
		e, ok := tr.Next()
		if !ok {
			return nil
		}

		if e.Height > 0 {
			if err := tr.Push(e.Height-1, e.Addr); err != nil {
				return err
			}
			continue
		}

		ct, err := engine.GetChunk(e.Addr)
		if err != nil {
			return errors.Wrapf(err, "fetching chunk %v", e.Addr.Str())
		}

		pt, ok := crypto.Open(ct, dataTag, dataContext, &key.DataKey)
		if !ok {
			return errors.Errorf("chunk %v: decryption failed, wrong key or corrupted chunk", e.Addr.Str())
		}

		if address.Compute(pt, dataContext, &key.HashKey) != e.Addr {
			return errors.Errorf("chunk %v: content does not match its address", e.Addr.Str())
		}

		if _, err := w.Write(pt); err != nil {
			return errors.WithStack(err)
		}
	}
}
