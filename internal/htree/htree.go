// Package htree encodes an ordered sequence of content addresses as a
// multi-level hash tree whose nodes are themselves chunks. A tree is
// identified by its root address and height: height 0 roots reference a
// data chunk directly, higher roots reference node chunks one level down.
package htree

import (
	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/debug"
	"github.com/chunkstash/chunkstash/internal/errors"
)

// Branching is the number of child addresses a full tree node holds.
const Branching = 128

// maxNodeSize is the serialized size of a full node chunk.
const maxNodeSize = Branching * address.Size

// nodeContext separates tree node addresses from data chunk addresses.
var nodeContext = crypto.NewContext("treenode")

// ChunkSink is where the writer stores finished node chunks.
type ChunkSink interface {
	AddChunk(addr address.Address, data []byte) error
}

// ChunkSource is where the reader fetches node chunks from.
type ChunkSource interface {
	GetChunk(addr address.Address) ([]byte, error)
}

// Writer accumulates child addresses per level. When a level reaches the
// branching factor its addresses are serialized into a node chunk, stored
// through the sink, and the node's address is pushed one level up.
type Writer struct {
	sink   ChunkSink
	key    *crypto.Key
	levels [][]byte
}

// NewWriter returns a Writer storing node chunks into sink. Node
// addresses are computed with the given hash key.
func NewWriter(sink ChunkSink, key *crypto.Key) *Writer {
	return &Writer{sink: sink, key: key}
}

// Add appends the address of the next data chunk to the tree.
func (w *Writer) Add(addr address.Address) error {
	return w.appendAddr(0, addr)
}

func (w *Writer) appendAddr(level int, addr address.Address) error {
	for len(w.levels) <= level {
		w.levels = append(w.levels, nil)
	}

	w.levels[level] = append(w.levels[level], addr[:]...)
	if len(w.levels[level]) >= maxNodeSize {
		return w.flushLevel(level)
	}
	return nil
}

// flushLevel serializes the pending addresses of level into a node chunk
// and records its address one level up.
func (w *Writer) flushLevel(level int) error {
	payload := w.levels[level]
	w.levels[level] = nil

	nodeAddr := address.Compute(payload, nodeContext, w.key)
	debug.Log("flush level %d node %v (%d children)", level, nodeAddr.Str(), len(payload)/address.Size)

	if err := w.sink.AddChunk(nodeAddr, payload); err != nil {
		return errors.Wrapf(err, "storing tree node %v", nodeAddr.Str())
	}
	return w.appendAddr(level+1, nodeAddr)
}

// Finish flushes all levels bottom-up and returns the root address and
// tree height. At least one address must have been added.
func (w *Writer) Finish() (address.Address, int, error) {
	if len(w.levels) == 0 {
		return address.Address{}, 0, errors.New("hash tree is empty")
	}

	for level := 0; ; level++ {
		top := level == len(w.levels)-1

		if top && len(w.levels[level]) == address.Size {
			root, err := address.FromBytes(w.levels[level])
			return root, level, err
		}

		if len(w.levels[level]) > 0 {
			if err := w.flushLevel(level); err != nil {
				return address.Address{}, 0, err
			}
		}
	}
}

// Entry is one pending node of a traversal.
type Entry struct {
	Height int
	Addr   address.Address
}

// Reader is a restartable depth-first traversal over a hash tree. It
// holds an explicit stack of pending (height, address) pairs; expansion
// is driven by the caller so that consumers like the GC mark phase can
// suppress re-expansion of nodes they have already visited.
type Reader struct {
	src   ChunkSource
	stack []stackLevel
}

type stackLevel struct {
	height int
	buf    []byte
}

// NewReader returns a Reader over the tree rooted at (height, addr).
func NewReader(src ChunkSource, height int, addr address.Address) *Reader {
	r := &Reader{src: src}
	r.stack = append(r.stack, stackLevel{height: height, buf: append([]byte(nil), addr[:]...)})
	return r
}

// Next pops the next pending entry. ok is false once the traversal is
// exhausted.
func (r *Reader) Next() (e Entry, ok bool) {
	for len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		if len(top.buf) == 0 {
			r.stack = r.stack[:len(r.stack)-1]
			continue
		}

		var a address.Address
		copy(a[:], top.buf[:address.Size])
		top.buf = top.buf[address.Size:]
		return Entry{Height: top.height, Addr: a}, true
	}
	return Entry{}, false
}

// Push fetches the node chunk at addr and schedules its children at the
// given height. It fails if the chunk cannot be fetched or its payload is
// not a valid address list; such an error must abort the containing
// operation, an under-read tree is never safe to act on.
func (r *Reader) Push(height int, addr address.Address) error {
	data, err := r.src.GetChunk(addr)
	if err != nil {
		return errors.Wrapf(err, "fetching tree node %v", addr.Str())
	}

	if len(data) == 0 || len(data)%address.Size != 0 {
		return errors.Errorf("tree node %v is malformed: %d bytes is not an address list", addr.Str(), len(data))
	}

	r.stack = append(r.stack, stackLevel{height: height, buf: data})
	return nil
}
