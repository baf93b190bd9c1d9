// Package address defines the content address used as the universal key
// for chunks and as the pointer between hash tree nodes.
package address

import (
	"encoding/hex"

	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/errors"
)

// Size is the size of an Address, in bytes.
const Size = crypto.DigestSize

// Address references content within a repository. Equality and map key
// semantics are byte-wise.
type Address [Size]byte

// Compute returns the address for data under the given context and hash
// key. It is deterministic and collision-resistant.
func Compute(data []byte, ctx crypto.Context, key *crypto.Key) Address {
	return Address(crypto.Digest(data, ctx, key))
}

// Parse converts the given hex string to an Address.
func Parse(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, errors.Wrap(err, "hex.DecodeString")
	}

	if len(b) != Size {
		return Address{}, errors.New("invalid length for address")
	}

	addr := Address{}
	copy(addr[:], b)
	return addr, nil
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

const shortStr = 4

// Str returns the shortened string version of a for log messages.
func (a Address) Str() string {
	if a.IsNull() {
		return "[null]"
	}
	return hex.EncodeToString(a[:shortStr])
}

// IsNull returns true iff a only consists of null bytes. The null address
// is a sentinel and does not correspond to any real content.
func (a Address) IsNull() bool {
	var null Address
	return a == null
}

// FromBytes builds an Address from a raw digest. The slice must be
// exactly Size bytes long.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Address{}, errors.Errorf("invalid address length %d", len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}
