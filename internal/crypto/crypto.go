// Package crypto wraps the primitives the repository relies on: keyed
// digests for content addressing, authenticated encryption for chunk and
// tag payloads, and an anonymous key exchange for item metadata. All
// functions operate on fixed-size buffers and fail closed.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// DigestSize is the size of a content digest, in bytes.
	DigestSize = 32

	// KeySize is the size of digest and secretbox keys, in bytes.
	KeySize = 32

	// ContextSize is the size of the domain-separation context bound to
	// every digest and ciphertext.
	ContextSize = 8

	// HeaderSize is the number of header bytes prepended to a ciphertext
	// by Seal (the random nonce).
	HeaderSize = chacha20poly1305.NonceSizeX

	// Overhead is the number of bytes a plaintext grows by when sealed.
	Overhead = HeaderSize + chacha20poly1305.Overhead
)

// Key is a symmetric key, used both for keyed digests and for sealing.
type Key [KeySize]byte

// Context separates the uses of a key from each other. Two digests or
// ciphertexts made with the same key but different contexts are unrelated.
type Context [ContextSize]byte

// NewContext converts an eight character string into a Context.
func NewContext(s string) Context {
	if len(s) != ContextSize {
		panic(fmt.Sprintf("crypto: context %q must be exactly %d bytes", s, ContextSize))
	}
	var ctx Context
	copy(ctx[:], s)
	return ctx
}

var initOnce sync.Once

// Init prepares the package for use and must be called once at process
// start, before any other function in this package. Calling it again is a
// no-op.
func Init() {
	initOnce.Do(func() {
		// Fail early and loudly if the system RNG is unusable, nothing
		// in this package can operate safely without it.
		var probe [1]byte
		if _, err := io.ReadFull(rand.Reader, probe[:]); err != nil {
			panic("crypto: system random generator unavailable: " + err.Error())
		}
	})
}

// RandomBytes returns n bytes from the system random generator. It panics
// when the generator fails, there is no safe way to continue without it.
func RandomBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return buf
}

// RandomToken returns a fresh random hex token, suitable as a repository
// id or GC generation marker.
func RandomToken() string {
	return hex.EncodeToString(RandomBytes(32))
}

// NewRandomKey returns a new random symmetric key.
func NewRandomKey() Key {
	var k Key
	copy(k[:], RandomBytes(KeySize))
	return k
}

// Digest computes the keyed BLAKE2b-256 digest of msg bound to ctx. A nil
// key yields an unkeyed digest.
func Digest(msg []byte, ctx Context, key *Key) [DigestSize]byte {
	var kb []byte
	if key != nil {
		kb = key[:]
	}

	h, err := blake2b.New256(kb)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(ctx[:])
	_, _ = h.Write(msg)

	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// additionalData binds the message tag and context into the AEAD.
func additionalData(tag uint64, ctx Context) []byte {
	ad := make([]byte, ContextSize+8)
	copy(ad, ctx[:])
	binary.BigEndian.PutUint64(ad[ContextSize:], tag)
	return ad
}

// Seal encrypts and authenticates pt under key, binding tag and ctx. The
// returned ciphertext carries a random nonce header of HeaderSize bytes
// and is len(pt)+Overhead bytes long.
func Seal(pt []byte, tag uint64, ctx Context, key *Key) []byte {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		panic(err)
	}

	out := make([]byte, HeaderSize, len(pt)+Overhead)
	copy(out, RandomBytes(HeaderSize))
	return aead.Seal(out, out[:HeaderSize], pt, additionalData(tag, ctx))
}

// Open decrypts a ciphertext produced by Seal. It returns ok == false when
// the ciphertext is truncated, was made under a different key, tag or
// context, or was modified. A failed Open is an expected outcome (wrong
// key), not a program error.
func Open(ct []byte, tag uint64, ctx Context, key *Key) (pt []byte, ok bool) {
	if len(ct) < Overhead {
		return nil, false
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		panic(err)
	}

	pt, err = aead.Open(nil, ct[:HeaderSize], ct[HeaderSize:], additionalData(tag, ctx))
	if err != nil {
		return nil, false
	}
	return pt, true
}
