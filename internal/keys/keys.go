// Package keys implements the key file holding everything needed to
// write to and read from a repository: the content hash key, the data
// chunk key, the key exchange keypair and pre-shared key protecting item
// tags, and the chunking parameters that keep deduplication stable
// across runs.
package keys

import (
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/restic/chunker"

	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/errors"
)

// Key is the contents of a key file.
type Key struct {
	ID                string           `cbor:"id"`
	HashKey           crypto.Key       `cbor:"hash_key"`
	DataKey           crypto.Key       `cbor:"data_key"`
	PublicKey         crypto.PublicKey `cbor:"public_key"`
	SecretKey         crypto.SecretKey `cbor:"secret_key"`
	PSK               crypto.PSK       `cbor:"psk"`
	ChunkerPolynomial chunker.Pol      `cbor:"chunker_polynomial"`
}

// New generates a fresh key.
func New() (*Key, error) {
	pk, sk, err := crypto.KXKeygen()
	if err != nil {
		return nil, err
	}

	pol, err := chunker.RandomPolynomial()
	if err != nil {
		return nil, errors.Wrap(err, "generating chunker polynomial")
	}

	return &Key{
		ID:                crypto.RandomToken()[:16],
		HashKey:           crypto.NewRandomKey(),
		DataKey:           crypto.NewRandomKey(),
		PublicKey:         pk,
		SecretKey:         sk,
		PSK:               crypto.NewPSK(),
		ChunkerPolynomial: pol,
	}, nil
}

// Save writes the key to path. The file must not already exist; a key
// file is never overwritten.
func (k *Key) Save(path string) error {
	buf, err := cbor.Marshal(k)
	if err != nil {
		return errors.Wrap(err, "encoding key")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return errors.WithStack(err)
	}

	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}

// Load reads a key file from path.
func Load(path string) (*Key, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var k Key
	if err := cbor.Unmarshal(buf, &k); err != nil {
		return nil, errors.Wrapf(err, "key file %v is malformed", path)
	}

	if !k.ChunkerPolynomial.Irreducible() {
		return nil, errors.Errorf("key file %v holds an invalid chunker polynomial", path)
	}
	return &k, nil
}
