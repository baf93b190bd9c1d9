package repository

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/crypto"
	"github.com/chunkstash/chunkstash/internal/errors"
	"github.com/chunkstash/chunkstash/internal/keys"
)

// tagsContext separates sealed tag payloads from every other ciphertext.
var tagsContext = crypto.NewContext("itemtags")

// tagsTag marks sealed item tag payloads.
const tagsTag = 2

// headerVersion is the item encryption header version this
// implementation writes and understands.
const headerVersion = 1

// EncryptHeader carries what the key holder needs to recover the session
// key an item's tags were sealed under.
type EncryptHeader struct {
	Version uint8         `cbor:"version"`
	Packet  crypto.Packet `cbor:"packet"`
}

// ItemMetadata describes one retained backup: the hash tree it roots and
// its sealed tag payload. Items are immutable once created.
type ItemMetadata struct {
	Address       address.Address `cbor:"address"`
	TreeHeight    int             `cbor:"tree_height"`
	EncryptHeader EncryptHeader   `cbor:"encrypt_header"`
	EncryptedTags []byte          `cbor:"encrypted_tags"`
}

// Item is ItemMetadata plus the catalog-assigned id.
type Item struct {
	ID       int64
	Metadata ItemMetadata
}

// NewItemMetadata builds the metadata for the tree at (addr, height),
// sealing tags through a fresh key exchange against the key's public
// half. Writing items therefore does not require the secret key.
func NewItemMetadata(key *keys.Key, addr address.Address, height int, tags map[string]string) (ItemMetadata, error) {
	tx, _, packet, err := crypto.KXN1(&key.PSK, &key.PublicKey)
	if err != nil {
		return ItemMetadata{}, err
	}

	buf, err := cbor.Marshal(tags)
	if err != nil {
		return ItemMetadata{}, errors.Wrap(err, "encoding tags")
	}

	return ItemMetadata{
		Address:       addr,
		TreeHeight:    height,
		EncryptHeader: EncryptHeader{Version: headerVersion, Packet: packet},
		EncryptedTags: crypto.Seal(buf, tagsTag, tagsContext, &tx),
	}, nil
}

// DecryptTags recovers an item's tags with the secret half of key. ok is
// false when the key cannot authenticate the payload (wrong key), which
// is an expected outcome rather than an error; err reports malformed
// records.
func (m *ItemMetadata) DecryptTags(key *keys.Key) (tags map[string]string, ok bool, err error) {
	if m.EncryptHeader.Version != headerVersion {
		return nil, false, errors.Errorf("unsupported item header version %d", m.EncryptHeader.Version)
	}

	_, rx, ok := crypto.KXN2(&m.EncryptHeader.Packet, &key.PSK, &key.PublicKey, &key.SecretKey)
	if !ok {
		return nil, false, nil
	}

	pt, ok := crypto.Open(m.EncryptedTags, tagsTag, tagsContext, &rx)
	if !ok {
		return nil, false, nil
	}

	if err := cbor.Unmarshal(pt, &tags); err != nil {
		return nil, false, errors.Wrap(err, "decoding tags")
	}
	return tags, true, nil
}
