package crypto

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

// Sizes of the key exchange primitives. The exchange is the anonymous "N"
// pattern: the initiator only knows the responder's public key and a
// pre-shared key, and sends a single packet from which the responder
// derives the same pair of directional session keys.
const (
	PublicKeySize  = curve25519.PointSize
	SecretKeySize  = curve25519.ScalarSize
	SessionKeySize = KeySize
	PSKSize        = 32
	PacketSize     = PublicKeySize
)

type (
	// PublicKey is a long-term curve25519 public key.
	PublicKey [PublicKeySize]byte
	// SecretKey is a long-term curve25519 secret key.
	SecretKey [SecretKeySize]byte
	// PSK is the pre-shared key both sides of an exchange must hold.
	PSK [PSKSize]byte
	// Packet is the single message an initiator sends to the responder.
	Packet [PacketSize]byte
)

// KXKeygen generates a long-term keypair for the key exchange.
func KXKeygen() (PublicKey, SecretKey, error) {
	var pk PublicKey
	var sk SecretKey
	copy(sk[:], RandomBytes(SecretKeySize))

	p, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, SecretKey{}, err
	}
	copy(pk[:], p)
	return pk, sk, nil
}

// NewPSK returns a fresh pre-shared key.
func NewPSK() PSK {
	var psk PSK
	copy(psk[:], RandomBytes(PSKSize))
	return psk
}

// deriveSessionKeys computes the directional session keys from the shared
// point, the PSK and both public halves of the exchange. The first key is
// the initiator's transmit key, the second the initiator's receive key.
func deriveSessionKeys(shared, ephPK []byte, psk *PSK, peer *PublicKey) (Key, Key) {
	h, err := blake2b.New512(psk[:])
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(shared)
	_, _ = h.Write(ephPK)
	_, _ = h.Write(peer[:])
	sum := h.Sum(nil)

	var tx, rx Key
	copy(tx[:], sum[:KeySize])
	copy(rx[:], sum[KeySize:2*KeySize])
	return tx, rx
}

// KXN1 runs the initiator side of the exchange against the holder of pk.
// It returns the initiator's transmit and receive session keys and the
// packet the responder needs to derive the same keys.
func KXN1(psk *PSK, pk *PublicKey) (tx, rx Key, packet Packet, err error) {
	var ephSK SecretKey
	copy(ephSK[:], RandomBytes(SecretKeySize))

	ephPK, err := curve25519.X25519(ephSK[:], curve25519.Basepoint)
	if err != nil {
		return Key{}, Key{}, Packet{}, err
	}

	shared, err := curve25519.X25519(ephSK[:], pk[:])
	if err != nil {
		return Key{}, Key{}, Packet{}, err
	}

	tx, rx = deriveSessionKeys(shared, ephPK, psk, pk)
	copy(packet[:], ephPK)
	return tx, rx, packet, nil
}

// KXN2 runs the responder side of the exchange. The returned transmit key
// equals the initiator's receive key and vice versa. ok is false when the
// packet is not a valid exchange message for this keypair.
func KXN2(packet *Packet, psk *PSK, pk *PublicKey, sk *SecretKey) (tx, rx Key, ok bool) {
	shared, err := curve25519.X25519(sk[:], packet[:])
	if err != nil {
		return Key{}, Key{}, false
	}

	// Directions are swapped relative to the initiator.
	itx, irx := deriveSessionKeys(shared, packet[:], psk, pk)
	return irx, itx, true
}
