package crypto

import (
	"bytes"
	"testing"

	rtest "github.com/chunkstash/chunkstash/internal/test"
)

func TestMain(m *testing.M) {
	Init()
	Init() // second call must be harmless
	m.Run()
}

func TestDigest(t *testing.T) {
	ctx := NewContext("testdgst")
	key := NewRandomKey()

	msg := rtest.Random(23, 1024)
	d1 := Digest(msg, ctx, &key)
	d2 := Digest(msg, ctx, &key)
	rtest.Equals(t, d1, d2)

	other := NewRandomKey()
	d3 := Digest(msg, ctx, &other)
	rtest.Assert(t, d1 != d3, "digest did not change with the key")

	d4 := Digest(msg, NewContext("otherctx"), &key)
	rtest.Assert(t, d1 != d4, "digest did not change with the context")

	d5 := Digest(msg, ctx, nil)
	rtest.Assert(t, d1 != d5, "keyed and unkeyed digest are equal")
}

func TestSealOpen(t *testing.T) {
	ctx := NewContext("testseal")
	key := NewRandomKey()

	for _, size := range []int{0, 1, 37, 4096} {
		pt := rtest.Random(size, size)
		ct := Seal(pt, 7, ctx, &key)
		rtest.Equals(t, len(pt)+Overhead, len(ct))

		got, ok := Open(ct, 7, ctx, &key)
		rtest.Assert(t, ok, "open failed for size %d", size)
		rtest.Assert(t, bytes.Equal(pt, got), "plaintext mismatch for size %d", size)
	}
}

func TestOpenFailsClosed(t *testing.T) {
	ctx := NewContext("testseal")
	key := NewRandomKey()
	pt := rtest.Random(11, 100)
	ct := Seal(pt, 7, ctx, &key)

	wrongKey := NewRandomKey()
	_, ok := Open(ct, 7, ctx, &wrongKey)
	rtest.Assert(t, !ok, "open succeeded with the wrong key")

	_, ok = Open(ct, 8, ctx, &key)
	rtest.Assert(t, !ok, "open succeeded with the wrong tag")

	_, ok = Open(ct, 7, NewContext("otherctx"), &key)
	rtest.Assert(t, !ok, "open succeeded with the wrong context")

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0x01
	_, ok = Open(tampered, 7, ctx, &key)
	rtest.Assert(t, !ok, "open succeeded on a tampered ciphertext")

	_, ok = Open(ct[:Overhead-1], 7, ctx, &key)
	rtest.Assert(t, !ok, "open succeeded on a truncated ciphertext")
}

func TestKXRoundTrip(t *testing.T) {
	pk, sk, err := KXKeygen()
	rtest.OK(t, err)
	psk := NewPSK()

	itx, irx, packet, err := KXN1(&psk, &pk)
	rtest.OK(t, err)

	rtx, rrx, ok := KXN2(&packet, &psk, &pk, &sk)
	rtest.Assert(t, ok, "responder failed to derive session keys")
	rtest.Equals(t, itx, rrx)
	rtest.Equals(t, irx, rtx)

	// A message sealed with the initiator's transmit key opens with the
	// responder's receive key.
	ctx := NewContext("testkxkx")
	ct := Seal([]byte("hello"), 1, ctx, &itx)
	pt, ok := Open(ct, 1, ctx, &rrx)
	rtest.Assert(t, ok, "responder could not open initiator message")
	rtest.Equals(t, []byte("hello"), pt)
}

func TestKXWrongPSK(t *testing.T) {
	pk, sk, err := KXKeygen()
	rtest.OK(t, err)
	psk := NewPSK()

	itx, _, packet, err := KXN1(&psk, &pk)
	rtest.OK(t, err)

	wrong := NewPSK()
	_, rrx, ok := KXN2(&packet, &wrong, &pk, &sk)
	rtest.Assert(t, ok, "key derivation itself should not fail")

	ctx := NewContext("testkxkx")
	ct := Seal([]byte("hello"), 1, ctx, &itx)
	_, ok = Open(ct, 1, ctx, &rrx)
	rtest.Assert(t, !ok, "message opened despite mismatched pre-shared keys")
}
