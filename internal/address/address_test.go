package address_test

import (
	"testing"

	"github.com/chunkstash/chunkstash/internal/address"
	"github.com/chunkstash/chunkstash/internal/crypto"
	rtest "github.com/chunkstash/chunkstash/internal/test"
)

func TestParse(t *testing.T) {
	in := "5c1ba9a413adc3a9beb766c7ae1a8f5b33f5ad101ecd6046ed16652ec0bb0a77"
	addr, err := address.Parse(in)
	rtest.OK(t, err)
	rtest.Equals(t, in, addr.String())

	_, err = address.Parse(in[:10])
	rtest.NotOK(t, err)

	_, err = address.Parse("not hex at all")
	rtest.NotOK(t, err)
}

func TestCompute(t *testing.T) {
	crypto.Init()

	key := crypto.NewRandomKey()
	ctx := crypto.NewContext("testaddr")

	data := rtest.Random(1, 256)
	a1 := address.Compute(data, ctx, &key)
	a2 := address.Compute(data, ctx, &key)
	rtest.Equals(t, a1, a2)
	rtest.Assert(t, !a1.IsNull(), "computed address is the null sentinel")

	other := crypto.NewRandomKey()
	a3 := address.Compute(data, ctx, &other)
	rtest.Assert(t, a1 != a3, "address did not depend on the hash key")
}

func TestNull(t *testing.T) {
	var null address.Address
	rtest.Assert(t, null.IsNull(), "zero value is not null")
	rtest.Equals(t, "[null]", null.Str())
}

func TestFromBytes(t *testing.T) {
	b := rtest.Random(2, address.Size)
	a, err := address.FromBytes(b)
	rtest.OK(t, err)
	rtest.Equals(t, b, a[:])

	_, err = address.FromBytes(b[:address.Size-1])
	rtest.NotOK(t, err)
}
