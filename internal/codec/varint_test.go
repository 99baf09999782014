package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintLen(t *testing.T) {
	cases := []struct {
		v    uint32
		want int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{MaxVarint, 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, VarintLen(c.v), "varintLen(%d)", c.v)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 42, 127, 128, 200, 16383, 16384, MaxVarint} {
		buf, err := PutVarint(nil, v)
		require.NoError(t, err)
		require.Len(t, buf, VarintLen(v))

		got, n, err := ReadVarint(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, v, got)
	}
}

func TestPutVarintOutOfRange(t *testing.T) {
	_, err := PutVarint(nil, MaxVarint+1)
	assert.Error(t, err)
}

func TestReadVarintTruncated(t *testing.T) {
	_, _, err := ReadVarint([]byte{0x80})
	assert.Error(t, err)
}
