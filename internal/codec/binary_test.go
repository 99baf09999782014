package codec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBinarySingleInteger(t *testing.T) {
	row := Row{1: Integer(42)}
	buf, err := EncodeBinary(row)
	require.NoError(t, err)

	want := []byte{0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0x2A}
	assert.Equal(t, want, buf)

	decoded, err := DecodeBinary(buf)
	require.NoError(t, err)
	assert.True(t, decoded[1].Equal(Integer(42)))
}

func TestEncodeBinarySortsByAttributeID(t *testing.T) {
	row := Row{
		3: Text("c"),
		1: Integer(1),
		2: Real(2.5),
	}
	buf, err := EncodeBinary(row)
	require.NoError(t, err)

	// first attribute id varint must be 1
	assert.Equal(t, byte(1), buf[0])

	decoded, err := DecodeBinary(buf)
	require.NoError(t, err)
	assert.True(t, decoded[1].Equal(Integer(1)))
	assert.True(t, decoded[2].Equal(Real(2.5)))
	assert.True(t, decoded[3].Equal(Text("c")))
}

func TestBinaryRoundTripAllTypes(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()
	row := Row{
		1: Integer(-7),
		2: Real(3.14159),
		3: Text("hello world"),
		4: Blob([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
		5: Null(),
		6: UUIDv1(u1),
		7: UUIDv4(u2),
	}
	buf, err := EncodeBinary(row)
	require.NoError(t, err)

	decoded, err := DecodeBinary(buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(row))
	for id, v := range row {
		assert.Truef(t, decoded[id].Equal(v), "attribute %d mismatch: got %+v want %+v", id, decoded[id], v)
	}
}

func TestDecodeBinaryTruncatedLengthIsNavigationError(t *testing.T) {
	// Text tag, length prefix claims 10 bytes, but only 2 follow.
	buf := []byte{0x01, byte(TagText), 10, 'h', 'i'}
	_, err := DecodeBinary(buf)
	assert.Error(t, err)
}

func TestFilterBinaryKeepsOnlyRequestedAttributes(t *testing.T) {
	row := Row{1: Integer(1), 2: Integer(2), 3: Integer(3)}
	buf, err := EncodeBinary(row)
	require.NoError(t, err)

	filtered, err := FilterBinary(buf, map[uint32]bool{1: true})
	require.NoError(t, err)

	decoded, err := DecodeBinary(filtered)
	require.NoError(t, err)
	assert.Len(t, decoded, 1)
	assert.True(t, decoded[1].Equal(Integer(1)))
}
