package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namesFor(idToName map[uint32]string) *AttrNames {
	return NewAttrNames(idToName)
}

func TestTextRoundTrip(t *testing.T) {
	names := namesFor(map[uint32]string{1: "Name", 2: "Age", 3: "Email"})
	row := Row{1: Text("Ada"), 2: Integer(36), 3: Text("ada@example.com")}

	buf, err := EncodeText(row, names)
	require.NoError(t, err)

	decoded, err := DecodeText(buf, names)
	require.NoError(t, err)
	for id, v := range row {
		assert.True(t, decoded[id].Equal(v))
	}
}

func TestTextOrderedByCaseInsensitiveName(t *testing.T) {
	names := namesFor(map[uint32]string{1: "banana", 2: "Apple", 3: "cherry"})
	row := Row{1: Integer(1), 2: Integer(2), 3: Integer(3)}

	buf, err := EncodeText(row, names)
	require.NoError(t, err)

	// "Apple" sorts first case-insensitively, so its name bytes lead the buffer.
	require.True(t, len(buf) >= len("Apple"))
	assert.Equal(t, "Apple", string(buf[:len("Apple")]))
}

func TestTextDecodeSkipsUnknownField(t *testing.T) {
	writerNames := namesFor(map[uint32]string{1: "Name", 99: "NewInV2"})
	row := Row{1: Text("Ada"), 99: Text("added later")}
	buf, err := EncodeText(row, writerNames)
	require.NoError(t, err)

	// Reader is pinned to a schema version that doesn't know "NewInV2".
	readerNames := namesFor(map[uint32]string{1: "Name"})
	decoded, err := DecodeText(buf, readerNames)
	require.NoError(t, err)
	assert.Len(t, decoded, 1)
	assert.True(t, decoded[1].Equal(Text("Ada")))
}

func TestTranscodeBinaryTextRoundTrip(t *testing.T) {
	names := namesFor(map[uint32]string{1: "Name", 2: "Age"})
	row := Row{1: Text("Grace"), 2: Integer(85)}

	bin, err := EncodeBinary(row)
	require.NoError(t, err)

	text, err := TranscodeBinaryToText(bin, names)
	require.NoError(t, err)

	back, err := TranscodeTextToBinary(text, names)
	require.NoError(t, err)

	decoded, err := DecodeBinary(back)
	require.NoError(t, err)
	for id, v := range row {
		assert.True(t, decoded[id].Equal(v))
	}
}
