package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16KnownVector(t *testing.T) {
	// CRC-16/ARC (poly 0xA001, init 0) of ASCII "123456789" is 0xBB3D.
	got := CRC16([]byte("123456789"))
	assert.Equal(t, uint16(0xBB3D), got)
}

func TestCRC16EmptyIsZero(t *testing.T) {
	assert.Equal(t, uint16(0), CRC16(nil))
}

func TestCRC16IncrementalMatchesWholeBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	var crc uint16
	for _, b := range buf {
		crc = UpdateCRC16(crc, b)
	}
	assert.Equal(t, CRC16(buf), crc)
}
