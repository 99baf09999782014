package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// EncodeBinary writes row as a concatenation of (attribute-id-varint, type
// tag, payload) tuples, attributes sorted ascending by id.
func EncodeBinary(row Row) ([]byte, error) {
	ids := make([]uint32, 0, len(row))
	for id := range row {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []byte
	for _, id := range ids {
		var err error
		out, err = PutVarint(out, id)
		if err != nil {
			return nil, fmt.Errorf("codec: encode binary: attribute %d: %w", id, err)
		}
		out, err = encodeValue(out, row[id])
		if err != nil {
			return nil, fmt.Errorf("codec: encode binary: attribute %d: %w", id, err)
		}
	}
	return out, nil
}

func encodeValue(dst []byte, v Value) ([]byte, error) {
	dst = append(dst, byte(v.Tag))
	switch v.Tag {
	case TagInteger:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int))
		return append(dst, b[:]...), nil
	case TagReal:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Real))
		return append(dst, b[:]...), nil
	case TagText:
		var err error
		dst, err = PutVarint(dst, uint32(len(v.Text)))
		if err != nil {
			return nil, err
		}
		return append(dst, v.Text...), nil
	case TagBlob:
		var err error
		dst, err = PutVarint(dst, uint32(len(v.Blob)))
		if err != nil {
			return nil, err
		}
		return append(dst, v.Blob...), nil
	case TagNull:
		return dst, nil
	case TagUUIDv1, TagUUIDv4:
		b, err := v.UUID.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return append(dst, b...), nil
	default:
		return nil, fmt.Errorf("codec: unknown type tag %d", v.Tag)
	}
}

// DecodeBinary parses the binary encoding produced by EncodeBinary. It
// rejects with an error (the navigation error the spec names) if any length
// prefix would run past the end of buf.
func DecodeBinary(buf []byte) (Row, error) {
	row := make(Row)
	for len(buf) > 0 {
		id, n, err := ReadVarint(buf)
		if err != nil {
			return nil, fmt.Errorf("codec: decode binary: attribute id: %w", err)
		}
		buf = buf[n:]
		v, rest, err := decodeValue(buf)
		if err != nil {
			return nil, fmt.Errorf("codec: decode binary: attribute %d: %w", id, err)
		}
		row[id] = v
		buf = rest
	}
	return row, nil
}

func decodeValue(buf []byte) (Value, []byte, error) {
	if len(buf) < 1 {
		return Value{}, nil, fmt.Errorf("codec: truncated before type tag")
	}
	tag := Tag(buf[0])
	buf = buf[1:]
	switch tag {
	case TagInteger:
		if len(buf) < 8 {
			return Value{}, nil, fmt.Errorf("codec: navigation error: truncated integer payload")
		}
		return Integer(int64(binary.BigEndian.Uint64(buf[:8]))), buf[8:], nil
	case TagReal:
		if len(buf) < 8 {
			return Value{}, nil, fmt.Errorf("codec: navigation error: truncated real payload")
		}
		return Real(math.Float64frombits(binary.BigEndian.Uint64(buf[:8]))), buf[8:], nil
	case TagText, TagBlob:
		length, n, err := ReadVarint(buf)
		if err != nil {
			return Value{}, nil, fmt.Errorf("codec: navigation error: length prefix: %w", err)
		}
		buf = buf[n:]
		if uint32(len(buf)) < length {
			return Value{}, nil, fmt.Errorf("codec: navigation error: payload runs past buffer")
		}
		payload := buf[:length]
		buf = buf[length:]
		if tag == TagText {
			return Text(string(payload)), buf, nil
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return Blob(cp), buf, nil
	case TagNull:
		return Null(), buf, nil
	case TagUUIDv1, TagUUIDv4:
		if len(buf) < 16 {
			return Value{}, nil, fmt.Errorf("codec: navigation error: truncated uuid payload")
		}
		var u [16]byte
		copy(u[:], buf[:16])
		id, err := uuidFromBytes(u[:])
		if err != nil {
			return Value{}, nil, err
		}
		if tag == TagUUIDv1 {
			return UUIDv1(id), buf[16:], nil
		}
		return UUIDv4(id), buf[16:], nil
	default:
		return Value{}, nil, fmt.Errorf("codec: unknown type tag %d", tag)
	}
}
