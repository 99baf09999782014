package codec

import (
	"bytes"
	"fmt"
	"sort"
)

// EncodeText writes row as a concatenation of (NUL-terminated name, type
// tag, payload) tuples, attributes ordered by case-insensitive name. names
// supplies the id->name mapping; an attribute id absent from names is
// skipped (it cannot be named on the wire).
func EncodeText(row Row, names *AttrNames) ([]byte, error) {
	type entry struct {
		name string
		id   uint32
	}
	entries := make([]entry, 0, len(row))
	for id := range row {
		name, ok := names.ByID[id]
		if !ok {
			continue
		}
		entries = append(entries, entry{name: name, id: id})
	}
	sort.Slice(entries, func(i, j int) bool {
		return lower(entries[i].name) < lower(entries[j].name)
	})

	var out []byte
	for _, e := range entries {
		out = append(out, []byte(e.name)...)
		out = append(out, 0)
		var err error
		out, err = encodeValue(out, row[e.id])
		if err != nil {
			return nil, fmt.Errorf("codec: encode text: attribute %q: %w", e.name, err)
		}
	}
	return out, nil
}

// DecodeText parses the text encoding produced by EncodeText, resolving
// names through the supplied mapping. A name not present in the mapping is
// skipped with no error — it is a field added in a schema version newer
// than the one names describes.
func DecodeText(buf []byte, names *AttrNames) (Row, error) {
	row := make(Row)
	for len(buf) > 0 {
		nul := bytes.IndexByte(buf, 0)
		if nul < 0 {
			return nil, fmt.Errorf("codec: decode text: unterminated attribute name")
		}
		name := string(buf[:nul])
		buf = buf[nul+1:]

		v, rest, err := decodeValue(buf)
		if err != nil {
			return nil, fmt.Errorf("codec: decode text: attribute %q: %w", name, err)
		}
		buf = rest

		id, ok := names.ByName[lower(name)]
		if !ok {
			// unknown field: newer-schema addition the receiver doesn't have, skip
			continue
		}
		row[id] = v
	}
	return row, nil
}

// TranscodeBinaryToText converts a binary-encoded row directly to its text
// form without materializing the intermediate Row twice, for the common
// decode-then-reencode fan-out path.
func TranscodeBinaryToText(binaryBuf []byte, names *AttrNames) ([]byte, error) {
	row, err := DecodeBinary(binaryBuf)
	if err != nil {
		return nil, err
	}
	return EncodeText(row, names)
}

// TranscodeTextToBinary is the inverse of TranscodeBinaryToText.
func TranscodeTextToBinary(textBuf []byte, names *AttrNames) ([]byte, error) {
	row, err := DecodeText(textBuf, names)
	if err != nil {
		return nil, err
	}
	return EncodeBinary(row)
}

// FilterBinary re-encodes a binary row keeping only the attribute ids in
// keep, the operation the sync engine's fan-out projection uses to strip
// attributes outside a node's Role∩Module visibility.
func FilterBinary(binaryBuf []byte, keep map[uint32]bool) ([]byte, error) {
	row, err := DecodeBinary(binaryBuf)
	if err != nil {
		return nil, err
	}
	filtered := make(Row, len(row))
	for id, v := range row {
		if keep[id] {
			filtered[id] = v
		}
	}
	return EncodeBinary(filtered)
}
