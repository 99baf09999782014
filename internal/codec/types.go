package codec

import (
	"fmt"

	"github.com/google/uuid"
)

// Tag identifies the wire type of an attribute's payload.
type Tag uint8

const (
	TagInteger Tag = 1
	TagReal    Tag = 2
	TagText    Tag = 3
	TagBlob    Tag = 4
	TagNull    Tag = 5
	TagUUIDv1  Tag = 6
	TagUUIDv4  Tag = 7
)

func (t Tag) String() string {
	switch t {
	case TagInteger:
		return "Integer"
	case TagReal:
		return "Real"
	case TagText:
		return "Text"
	case TagBlob:
		return "Blob"
	case TagNull:
		return "Null"
	case TagUUIDv1:
		return "UuidV1"
	case TagUUIDv4:
		return "UuidV4"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Value is a single attribute payload, tagged with its wire type.
type Value struct {
	Tag   Tag
	Int   int64
	Real  float64
	Text  string
	Blob  []byte
	UUID  uuid.UUID
}

func Integer(v int64) Value { return Value{Tag: TagInteger, Int: v} }
func Real(v float64) Value  { return Value{Tag: TagReal, Real: v} }
func Text(v string) Value   { return Value{Tag: TagText, Text: v} }
func Blob(v []byte) Value   { return Value{Tag: TagBlob, Blob: v} }
func Null() Value           { return Value{Tag: TagNull} }
func UUIDv1(v uuid.UUID) Value { return Value{Tag: TagUUIDv1, UUID: v} }
func UUIDv4(v uuid.UUID) Value { return Value{Tag: TagUUIDv4, UUID: v} }

// Equal reports whether two values carry the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.Tag != o.Tag {
		return false
	}
	switch v.Tag {
	case TagInteger:
		return v.Int == o.Int
	case TagReal:
		return v.Real == o.Real
	case TagText:
		return v.Text == o.Text
	case TagBlob:
		return string(v.Blob) == string(o.Blob)
	case TagNull:
		return true
	case TagUUIDv1, TagUUIDv4:
		return v.UUID == o.UUID
	default:
		return false
	}
}

// Row is a record keyed by numeric attribute id, the in-memory shape both
// the binary and text codecs encode from and decode into.
type Row map[uint32]Value

// AttrNames maps an attribute id to its schema name and back, the mapping
// the text codec needs to resolve identifiers in either direction.
type AttrNames struct {
	ByID   map[uint32]string
	ByName map[string]uint32 // keys are lower-cased for case-insensitive lookup
}

// NewAttrNames builds an AttrNames from an id->name mapping.
func NewAttrNames(idToName map[uint32]string) *AttrNames {
	an := &AttrNames{
		ByID:   make(map[uint32]string, len(idToName)),
		ByName: make(map[string]uint32, len(idToName)),
	}
	for id, name := range idToName {
		an.ByID[id] = name
		an.ByName[lower(name)] = id
	}
	return an
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
