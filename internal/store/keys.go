package store

import (
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

// Key-scheme prefixes, §4.B. Kept as single bytes/strings so the on-disk
// layout stays human-grep-friendly, matching the spec's ASCII-prefixed
// scheme.
const (
	prefixNode        = "N."
	prefixNodeIndex   = "N.IX."
	prefixUser        = "U."
	prefixUserIndex   = "U.IX."
	prefixDataset     = "D."
	prefixDatasetIndex = "D.IX."
	prefixDatasetSeq  = "D.SEQ"
	prefixMember      = "M."
	prefixEntityRow   = "E."
	prefixHeader      = "H."
	prefixChange      = "C."
	prefixPush        = "P."
	prefixDownloaded  = "d."
	prefixDeveloper   = "Dev."
	keySchemaDraft    = "Schema"
	schemaVersionStem = "Schema."
)

// id64 pads a numeric id to 8 bytes big-endian so lexicographic key order
// equals numeric order, as §4.B requires for ids ≥ 32 bits.
func id64(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// NodeKey builds the N.<userUuid><nodeUuid> key for a session Node.
func NodeKey(userID, nodeID uuid.UUID) []byte {
	k := append([]byte(prefixNode), userID[:]...)
	return append(k, nodeID[:]...)
}

// NodeIndexKey builds the N.IX.<nodeUuid> secondary index key resolving a
// bare node uuid (as carried in a session cookie or bearer token, which
// names no user) to its owning user uuid.
func NodeIndexKey(nodeID uuid.UUID) []byte {
	return append([]byte(prefixNodeIndex), nodeID[:]...)
}

// NodePrefix is the prefix scanned to enumerate every session Node's
// primary record across every user. Primary keys are 2+16+16=34 bytes;
// NodeIndexKey entries also start with "N." but are shorter (21 bytes), so
// callers filtering on NodeKeyLen never see an index entry mixed in.
func NodePrefix() []byte { return []byte(prefixNode) }

// NodeKeyLen is the byte length of a NodeKey, distinguishing primary Node
// records from the shorter N.IX. secondary index entries sharing the same
// "N." prefix.
const NodeKeyLen = len(prefixNode) + 16 + 16

// UserKey builds the U.<identifier> primary key for a User.
func UserKey(identifier string) []byte {
	return append([]byte(prefixUser), identifier...)
}

// UserIndexKey builds the U.IX.<uuid> secondary index key for a User.
func UserIndexKey(id uuid.UUID) []byte {
	return append([]byte(prefixUserIndex), id[:]...)
}

// DatasetKey builds the D.<datasetUuid> key for a Dataset.
func DatasetKey(id uuid.UUID) []byte {
	return append([]byte(prefixDataset), id[:]...)
}

// DatasetPrefix is the prefix scanned to enumerate every Dataset in a
// context.
func DatasetPrefix() []byte {
	return []byte(prefixDataset)
}

// DatasetIndexKey builds the D.IX.<numericId> secondary index key resolving
// a dataset's per-context numeric id (the id Header/Change keys are scoped
// under) to its uuid.
func DatasetIndexKey(id uint64) []byte {
	return append([]byte(prefixDatasetIndex), id64(id)...)
}

// DatasetSeqKey is the literal key holding the next-dataset-id counter for
// a context.
func DatasetSeqKey() []byte {
	return []byte(prefixDatasetSeq)
}

// MemberKey builds the M.<datasetId><userUuid> key for a dataset Member.
func MemberKey(datasetID uint64, userID uuid.UUID) []byte {
	k := append([]byte(prefixMember), id64(datasetID)...)
	return append(k, userID[:]...)
}

// MemberPrefix builds the M.<datasetId> prefix for scanning every member of
// a dataset.
func MemberPrefix(datasetID uint64) []byte {
	return append([]byte(prefixMember), id64(datasetID)...)
}

// HeaderKey builds the H.<datasetId><headerId> key for a Header.
func HeaderKey(datasetID, headerID uint64) []byte {
	k := append([]byte(prefixHeader), id64(datasetID)...)
	return append(k, id64(headerID)...)
}

// HeaderPrefix builds the H.<datasetId> prefix for scanning every header of
// a dataset in ascending header-id order.
func HeaderPrefix(datasetID uint64) []byte {
	return append([]byte(prefixHeader), id64(datasetID)...)
}

// ChangeKey builds the C.<datasetId><headerId><changeId> key for a Change.
func ChangeKey(datasetID, headerID, changeID uint64) []byte {
	k := append([]byte(prefixChange), id64(datasetID)...)
	k = append(k, id64(headerID)...)
	return append(k, id64(changeID)...)
}

// ChangePrefix builds the C.<datasetId><headerId> prefix for scanning every
// change of a header in ascending change-id order.
func ChangePrefix(datasetID, headerID uint64) []byte {
	k := append([]byte(prefixChange), id64(datasetID)...)
	return append(k, id64(headerID)...)
}

// PushKey builds the P.<datasetId><pushUuid> key for a Push invitation.
func PushKey(datasetID uint64, push uuid.UUID) []byte {
	k := append([]byte(prefixPush), id64(datasetID)...)
	return append(k, push[:]...)
}

// PushPrefix builds the P.<datasetId> prefix for scanning every push token
// of a dataset.
func PushPrefix(datasetID uint64) []byte {
	return append([]byte(prefixPush), id64(datasetID)...)
}

// DownloadedKey builds the d.<nodeUuid><datasetId> watermark key.
func DownloadedKey(node uuid.UUID, datasetID uint64) []byte {
	k := append([]byte(prefixDownloaded), node[:]...)
	return append(k, id64(datasetID)...)
}

// EntityRowKey builds the E.<entityUuid><pk> key addressing one row's
// current image, keyed by its binary-encoded primary key.
func EntityRowKey(entityID uuid.UUID, pk []byte) []byte {
	k := append([]byte(prefixEntityRow), entityID[:]...)
	return append(k, pk...)
}

// DeveloperKey builds the Dev.<identifier> key for a global Developer
// account, stored in the default context.
func DeveloperKey(identifier string) []byte {
	return append([]byte(prefixDeveloper), identifier...)
}

// DeveloperPrefix is the prefix scanned to enumerate every Developer, used
// at startup to decide whether bootstrap must create one.
func DeveloperPrefix() []byte {
	return []byte(prefixDeveloper)
}

// SchemaDraftKey is the literal "Schema" key holding a context's current
// editable draft.
func SchemaDraftKey() []byte { return []byte(keySchemaDraft) }

// SchemaVersionKey is the literal "Schema.<v>" key holding a frozen schema
// version. The version is rendered as decimal ASCII so the key stays
// human-grep-friendly, matching the literal form §4.B names.
func SchemaVersionKey(version uint32) []byte {
	return []byte(schemaVersionStem + strconv.FormatUint(uint64(version), 10))
}

// SchemaVersionPrefix scopes a prefix scan to every frozen version key,
// never matching the draft itself since "Schema." is longer than "Schema".
func SchemaVersionPrefix() []byte { return []byte(schemaVersionStem) }
