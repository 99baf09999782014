// Package schema implements the Context registry: document shapes, the §3
// and §4.C validation invariants, and draft/frozen-version storage.
package schema

import "github.com/google/uuid"

// AttributeType is the wire/storage type of a Key or Attribute column.
type AttributeType string

const (
	TypeInteger AttributeType = "Integer"
	TypeReal    AttributeType = "Real"
	TypeText    AttributeType = "Text"
	TypeBlob    AttributeType = "Blob"
	TypeNull    AttributeType = "Null"
	TypeUUIDv1  AttributeType = "UuidV1"
	TypeUUIDv4  AttributeType = "Uuid"
)

// Key is a primary-key column of an Entity.
type Key struct {
	ID   uint32        `json:"id"`
	Name string        `json:"name"`
	Type AttributeType `json:"type"`
}

// Attribute is a non-key column of an Entity.
type Attribute struct {
	ID      uint32        `json:"id"`
	Name    string        `json:"name"`
	Type    AttributeType `json:"type"`
	NotNull bool          `json:"notnull"`
	Check   string        `json:"check,omitempty"`
}

// Entity is a table name plus its ordered keys and attributes.
type Entity struct {
	UUID       uuid.UUID   `json:"uuid"`
	Name       string      `json:"name"`
	Keys       []Key       `json:"keys"`
	Attributes []Attribute `json:"attributes"`
}

// AttributeNames returns the id->name mapping of Keys∪Attributes, the shape
// internal/codec's text encoding needs.
func (e Entity) AttributeNames() map[uint32]string {
	m := make(map[uint32]string, len(e.Keys)+len(e.Attributes))
	for _, k := range e.Keys {
		m[k.ID] = k.Name
	}
	for _, a := range e.Attributes {
		m[a.ID] = a.Name
	}
	return m
}

// HasAttributeID reports whether id names a key or attribute on the entity.
func (e Entity) HasAttributeID(id uint32) bool {
	for _, k := range e.Keys {
		if k.ID == id {
			return true
		}
	}
	for _, a := range e.Attributes {
		if a.ID == id {
			return true
		}
	}
	return false
}

// TransactionEntity names one entity a Transaction touches, and which of
// its attributes the transaction may update.
type TransactionEntity struct {
	Entity              string   `json:"entity"`
	Add                 bool     `json:"add"`
	Remove              bool     `json:"remove"`
	UpdatableAttributes []uint32 `json:"update"`
}

// Transaction is a named, scripted unit of change: an ordered list of
// entities it touches plus pre/post validation scripts.
type Transaction struct {
	UUID     uuid.UUID            `json:"uuid"`
	Name     string               `json:"name"`
	Entities []TransactionEntity  `json:"entities"`
	Pre      string               `json:"pre,omitempty"`
	Post     string               `json:"post,omitempty"`
}

// RoleEntityGrant names one entity and the attribute ids a Role may see on it.
type RoleEntityGrant struct {
	Entity     string   `json:"entity"`
	Attributes []uint32 `json:"attributes"`
}

// Role is a named capability set: five booleans, per-entity grants, and a
// whitelist of invocable transaction names.
type Role struct {
	UUID           uuid.UUID         `json:"uuid"`
	Name           string            `json:"name"`
	ReadMembers    bool              `json:"readmembers"`
	ManageMembers  bool              `json:"managemembers"`
	ReadEmail      bool              `json:"reademail"`
	ShareDataset   bool              `json:"sharedataset"`
	ManageShare    bool              `json:"manageshare"`
	Entities       []RoleEntityGrant `json:"entities"`
	Transactions   []string          `json:"transactions"`
}

// ModuleEntityGrant names one entity and the attribute ids a Module exposes.
type ModuleEntityGrant struct {
	Entity     string   `json:"entity"`
	Attributes []uint32 `json:"attributes"`
}

// Module is a strict subset of the schema visible to a client build.
type Module struct {
	UUID     uuid.UUID           `json:"uuid"`
	Name     string              `json:"name"`
	Entities []ModuleEntityGrant `json:"entities"`
}

// Context is the schema: name, version, default role, and the four maps
// keyed by UUID. Go maps replace the original's UUID-string-keyed
// unordered_map; name->UUID lookup tables are derived, not stored, since
// they're cheap to recompute from the maps below.
type Context struct {
	UUID        uuid.UUID              `json:"uuid"`
	Name        string                 `json:"name"`
	DefaultRole uuid.UUID              `json:"defaultrole"`
	Version     uint32                 `json:"version"`
	Entities     map[uuid.UUID]Entity     `json:"entities"`
	Transactions map[uuid.UUID]Transaction `json:"transactions"`
	Roles        map[uuid.UUID]Role        `json:"roles"`
	Modules      map[uuid.UUID]Module      `json:"modules"`
}

// EntityByName resolves an entity by its (case-sensitive, per the original)
// name, returning ok=false if no entity has that name.
func (c *Context) EntityByName(name string) (Entity, bool) {
	for _, e := range c.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// RoleTransactions returns the set of transaction names a role may invoke.
func (c *Context) RoleTransactions(roleID uuid.UUID) map[string]bool {
	role, ok := c.Roles[roleID]
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(role.Transactions))
	for _, name := range role.Transactions {
		out[name] = true
	}
	return out
}
