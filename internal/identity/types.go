// Package identity manages Users, Developers, and per-session Nodes:
// password hashing, federated JWT verification, and session key issuance.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// UserType distinguishes a credential-based account from one backed by a
// federated identity provider.
type UserType string

const (
	UserInternal UserType = "internal"
	UserGoogle   UserType = "google"
)

// User is a per-context account. Internal users carry a password hash and
// salt; federated users carry neither — their identity is asserted by a
// verified JWT on every sign-in.
type User struct {
	UUID         uuid.UUID `json:"uuid"`
	Identifier   string    `json:"identifier"`
	DisplayName  string    `json:"displayname"`
	Type         UserType  `json:"type"`
	PasswordHash []byte    `json:"passwordhash,omitempty"`
	Salt         []byte    `json:"salt,omitempty"`
}

// DeveloperRights distinguishes full administrative rights from
// schema/user-administration-only rights.
type DeveloperRights string

const (
	RightsAll   DeveloperRights = "all"
	RightsAdmin DeveloperRights = "admin"
)

// Developer is a global (not context-scoped) account used for schema and
// user administration over HTTP Basic auth.
type Developer struct {
	Identifier   string          `json:"identifier"`
	Name         string          `json:"name"`
	PasswordHash []byte          `json:"passwordhash"`
	Salt         []byte          `json:"salt"`
	Rights       DeveloperRights `json:"rights"`
}

// Node is a live session: the user that authenticated, the session key the
// client presents on every request, the context and module it was
// authenticated into, and the schema version it is pinned to.
type Node struct {
	UUID          uuid.UUID `json:"uuid"`
	User          User      `json:"user"`
	SessionKey    []byte    `json:"sessionkey"`
	NodeKey       []byte    `json:"nodekey"`
	ContextUUID   uuid.UUID `json:"contextuuid"`
	ModuleUUID    uuid.UUID `json:"moduleuuid"`
	SchemaVersion uint32    `json:"schemaversion"`
	CreatedAt     time.Time `json:"createdat"`
}
