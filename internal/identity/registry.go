package identity

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/store"
)

// Registry is the persistence boundary for Users, Developers, and Nodes.
// Users live in their context's column family; Developers and Nodes live
// in store.DefaultContext, since neither is scoped to a tenant.
type Registry struct {
	store *store.Store
}

// NewRegistry wraps a Store as an identity Registry.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// CreateUser persists a brand-new User under its context. Fails with
// berrors.CodeAlreadyExists if the identifier is already taken.
func (r *Registry) CreateUser(contextID uuid.UUID, u *User) error {
	context := contextID.String()
	key := store.UserKey(u.Identifier)
	existing, err := r.store.Get(context, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return berrors.New(berrors.CodeAlreadyExists, fmt.Sprintf("user %q", u.Identifier))
	}

	data, err := json.Marshal(u)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal user", err)
	}

	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.Put(context, key, data); err != nil {
		return err
	}
	if err := tx.Put(context, store.UserIndexKey(u.UUID), []byte(u.Identifier)); err != nil {
		return err
	}
	return tx.Commit()
}

// GetUserByIdentifier looks up a User by its sign-in identifier.
func (r *Registry) GetUserByIdentifier(contextID uuid.UUID, identifier string) (*User, error) {
	data, err := r.store.Get(contextID.String(), store.UserKey(identifier))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeUserNotFound, fmt.Sprintf("user %q", identifier))
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal user", err)
	}
	return &u, nil
}

// GetUserByUUID looks up a User by its UUID via the secondary index.
func (r *Registry) GetUserByUUID(contextID, userID uuid.UUID) (*User, error) {
	context := contextID.String()
	identifier, err := r.store.Get(context, store.UserIndexKey(userID))
	if err != nil {
		return nil, err
	}
	if identifier == nil {
		return nil, berrors.New(berrors.CodeUserNotFound, fmt.Sprintf("user %s", userID))
	}
	return r.GetUserByIdentifier(contextID, string(identifier))
}

// DeleteUser removes a User and its secondary index entry in one
// transaction.
func (r *Registry) DeleteUser(contextID uuid.UUID, u *User) error {
	context := contextID.String()
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.Delete(context, store.UserKey(u.Identifier)); err != nil {
		return err
	}
	if err := tx.Delete(context, store.UserIndexKey(u.UUID)); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateDeveloper persists a global Developer account. Fails with
// berrors.CodeAlreadyExists if the identifier is already taken.
func (r *Registry) CreateDeveloper(d *Developer) error {
	key := store.DeveloperKey(d.Identifier)
	existing, err := r.store.Get(store.DefaultContext, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return berrors.New(berrors.CodeAlreadyExists, fmt.Sprintf("developer %q", d.Identifier))
	}
	data, err := json.Marshal(d)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal developer", err)
	}
	return r.store.Put(store.DefaultContext, key, data)
}

// GetDeveloper looks up a Developer by its identifier.
func (r *Registry) GetDeveloper(identifier string) (*Developer, error) {
	data, err := r.store.Get(store.DefaultContext, store.DeveloperKey(identifier))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeUserNotFound, fmt.Sprintf("developer %q", identifier))
	}
	var d Developer
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal developer", err)
	}
	return &d, nil
}

// AnyDeveloperExists reports whether at least one Developer account has
// been created, used to decide whether startup must bootstrap one.
func (r *Registry) AnyDeveloperExists() (bool, error) {
	kvs, err := r.store.ScanPrefix(store.DefaultContext, store.DeveloperPrefix())
	if err != nil {
		return false, err
	}
	return len(kvs) > 0, nil
}

// CreateNode persists a new session Node, plus the secondary index that
// lets a bare node uuid (all a session cookie names) resolve back to its
// owning user.
func (r *Registry) CreateNode(userID uuid.UUID, n *Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal node", err)
	}
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.Put(store.DefaultContext, store.NodeKey(userID, n.UUID), data); err != nil {
		return err
	}
	if err := tx.Put(store.DefaultContext, store.NodeIndexKey(n.UUID), userID[:]); err != nil {
		return err
	}
	return tx.Commit()
}

// GetNode looks up a live session Node.
func (r *Registry) GetNode(userID, nodeID uuid.UUID) (*Node, error) {
	data, err := r.store.Get(store.DefaultContext, store.NodeKey(userID, nodeID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeAuthentication, "unknown session")
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal node", err)
	}
	return &n, nil
}

// GetNodeByUUID resolves a session Node from its uuid alone, via the
// secondary index. This is the lookup every boundary adapter uses: a
// session cookie or bearer token names only the node, never its user.
func (r *Registry) GetNodeByUUID(nodeID uuid.UUID) (*Node, error) {
	raw, err := r.store.Get(store.DefaultContext, store.NodeIndexKey(nodeID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, berrors.New(berrors.CodeAuthentication, "unknown session")
	}
	userID, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "decode node index", err)
	}
	return r.GetNode(userID, nodeID)
}

// ListNodes enumerates every live session Node across every user, for the
// maintenance sweep that expires stale sessions. Index entries sharing the
// "N." prefix are excluded by key length.
func (r *Registry) ListNodes() ([]Node, error) {
	kvs, err := r.store.ScanPrefix(store.DefaultContext, store.NodePrefix())
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(kvs))
	for _, kv := range kvs {
		if len(kv.Key) != store.NodeKeyLen {
			continue
		}
		var n Node
		if err := json.Unmarshal(kv.Value, &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// DeleteNodeByUUID destroys a session known only by its node uuid (the
// sweep's view, which never tracked the owning user), resolving the owner
// through the secondary index first.
func (r *Registry) DeleteNodeByUUID(nodeID uuid.UUID) error {
	raw, err := r.store.Get(store.DefaultContext, store.NodeIndexKey(nodeID))
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	userID, err := uuid.FromBytes(raw)
	if err != nil {
		return berrors.Wrap(berrors.CodeInternalError, "decode node index", err)
	}
	return r.DeleteNode(userID, nodeID)
}

// DeleteNode destroys a session (sign-out or revocation), removing the
// index entry along with the primary record.
func (r *Registry) DeleteNode(userID, nodeID uuid.UUID) error {
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.Delete(store.DefaultContext, store.NodeKey(userID, nodeID)); err != nil {
		return err
	}
	if err := tx.Delete(store.DefaultContext, store.NodeIndexKey(nodeID)); err != nil {
		return err
	}
	return tx.Commit()
}
