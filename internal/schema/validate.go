package schema

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
)

// Validate runs the full set of structural invariants a Context must
// satisfy before it can be posted as a draft or frozen into a version,
// ported from the original Context::check(): UUID validity and uniqueness
// across every entity/transaction/role/module, unique non-empty names
// within each kind, and every transaction/role/module reference into an
// entity's attribute set must resolve.
func (c *Context) Validate() error {
	if c.UUID == uuid.Nil {
		return berrors.New(berrors.CodeInvalidSchema, "context uuid must not be nil")
	}
	if c.Name == "" {
		return berrors.New(berrors.CodeInvalidSchema, "context name must not be empty")
	}

	seenUUIDs := map[uuid.UUID]bool{c.UUID: true}

	entityNames := make(map[string]bool, len(c.Entities))
	for id, e := range c.Entities {
		if id == uuid.Nil {
			return berrors.New(berrors.CodeInvalidSchema, "entity uuid must not be nil")
		}
		if e.UUID != id {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity %s: map key does not match entity uuid", id))
		}
		if seenUUIDs[id] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("uuid %s is duplicated", id))
		}
		seenUUIDs[id] = true

		if e.Name == "" {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity %s: name must not be empty", id))
		}
		if entityNames[e.Name] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity name %q is duplicated", e.Name))
		}
		entityNames[e.Name] = true

		if err := validateEntityColumns(e); err != nil {
			return err
		}
	}

	txNames := make(map[string]bool, len(c.Transactions))
	for id, tx := range c.Transactions {
		if id == uuid.Nil {
			return berrors.New(berrors.CodeInvalidSchema, "transaction uuid must not be nil")
		}
		if tx.UUID != id {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("transaction %s: map key does not match transaction uuid", id))
		}
		if seenUUIDs[id] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("uuid %s is duplicated", id))
		}
		seenUUIDs[id] = true

		if tx.Name == "" {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("transaction %s: name must not be empty", id))
		}
		if txNames[tx.Name] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("transaction name %q is duplicated", tx.Name))
		}
		txNames[tx.Name] = true

		for _, te := range tx.Entities {
			entity, ok := c.EntityByName(te.Entity)
			if !ok {
				return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("transaction %q references unknown entity %q", tx.Name, te.Entity))
			}
			for _, attrID := range te.UpdatableAttributes {
				if !entity.HasAttributeID(attrID) {
					return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("transaction %q: entity %q has no attribute id %d", tx.Name, te.Entity, attrID))
				}
			}
		}
	}

	roleNames := make(map[string]bool, len(c.Roles))
	for id, role := range c.Roles {
		if id == uuid.Nil {
			return berrors.New(berrors.CodeInvalidSchema, "role uuid must not be nil")
		}
		if role.UUID != id {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("role %s: map key does not match role uuid", id))
		}
		if seenUUIDs[id] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("uuid %s is duplicated", id))
		}
		seenUUIDs[id] = true

		if role.Name == "" {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("role %s: name must not be empty", id))
		}
		if roleNames[role.Name] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("role name %q is duplicated", role.Name))
		}
		roleNames[role.Name] = true

		for _, grant := range role.Entities {
			entity, ok := c.EntityByName(grant.Entity)
			if !ok {
				return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("role %q references unknown entity %q", role.Name, grant.Entity))
			}
			for _, attrID := range grant.Attributes {
				if !entity.HasAttributeID(attrID) {
					return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("role %q: entity %q has no attribute id %d", role.Name, grant.Entity, attrID))
				}
			}
		}
		for _, txName := range role.Transactions {
			if !txNames[txName] {
				return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("role %q references unknown transaction %q", role.Name, txName))
			}
		}
	}

	if c.DefaultRole != uuid.Nil {
		if _, ok := c.Roles[c.DefaultRole]; !ok {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("default role %s does not exist", c.DefaultRole))
		}
	}

	moduleNames := make(map[string]bool, len(c.Modules))
	for id, mod := range c.Modules {
		if id == uuid.Nil {
			return berrors.New(berrors.CodeInvalidSchema, "module uuid must not be nil")
		}
		if mod.UUID != id {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("module %s: map key does not match module uuid", id))
		}
		if seenUUIDs[id] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("uuid %s is duplicated", id))
		}
		seenUUIDs[id] = true

		if mod.Name == "" {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("module %s: name must not be empty", id))
		}
		if moduleNames[mod.Name] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("module name %q is duplicated", mod.Name))
		}
		moduleNames[mod.Name] = true

		for _, grant := range mod.Entities {
			entity, ok := c.EntityByName(grant.Entity)
			if !ok {
				return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("module %q references unknown entity %q", mod.Name, grant.Entity))
			}
			for _, attrID := range grant.Attributes {
				if !entity.HasAttributeID(attrID) {
					return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("module %q: entity %q has no attribute id %d", mod.Name, grant.Entity, attrID))
				}
			}
		}
	}

	return nil
}

// validateEntityColumns checks id and name uniqueness across an entity's
// keys and attributes taken together, since the wire codec addresses both
// by the same id namespace.
func validateEntityColumns(e Entity) error {
	ids := make(map[uint32]bool, len(e.Keys)+len(e.Attributes))
	names := make(map[string]bool, len(e.Keys)+len(e.Attributes))

	check := func(id uint32, name string) error {
		if name == "" {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity %q: column name must not be empty", e.Name))
		}
		if ids[id] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity %q: column id %d is duplicated", e.Name, id))
		}
		if names[name] {
			return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity %q: column name %q is duplicated", e.Name, name))
		}
		ids[id] = true
		names[name] = true
		return nil
	}

	if len(e.Keys) == 0 {
		return berrors.New(berrors.CodeInvalidSchema, fmt.Sprintf("entity %q: must declare at least one key", e.Name))
	}
	for _, k := range e.Keys {
		if err := check(k.ID, k.Name); err != nil {
			return err
		}
	}
	for _, a := range e.Attributes {
		if err := check(a.ID, a.Name); err != nil {
			return err
		}
	}
	return nil
}
