// Package authz resolves a Node's effective visibility and capability set:
// the intersection of its Role's grants with its Module's grants, per §4.E.
package authz

import (
	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/schema"
)

// Visibility is the set of entities and, per entity, attribute ids a Node
// may see — the intersection Role∩Module. A zero-value Visibility (nil
// Entities map) sees nothing.
type Visibility struct {
	// Entities maps entity name to the set of visible attribute ids on it.
	// An entity absent from the map is entirely invisible.
	Entities map[string]map[uint32]bool

	role *schema.Role
}

// Resolve computes the effective visibility of a Node pinned to ctx (the
// schema version the node's session was authenticated against), given its
// role and module uuids.
func Resolve(ctx *schema.Context, roleID, moduleID uuid.UUID) (*Visibility, error) {
	role, ok := ctx.Roles[roleID]
	if !ok {
		return nil, berrors.New(berrors.CodeNotEnoughRights, "unknown role")
	}
	module, ok := ctx.Modules[moduleID]
	if !ok {
		return nil, berrors.New(berrors.CodeNotEnoughRights, "unknown module")
	}

	roleGrants := make(map[string]map[uint32]bool, len(role.Entities))
	for _, g := range role.Entities {
		set := roleGrants[g.Entity]
		if set == nil {
			set = make(map[uint32]bool, len(g.Attributes))
			roleGrants[g.Entity] = set
		}
		for _, id := range g.Attributes {
			set[id] = true
		}
	}

	moduleGrants := make(map[string]map[uint32]bool, len(module.Entities))
	for _, g := range module.Entities {
		set := moduleGrants[g.Entity]
		if set == nil {
			set = make(map[uint32]bool, len(g.Attributes))
			moduleGrants[g.Entity] = set
		}
		for _, id := range g.Attributes {
			set[id] = true
		}
	}

	out := make(map[string]map[uint32]bool, len(roleGrants))
	for entity, roleAttrs := range roleGrants {
		moduleAttrs, ok := moduleGrants[entity]
		if !ok {
			continue
		}
		visible := make(map[uint32]bool)
		for id := range roleAttrs {
			if moduleAttrs[id] {
				visible[id] = true
			}
		}
		if len(visible) > 0 {
			out[entity] = visible
		}
	}
	return &Visibility{Entities: out, role: &role}, nil
}

// EntityVisible reports whether entity is visible at all.
func (v *Visibility) EntityVisible(entity string) bool {
	_, ok := v.Entities[entity]
	return ok
}

// AttributeVisible reports whether attribute id on entity is visible.
func (v *Visibility) AttributeVisible(entity string, attr uint32) bool {
	attrs, ok := v.Entities[entity]
	if !ok {
		return false
	}
	return attrs[attr]
}

// VisibleAttributes returns the set of visible attribute ids on entity, nil
// if the entity itself is invisible.
func (v *Visibility) VisibleAttributes(entity string) map[uint32]bool {
	return v.Entities[entity]
}

// CanInvoke reports whether the role may invoke the named transaction.
func (v *Visibility) CanInvoke(transaction string) bool {
	if v.role == nil {
		return false
	}
	for _, name := range v.role.Transactions {
		if name == transaction {
			return true
		}
	}
	return false
}

// RequireCapability checks one of the five administrative capability flags,
// returning berrors.CodeNotEnoughRights if the role lacks it.
func (v *Visibility) RequireCapability(flag Capability) error {
	if v.role == nil || !flag.get(v.role) {
		return berrors.New(berrors.CodeNotEnoughRights, string(flag)+" not granted")
	}
	return nil
}

// Capability names one of the five role booleans guarding administrative
// fan-in operations.
type Capability string

const (
	CapReadMembers   Capability = "readmembers"
	CapManageMembers Capability = "managemembers"
	CapReadEmail     Capability = "reademail"
	CapShareDataset  Capability = "sharedataset"
	CapManageShare   Capability = "manageshare"
)

func (c Capability) get(r *schema.Role) bool {
	switch c {
	case CapReadMembers:
		return r.ReadMembers
	case CapManageMembers:
		return r.ManageMembers
	case CapReadEmail:
		return r.ReadEmail
	case CapShareDataset:
		return r.ShareDataset
	case CapManageShare:
		return r.ManageShare
	default:
		return false
	}
}
