package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beehive-sync/beehive/internal/schema"
)

func TestResolveIntersectsRoleAndModule(t *testing.T) {
	roleID := uuid.New()
	moduleID := uuid.New()

	ctx := &schema.Context{
		Roles: map[uuid.UUID]schema.Role{
			roleID: {
				Entities: []schema.RoleEntityGrant{
					{Entity: "widgets", Attributes: []uint32{1, 2, 3}},
				},
				Transactions: []string{"create_widget"},
			},
		},
		Modules: map[uuid.UUID]schema.Module{
			moduleID: {
				Entities: []schema.ModuleEntityGrant{
					{Entity: "widgets", Attributes: []uint32{1, 2}},
				},
			},
		},
	}

	vis, err := Resolve(ctx, roleID, moduleID)
	require.NoError(t, err)

	assert.True(t, vis.AttributeVisible("widgets", 1))
	assert.True(t, vis.AttributeVisible("widgets", 2))
	assert.False(t, vis.AttributeVisible("widgets", 3))
	assert.True(t, vis.CanInvoke("create_widget"))
	assert.False(t, vis.CanInvoke("delete_widget"))
}

func TestResolveDropsEntityAbsentFromModule(t *testing.T) {
	roleID := uuid.New()
	moduleID := uuid.New()

	ctx := &schema.Context{
		Roles: map[uuid.UUID]schema.Role{
			roleID: {
				Entities: []schema.RoleEntityGrant{
					{Entity: "secrets", Attributes: []uint32{1}},
				},
			},
		},
		Modules: map[uuid.UUID]schema.Module{
			moduleID: {Entities: nil},
		},
	}

	vis, err := Resolve(ctx, roleID, moduleID)
	require.NoError(t, err)
	assert.False(t, vis.EntityVisible("secrets"))
}

func TestRequireCapabilityDeniesWhenUnset(t *testing.T) {
	roleID := uuid.New()
	moduleID := uuid.New()
	ctx := &schema.Context{
		Roles:   map[uuid.UUID]schema.Role{roleID: {ReadEmail: false}},
		Modules: map[uuid.UUID]schema.Module{moduleID: {}},
	}
	vis, err := Resolve(ctx, roleID, moduleID)
	require.NoError(t, err)
	assert.Error(t, vis.RequireCapability(CapReadEmail))
}
