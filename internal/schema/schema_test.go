package schema

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "beehive.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewRegistry(s)
}

func sampleContext() *Context {
	entityID := uuid.New()
	roleID := uuid.New()
	txID := uuid.New()
	return &Context{
		UUID:        uuid.New(),
		Name:        "library",
		DefaultRole: roleID,
		Version:     1,
		Entities: map[uuid.UUID]Entity{
			entityID: {
				UUID: entityID,
				Name: "Book",
				Keys: []Key{{ID: 1, Name: "id", Type: TypeUUIDv4}},
				Attributes: []Attribute{
					{ID: 2, Name: "title", Type: TypeText, NotNull: true},
					{ID: 3, Name: "pages", Type: TypeInteger},
				},
			},
		},
		Transactions: map[uuid.UUID]Transaction{
			txID: {
				UUID: txID,
				Name: "renameBook",
				Entities: []TransactionEntity{
					{Entity: "Book", UpdatableAttributes: []uint32{2}},
				},
			},
		},
		Roles: map[uuid.UUID]Role{
			roleID: {
				UUID: roleID,
				Name: "reader",
				Entities: []RoleEntityGrant{
					{Entity: "Book", Attributes: []uint32{1, 2, 3}},
				},
				Transactions: []string{"renameBook"},
			},
		},
		Modules: map[uuid.UUID]Module{},
	}
}

func TestValidateAcceptsWellFormedContext(t *testing.T) {
	c := sampleContext()
	require.NoError(t, c.Validate())
}

func TestValidateRejectsDuplicateUUIDAcrossKinds(t *testing.T) {
	c := sampleContext()
	var roleID uuid.UUID
	for id := range c.Roles {
		roleID = id
	}
	c.Transactions[roleID] = Transaction{UUID: roleID, Name: "collides"}

	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, berrors.CodeInvalidSchema, berrors.CodeOf(err))
}

func TestValidateRejectsTransactionReferencingUnknownEntity(t *testing.T) {
	c := sampleContext()
	txID := uuid.New()
	c.Transactions[txID] = Transaction{
		UUID: txID,
		Name: "ghost",
		Entities: []TransactionEntity{
			{Entity: "NoSuchEntity"},
		},
	}

	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, berrors.CodeInvalidSchema, berrors.CodeOf(err))
}

func TestValidateRejectsRoleReferencingUnknownAttribute(t *testing.T) {
	c := sampleContext()
	roleID := uuid.New()
	c.Roles[roleID] = Role{
		UUID: roleID,
		Name: "ghostReader",
		Entities: []RoleEntityGrant{
			{Entity: "Book", Attributes: []uint32{99}},
		},
	}

	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, berrors.CodeInvalidSchema, berrors.CodeOf(err))
}

func TestValidateRejectsDuplicateAttributeIDWithinEntity(t *testing.T) {
	c := sampleContext()
	for id, e := range c.Entities {
		e.Attributes = append(e.Attributes, Attribute{ID: 2, Name: "duplicateID"})
		c.Entities[id] = e
	}

	err := c.Validate()
	require.Error(t, err)
	assert.Equal(t, berrors.CodeInvalidSchema, berrors.CodeOf(err))
}

func TestRegistryPostGetPutRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	c := sampleContext()

	require.NoError(t, r.Post(c))

	got, err := r.Get(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Version, got.Version)
	assert.Len(t, got.Entities, 1)

	got.Version = 2
	require.NoError(t, r.Put(got))

	reread, err := r.Get(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), reread.Version)
}

func TestRegistryPostTwiceFails(t *testing.T) {
	r := newTestRegistry(t)
	c := sampleContext()
	require.NoError(t, r.Post(c))
	err := r.Post(c)
	require.Error(t, err)
}

func TestRegistryLinkFreezesVersionIndependentlyOfDraft(t *testing.T) {
	r := newTestRegistry(t)
	c := sampleContext()
	require.NoError(t, r.Post(c))

	frozen, err := r.Link(c.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), frozen.Version)

	draft, err := r.Get(c.UUID)
	require.NoError(t, err)
	draft.Name = "renamed"
	require.NoError(t, r.Put(draft))

	version, err := r.GetVersion(c.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, "library", version.Name)

	current, err := r.Get(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", current.Name)
}

func TestRegistryLinkRejectsVersionMismatch(t *testing.T) {
	r := newTestRegistry(t)
	c := sampleContext()
	require.NoError(t, r.Post(c))

	_, err := r.Link(c.UUID, 2)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeInvalidRequest, berrors.CodeOf(err))
}

func TestRegistryUnlinkRemovesOnlyThatVersion(t *testing.T) {
	r := newTestRegistry(t)
	c := sampleContext()
	require.NoError(t, r.Post(c))
	_, err := r.Link(c.UUID, 1)
	require.NoError(t, err)

	require.NoError(t, r.Unlink(c.UUID, 1))

	_, err = r.GetVersion(c.UUID, 1)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeNotExists, berrors.CodeOf(err))

	_, err = r.Get(c.UUID)
	require.NoError(t, err)
}

func TestRegistryDeleteRemovesContext(t *testing.T) {
	r := newTestRegistry(t)
	c := sampleContext()
	require.NoError(t, r.Post(c))
	require.NoError(t, r.Delete(c.UUID))

	_, err := r.Get(c.UUID)
	require.Error(t, err)
}

func TestParsePublishLinkRoundTrip(t *testing.T) {
	id := uuid.New()
	header := FormatPublishLink(id, 3)

	gotID, gotVersion, err := ParsePublishLink(header)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, uint32(3), gotVersion)
}

func TestParsePublishLinkRejectsMalformed(t *testing.T) {
	_, _, err := ParsePublishLink(`<garbage>`)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeInvalidRequest, berrors.CodeOf(err))
}
