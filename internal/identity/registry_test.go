package identity

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

func newTestRegistry(t *testing.T) (*Registry, uuid.UUID) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "beehive.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	contextID := uuid.New()
	require.NoError(t, s.CreateContext(contextID.String()))
	return NewRegistry(s), contextID
}

func TestCreateAndGetUserByIdentifierAndUUID(t *testing.T) {
	r, contextID := newTestRegistry(t)
	salt, err := NewSalt()
	require.NoError(t, err)

	u := &User{
		UUID:         uuid.New(),
		Identifier:   "alice@example.com",
		DisplayName:  "Alice",
		Type:         UserInternal,
		PasswordHash: HashPassword("hunter2", salt),
		Salt:         salt,
	}
	require.NoError(t, r.CreateUser(contextID, u))

	byID, err := r.GetUserByIdentifier(contextID, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.UUID, byID.UUID)

	byUUID, err := r.GetUserByUUID(contextID, u.UUID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byUUID.Identifier)
}

func TestCreateUserTwiceFails(t *testing.T) {
	r, contextID := newTestRegistry(t)
	u := &User{UUID: uuid.New(), Identifier: "bob@example.com", Type: UserInternal}
	require.NoError(t, r.CreateUser(contextID, u))

	err := r.CreateUser(contextID, &User{UUID: uuid.New(), Identifier: "bob@example.com"})
	require.Error(t, err)
	assert.Equal(t, berrors.CodeAlreadyExists, berrors.CodeOf(err))
}

func TestDeleteUserRemovesBothKeys(t *testing.T) {
	r, contextID := newTestRegistry(t)
	u := &User{UUID: uuid.New(), Identifier: "carol@example.com", Type: UserInternal}
	require.NoError(t, r.CreateUser(contextID, u))
	require.NoError(t, r.DeleteUser(contextID, u))

	_, err := r.GetUserByIdentifier(contextID, "carol@example.com")
	require.Error(t, err)
	assert.Equal(t, berrors.CodeUserNotFound, berrors.CodeOf(err))

	_, err = r.GetUserByUUID(contextID, u.UUID)
	require.Error(t, err)
}

func TestDeveloperBootstrapOnlyCreatesOnce(t *testing.T) {
	r, _ := newTestRegistry(t)

	exists, err := r.AnyDeveloperExists()
	require.NoError(t, err)
	assert.False(t, exists)

	salt, err := NewSalt()
	require.NoError(t, err)
	require.NoError(t, r.CreateDeveloper(&Developer{
		Identifier:   "admin",
		Name:         "default",
		PasswordHash: HashPassword("changeme", salt),
		Salt:         salt,
		Rights:       RightsAll,
	}))

	exists, err = r.AnyDeveloperExists()
	require.NoError(t, err)
	assert.True(t, exists)

	err = r.CreateDeveloper(&Developer{Identifier: "admin"})
	require.Error(t, err)
	assert.Equal(t, berrors.CodeAlreadyExists, berrors.CodeOf(err))
}

func TestNodeCreateGetDelete(t *testing.T) {
	r, contextID := newTestRegistry(t)
	userID := uuid.New()
	sessionKey, err := NewSessionKey()
	require.NoError(t, err)

	node := &Node{
		UUID:        uuid.New(),
		SessionKey:  sessionKey,
		ContextUUID: contextID,
	}
	require.NoError(t, r.CreateNode(userID, node))

	got, err := r.GetNode(userID, node.UUID)
	require.NoError(t, err)
	assert.Equal(t, sessionKey, got.SessionKey)

	require.NoError(t, r.DeleteNode(userID, node.UUID))
	_, err = r.GetNode(userID, node.UUID)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeAuthentication, berrors.CodeOf(err))
}
