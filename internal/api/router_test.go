package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/identity"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/store"
)

// newTestRouter wires a router against a fresh store and bootstraps a
// developer account, returning the router and the Basic auth credentials
// to exercise the developer-authenticated context routes.
func newTestRouter(t *testing.T) (http.Handler, string, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "beehive.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	users := identity.NewRegistry(s)
	idsvc := identity.NewService(users, nil)
	const identifier, password = "admin", "hunter2"
	require.NoError(t, idsvc.BootstrapDeveloper(identifier, password))

	router := NewRouter(RouterConfig{
		Identity: idsvc,
		Users:    users,
		Schemas:  schema.NewRegistry(s),
		Logger:   zap.NewNop(),
	})
	return router, identifier, password
}

func sampleContextBody() schema.Context {
	entityID := uuid.New()
	roleID := uuid.New()
	return schema.Context{
		UUID:        uuid.New(),
		Name:        "library",
		DefaultRole: roleID,
		Version:     1,
		Entities: map[uuid.UUID]schema.Entity{
			entityID: {
				UUID: entityID,
				Name: "Book",
				Keys: []schema.Key{{ID: 1, Name: "id", Type: schema.TypeUUIDv4}},
				Attributes: []schema.Attribute{
					{ID: 2, Name: "title", Type: schema.TypeText, NotNull: true},
				},
			},
		},
		Roles: map[uuid.UUID]schema.Role{
			roleID: {
				UUID: roleID,
				Name: "reader",
				Entities: []schema.RoleEntityGrant{
					{Entity: "Book", Attributes: []uint32{1, 2}},
				},
			},
		},
	}
}

func postContext(t *testing.T, router http.Handler, identifier, password string, ctx schema.Context) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/beehive/context", bytes.NewReader(body))
	req.SetBasicAuth(identifier, password)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateContextThenListIncludesIt(t *testing.T) {
	router, identifier, password := newTestRouter(t)
	ctx := sampleContextBody()

	rec := postContext(t, router, identifier, password, ctx)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/beehive/contexts", nil)
	req.SetBasicAuth(identifier, password)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data []schema.Context `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, ctx.UUID, out.Data[0].UUID)
	assert.Equal(t, "library", out.Data[0].Name)
}

func TestCreateContextRejectsSharedUUIDAcrossKinds(t *testing.T) {
	router, identifier, password := newTestRouter(t)
	ctx := sampleContextBody()

	var entityID uuid.UUID
	for id := range ctx.Entities {
		entityID = id
	}
	// Collide the entity's uuid with the context's own uuid: two distinct
	// kinds sharing one identifier, which Validate rejects outright.
	entity := ctx.Entities[entityID]
	delete(ctx.Entities, entityID)
	entity.UUID = ctx.UUID
	ctx.Entities[ctx.UUID] = entity

	rec := postContext(t, router, identifier, password, ctx)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "is duplicated")
}

func TestContextRoutesRequireDeveloperAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/beehive/contexts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLinkRejectsMismatchedContextUUID(t *testing.T) {
	router, identifier, password := newTestRouter(t)
	ctx := sampleContextBody()
	require.Equal(t, http.StatusOK, postContext(t, router, identifier, password, ctx).Code)

	other := uuid.New()
	req := httptest.NewRequest(http.MethodOptions, "/api/beehive/context/"+ctx.UUID.String(), nil)
	req.Method = "LINK"
	req.Header.Set("Link", schema.FormatPublishLink(other, 1))
	req.SetBasicAuth(identifier, password)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkFreezesDraftVersion(t *testing.T) {
	router, identifier, password := newTestRouter(t)
	ctx := sampleContextBody()
	require.Equal(t, http.StatusOK, postContext(t, router, identifier, password, ctx).Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/beehive/context/"+ctx.UUID.String(), nil)
	req.Method = "LINK"
	req.Header.Set("Link", schema.FormatPublishLink(ctx.UUID, 1))
	req.SetBasicAuth(identifier, password)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, schema.FormatPublishLink(ctx.UUID, 1), rec.Header().Get("Link"))

	req = httptest.NewRequest(http.MethodGet, "/api/beehive/context/"+ctx.UUID.String()+"/versions", nil)
	req.SetBasicAuth(identifier, password)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data []uint32 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []uint32{1}, out.Data)
}
