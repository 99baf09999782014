package api

import (
	"strconv"

	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/schema"
)

// contextHandler implements the developer-authenticated context management
// routes: creation, replacement, deletion, listing, and version
// freeze/unfreeze (LINK/UNLINK), §6.
type contextHandler struct {
	schemas *schema.Registry
	logger  *zap.Logger
}

// Create handles POST /api/beehive/context: registers a brand-new context
// from its full document, assigning it a fresh uuid if the body omits one.
func (h *contextHandler) Create(w http.ResponseWriter, r *http.Request) {
	var ctx schema.Context
	if !decodeJSON(w, r, &ctx) {
		return
	}
	if ctx.UUID == uuid.Nil {
		ctx.UUID = uuid.New()
	}
	if err := h.schemas.Post(&ctx); err != nil {
		ErrFrom(w, err)
		return
	}
	Ok(w, ctx)
}

// List handles GET /api/beehive/contexts: every context's current draft.
func (h *contextHandler) List(w http.ResponseWriter, r *http.Request) {
	contexts, err := h.schemas.List()
	if err != nil {
		ErrFrom(w, err)
		return
	}
	Ok(w, contexts)
}

// Get handles GET /api/beehive/context/{uuid}: the current editable draft.
func (h *contextHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	ctx, err := h.schemas.Get(id)
	if err != nil {
		ErrFrom(w, err)
		return
	}
	Ok(w, ctx)
}

// Replace handles PUT /api/beehive/context/{uuid}: overwrites the draft.
func (h *contextHandler) Replace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	var ctx schema.Context
	if !decodeJSON(w, r, &ctx) {
		return
	}
	ctx.UUID = id
	if err := h.schemas.Put(&ctx); err != nil {
		ErrFrom(w, err)
		return
	}
	Ok(w, ctx)
}

// Delete handles DELETE /api/beehive/context/{uuid}.
func (h *contextHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	if err := h.schemas.Delete(id); err != nil {
		ErrFrom(w, err)
		return
	}
	NoContent(w)
}

// ListVersions handles GET /api/beehive/context/{uuid}/versions: the frozen
// version numbers, ascending.
func (h *contextHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	versions, err := h.schemas.ListVersions(id)
	if err != nil {
		ErrFrom(w, err)
		return
	}
	Ok(w, versions)
}

// GetVersion handles GET /api/beehive/context/{uuid}/versions/{n}.
func (h *contextHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	n, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 32)
	if err != nil {
		ErrBadRequest(w, "malformed version number")
		return
	}
	ctx, err := h.schemas.GetVersion(id, uint32(n))
	if err != nil {
		ErrFrom(w, err)
		return
	}
	Ok(w, ctx)
}

// Link handles the LINK /api/beehive/context/{uuid} method: freezes the
// current draft as an immutable, addressable version and reports it back
// as a Link header per §4.C's publish-link convention.
func (h *contextHandler) Link(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	linkHeader := r.Header.Get("Link")
	if linkHeader == "" {
		ErrBadRequest(w, "missing Link header naming the version to publish")
		return
	}
	linkCtx, version, err := schema.ParsePublishLink(linkHeader)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	if linkCtx != id {
		ErrBadRequest(w, "Link header context does not match the requested context")
		return
	}
	frozen, err := h.schemas.Link(id, version)
	if err != nil {
		ErrFrom(w, err)
		return
	}
	w.Header().Set("Link", schema.FormatPublishLink(id, frozen.Version))
	Ok(w, frozen)
}

// Unlink handles the UNLINK /api/beehive/context/{uuid} method: removes a
// previously frozen version named by the request's Link header.
func (h *contextHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	linkHeader := r.Header.Get("Link")
	if linkHeader == "" {
		ErrBadRequest(w, "missing Link header naming the version to unlink")
		return
	}
	linkCtx, version, err := schema.ParsePublishLink(linkHeader)
	if err != nil {
		ErrBadRequest(w, err.Error())
		return
	}
	if linkCtx != id {
		ErrBadRequest(w, "Link header context does not match the requested context")
		return
	}
	if err := h.schemas.Unlink(id, version); err != nil {
		ErrFrom(w, err)
		return
	}
	NoContent(w)
}

// parseUUIDParam parses the named Chi URL param as a uuid, writing a 400
// response and returning ok=false on failure.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		ErrBadRequest(w, "malformed "+name)
		return uuid.Nil, false
	}
	return id, true
}
