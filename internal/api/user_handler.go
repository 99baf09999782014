package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/identity"
)

// userHandler implements the per-context user and session surface:
// self-service signup, internal/federated sign-in, session sign-out, and
// developer-equivalent user CRUD for an already-authenticated session, §6.
type userHandler struct {
	users    *identity.Registry
	identity *identity.Service
	logger   *zap.Logger
	secure   bool
}

// signUpRequest is the body for POST /{ctx}/signup: a brand-new internal
// account, password supplied in the clear over TLS and hashed server-side.
type signUpRequest struct {
	Identifier  string `json:"identifier"`
	Password    string `json:"password"`
	DisplayName string `json:"displayname"`
}

// SignUp handles POST /api/beehive/{ctx}/signup.
func (h *userHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identifier == "" || req.Password == "" {
		ErrBadRequest(w, "identifier and password are required")
		return
	}

	salt, err := identity.NewSalt()
	if err != nil {
		h.logger.Error("signup: generate salt", zap.Error(err))
		ErrInternal(w)
		return
	}
	u := &identity.User{
		UUID:         uuid.New(),
		Identifier:   req.Identifier,
		DisplayName:  req.DisplayName,
		Type:         identity.UserInternal,
		PasswordHash: identity.HashPassword(req.Password, salt),
		Salt:         salt,
	}
	if err := h.users.CreateUser(contextID, u); err != nil {
		ErrFrom(w, err)
		return
	}
	u.PasswordHash = nil
	u.Salt = nil
	Created(w, u)
}

// signInRequest is the body for POST /{ctx}/signin. Exactly one of
// Password (internal accounts) or Token (federated accounts) is set.
// Module and SchemaVersion pin the session to the client build and schema
// snapshot every subsequent TCP message is authenticated and projected
// against.
type signInRequest struct {
	Identifier    string    `json:"identifier"`
	Password      string    `json:"password,omitempty"`
	Token         string    `json:"token,omitempty"`
	Module        uuid.UUID `json:"module"`
	SchemaVersion uint32    `json:"schemaversion"`
}

// SignIn handles POST /api/beehive/{ctx}/signin: authenticates an internal
// or federated account and issues a session cookie for the new Node.
func (h *userHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var node *identity.Node
	var err error
	switch {
	case req.Token != "":
		node, err = h.identity.SignInFederated(contextID, req.Module, req.Token, req.SchemaVersion)
	case req.Identifier != "" && req.Password != "":
		node, err = h.identity.SignInInternal(contextID, req.Module, req.Identifier, req.Password, req.SchemaVersion)
	default:
		ErrBadRequest(w, "either (identifier, password) or token is required")
		return
	}
	if err != nil {
		ErrFrom(w, err)
		return
	}

	SetSessionCookie(w, node, h.secure)
	Ok(w, node)
}

// Create handles POST /api/beehive/{ctx}/user: an already-signed-in session
// creating another internal account in its own context, e.g. an
// administrator provisioning teammates.
func (h *userHandler) Create(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identifier == "" || req.Password == "" {
		ErrBadRequest(w, "identifier and password are required")
		return
	}
	salt, err := identity.NewSalt()
	if err != nil {
		h.logger.Error("create user: generate salt", zap.Error(err))
		ErrInternal(w)
		return
	}
	u := &identity.User{
		UUID:         uuid.New(),
		Identifier:   req.Identifier,
		DisplayName:  req.DisplayName,
		Type:         identity.UserInternal,
		PasswordHash: identity.HashPassword(req.Password, salt),
		Salt:         salt,
	}
	if err := h.users.CreateUser(contextID, u); err != nil {
		ErrFrom(w, err)
		return
	}
	u.PasswordHash = nil
	u.Salt = nil
	Created(w, u)
}

// Get handles GET /api/beehive/{ctx}/user/{uuid}.
func (h *userHandler) Get(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	u, err := h.users.GetUserByUUID(contextID, userID)
	if err != nil {
		ErrFrom(w, err)
		return
	}
	u.PasswordHash = nil
	u.Salt = nil
	Ok(w, u)
}

// userUpdateRequest is the body for PUT /{ctx}/user/{uuid}. An empty
// Password leaves the stored credential untouched.
type userUpdateRequest struct {
	DisplayName string `json:"displayname"`
	Password    string `json:"password,omitempty"`
}

// Update handles PUT /api/beehive/{ctx}/user/{uuid}.
func (h *userHandler) Update(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	u, err := h.users.GetUserByUUID(contextID, userID)
	if err != nil {
		ErrFrom(w, err)
		return
	}

	var req userUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DisplayName != "" {
		u.DisplayName = req.DisplayName
	}
	if req.Password != "" {
		if u.Type != identity.UserInternal {
			ErrBadRequest(w, "cannot set a password on a federated account")
			return
		}
		salt, err := identity.NewSalt()
		if err != nil {
			h.logger.Error("update user: generate salt", zap.Error(err))
			ErrInternal(w)
			return
		}
		u.Salt = salt
		u.PasswordHash = identity.HashPassword(req.Password, salt)
	}

	if err := h.users.DeleteUser(contextID, u); err != nil {
		ErrFrom(w, err)
		return
	}
	if err := h.users.CreateUser(contextID, u); err != nil {
		ErrFrom(w, err)
		return
	}
	u.PasswordHash = nil
	u.Salt = nil
	Ok(w, u)
}

// Delete handles DELETE /api/beehive/{ctx}/user/{uuid}.
func (h *userHandler) Delete(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(w, r, "uuid")
	if !ok {
		return
	}
	u, err := h.users.GetUserByUUID(contextID, userID)
	if err != nil {
		ErrFrom(w, err)
		return
	}
	if err := h.users.DeleteUser(contextID, u); err != nil {
		ErrFrom(w, err)
		return
	}
	NoContent(w)
}

// SignOut handles POST /api/beehive/{ctx}/signout: destroys the calling
// session's own Node.
func (h *userHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	node := nodeFromCtx(r.Context())
	if node == nil {
		ErrUnauthorized(w)
		return
	}
	if err := h.identity.SignOut(node.User.UUID, node.UUID); err != nil {
		ErrFrom(w, err)
		return
	}
	ClearSessionCookie(w, h.secure)
	NoContent(w)
}

// SignOff handles POST /api/beehive/{ctx}/signoff: deletes the calling
// session's own account entirely, along with its session.
func (h *userHandler) SignOff(w http.ResponseWriter, r *http.Request) {
	contextID, ok := parseUUIDParam(w, r, "ctx")
	if !ok {
		return
	}
	node := nodeFromCtx(r.Context())
	if node == nil {
		ErrUnauthorized(w)
		return
	}
	if err := h.users.DeleteUser(contextID, &node.User); err != nil {
		ErrFrom(w, err)
		return
	}
	if err := h.identity.SignOut(node.User.UUID, node.UUID); err != nil {
		ErrFrom(w, err)
		return
	}
	ClearSessionCookie(w, h.secure)
	NoContent(w)
}
