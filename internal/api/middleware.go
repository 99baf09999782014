package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/identity"
)

// contextKey is an unexported type for context keys defined in this package.
// Using a custom type prevents collisions with keys defined in other packages.
type contextKey int

const (
	contextKeyNode contextKey = iota
	contextKeyDeveloper
)

// sessionCookieName is the cookie §6 names: sessionId=<nodeUUID>_<base64key>.
// The node id is rendered as a UUID rather than a numeric id, matching every
// other node reference in this codebase (TCP's opcode frames carry the same
// UUID) — there is no numeric node id anywhere else to be consistent with.
const sessionCookieName = "sessionId"

// SessionAuth resolves the sessionId cookie into an identity.Node and stores
// it in the request context. A missing cookie, malformed value, unknown
// node, or session-key mismatch all report 401 — the adapter never
// distinguishes these to a client, per §4.G.
func SessionAuth(idsvc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			node, err := resolveSession(idsvc, r)
			if err != nil {
				ErrUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyNode, node)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSession(idsvc *identity.Service, r *http.Request) (*identity.Node, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, err
	}
	nodeIDStr, encodedKey, ok := strings.Cut(cookie.Value, "_")
	if !ok {
		return nil, errMalformedSession
	}
	nodeID, err := uuid.Parse(nodeIDStr)
	if err != nil {
		return nil, err
	}
	key, err := base64.URLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, err
	}
	node, err := idsvc.AuthenticateNode(nodeID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(node.SessionKey, key) != 1 {
		return nil, errMalformedSession
	}
	return node, nil
}

var errMalformedSession = &sessionError{"malformed session cookie"}

type sessionError struct{ msg string }

func (e *sessionError) Error() string { return e.msg }

// SetSessionCookie writes node's session as the §6 sessionId cookie.
func SetSessionCookie(w http.ResponseWriter, node *identity.Node, secure bool) {
	value := node.UUID.String() + "_" + base64.URLEncoding.EncodeToString(node.SessionKey)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/api/beehive",
	})
}

// ClearSessionCookie expires the sessionId cookie immediately, on signout
// and signoff.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/api/beehive",
	})
}

// nodeFromCtx retrieves the Node SessionAuth attached to the request.
func nodeFromCtx(ctx context.Context) *identity.Node {
	node, _ := ctx.Value(contextKeyNode).(*identity.Node)
	return node
}

// DeveloperAuth validates HTTP Basic credentials against the Developer
// store, the authentication scheme context-management routes require.
func DeveloperAuth(idsvc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="beehive"`)
				ErrUnauthorized(w)
				return
			}
			dev, err := idsvc.AuthenticateDeveloper(identifier, password)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="beehive"`)
				ErrUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyDeveloper, dev)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func developerFromCtx(ctx context.Context) *identity.Developer {
	dev, _ := ctx.Value(contextKeyDeveloper).(*identity.Developer)
	return dev
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. It logs method, path, status, and latency.
// Chi's middleware.RequestID is expected to run before this middleware so
// that the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
