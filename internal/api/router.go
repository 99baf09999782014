package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/identity"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/sync"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after every component is initialized and passed to
// NewRouter as a single struct to keep the constructor signature manageable.
type RouterConfig struct {
	Identity *identity.Service
	Users    *identity.Registry
	Schemas  *schema.Registry
	Engine   *sync.Engine
	Logger   *zap.Logger

	// Secure controls whether the session cookie is set with the Secure
	// flag. True in production (HTTPS), false in local development.
	Secure bool
}

// NewRouter builds the Chi router for the §6 HTTP admin surface, mounted
// under /api/beehive.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	ctxHandler := &contextHandler{schemas: cfg.Schemas, logger: cfg.Logger}
	userHandler := &userHandler{users: cfg.Users, identity: cfg.Identity, logger: cfg.Logger, secure: cfg.Secure}

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/beehive", func(r chi.Router) {
		// --- Context management: developer Basic auth ---
		r.Group(func(r chi.Router) {
			r.Use(DeveloperAuth(cfg.Identity))

			r.Post("/context", ctxHandler.Create)
			r.Get("/contexts", ctxHandler.List)
			r.Get("/context/{uuid}", ctxHandler.Get)
			r.Put("/context/{uuid}", ctxHandler.Replace)
			r.Delete("/context/{uuid}", ctxHandler.Delete)
			r.Get("/context/{uuid}/versions", ctxHandler.ListVersions)
			r.Get("/context/{uuid}/versions/{n}", ctxHandler.GetVersion)
			r.MethodFunc("LINK", "/context/{uuid}", ctxHandler.Link)
			r.MethodFunc("UNLINK", "/context/{uuid}", ctxHandler.Unlink)
		})

		// --- Per-context user/session surface ---
		r.Group(func(r chi.Router) {
			r.Post("/{ctx}/signup", userHandler.SignUp)
			r.Post("/{ctx}/signin", userHandler.SignIn)
		})
		r.Group(func(r chi.Router) {
			r.Use(SessionAuth(cfg.Identity))

			r.Post("/{ctx}/user", userHandler.Create)
			r.Get("/{ctx}/user/{uuid}", userHandler.Get)
			r.Put("/{ctx}/user/{uuid}", userHandler.Update)
			r.Delete("/{ctx}/user/{uuid}", userHandler.Delete)
			r.Post("/{ctx}/signout", userHandler.SignOut)
			r.Post("/{ctx}/signoff", userHandler.SignOff)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrNotFound(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errJSON(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
	})

	return r
}
