package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/meridian-cms/meridian/internal/audit/http"
	"github.com/meridian-cms/meridian/internal/auth"
	"github.com/meridian-cms/meridian/internal/groups"
	"github.com/meridian-cms/meridian/internal/observability"
	"github.com/meridian-cms/meridian/internal/pages"
	"github.com/meridian-cms/meridian/internal/permissions"
	"github.com/meridian-cms/meridian/internal/roles"
	"github.com/meridian-cms/meridian/internal/shared"
	"github.com/meridian-cms/meridian/internal/users"
	"github.com/meridian-cms/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler        *auth.Handler
	PagesHandler       *pages.Handler
	GroupsHandler      *groups.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *permissions.Handler
	AuditHandler       *audithttp.Handler
	JobsHandler        *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Public content delivery. ACL checks happen inside the handler so
	// unauthenticated visitors resolve against the guest principal.
	if params.PagesHandler != nil {
		params.PagesHandler.MountPublicRoutes(r)
	}

	r.Route("/admin", func(r chi.Router) {
		if params.PagesHandler != nil {
			params.PagesHandler.MountAdminRoutes(r)
		}
		if params.GroupsHandler != nil {
			params.GroupsHandler.MountRoutes(r)
		}
		if params.UsersHandler != nil {
			params.UsersHandler.MountRoutes(r)
		}
		if params.RolesHandler != nil {
			params.RolesHandler.MountRoutes(r)
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
