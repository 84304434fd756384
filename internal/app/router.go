package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/rbac"
	"github.com/loanpilot/loanpilot/internal/templates"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	RBACHandler      *rbac.Handler
	RBACChecker      rbac.PermissionChecker
	TemplatesHandler *templates.Handler
	AuditHandler     *audit.Handler
}

// NewRouter constructs the chi router with the LoanPilot defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Config) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	exportLimit := 10
	if params.Config != nil && params.Config.AuditExportLimit > 0 {
		exportLimit = params.Config.AuditExportLimit
	}
	auditGuard := rbac.RequirePermission(params.RBACChecker, rbac.ResourcePermissions, rbac.ActionRead)

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/rbac", rbac.Routes(params.RBACHandler, params.RBACChecker))
		r.Mount("/templates", templates.Routes(params.TemplatesHandler, params.RBACChecker))
		r.Mount("/audit", audit.Routes(params.AuditHandler, exportLimit, auditGuard))
	})

	return r
}
