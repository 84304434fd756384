package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/loanpilot/loanpilot/internal/shared"
)

// Routes mounts the audit endpoints. The guard is the permission
// middleware supplied by the caller; exports are additionally rate
// limited per actor since each one walks the full filtered trail.
func Routes(h *Handler, exportLimit int, guard func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(guard)

	r.Get("/", h.Query)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(exportLimit, time.Minute, httprate.WithKeyFuncs(rateLimitKey)))
		r.Get("/export", h.Export)
	})

	return r
}

func rateLimitKey(r *http.Request) (string, error) {
	if actorID, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(actorID, 10), nil
	}
	return httprate.KeyByIP(r)
}
