package rbac

import (
	"context"
	"net/http"

	"github.com/loanpilot/loanpilot/internal/platform/httpx"
	"github.com/loanpilot/loanpilot/internal/shared"
)

// PermissionChecker answers authorization questions for middleware.
// *Service satisfies it.
type PermissionChecker interface {
	Can(ctx context.Context, userID int64, resourceType, action string, scope *Scope) bool
	HasRole(ctx context.Context, userID int64, name string) bool
}

// RequirePermission guards a route with a resource/action check at any
// scope. Requests without an actor get 401; actors without the grant
// get 403. Resolution failures deny.
func RequirePermission(checker PermissionChecker, resourceType, action string) func(http.Handler) http.Handler {
	return requireScoped(checker, resourceType, action, nil)
}

// RequirePermissionScoped guards a route with a resource/action check at
// the given minimum scope.
func RequirePermissionScoped(checker PermissionChecker, resourceType, action string, scope Scope) func(http.Handler) http.Handler {
	return requireScoped(checker, resourceType, action, &scope)
}

func requireScoped(checker PermissionChecker, resourceType, action string, scope *Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
				return
			}
			if !checker.Can(r.Context(), actorID, resourceType, action, scope) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole guards a route with case-insensitive role membership.
func RequireRole(checker PermissionChecker, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
				return
			}
			if !checker.HasRole(r.Context(), actorID, name) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
