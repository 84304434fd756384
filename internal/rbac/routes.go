package rbac

import (
	"github.com/go-chi/chi/v5"
)

// Administrative catalog entries guarding the RBAC surface itself.
const (
	ResourcePermissions = "permissions"
	ActionRead          = "read"
	ActionManage        = "manage"
)

// Routes mounts the RBAC endpoints. The mutation and inspection routes
// are themselves permission guarded; only the self-lookup is open to any
// authenticated actor.
func Routes(h *Handler, checker PermissionChecker) chi.Router {
	r := chi.NewRouter()

	r.Get("/me/permissions", h.MyPermissions)

	r.Group(func(r chi.Router) {
		r.Use(RequirePermission(checker, ResourcePermissions, ActionRead))
		r.Get("/users/{userID}/permissions", h.UserPermissions)
		r.Get("/roles/matrix", h.Matrix)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequirePermission(checker, ResourcePermissions, ActionManage))
		r.Post("/users/{userID}/roles", h.AssignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.RevokeRole)
		r.Post("/users/{userID}/permissions", h.SetOverride)
		r.Delete("/users/{userID}/permissions/{permissionID}", h.RemoveOverride)
		r.Put("/roles/{roleID}/permissions/{permissionID}", h.ToggleCell)
	})

	return r
}
