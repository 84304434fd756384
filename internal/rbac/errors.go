package rbac

import "errors"

// Error taxonomy for permission operations. Mutation paths return these
// wrapped with the specific reason; the resolution path never surfaces
// ErrUpstream to an authorization caller — it converts to a deny-all set.
var (
	// ErrValidation indicates a malformed role, permission, or template reference.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("rbac: not found")
	// ErrConflict indicates an attempted mutation of a system role or
	// permission, or a duplicate assignment.
	ErrConflict = errors.New("rbac: conflict")
	// ErrForbidden indicates the caller lacks rights for the mutation itself.
	ErrForbidden = errors.New("rbac: forbidden")
	// ErrUpstream indicates a backing store is unavailable.
	ErrUpstream = errors.New("rbac: upstream unavailable")
)
