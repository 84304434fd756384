package rbac

import (
	"context"
	"fmt"
	"log/slog"
)

// UserStatus reports existence and activity for a user ID.
type UserStatus struct {
	Exists bool
	Active bool
}

// UserDirectory answers whether a user exists and is active. The user
// store itself is owned by the platform's user management collaborator.
type UserDirectory interface {
	Status(ctx context.Context, userID int64) (UserStatus, error)
}

// AssignmentReader loads a user's current non-expired roles.
type AssignmentReader interface {
	ActiveRoles(ctx context.Context, userID int64) ([]Role, error)
}

// RolePermissionReader loads the permissions granted by a set of roles.
type RolePermissionReader interface {
	PermissionsForRoles(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error)
}

// OverrideReader loads a user's non-expired direct grants and denials.
type OverrideReader interface {
	ActiveOverrides(ctx context.Context, userID int64) ([]Override, error)
}

// Resolver computes the effective permission set for a user by combining
// role grants with direct overrides. Resolution is read-only and costs
// O(roles held + overrides) store work per call.
//
// Callers on the authorization path must treat a non-nil error as a
// deny-all result, never as an implicit allow; Cache.Get performs that
// conversion.
type Resolver struct {
	users       UserDirectory
	assignments AssignmentReader
	rolePerms   RolePermissionReader
	overrides   OverrideReader
}

// NewResolver constructs a Resolver over the given stores.
func NewResolver(users UserDirectory, assignments AssignmentReader, rolePerms RolePermissionReader, overrides OverrideReader) *Resolver {
	return &Resolver{
		users:       users,
		assignments: assignments,
		rolePerms:   rolePerms,
		overrides:   overrides,
	}
}

// Resolve computes the effective permission set for userID.
//
// Inactive or unknown users resolve to the empty set without error.
// Direct denials are applied last and remove the permission no matter how
// it entered the set; a denial for a permission never granted is a no-op.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (*EffectiveSet, error) {
	return r.resolve(ctx, userID, nil)
}

// resolve optionally invokes observe once the user's roles are loaded and
// before any grant rows are read. The cache records role version counters
// there, so a counter bump landing mid-resolution always differs from the
// recorded values and stales the resulting entry.
func (r *Resolver) resolve(ctx context.Context, userID int64, observe func([]Role) error) (*EffectiveSet, error) {
	status, err := r.users.Status(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user status: %v", ErrUpstream, err)
	}
	if !status.Exists || !status.Active {
		return DenyAll(userID), nil
	}

	roles, err := r.assignments.ActiveRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: active roles: %v", ErrUpstream, err)
	}
	if observe != nil {
		if err := observe(roles); err != nil {
			return nil, err
		}
	}

	working := make(map[int64]EffectivePermission)
	if len(roles) > 0 {
		roleIDs := make([]int64, len(roles))
		for i, role := range roles {
			roleIDs[i] = role.ID
		}
		byRole, err := r.rolePerms.PermissionsForRoles(ctx, roleIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: role permissions: %v", ErrUpstream, err)
		}
		// Roles arrive ordered by name; the first role granting a
		// permission supplies its attribution. The grant is what
		// matters, not which role is named.
		for _, role := range roles {
			for _, perm := range byRole[role.ID] {
				if !perm.IsActive {
					continue
				}
				if _, ok := working[perm.ID]; ok {
					continue
				}
				working[perm.ID] = EffectivePermission{
					Permission: perm,
					Source:     SourceRole,
					RoleName:   role.Name,
					RoleLevel:  role.Level,
					IsGranted:  true,
				}
			}
		}
	}

	overrides, err := r.overrides.ActiveOverrides(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: overrides: %v", ErrUpstream, err)
	}
	// Grants first, denials last: deny wins over everything.
	for _, o := range overrides {
		if !o.IsGranted || !o.Permission.IsActive {
			continue
		}
		working[o.Permission.ID] = EffectivePermission{
			Permission: o.Permission,
			Source:     SourceDirect,
			Reason:     o.Reason,
			IsGranted:  true,
		}
	}
	for _, o := range overrides {
		if o.IsGranted {
			continue
		}
		delete(working, o.Permission.ID)
	}

	perms := make([]EffectivePermission, 0, len(working))
	for _, ep := range working {
		perms = append(perms, ep)
	}
	return NewEffectiveSet(userID, roles, perms), nil
}

// LogResolveFailure records a resolution failure. The failure must never
// surface to an authorization check as anything but a denial.
func LogResolveFailure(logger *slog.Logger, userID int64, err error) {
	if logger == nil {
		return
	}
	logger.Error("permission resolution failed, denying all",
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
}
