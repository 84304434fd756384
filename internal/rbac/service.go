package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loanpilot/loanpilot/internal/audit"
)

// Entity types recorded on audit entries.
const (
	EntityUserRole       = "user_role"
	EntityUserPermission = "user_permission"
	EntityRolePermission = "role_permission"
)

// RoleReader is the read surface of the role store the service needs.
type RoleReader interface {
	Get(ctx context.Context, id int64) (Role, error)
	List(ctx context.Context) ([]Role, error)
	GrantMap(ctx context.Context) (map[int64][]int64, error)
}

// CatalogReader looks up permission catalog entries.
type CatalogReader interface {
	Get(ctx context.Context, id int64) (Permission, error)
	ListActive(ctx context.Context) ([]Permission, error)
}

// OverrideLister lists a user's raw non-expired overrides for display.
type OverrideLister interface {
	ListActive(ctx context.Context, userID int64) ([]UserPermission, error)
}

// MutationStore persists one permission mutation and its audit entry as a
// single atomic unit. The delete and toggle operations report false when
// nothing changed; no audit entry is written in that case.
type MutationStore interface {
	InsertAssignment(ctx context.Context, assignment UserRole, entry audit.Entry) error
	DeleteAssignment(ctx context.Context, userID, roleID int64, entry audit.Entry) (bool, error)
	UpsertOverride(ctx context.Context, override UserPermission, entry audit.Entry) error
	DeleteOverride(ctx context.Context, userID, permissionID int64, entry audit.Entry) (bool, error)
	SetRolePermission(ctx context.Context, roleID, permissionID int64, granted bool, entry audit.Entry) (bool, error)
}

// EffectiveCache is the cache surface mutation and query paths need.
// *Cache satisfies it.
type EffectiveCache interface {
	Get(ctx context.Context, userID int64) *EffectiveSet
	Invalidate(ctx context.Context, userID int64)
	BumpRole(ctx context.Context, roleID int64)
}

// Service orchestrates permission mutations and queries. Every mutation
// writes its row and audit entry in one transaction via the mutation
// store, then invalidates the cache strictly after commit.
type Service struct {
	users     UserDirectory
	roles     RoleReader
	overrides OverrideLister
	catalog   CatalogReader
	store     MutationStore
	cache     EffectiveCache
	logger    *slog.Logger
}

// NewService constructs the RBAC service.
func NewService(users UserDirectory, roles RoleReader, overrides OverrideLister, catalog CatalogReader,
	store MutationStore, cache EffectiveCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:     users,
		roles:     roles,
		overrides: overrides,
		catalog:   catalog,
		store:     store,
		cache:     cache,
		logger:    logger,
	}
}

// AssignRoleInput describes a role assignment request.
type AssignRoleInput struct {
	UserID    int64
	RoleID    int64
	ExpiresAt *time.Time
}

// AssignRole grants the role to the user until the optional expiry.
func (s *Service) AssignRole(ctx context.Context, actorID int64, input AssignRoleInput) error {
	if err := s.checkUser(ctx, input.UserID); err != nil {
		return err
	}
	role, err := s.roles.Get(ctx, input.RoleID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return fmt.Errorf("%w: role %q is inactive", ErrValidation, role.Name)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	err = s.store.InsertAssignment(ctx, UserRole{
		UserID:     input.UserID,
		RoleID:     input.RoleID,
		AssignedBy: actorID,
		ExpiresAt:  input.ExpiresAt,
	}, audit.Entry{
		ActionType:   audit.ActionRoleAssigned,
		EntityType:   EntityUserRole,
		ActorID:      actorID,
		TargetUserID: &input.UserID,
		RoleID:       &input.RoleID,
		Details:      map[string]any{"role_name": role.Name},
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, input.UserID)
	return nil
}

// RevokeRole removes the user's role assignment.
func (s *Service) RevokeRole(ctx context.Context, actorID, userID, roleID int64) error {
	existed, err := s.store.DeleteAssignment(ctx, userID, roleID, audit.Entry{
		ActionType:   audit.ActionRoleRevoked,
		EntityType:   EntityUserRole,
		ActorID:      actorID,
		TargetUserID: &userID,
		RoleID:       &roleID,
	})
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: user %d does not hold role %d", ErrNotFound, userID, roleID)
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}

// OverrideInput describes a direct grant or denial request.
type OverrideInput struct {
	UserID       int64
	PermissionID int64
	Granted      bool
	Reason       string
	ExpiresAt    *time.Time
}

// SetOverride writes a direct per-user grant (Granted=true) or denial
// (Granted=false). An existing override for the same permission is
// replaced: last writer wins at the row level.
func (s *Service) SetOverride(ctx context.Context, actorID int64, input OverrideInput) error {
	if err := s.checkUser(ctx, input.UserID); err != nil {
		return err
	}
	perm, err := s.catalog.Get(ctx, input.PermissionID)
	if err != nil {
		return err
	}
	if !perm.IsActive {
		return fmt.Errorf("%w: permission %q is inactive", ErrValidation, perm.Key())
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	action := audit.ActionPermissionGranted
	if !input.Granted {
		action = audit.ActionPermissionDenied
	}
	err = s.store.UpsertOverride(ctx, UserPermission{
		UserID:       input.UserID,
		PermissionID: input.PermissionID,
		IsGranted:    input.Granted,
		Reason:       input.Reason,
		GrantedBy:    actorID,
		ExpiresAt:    input.ExpiresAt,
	}, audit.Entry{
		ActionType:   action,
		EntityType:   EntityUserPermission,
		ActorID:      actorID,
		TargetUserID: &input.UserID,
		PermissionID: &input.PermissionID,
		Reason:       input.Reason,
		Details:      map[string]any{"permission": perm.Key()},
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, input.UserID)
	return nil
}

// RemoveOverride deletes a direct grant or denial.
func (s *Service) RemoveOverride(ctx context.Context, actorID, userID, permissionID int64) error {
	existed, err := s.store.DeleteOverride(ctx, userID, permissionID, audit.Entry{
		ActionType:   audit.ActionPermissionRevoked,
		EntityType:   EntityUserPermission,
		ActorID:      actorID,
		TargetUserID: &userID,
		PermissionID: &permissionID,
	})
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: no override for user %d permission %d", ErrNotFound, userID, permissionID)
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}

// ToggleRolePermission sets one permission matrix cell: granted attaches
// the permission to the role, otherwise detaches it. Toggling a cell to
// its current state is a no-op and is not audited. System roles are
// immutable here.
func (s *Service) ToggleRolePermission(ctx context.Context, actorID, roleID, permissionID int64, granted bool) error {
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: cannot modify system role permissions", ErrConflict)
	}
	perm, err := s.catalog.Get(ctx, permissionID)
	if err != nil {
		return err
	}
	if granted && !perm.IsActive {
		return fmt.Errorf("%w: permission %q is inactive", ErrValidation, perm.Key())
	}

	action := audit.ActionRolePermissionAdded
	if !granted {
		action = audit.ActionRolePermissionRemoved
	}
	changed, err := s.store.SetRolePermission(ctx, roleID, permissionID, granted, audit.Entry{
		ActionType:   action,
		EntityType:   EntityRolePermission,
		ActorID:      actorID,
		RoleID:       &roleID,
		PermissionID: &permissionID,
		Details:      map[string]any{"role_name": role.Name, "permission": perm.Key()},
	})
	if err != nil {
		return err
	}
	if changed {
		s.cache.BumpRole(ctx, roleID)
	}
	return nil
}

// MatrixRole is a role in the matrix view; system roles are read-only
// for the matrix UI collaborator.
type MatrixRole struct {
	Role
	ReadOnly bool `json:"read_only"`
}

// Matrix is the roles-by-permissions grid flattened from role_permissions.
type Matrix struct {
	Roles       []MatrixRole      `json:"roles"`
	Permissions []Permission      `json:"permissions"`
	Assignments map[int64][]int64 `json:"assignments"`
}

// Matrix builds the permission matrix for the UI collaborator. The grant
// map is restricted to active permissions, matching the permission list.
func (s *Service) Matrix(ctx context.Context) (Matrix, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	perms, err := s.catalog.ListActive(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	grants, err := s.roles.GrantMap(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	matrixRoles := make([]MatrixRole, len(roles))
	for i, role := range roles {
		matrixRoles[i] = MatrixRole{Role: role, ReadOnly: role.IsSystemRole}
	}
	return Matrix{Roles: matrixRoles, Permissions: perms, Assignments: grants}, nil
}

// UserPermissionsView is the current-user-permissions query response.
type UserPermissionsView struct {
	UserID               int64                 `json:"user_id"`
	Roles                []Role                `json:"roles"`
	DirectPermissions    []UserPermission      `json:"direct_permissions"`
	EffectivePermissions []EffectivePermission `json:"effective_permissions"`
}

// CurrentPermissions returns the user's roles, raw direct overrides, and
// resolved effective permissions.
func (s *Service) CurrentPermissions(ctx context.Context, userID int64) (UserPermissionsView, error) {
	set := s.cache.Get(ctx, userID)
	direct, err := s.overrides.ListActive(ctx, userID)
	if err != nil {
		return UserPermissionsView{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return UserPermissionsView{
		UserID:               userID,
		Roles:                set.Roles,
		DirectPermissions:    direct,
		EffectivePermissions: set.Permissions,
	}, nil
}

// Can reports whether the user may perform the action at the requested
// scope. Resolution failures deny.
func (s *Service) Can(ctx context.Context, userID int64, resourceType, action string, scope *Scope) bool {
	return s.cache.Get(ctx, userID).Can(resourceType, action, scope)
}

// HasRole reports case-insensitive role membership.
func (s *Service) HasRole(ctx context.Context, userID int64, name string) bool {
	return s.cache.Get(ctx, userID).HasRole(name)
}

func (s *Service) checkUser(ctx context.Context, userID int64) error {
	status, err := s.users.Status(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: user status: %v", ErrUpstream, err)
	}
	if !status.Exists {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if !status.Active {
		return fmt.Errorf("%w: user %d is inactive", ErrValidation, userID)
	}
	return nil
}
