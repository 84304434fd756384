package rbac

import (
	"context"
	"errors"
	"testing"
)

type stubDirectory struct {
	status UserStatus
	err    error
}

func (s *stubDirectory) Status(ctx context.Context, userID int64) (UserStatus, error) {
	return s.status, s.err
}

type stubAssignments struct {
	roles []Role
	err   error
	calls int
}

func (s *stubAssignments) ActiveRoles(ctx context.Context, userID int64) ([]Role, error) {
	s.calls++
	return s.roles, s.err
}

type stubRolePerms struct {
	byRole map[int64][]Permission
	err    error
}

func (s *stubRolePerms) PermissionsForRoles(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	return s.byRole, s.err
}

type stubOverrides struct {
	overrides []Override
	err       error
}

func (s *stubOverrides) ActiveOverrides(ctx context.Context, userID int64) ([]Override, error) {
	return s.overrides, s.err
}

func activeUser() *stubDirectory {
	return &stubDirectory{status: UserStatus{Exists: true, Active: true}}
}

func TestResolveCombinesRolesAndDirectGrants(t *testing.T) {
	// Scenario: a loan officer with an extra direct grant.
	officer := Role{ID: 1, Name: "loan_officer", Level: 10, IsActive: true}
	resolver := NewResolver(
		activeUser(),
		&stubAssignments{roles: []Role{officer}},
		&stubRolePerms{byRole: map[int64][]Permission{
			1: {
				perm(10, "loan_application", "read", scoped(ScopeOwn)),
				perm(11, "loan_application", "create", scoped(ScopeOwn)),
			},
		}},
		&stubOverrides{overrides: []Override{
			{Permission: perm(20, "report", "read", scoped(ScopeBranch)), IsGranted: true, Reason: "quarter-end coverage"},
		}},
	)

	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Permissions) != 3 {
		t.Fatalf("expected 3 effective permissions, got %d", len(set.Permissions))
	}
	if !set.Can("report", "read", scoped(ScopeBranch)) {
		t.Fatal("direct grant missing from effective set")
	}
	for _, ep := range set.Permissions {
		if ep.Permission.ID == 20 {
			if ep.Source != SourceDirect || ep.Reason != "quarter-end coverage" {
				t.Fatalf("direct grant not attributed: %+v", ep)
			}
		}
		if ep.Permission.ID == 10 && (ep.Source != SourceRole || ep.RoleName != "loan_officer") {
			t.Fatalf("role grant not attributed: %+v", ep)
		}
	}
}

func TestResolveDenyOverridesEveryGrant(t *testing.T) {
	role := Role{ID: 1, Name: "loan_officer", IsActive: true}
	target := perm(10, "loan_application", "approve", scoped(ScopeBranch))
	resolver := NewResolver(
		activeUser(),
		&stubAssignments{roles: []Role{role}},
		&stubRolePerms{byRole: map[int64][]Permission{1: {target}}},
		&stubOverrides{overrides: []Override{
			// A direct grant and a denial for the same permission: the
			// denial must win regardless of row order.
			{Permission: target, IsGranted: true},
			{Permission: target, IsGranted: false, Reason: "under review"},
		}},
	)

	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Can("loan_application", "approve", scoped(ScopeOwn)) {
		t.Fatal("explicit denial must remove the permission")
	}
	if len(set.Permissions) != 0 {
		t.Fatalf("expected empty set, got %d entries", len(set.Permissions))
	}
}

func TestResolveDenialOfUngrantedPermissionIsNoop(t *testing.T) {
	resolver := NewResolver(
		activeUser(),
		&stubAssignments{},
		&stubRolePerms{},
		&stubOverrides{overrides: []Override{
			{Permission: perm(10, "loan_application", "approve", nil), IsGranted: false},
		}},
	)
	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Permissions) != 0 {
		t.Fatalf("expected empty set, got %d entries", len(set.Permissions))
	}
}

func TestResolveInactiveUserDeniesWithoutError(t *testing.T) {
	assignments := &stubAssignments{roles: []Role{{ID: 1, Name: "loan_officer"}}}
	resolver := NewResolver(
		&stubDirectory{status: UserStatus{Exists: true, Active: false}},
		assignments,
		&stubRolePerms{},
		&stubOverrides{},
	)
	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Permissions) != 0 || len(set.Roles) != 0 {
		t.Fatal("inactive user must resolve to the empty set")
	}
	if assignments.calls != 0 {
		t.Fatal("stores must not be consulted for an inactive user")
	}
}

func TestResolveUnknownUserDeniesWithoutError(t *testing.T) {
	resolver := NewResolver(&stubDirectory{}, &stubAssignments{}, &stubRolePerms{}, &stubOverrides{})
	set, err := resolver.Resolve(context.Background(), 404)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Can("loan_application", "read", nil) {
		t.Fatal("unknown user must deny")
	}
}

func TestResolveStoreFailureSurfacesUpstreamError(t *testing.T) {
	resolver := NewResolver(
		activeUser(),
		&stubAssignments{err: errors.New("connection refused")},
		&stubRolePerms{},
		&stubOverrides{},
	)
	if _, err := resolver.Resolve(context.Background(), 42); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestResolveInactivePermissionSkipped(t *testing.T) {
	role := Role{ID: 1, Name: "loan_officer", IsActive: true}
	dead := perm(10, "loan_application", "read", nil)
	dead.IsActive = false
	resolver := NewResolver(
		activeUser(),
		&stubAssignments{roles: []Role{role}},
		&stubRolePerms{byRole: map[int64][]Permission{1: {dead}}},
		&stubOverrides{},
	)
	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Permissions) != 0 {
		t.Fatal("inactive catalog permissions must not resolve")
	}
}

func TestResolveFirstRoleAttribution(t *testing.T) {
	// Roles arrive ordered by name; both grant the same permission.
	analyst := Role{ID: 2, Name: "analyst", IsActive: true}
	manager := Role{ID: 1, Name: "branch_manager", IsActive: true}
	shared := perm(10, "report", "read", scoped(ScopeBranch))
	resolver := NewResolver(
		activeUser(),
		&stubAssignments{roles: []Role{analyst, manager}},
		&stubRolePerms{byRole: map[int64][]Permission{
			1: {shared},
			2: {shared},
		}},
		&stubOverrides{},
	)
	set, err := resolver.Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Permissions) != 1 {
		t.Fatalf("expected deduplicated set, got %d entries", len(set.Permissions))
	}
	if set.Permissions[0].RoleName != "analyst" {
		t.Fatalf("expected attribution to first role by name, got %s", set.Permissions[0].RoleName)
	}
}
