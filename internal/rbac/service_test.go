package rbac

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loanpilot/loanpilot/internal/audit"
)

type mockRoleReader struct {
	roles  []Role
	grants map[int64][]int64
}

func (m *mockRoleReader) Get(ctx context.Context, id int64) (Role, error) {
	for _, r := range m.roles {
		if r.ID == id {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
}

func (m *mockRoleReader) List(ctx context.Context) ([]Role, error) {
	return m.roles, nil
}

func (m *mockRoleReader) GrantMap(ctx context.Context) (map[int64][]int64, error) {
	return m.grants, nil
}

type mockCatalogReader struct {
	perms []Permission
}

func (m *mockCatalogReader) Get(ctx context.Context, id int64) (Permission, error) {
	for _, p := range m.perms {
		if p.ID == id {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("%w: permission %d", ErrNotFound, id)
}

func (m *mockCatalogReader) ListActive(ctx context.Context) ([]Permission, error) {
	var out []Permission
	for _, p := range m.perms {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOverrideLister struct {
	overrides []UserPermission
}

func (m *mockOverrideLister) ListActive(ctx context.Context, userID int64) ([]UserPermission, error) {
	return m.overrides, nil
}

// mockMutations records what the service asked it to persist. The shared
// ops log also receives cache calls so tests can assert that invalidation
// happens strictly after the write.
type mockMutations struct {
	ops     *[]string
	entries []audit.Entry

	insertErr       error
	deleteExisted   bool
	overrideExisted bool
	setChanged      bool
}

func (m *mockMutations) InsertAssignment(ctx context.Context, assignment UserRole, entry audit.Entry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, entry)
	*m.ops = append(*m.ops, fmt.Sprintf("insert_assignment %d", assignment.UserID))
	return nil
}

func (m *mockMutations) DeleteAssignment(ctx context.Context, userID, roleID int64, entry audit.Entry) (bool, error) {
	if !m.deleteExisted {
		return false, nil
	}
	m.entries = append(m.entries, entry)
	*m.ops = append(*m.ops, fmt.Sprintf("delete_assignment %d", userID))
	return true, nil
}

func (m *mockMutations) UpsertOverride(ctx context.Context, override UserPermission, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	*m.ops = append(*m.ops, fmt.Sprintf("upsert_override %d", override.UserID))
	return nil
}

func (m *mockMutations) DeleteOverride(ctx context.Context, userID, permissionID int64, entry audit.Entry) (bool, error) {
	if !m.overrideExisted {
		return false, nil
	}
	m.entries = append(m.entries, entry)
	*m.ops = append(*m.ops, fmt.Sprintf("delete_override %d", userID))
	return true, nil
}

func (m *mockMutations) SetRolePermission(ctx context.Context, roleID, permissionID int64, granted bool, entry audit.Entry) (bool, error) {
	if !m.setChanged {
		return false, nil
	}
	m.entries = append(m.entries, entry)
	*m.ops = append(*m.ops, fmt.Sprintf("set_role_permission %d", roleID))
	return true, nil
}

type trackingCache struct {
	ops *[]string
}

func (c *trackingCache) Get(ctx context.Context, userID int64) *EffectiveSet {
	return DenyAll(userID)
}

func (c *trackingCache) Invalidate(ctx context.Context, userID int64) {
	*c.ops = append(*c.ops, fmt.Sprintf("invalidate %d", userID))
}

func (c *trackingCache) BumpRole(ctx context.Context, roleID int64) {
	*c.ops = append(*c.ops, fmt.Sprintf("bump_role %d", roleID))
}

type serviceFixture struct {
	svc   *Service
	store *mockMutations
	ops   []string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{}
	f.store = &mockMutations{ops: &f.ops, deleteExisted: true, overrideExisted: true, setChanged: true}
	f.svc = NewService(
		activeUser(),
		&mockRoleReader{roles: []Role{
			{ID: 3, Name: "loan_officer", IsActive: true},
			{ID: 4, Name: "dormant", IsActive: false},
			{ID: 9, Name: "super_admin", IsSystemRole: true, IsActive: true},
		}},
		&mockOverrideLister{},
		&mockCatalogReader{perms: []Permission{
			{ID: 10, ResourceType: "loan_application", Action: "approve", IsActive: true},
			{ID: 11, ResourceType: "loan_application", Action: "delete", IsActive: false},
		}},
		f.store,
		&trackingCache{ops: &f.ops},
		nil,
	)
	return f
}

func TestAssignRoleWritesThenInvalidates(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.AssignRole(context.Background(), 7, AssignRoleInput{UserID: 42, RoleID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ops) != 2 || f.ops[0] != "insert_assignment 42" || f.ops[1] != "invalidate 42" {
		t.Fatalf("expected write then invalidate, got %v", f.ops)
	}
	if len(f.store.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.store.entries))
	}
	entry := f.store.entries[0]
	if entry.ActionType != audit.ActionRoleAssigned || entry.ActorID != 7 {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.TargetUserID == nil || *entry.TargetUserID != 42 || entry.RoleID == nil || *entry.RoleID != 3 {
		t.Fatalf("audit entry missing target attribution: %+v", entry)
	}
	if entry.Details["role_name"] != "loan_officer" {
		t.Fatalf("expected role name in details, got %v", entry.Details)
	}
}

func TestAssignRoleRejectsInactiveRole(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.AssignRole(context.Background(), 7, AssignRoleInput{UserID: 42, RoleID: 4})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("no write or invalidation expected, got %v", f.ops)
	}
}

func TestAssignRoleRejectsPastExpiry(t *testing.T) {
	f := newServiceFixture(t)
	past := time.Now().Add(-time.Hour)

	err := f.svc.AssignRole(context.Background(), 7, AssignRoleInput{UserID: 42, RoleID: 3, ExpiresAt: &past})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAssignRoleUnknownUser(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.users = &stubDirectory{status: UserStatus{}}

	err := f.svc.AssignRole(context.Background(), 7, AssignRoleInput{UserID: 42, RoleID: 3})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleStoreFailureSkipsInvalidation(t *testing.T) {
	f := newServiceFixture(t)
	f.store.insertErr = fmt.Errorf("%w: user already holds role", ErrConflict)

	err := f.svc.AssignRole(context.Background(), 7, AssignRoleInput{UserID: 42, RoleID: 3})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("failed write must not invalidate, got %v", f.ops)
	}
}

func TestRevokeRoleWritesThenInvalidates(t *testing.T) {
	f := newServiceFixture(t)

	if err := f.svc.RevokeRole(context.Background(), 7, 42, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ops) != 2 || f.ops[0] != "delete_assignment 42" || f.ops[1] != "invalidate 42" {
		t.Fatalf("expected delete then invalidate, got %v", f.ops)
	}
	if f.store.entries[0].ActionType != audit.ActionRoleRevoked {
		t.Fatalf("expected role_revoked entry, got %v", f.store.entries[0].ActionType)
	}
}

func TestRevokeRoleMissingAssignment(t *testing.T) {
	f := newServiceFixture(t)
	f.store.deleteExisted = false

	err := f.svc.RevokeRole(context.Background(), 7, 42, 3)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("missing assignment must not invalidate, got %v", f.ops)
	}
}

func TestSetOverrideDenialAuditedAsDenied(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.SetOverride(context.Background(), 7, OverrideInput{
		UserID:       42,
		PermissionID: 10,
		Granted:      false,
		Reason:       "under review for fraud case 1443",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ops) != 2 || f.ops[0] != "upsert_override 42" || f.ops[1] != "invalidate 42" {
		t.Fatalf("expected upsert then invalidate, got %v", f.ops)
	}
	entry := f.store.entries[0]
	if entry.ActionType != audit.ActionPermissionDenied {
		t.Fatalf("expected permission_denied entry, got %v", entry.ActionType)
	}
	if entry.Reason != "under review for fraud case 1443" {
		t.Fatalf("expected reason on audit entry, got %q", entry.Reason)
	}
}

func TestSetOverrideRejectsInactivePermission(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.SetOverride(context.Background(), 7, OverrideInput{UserID: 42, PermissionID: 11, Granted: true})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("no write expected, got %v", f.ops)
	}
}

func TestRemoveOverrideMissing(t *testing.T) {
	f := newServiceFixture(t)
	f.store.overrideExisted = false

	err := f.svc.RemoveOverride(context.Background(), 7, 42, 10)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("missing override must not invalidate, got %v", f.ops)
	}
}

func TestToggleRolePermissionSystemRoleRejected(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.ToggleRolePermission(context.Background(), 7, 9, 10, true)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("system role must not be written, got %v", f.ops)
	}
}

func TestToggleRolePermissionWritesThenBumps(t *testing.T) {
	f := newServiceFixture(t)

	if err := f.svc.ToggleRolePermission(context.Background(), 7, 3, 10, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ops) != 2 || f.ops[0] != "set_role_permission 3" || f.ops[1] != "bump_role 3" {
		t.Fatalf("expected write then version bump, got %v", f.ops)
	}
	if f.store.entries[0].ActionType != audit.ActionRolePermissionAdded {
		t.Fatalf("expected role_permission_added entry, got %v", f.store.entries[0].ActionType)
	}
}

func TestToggleRolePermissionNoChangeIsSilent(t *testing.T) {
	f := newServiceFixture(t)
	f.store.setChanged = false

	if err := f.svc.ToggleRolePermission(context.Background(), 7, 3, 10, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ops) != 0 {
		t.Fatalf("no-op toggle must not audit or bump, got %v", f.ops)
	}
	if len(f.store.entries) != 0 {
		t.Fatalf("no-op toggle must not write an audit entry, got %d", len(f.store.entries))
	}
}

func TestToggleRolePermissionRejectsAttachingInactive(t *testing.T) {
	f := newServiceFixture(t)

	err := f.svc.ToggleRolePermission(context.Background(), 7, 3, 11, true)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMatrixMarksSystemRolesReadOnly(t *testing.T) {
	f := newServiceFixture(t)
	roles := f.svc.roles.(*mockRoleReader)
	roles.grants = map[int64][]int64{3: {10}, 9: {10}}

	matrix, err := f.svc.Matrix(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matrix.Roles) != 3 {
		t.Fatalf("expected 3 roles, got %d", len(matrix.Roles))
	}
	for _, role := range matrix.Roles {
		if role.ReadOnly != role.IsSystemRole {
			t.Fatalf("read-only flag must track system roles: %+v", role)
		}
	}
	// ListActive filters the retired permission; the grant map carries
	// only active permission IDs to match.
	if len(matrix.Permissions) != 1 || matrix.Permissions[0].ID != 10 {
		t.Fatalf("expected only the active permission, got %+v", matrix.Permissions)
	}
	if len(matrix.Assignments[3]) != 1 || matrix.Assignments[3][0] != 10 {
		t.Fatalf("unexpected assignments: %+v", matrix.Assignments)
	}
}

func TestCurrentPermissionsIncludesDirectRows(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.overrides = &mockOverrideLister{overrides: []UserPermission{
		{UserID: 42, PermissionID: 10, IsGranted: true, Reason: "quarter-end coverage"},
	}}

	view, err := f.svc.CurrentPermissions(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.UserID != 42 {
		t.Fatalf("expected user 42, got %d", view.UserID)
	}
	if len(view.DirectPermissions) != 1 || view.DirectPermissions[0].Reason != "quarter-end coverage" {
		t.Fatalf("direct overrides missing from view: %+v", view.DirectPermissions)
	}
}
