package templates

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/rbac"
)

type stubTemplates struct {
	byID map[int64]Template
}

func (s *stubTemplates) Get(ctx context.Context, id int64) (Template, error) {
	tpl, ok := s.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: template %d", rbac.ErrNotFound, id)
	}
	return tpl, nil
}

func (s *stubTemplates) List(ctx context.Context) ([]Template, error) {
	out := make([]Template, 0, len(s.byID))
	for _, tpl := range s.byID {
		out = append(out, tpl)
	}
	return out, nil
}

type stubCatalog struct {
	known map[int64]rbac.Permission
}

func (s *stubCatalog) GetByIDs(ctx context.Context, ids []int64) (map[int64]rbac.Permission, error) {
	out := make(map[int64]rbac.Permission)
	for _, id := range ids {
		if p, ok := s.known[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type stubRoles struct {
	byID map[int64]rbac.Role
}

func (s *stubRoles) Get(ctx context.Context, id int64) (rbac.Role, error) {
	role, ok := s.byID[id]
	if !ok {
		return rbac.Role{}, fmt.Errorf("%w: role %d", rbac.ErrNotFound, id)
	}
	return role, nil
}

type stubUsers struct {
	status rbac.UserStatus
}

func (s *stubUsers) Status(ctx context.Context, userID int64) (rbac.UserStatus, error) {
	return s.status, nil
}

// memApplyStore models the row-level semantics of the real store: grants
// are sets, so re-applying the same permissions adds nothing, while the
// usage counter advances per application.
type memApplyStore struct {
	ops            *[]string
	roleGrants     map[int64]map[int64]struct{}
	userGrants     map[int64]map[int64]struct{}
	usage          map[int64]int
	entries        []audit.Entry
	lastUserGrants []rbac.UserPermission
}

func newMemApplyStore(ops *[]string) *memApplyStore {
	return &memApplyStore{
		ops:        ops,
		roleGrants: make(map[int64]map[int64]struct{}),
		userGrants: make(map[int64]map[int64]struct{}),
		usage:      make(map[int64]int),
	}
}

func (m *memApplyStore) ApplyToRole(ctx context.Context, templateID, roleID int64, permissionIDs []int64, entry audit.Entry) error {
	set := m.roleGrants[roleID]
	if set == nil {
		set = make(map[int64]struct{})
		m.roleGrants[roleID] = set
	}
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	m.usage[templateID]++
	m.entries = append(m.entries, entry)
	*m.ops = append(*m.ops, fmt.Sprintf("apply_role %d", roleID))
	return nil
}

func (m *memApplyStore) ApplyToUser(ctx context.Context, templateID int64, grants []rbac.UserPermission, entry audit.Entry) error {
	for _, grant := range grants {
		set := m.userGrants[grant.UserID]
		if set == nil {
			set = make(map[int64]struct{})
			m.userGrants[grant.UserID] = set
		}
		set[grant.PermissionID] = struct{}{}
	}
	m.usage[templateID]++
	m.entries = append(m.entries, entry)
	m.lastUserGrants = grants
	*m.ops = append(*m.ops, "apply_user")
	return nil
}

type opsCache struct {
	ops *[]string
}

func (c *opsCache) Get(ctx context.Context, userID int64) *rbac.EffectiveSet {
	return rbac.DenyAll(userID)
}

func (c *opsCache) Invalidate(ctx context.Context, userID int64) {
	*c.ops = append(*c.ops, fmt.Sprintf("invalidate %d", userID))
}

func (c *opsCache) BumpRole(ctx context.Context, roleID int64) {
	*c.ops = append(*c.ops, fmt.Sprintf("bump_role %d", roleID))
}

type applierFixture struct {
	applier *Applier
	store   *memApplyStore
	ops     []string
}

// newApplierFixture wires an applier over a 12-permission template where
// two permissions were retired from the catalog since the template was
// saved.
func newApplierFixture(t *testing.T) *applierFixture {
	t.Helper()
	f := &applierFixture{}
	known := make(map[int64]rbac.Permission, 10)
	for id := int64(1); id <= 10; id++ {
		known[id] = rbac.Permission{ID: id, IsActive: true}
	}
	f.store = newMemApplyStore(&f.ops)
	f.applier = NewApplier(
		&stubTemplates{byID: map[int64]Template{
			1: {ID: 1, Name: "Loan Officer Standard", PermissionIDs: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		}},
		&stubCatalog{known: known},
		&stubRoles{byID: map[int64]rbac.Role{
			5: {ID: 5, Name: "loan_officer", IsActive: true},
			9: {ID: 9, Name: "super_admin", IsSystemRole: true, IsActive: true},
		}},
		&stubUsers{status: rbac.UserStatus{Exists: true, Active: true}},
		f.store,
		&opsCache{ops: &f.ops},
		nil,
	)
	return f
}

func TestPartitionSplitsMappedAndUnmapped(t *testing.T) {
	// A 12-entry template where two permissions were retired from the
	// catalog since the template was saved.
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	known := make(map[int64]rbac.Permission, 10)
	for _, id := range ids[:10] {
		known[id] = rbac.Permission{ID: id, IsActive: true}
	}

	mapped, unmapped := partition(ids, known)
	require.Len(t, mapped, 10)
	require.Len(t, unmapped, 2)
	require.Equal(t, []int64{11, 12}, unmapped)
}

func TestPartitionDeduplicates(t *testing.T) {
	known := map[int64]rbac.Permission{1: {ID: 1}}
	mapped, unmapped := partition([]int64{1, 1, 2, 2}, known)
	require.Equal(t, []int64{1}, mapped)
	require.Equal(t, []int64{2}, unmapped)
}

func TestPartitionEmptyTemplate(t *testing.T) {
	mapped, unmapped := partition(nil, nil)
	require.Empty(t, mapped)
	require.Empty(t, unmapped)
}

func TestApplyRejectsUnknownTargetType(t *testing.T) {
	applier := NewApplier(nil, nil, nil, nil, nil, nil, nil)
	_, err := applier.Apply(context.Background(), 1, 1, "team", 5)
	require.Error(t, err)
	require.True(t, errors.Is(err, rbac.ErrValidation))
}

func TestApplyToRoleGrantsMappedAndReportsUnmapped(t *testing.T) {
	f := newApplierFixture(t)

	result, err := f.applier.Apply(context.Background(), 7, 1, TargetRole, 5)
	require.NoError(t, err)
	require.Equal(t, 10, result.Mapped)
	require.Equal(t, 2, result.Unmapped)
	require.Equal(t, []int64{11, 12}, result.UnmappedIDs)

	require.Len(t, f.store.roleGrants[5], 10)
	require.Equal(t, 1, f.store.usage[1])
	require.Equal(t, []string{"apply_role 5", "bump_role 5"}, f.ops)

	require.Len(t, f.store.entries, 1)
	entry := f.store.entries[0]
	require.Equal(t, audit.ActionTemplateApplied, entry.ActionType)
	require.Equal(t, int64(7), entry.ActorID)
	require.Equal(t, 10, entry.Details["mapped"])
	require.Equal(t, 2, entry.Details["unmapped"])
}

func TestApplyToRoleTwiceAddsNoGrants(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	first, err := f.applier.Apply(ctx, 7, 1, TargetRole, 5)
	require.NoError(t, err)
	second, err := f.applier.Apply(ctx, 7, 1, TargetRole, 5)
	require.NoError(t, err)

	require.Equal(t, first, second)
	// Re-applying lands on the same rows: still exactly 10 grants.
	require.Len(t, f.store.roleGrants[5], 10)
	// Each application still counts and is audited.
	require.Equal(t, 2, f.store.usage[1])
	require.Len(t, f.store.entries, 2)
}

func TestApplyToSystemRoleRejected(t *testing.T) {
	f := newApplierFixture(t)

	_, err := f.applier.Apply(context.Background(), 7, 1, TargetRole, 9)
	require.Error(t, err)
	require.True(t, errors.Is(err, rbac.ErrConflict))
	require.Empty(t, f.ops)
	require.Empty(t, f.store.entries)
}

func TestApplyToUserGrantsThenInvalidates(t *testing.T) {
	f := newApplierFixture(t)

	result, err := f.applier.Apply(context.Background(), 7, 1, TargetUser, 42)
	require.NoError(t, err)
	require.Equal(t, 10, result.Mapped)
	require.Len(t, f.store.userGrants[42], 10)
	require.Equal(t, []string{"apply_user", "invalidate 42"}, f.ops)
	for _, grant := range f.store.lastUserGrants {
		require.True(t, grant.IsGranted)
		require.Equal(t, "template: Loan Officer Standard", grant.Reason)
		require.Equal(t, int64(7), grant.GrantedBy)
	}

	// Applying again grants nothing new.
	_, err = f.applier.Apply(context.Background(), 7, 1, TargetUser, 42)
	require.NoError(t, err)
	require.Len(t, f.store.userGrants[42], 10)
}

func TestApplyToInactiveUserRejected(t *testing.T) {
	f := newApplierFixture(t)
	f.applier.users = &stubUsers{status: rbac.UserStatus{Exists: true, Active: false}}

	_, err := f.applier.Apply(context.Background(), 7, 1, TargetUser, 42)
	require.Error(t, err)
	require.True(t, errors.Is(err, rbac.ErrValidation))
	require.Empty(t, f.ops)
}

func TestApplyFullyUnmappedTemplateStillCommits(t *testing.T) {
	f := newApplierFixture(t)
	f.applier.catalog = &stubCatalog{known: nil}

	result, err := f.applier.Apply(context.Background(), 7, 1, TargetRole, 5)
	require.NoError(t, err)
	require.Equal(t, 0, result.Mapped)
	require.Equal(t, 12, result.Unmapped)
	require.Empty(t, f.store.roleGrants[5])
	// The application is still recorded and counted.
	require.Equal(t, 1, f.store.usage[1])
	require.Len(t, f.store.entries, 1)
}
