package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// RoleRepository provides PostgreSQL backed persistence for roles and
// role permission grants.
type RoleRepository struct {
	db DBTX
}

// NewRoleRepository constructs a role repository.
func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *RoleRepository) WithTx(tx pgx.Tx) *RoleRepository {
	return &RoleRepository{db: tx}
}

const roleColumns = `id, name, display_name, level, is_system_role, is_active, is_default, created_at, updated_at`

// Get fetches a role by ID.
func (r *RoleRepository) Get(ctx context.Context, id int64) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %d", ErrNotFound, id)
		}
		return Role{}, fmt.Errorf("role get: %w", err)
	}
	return role, nil
}

// GetByName fetches a role by its unique name, case-insensitively.
func (r *RoleRepository) GetByName(ctx context.Context, name string) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE LOWER(name) = LOWER($1)`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %q", ErrNotFound, name)
		}
		return Role{}, fmt.Errorf("role get by name: %w", err)
	}
	return role, nil
}

// List returns all roles ordered by level descending then name.
func (r *RoleRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("role list: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// PermissionsForRoles returns the active permissions granted by each of
// the given roles in one query, keyed by role ID.
func (r *RoleRepository) PermissionsForRoles(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	if len(roleIDs) == 0 {
		return map[int64][]Permission{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, p.id, p.resource_type, p.action, p.scope, p.is_system, p.is_active
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1) AND p.is_active
		ORDER BY rp.role_id, p.resource_type, p.action`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("role permissions: %w", err)
	}
	defer rows.Close()
	byRole := make(map[int64][]Permission)
	for rows.Next() {
		var roleID int64
		var p Permission
		var scope pgtype.Text
		if err := rows.Scan(&roleID, &p.ID, &p.ResourceType, &p.Action, &scope, &p.IsSystem, &p.IsActive); err != nil {
			return nil, err
		}
		p.Scope = scopeFromText(scope)
		byRole[roleID] = append(byRole[roleID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return byRole, nil
}

// GrantMap returns the (role, permission) pairs for the permission
// matrix, keyed by role ID. Pairs referencing inactive permissions are
// excluded so the map only carries IDs present in the matrix permission
// list.
func (r *RoleRepository) GrantMap(ctx context.Context) (map[int64][]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, rp.permission_id
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE p.is_active
		ORDER BY rp.role_id, rp.permission_id`)
	if err != nil {
		return nil, fmt.Errorf("grant map: %w", err)
	}
	defer rows.Close()
	grants := make(map[int64][]int64)
	for rows.Next() {
		var roleID, permID int64
		if err := rows.Scan(&roleID, &permID); err != nil {
			return nil, err
		}
		grants[roleID] = append(grants[roleID], permID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// AttachPermission inserts a role permission grant. It reports false when
// the grant already existed.
func (r *RoleRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("attach permission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DetachPermission removes a role permission grant. It reports false when
// no grant existed.
func (r *RoleRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("detach permission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Level,
		&role.IsSystemRole, &role.IsActive, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}
