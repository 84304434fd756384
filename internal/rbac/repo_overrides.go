package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// OverrideRepository provides PostgreSQL backed persistence for per-user
// permission grants and denials. Rows are last-writer-wins: an upsert on
// (user_id, permission_id) replaces the previous override.
type OverrideRepository struct {
	db DBTX
}

// NewOverrideRepository constructs an override repository.
func NewOverrideRepository(db DBTX) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *OverrideRepository) WithTx(tx pgx.Tx) *OverrideRepository {
	return &OverrideRepository{db: tx}
}

// ActiveOverrides returns the user's non-expired overrides joined with
// their catalog permissions, for resolution.
func (r *OverrideRepository) ActiveOverrides(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.resource_type, p.action, p.scope, p.is_system, p.is_active,
		       up.is_granted, COALESCE(up.reason, '')
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		  AND p.is_active
		  AND (up.expires_at IS NULL OR up.expires_at > NOW())
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("active overrides: %w", err)
	}
	defer rows.Close()
	var overrides []Override
	for rows.Next() {
		var o Override
		var scope pgtype.Text
		if err := rows.Scan(&o.Permission.ID, &o.Permission.ResourceType, &o.Permission.Action, &scope,
			&o.Permission.IsSystem, &o.Permission.IsActive, &o.IsGranted, &o.Reason); err != nil {
			return nil, err
		}
		o.Permission.Scope = scopeFromText(scope)
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return overrides, nil
}

// ListActive returns the user's non-expired override rows for the
// current-user-permissions response.
func (r *OverrideRepository) ListActive(ctx context.Context, userID int64) ([]UserPermission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, permission_id, is_granted, COALESCE(reason, ''), granted_by, granted_at, expires_at
		FROM user_permissions
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY permission_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()
	var perms []UserPermission
	for rows.Next() {
		var up UserPermission
		if err := rows.Scan(&up.UserID, &up.PermissionID, &up.IsGranted, &up.Reason,
			&up.GrantedBy, &up.GrantedAt, &up.ExpiresAt); err != nil {
			return nil, err
		}
		perms = append(perms, up)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// Upsert writes an override row, replacing any existing row for the same
// user and permission.
func (r *OverrideRepository) Upsert(ctx context.Context, up UserPermission) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, is_granted, reason, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW(), $6)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET
			is_granted = EXCLUDED.is_granted,
			reason     = EXCLUDED.reason,
			granted_by = EXCLUDED.granted_by,
			granted_at = NOW(),
			expires_at = EXCLUDED.expires_at`,
		up.UserID, up.PermissionID, up.IsGranted, up.Reason, up.GrantedBy, up.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

// Delete removes an override, reporting whether a row existed.
func (r *OverrideRepository) Delete(ctx context.Context, userID, permissionID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return false, fmt.Errorf("delete override: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes overrides past their expiry and returns the
// affected user IDs.
func (r *OverrideRepository) DeleteExpired(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM user_permissions
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING user_id`, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired overrides: %w", err)
	}
	defer rows.Close()
	return collectUserIDs(rows)
}
