package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AssignmentRepository provides PostgreSQL backed persistence for
// user-to-role assignments. Readers apply lazy expiry: rows past
// expires_at are filtered in SQL rather than swept eagerly.
type AssignmentRepository struct {
	db DBTX
}

// NewAssignmentRepository constructs an assignment repository.
func NewAssignmentRepository(db DBTX) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// WithTx returns a copy bound to the given transaction.
func (r *AssignmentRepository) WithTx(tx pgx.Tx) *AssignmentRepository {
	return &AssignmentRepository{db: tx}
}

// ActiveRoles returns the user's non-expired, active roles ordered by
// name. The ordering makes role attribution in the resolver deterministic.
func (r *AssignmentRepository) ActiveRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.name, r.display_name, r.level, r.is_system_role, r.is_active, r.is_default, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND r.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > NOW())
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("active roles: %w", err)
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

// Insert records a role assignment. Duplicate assignments surface as
// ErrConflict via the (user_id, role_id) unique constraint.
func (r *AssignmentRepository) Insert(ctx context.Context, ur UserRole) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by, expires_at)
		VALUES ($1, $2, NOW(), $3, $4)`,
		ur.UserID, ur.RoleID, ur.AssignedBy, ur.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %d already holds role %d", ErrConflict, ur.UserID, ur.RoleID)
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// Delete removes a role assignment, reporting whether a row existed.
func (r *AssignmentRepository) Delete(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("delete assignment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes assignments past their expiry and returns the
// affected user IDs so their cache entries can be invalidated. The
// resolver already ignores expired rows; this is hygiene.
func (r *AssignmentRepository) DeleteExpired(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM user_roles
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING user_id`, now)
	if err != nil {
		return nil, fmt.Errorf("delete expired assignments: %w", err)
	}
	defer rows.Close()
	return collectUserIDs(rows)
}

func collectUserIDs(rows pgx.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
