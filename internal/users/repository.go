package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanpilot/loanpilot/internal/rbac"
)

// Repository provides PostgreSQL backed access to users. Accounts are
// owned by the platform's user management collaborator; permission
// resolution only needs existence and activity.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a user repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Status reports existence and activity without loading the row.
func (r *Repository) Status(ctx context.Context, id int64) (rbac.UserStatus, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.UserStatus{}, nil
	}
	if err != nil {
		return rbac.UserStatus{}, fmt.Errorf("user status: %w", err)
	}
	return rbac.UserStatus{Exists: true, Active: active}, nil
}
