package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// CatalogRepository reads the administered permission catalog. The catalog
// is read-heavy and write-rare; admin CRUD for it lives outside this
// service.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository constructs a catalog repository.
func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const permissionColumns = `id, resource_type, action, scope, is_system, is_active`

// Get fetches a permission by ID.
func (r *CatalogRepository) Get(ctx context.Context, id int64) (Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, fmt.Errorf("%w: permission %d", ErrNotFound, id)
		}
		return Permission{}, fmt.Errorf("catalog get: %w", err)
	}
	return perm, nil
}

// ListActive returns all active permissions ordered by identity.
func (r *CatalogRepository) ListActive(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE is_active ORDER BY resource_type, action, scope NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("catalog list: %w", err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// GetByIDs returns the active permissions among ids, keyed by ID. Missing
// or inactive ids are simply absent from the result; template application
// counts them as unmapped.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]Permission, error) {
	if len(ids) == 0 {
		return map[int64]Permission{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) AND is_active`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog by ids: %w", err)
	}
	defer rows.Close()
	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Permission, len(perms))
	for _, p := range perms {
		byID[p.ID] = p
	}
	return byID, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var scope pgtype.Text
	if err := row.Scan(&p.ID, &p.ResourceType, &p.Action, &scope, &p.IsSystem, &p.IsActive); err != nil {
		return Permission{}, err
	}
	p.Scope = scopeFromText(scope)
	return p, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
