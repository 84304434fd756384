package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loanpilot/loanpilot/internal/rbac"
)

// Repository provides PostgreSQL backed access to permission templates.
type Repository struct {
	db rbac.DBTX
}

// NewRepository constructs a template repository.
func NewRepository(db rbac.DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy bound to the transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const templateColumns = `id, name, COALESCE(description, ''), permission_ids, usage_count, created_at, updated_at`

// Get returns the template by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Template, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM permission_templates
		WHERE id = $1`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, fmt.Errorf("%w: template %d", rbac.ErrNotFound, id)
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// List returns all templates ordered by name.
func (r *Repository) List(ctx context.Context) ([]Template, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+templateColumns+`
		FROM permission_templates
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var tpls []Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		tpls = append(tpls, tpl)
	}
	return tpls, rows.Err()
}

// IncrementUsage bumps the template's application counter.
func (r *Repository) IncrementUsage(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE permission_templates
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment template usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", rbac.ErrNotFound, id)
	}
	return nil
}

func scanTemplate(row pgx.Row) (Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.PermissionIDs, &t.UsageCount, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
