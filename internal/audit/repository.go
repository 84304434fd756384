package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed reads over the append-only
// audit_log table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, action_type, entity_type, actor_id, target_user_id, role_id, permission_id, COALESCE(reason, ''), details, created_at`

const filterClause = `
	($1 = '' OR action_type = $1)
	AND ($2 = '' OR entity_type = $2)
	AND ($3::timestamptz IS NULL OR created_at >= $3)
	AND ($4::timestamptz IS NULL OR created_at <= $4)`

// Window returns entries matching the filters ordered by created_at
// descending, offset/limit windowed.
func (r *Repository) Window(ctx context.Context, f Filters, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE `+filterClause+`
		ORDER BY created_at DESC
		OFFSET $5 LIMIT $6`,
		f.ActionType, f.EntityType, toPgTime(f.From), toPgTime(f.To), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("audit window: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stream walks every matching entry in created_at descending order,
// invoking fn per row. The underlying cursor is closed when fn errors,
// the context is canceled, or the result set ends.
func (r *Repository) Stream(ctx context.Context, f Filters, fn func(Entry) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE `+filterClause+`
		ORDER BY created_at DESC`,
		f.ActionType, f.EntityType, toPgTime(f.From), toPgTime(f.To))
	if err != nil {
		return fmt.Errorf("audit stream: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteOlderThan removes entries created before the cutoff, returning
// the number removed. Used by the retention job only; the API never
// mutates the trail.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit retention delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var details []byte
	if err := row.Scan(&e.ID, &e.ActionType, &e.EntityType, &e.ActorID,
		&e.TargetUserID, &e.RoleID, &e.PermissionID, &e.Reason, &details, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return Entry{}, fmt.Errorf("audit: unmarshal details: %w", err)
		}
	}
	return e, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
