package templates

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/platform/db"
	"github.com/loanpilot/loanpilot/internal/rbac"
)

// PGApplyStore persists template applications over the pgx repositories.
// One application is one RepeatableRead transaction: all grant rows land
// together with the usage bump and the audit entry, or none do.
type PGApplyStore struct {
	pool      *pgxpool.Pool
	templates *Repository
	roles     *rbac.RoleRepository
	overrides *rbac.OverrideRepository
	recorder  *audit.Recorder
}

// NewPGApplyStore constructs the PostgreSQL-backed apply store.
func NewPGApplyStore(pool *pgxpool.Pool, templates *Repository, roles *rbac.RoleRepository,
	overrides *rbac.OverrideRepository, recorder *audit.Recorder) *PGApplyStore {
	return &PGApplyStore{
		pool:      pool,
		templates: templates,
		roles:     roles,
		overrides: overrides,
		recorder:  recorder,
	}
}

func (s *PGApplyStore) ApplyToRole(ctx context.Context, templateID, roleID int64, permissionIDs []int64, entry audit.Entry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		roles := s.roles.WithTx(tx)
		for _, permissionID := range permissionIDs {
			if _, err := roles.AttachPermission(ctx, roleID, permissionID); err != nil {
				return err
			}
		}
		if err := s.templates.WithTx(tx).IncrementUsage(ctx, templateID); err != nil {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
}

func (s *PGApplyStore) ApplyToUser(ctx context.Context, templateID int64, grants []rbac.UserPermission, entry audit.Entry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		overrides := s.overrides.WithTx(tx)
		for _, grant := range grants {
			if err := overrides.Upsert(ctx, grant); err != nil {
				return err
			}
		}
		if err := s.templates.WithTx(tx).IncrementUsage(ctx, templateID); err != nil {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
}
