package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/platform/db"
)

// PGMutationStore runs each permission mutation and its audit entry in one
// RepeatableRead transaction over the pgx repositories.
type PGMutationStore struct {
	pool        *pgxpool.Pool
	roles       *RoleRepository
	assignments *AssignmentRepository
	overrides   *OverrideRepository
	recorder    *audit.Recorder
}

// NewPGMutationStore constructs the PostgreSQL-backed mutation store.
func NewPGMutationStore(pool *pgxpool.Pool, roles *RoleRepository, assignments *AssignmentRepository,
	overrides *OverrideRepository, recorder *audit.Recorder) *PGMutationStore {
	return &PGMutationStore{
		pool:        pool,
		roles:       roles,
		assignments: assignments,
		overrides:   overrides,
		recorder:    recorder,
	}
}

func (s *PGMutationStore) InsertAssignment(ctx context.Context, assignment UserRole, entry audit.Entry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.assignments.WithTx(tx).Insert(ctx, assignment); err != nil {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
}

func (s *PGMutationStore) DeleteAssignment(ctx context.Context, userID, roleID int64, entry audit.Entry) (bool, error) {
	var existed bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		existed, err = s.assignments.WithTx(tx).Delete(ctx, userID, roleID)
		if err != nil || !existed {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
	return existed, err
}

func (s *PGMutationStore) UpsertOverride(ctx context.Context, override UserPermission, entry audit.Entry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.overrides.WithTx(tx).Upsert(ctx, override); err != nil {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
}

func (s *PGMutationStore) DeleteOverride(ctx context.Context, userID, permissionID int64, entry audit.Entry) (bool, error) {
	var existed bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		existed, err = s.overrides.WithTx(tx).Delete(ctx, userID, permissionID)
		if err != nil || !existed {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
	return existed, err
}

func (s *PGMutationStore) SetRolePermission(ctx context.Context, roleID, permissionID int64, granted bool, entry audit.Entry) (bool, error) {
	var changed bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		repo := s.roles.WithTx(tx)
		var err error
		if granted {
			changed, err = repo.AttachPermission(ctx, roleID, permissionID)
		} else {
			changed, err = repo.DetachPermission(ctx, roleID, permissionID)
		}
		if err != nil || !changed {
			return err
		}
		return s.recorder.RecordTx(ctx, tx, entry)
	})
	return changed, err
}
