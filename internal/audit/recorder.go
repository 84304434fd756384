package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Recorder appends audit entries. RecordTx writes inside the caller's
// transaction so the mutation and its audit record commit as one atomic
// unit: there is never a committed permission change without a trail.
type Recorder struct{}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordTx appends the entry within tx. ActionType, EntityType, and
// ActorID are mandatory.
func (r *Recorder) RecordTx(ctx context.Context, tx pgx.Tx, entry Entry) error {
	if entry.ActionType == "" || entry.EntityType == "" {
		return errors.New("audit: entry requires action_type and entity_type")
	}
	if entry.ActorID == 0 {
		return errors.New("audit: entry requires actor_id")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (id, action_type, entity_type, actor_id, target_user_id, role_id, permission_id, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NOW())`,
		entry.ID, entry.ActionType, entry.EntityType, entry.ActorID,
		entry.TargetUserID, entry.RoleID, entry.PermissionID, entry.Reason, details)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}
