package audit

import (
	"time"

	"github.com/google/uuid"
)

// ActionType enumerates the auditable permission mutations.
type ActionType string

const (
	ActionRoleAssigned          ActionType = "role_assigned"
	ActionRoleRevoked           ActionType = "role_revoked"
	ActionPermissionGranted     ActionType = "permission_granted"
	ActionPermissionDenied      ActionType = "permission_denied"
	ActionPermissionRevoked     ActionType = "permission_revoked"
	ActionRolePermissionAdded   ActionType = "role_permission_added"
	ActionRolePermissionRemoved ActionType = "role_permission_removed"
	ActionTemplateApplied       ActionType = "template_applied"
)

// Entry is one append-only audit record. Entity IDs are informational
// references, not enforced foreign keys, so the trail survives entity
// deletion.
type Entry struct {
	ID           uuid.UUID      `json:"id"`
	ActionType   ActionType     `json:"action_type"`
	EntityType   string         `json:"entity_type"`
	ActorID      int64          `json:"actor_id"`
	TargetUserID *int64         `json:"target_user_id,omitempty"`
	RoleID       *int64         `json:"role_id,omitempty"`
	PermissionID *int64         `json:"permission_id,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filters narrow audit queries and exports.
type Filters struct {
	ActionType string
	EntityType string
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// PagingInfo carries simple page metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Page bundles one page of entries with its paging metadata.
type Page struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
