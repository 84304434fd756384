package templates

import "time"

// Target types a template can be applied to.
const (
	TargetRole = "role"
	TargetUser = "user"
)

// EntityTemplate is the audit entity type for template operations.
const EntityTemplate = "template"

// Template is a reusable named bundle of permission catalog IDs, e.g.
// "Loan Officer Standard" or "Branch Manager".
type Template struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	PermissionIDs []int64   `json:"permission_ids"`
	UsageCount    int64     `json:"usage_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ApplyResult reports how a template application mapped onto the live
// permission catalog. Unmapped IDs reference permissions that no longer
// exist or are inactive; they are skipped, not fatal.
type ApplyResult struct {
	TemplateID  int64   `json:"template_id"`
	TargetType  string  `json:"target_type"`
	TargetID    int64   `json:"target_id"`
	Mapped      int     `json:"mapped"`
	Unmapped    int     `json:"unmapped"`
	UnmappedIDs []int64 `json:"unmapped_ids,omitempty"`
}
