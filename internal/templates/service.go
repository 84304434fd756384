package templates

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/loanpilot/loanpilot/internal/audit"
	"github.com/loanpilot/loanpilot/internal/rbac"
)

// TemplateStore is the read surface of the template store.
type TemplateStore interface {
	Get(ctx context.Context, id int64) (Template, error)
	List(ctx context.Context) ([]Template, error)
}

// CatalogReader resolves template permission IDs against the live catalog.
type CatalogReader interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]rbac.Permission, error)
}

// RoleReader fetches the target role for the system-role check.
type RoleReader interface {
	Get(ctx context.Context, id int64) (rbac.Role, error)
}

// ApplyStore persists one template application atomically: the grant
// rows, the usage bump, and the audit entry all land together or not at
// all. Re-applying the same grants is a no-op at the row level.
type ApplyStore interface {
	ApplyToRole(ctx context.Context, templateID, roleID int64, permissionIDs []int64, entry audit.Entry) error
	ApplyToUser(ctx context.Context, templateID int64, grants []rbac.UserPermission, entry audit.Entry) error
}

// Applier applies permission templates to roles and users.
type Applier struct {
	templates TemplateStore
	catalog   CatalogReader
	roles     RoleReader
	users     rbac.UserDirectory
	store     ApplyStore
	cache     rbac.EffectiveCache
	logger    *slog.Logger
}

// NewApplier constructs the template applier.
func NewApplier(templates TemplateStore, catalog CatalogReader, roles RoleReader,
	users rbac.UserDirectory, store ApplyStore, cache rbac.EffectiveCache, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		templates: templates,
		catalog:   catalog,
		roles:     roles,
		users:     users,
		store:     store,
		cache:     cache,
		logger:    logger,
	}
}

// List returns all templates.
func (a *Applier) List(ctx context.Context) ([]Template, error) {
	tpls, err := a.templates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rbac.ErrUpstream, err)
	}
	return tpls, nil
}

// Get returns one template.
func (a *Applier) Get(ctx context.Context, id int64) (Template, error) {
	return a.templates.Get(ctx, id)
}

// Apply maps the template's permission IDs against the live catalog and
// attaches the resolved set to the target role or user. IDs that no
// longer resolve to an active catalog entry are skipped and reported.
func (a *Applier) Apply(ctx context.Context, actorID, templateID int64, targetType string, targetID int64) (ApplyResult, error) {
	if targetType != TargetRole && targetType != TargetUser {
		return ApplyResult{}, fmt.Errorf("%w: target type must be %q or %q", rbac.ErrValidation, TargetRole, TargetUser)
	}
	tpl, err := a.templates.Get(ctx, templateID)
	if err != nil {
		return ApplyResult{}, err
	}
	known, err := a.catalog.GetByIDs(ctx, tpl.PermissionIDs)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %v", rbac.ErrUpstream, err)
	}
	mapped, unmapped := partition(tpl.PermissionIDs, known)

	result := ApplyResult{
		TemplateID:  templateID,
		TargetType:  targetType,
		TargetID:    targetID,
		Mapped:      len(mapped),
		Unmapped:    len(unmapped),
		UnmappedIDs: unmapped,
	}
	if len(unmapped) > 0 {
		a.logger.Warn("template references unmapped permissions",
			"template", tpl.Name, "unmapped", unmapped)
	}

	switch targetType {
	case TargetRole:
		err = a.applyToRole(ctx, actorID, tpl, targetID, mapped, result)
	case TargetUser:
		err = a.applyToUser(ctx, actorID, tpl, targetID, mapped, result)
	}
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

func (a *Applier) applyToRole(ctx context.Context, actorID int64, tpl Template, roleID int64, mapped []int64, result ApplyResult) error {
	role, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: cannot modify system role permissions", rbac.ErrConflict)
	}
	err = a.store.ApplyToRole(ctx, tpl.ID, roleID, mapped, audit.Entry{
		ActionType: audit.ActionTemplateApplied,
		EntityType: EntityTemplate,
		ActorID:    actorID,
		RoleID:     &roleID,
		Details:    applyDetails(tpl, result),
	})
	if err != nil {
		return err
	}
	a.cache.BumpRole(ctx, roleID)
	return nil
}

func (a *Applier) applyToUser(ctx context.Context, actorID int64, tpl Template, userID int64, mapped []int64, result ApplyResult) error {
	status, err := a.users.Status(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: user status: %v", rbac.ErrUpstream, err)
	}
	if !status.Exists {
		return fmt.Errorf("%w: user %d", rbac.ErrNotFound, userID)
	}
	if !status.Active {
		return fmt.Errorf("%w: user %d is inactive", rbac.ErrValidation, userID)
	}
	reason := fmt.Sprintf("template: %s", tpl.Name)
	grants := make([]rbac.UserPermission, len(mapped))
	for i, permissionID := range mapped {
		grants[i] = rbac.UserPermission{
			UserID:       userID,
			PermissionID: permissionID,
			IsGranted:    true,
			Reason:       reason,
			GrantedBy:    actorID,
		}
	}
	err = a.store.ApplyToUser(ctx, tpl.ID, grants, audit.Entry{
		ActionType:   audit.ActionTemplateApplied,
		EntityType:   EntityTemplate,
		ActorID:      actorID,
		TargetUserID: &userID,
		Details:      applyDetails(tpl, result),
	})
	if err != nil {
		return err
	}
	a.cache.Invalidate(ctx, userID)
	return nil
}

// partition splits template permission IDs into those resolving to an
// active catalog entry and those that do not, preserving determinism.
func partition(ids []int64, known map[int64]rbac.Permission) (mapped, unmapped []int64) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; ok {
			mapped = append(mapped, id)
		} else {
			unmapped = append(unmapped, id)
		}
	}
	sort.Slice(mapped, func(i, j int) bool { return mapped[i] < mapped[j] })
	sort.Slice(unmapped, func(i, j int) bool { return unmapped[i] < unmapped[j] })
	return mapped, unmapped
}

func applyDetails(tpl Template, result ApplyResult) map[string]any {
	details := map[string]any{
		"template_id":   tpl.ID,
		"template_name": tpl.Name,
		"mapped":        result.Mapped,
		"unmapped":      result.Unmapped,
	}
	if len(result.UnmappedIDs) > 0 {
		details["unmapped_ids"] = result.UnmappedIDs
	}
	return details
}
