package rbac

import (
	"sort"
	"strings"
	"time"
)

// PermissionSource tags how an effective permission entered the set.
type PermissionSource string

const (
	// SourceRole marks permissions derived from a role grant.
	SourceRole PermissionSource = "role"
	// SourceDirect marks permissions granted directly to the user.
	SourceDirect PermissionSource = "direct"
)

// Permission is an atomic capability from the catalog. Scope is nil for
// scope-agnostic permissions. Identity (resource type, action, scope) is
// immutable once any role or user row references it.
type Permission struct {
	ID           int64  `json:"id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Scope        *Scope `json:"scope,omitempty"`
	IsSystem     bool   `json:"is_system"`
	IsActive     bool   `json:"is_active"`
}

// Key returns the display identity, e.g. "application.approve.department".
func (p Permission) Key() string {
	if p.Scope == nil {
		return p.ResourceType + "." + p.Action
	}
	return p.ResourceType + "." + p.Action + "." + string(*p.Scope)
}

// Role groups permissions. Level is display ordering only; it carries no
// weight during resolution. System roles are immutable through the
// administrative mutation paths.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Level        int       `json:"level"`
	IsSystemRole bool      `json:"is_system_role"`
	IsActive     bool      `json:"is_active"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRole links a user to a role, optionally until ExpiresAt. Rows past
// expiry are treated as absent by readers (lazy expiry).
type UserRole struct {
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy int64      `json:"assigned_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// UserPermission is a per-user override. IsGranted=false is an explicit
// deny that removes the permission no matter how many roles grant it.
type UserPermission struct {
	UserID       int64      `json:"user_id"`
	PermissionID int64      `json:"permission_id"`
	IsGranted    bool       `json:"is_granted"`
	Reason       string     `json:"reason,omitempty"`
	GrantedBy    int64      `json:"granted_by"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Override pairs a user permission row with its catalog permission for
// resolution.
type Override struct {
	Permission Permission
	IsGranted  bool
	Reason     string
}

// EffectivePermission is one resolved entry: the permission plus the
// tagged source it came from. RoleName/RoleLevel are set for role-derived
// entries, Reason for direct grants. IsGranted is always true — denials
// remove entries rather than appearing in the set — and is serialized for
// consumers of the query response.
type EffectivePermission struct {
	Permission Permission       `json:"permission"`
	Source     PermissionSource `json:"source"`
	RoleName   string           `json:"role_name,omitempty"`
	RoleLevel  int              `json:"role_level,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	IsGranted  bool             `json:"is_granted"`
}

// EffectiveSet is the resolver output for one user: the ordered,
// deduplicated permissions in effect plus the non-expired roles held.
// The zero value denies everything.
type EffectiveSet struct {
	UserID      int64
	Roles       []Role
	Permissions []EffectivePermission

	byAction map[string][]int
}

// NewEffectiveSet orders the permissions, builds the lookup index, and
// returns the set. Ordering is (resource type, action, scope, id) so
// resolution output is deterministic.
func NewEffectiveSet(userID int64, roles []Role, perms []EffectivePermission) *EffectiveSet {
	sort.SliceStable(perms, func(i, j int) bool {
		a, b := perms[i].Permission, perms[j].Permission
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		ao, bo := scopeOrderOf(a.Scope), scopeOrderOf(b.Scope)
		if ao != bo {
			return ao < bo
		}
		return a.ID < b.ID
	})
	set := &EffectiveSet{
		UserID:      userID,
		Roles:       roles,
		Permissions: perms,
		byAction:    make(map[string][]int, len(perms)),
	}
	for i, p := range perms {
		key := actionKey(p.Permission.ResourceType, p.Permission.Action)
		set.byAction[key] = append(set.byAction[key], i)
	}
	return set
}

// DenyAll returns an empty set for the user. Used on resolution failure
// so authorization checks fail closed.
func DenyAll(userID int64) *EffectiveSet {
	return NewEffectiveSet(userID, nil, nil)
}

// Can reports whether the set authorizes the action on the resource at
// the requested scope. A nil requested scope matches any entry for the
// resource and action. Scope-agnostic grants satisfy every requested
// scope; scoped grants satisfy requests at or below their own scope.
func (s *EffectiveSet) Can(resourceType, action string, scope *Scope) bool {
	if s == nil {
		return false
	}
	for _, i := range s.byAction[actionKey(resourceType, action)] {
		granted := s.Permissions[i].Permission.Scope
		if scope == nil || granted == nil || granted.Satisfies(*scope) {
			return true
		}
	}
	return false
}

// HasRole reports case-insensitive membership against the user's current
// non-expired role names, independent of permission resolution.
func (s *EffectiveSet) HasRole(name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

func actionKey(resourceType, action string) string {
	return strings.ToLower(resourceType) + "\x00" + strings.ToLower(action)
}

func scopeOrderOf(s *Scope) int {
	if s == nil {
		return -1
	}
	return s.Order()
}
