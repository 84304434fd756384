package rbac

import (
	"fmt"
	"strings"
)

// Scope is the breadth of resource access. Scopes form a total order:
// own < department < branch < global.
type Scope string

const (
	ScopeOwn        Scope = "own"
	ScopeDepartment Scope = "department"
	ScopeBranch     Scope = "branch"
	ScopeGlobal     Scope = "global"
)

var scopeOrder = map[Scope]int{
	ScopeOwn:        0,
	ScopeDepartment: 1,
	ScopeBranch:     2,
	ScopeGlobal:     3,
}

// Order maps the scope onto the total order. Unknown scopes sort below
// own so they never satisfy anything.
func (s Scope) Order() int {
	if o, ok := scopeOrder[s]; ok {
		return o
	}
	return -1
}

// Valid reports whether the scope is one of the four known values.
func (s Scope) Valid() bool {
	_, ok := scopeOrder[s]
	return ok
}

// Satisfies reports whether a grant at this scope authorizes a request
// at the given scope: order(granted) >= order(requested).
func (s Scope) Satisfies(requested Scope) bool {
	return s.Valid() && requested.Valid() && s.Order() >= requested.Order()
}

// ParseScope normalizes and validates a scope string.
func ParseScope(raw string) (Scope, error) {
	s := Scope(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown scope %q", ErrValidation, raw)
	}
	return s, nil
}
