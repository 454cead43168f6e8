package auth

import "strings"

// Role is the access level carried in a token.
//
//	viewer   reads alerts, windows, config, exports and the stream
//	operator also triggers refresh cycles
//	admin    also replaces consolidation policies at runtime
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// roleOrder lists roles from least to most privileged.
var roleOrder = []Role{RoleViewer, RoleOperator, RoleAdmin}

// ParseRole resolves a role claim. Matching ignores case and surrounding space.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if role.level() == 0 {
		return "", false
	}
	return role, true
}

// Allows reports whether r satisfies required.
func (r Role) Allows(required Role) bool {
	level := r.level()
	return level > 0 && level >= required.level()
}

func (r Role) level() int {
	for i, candidate := range roleOrder {
		if candidate == r {
			return i + 1
		}
	}
	return 0
}
