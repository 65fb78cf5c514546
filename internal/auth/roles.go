// Package auth issues and checks staff bearer tokens.
package auth

type Role string

const (
	RoleSupervisor      Role = "supervisor"
	RoleCustomerService Role = "customer_service"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleSupervisor, RoleCustomerService:
		return Role(raw), true
	default:
		return "", false
	}
}

// Allows reports whether r satisfies required. Supervisor satisfies every
// role.
func (r Role) Allows(required Role) bool {
	if r == RoleSupervisor {
		return true
	}
	return r != "" && r == required
}
