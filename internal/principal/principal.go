// Package principal models the caller identity checked by authorization
// predicates. Internal service-to-service calls use the system principal
// instead of a pseudo-role string.
package principal

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Principal identifies who is performing an operation.
type Principal struct {
	ID     string
	Role   Role
	System bool
}

// EndUser returns a principal for an authenticated user.
func EndUser(id string, role Role) Principal {
	return Principal{ID: id, Role: role}
}

// System returns the principal used for internal calls; it passes every
// authorization predicate.
func System() Principal {
	return Principal{System: true}
}

func (p Principal) IsAdmin() bool {
	return p.System || p.Role == RoleAdmin
}

// Owns reports whether the principal is the end user with the given id.
func (p Principal) Owns(userID string) bool {
	return !p.System && p.ID == userID
}
