package auth

import (
	"errors"
	"slices"
)

// Role is an operator's authorisation tier.
type Role string

// Role constants.
const (
	// RoleOperator monitors units and acknowledges alerts.
	RoleOperator Role = "operator"

	// RoleAdmin additionally manages the device registry.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Authentication errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
