package auth

import "slices"

// Permission names one thing a role may do.
type Permission string

const (
	PermDeviceRead       Permission = "device:read"
	PermDeviceManage     Permission = "device:manage"
	PermLogRead          Permission = "log:read"
	PermAlertAcknowledge Permission = "alert:acknowledge"
)

// Operators watch the fleet; admins can also change the registry.
var (
	operatorPermissions = []Permission{PermDeviceRead, PermLogRead, PermAlertAcknowledge}
	adminPermissions    = append(slices.Clone(operatorPermissions), PermDeviceManage)
)

func grants(role Role) []Permission {
	switch role {
	case RoleOperator:
		return operatorPermissions
	case RoleAdmin:
		return adminPermissions
	}
	return nil
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(grants(role), perm)
}

// PermissionsForRole returns a copy of the permissions role grants, or nil
// for an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(grants(role))
}
