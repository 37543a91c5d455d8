package auth

import "github.com/eims-app/apiserver/types"

// RoleAllowed reports whether role is in allowed.
func RoleAllowed(role types.Role, allowed []types.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
