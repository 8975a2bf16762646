package auth

// Seeded role names.
const (
	RoleSuperadmin = "Superadmin"
	RoleAdmin      = "Admin"
	RoleUser       = "User"
)

// HasAnyRole reports whether claims carry at least one of the allowed roles.
// Missing claims or an empty role set never match.
func HasAnyRole(claims *Claims, allowed ...string) bool {
	if claims == nil || len(claims.Roles) == 0 {
		return false
	}
	for _, role := range allowed {
		if claims.HasRole(role) {
			return true
		}
	}
	return false
}
