package types

// Role is a named permission tag assignable to users.
type Role struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// RoleNames returns the names of roles in order.
func RoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}

// RoleIDs returns the ids of roles in order.
func RoleIDs(roles []Role) []int {
	ids := make([]int, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	return ids
}
