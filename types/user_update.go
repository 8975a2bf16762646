package types

// UserUpdate carries the profile fields written by an update.
// A nil IsActive leaves the active flag unchanged.
type UserUpdate struct {
	ID          int
	FirstName   string
	LastName    string
	Email       string
	Position    *string
	PhoneNumber *string
	IsActive    *bool
}
