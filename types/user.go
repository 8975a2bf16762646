package types

import "time"

// User represents a CRM account.
// It contains identity, profile, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// FirstName is the user's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"last_name" db:"last_name"`

	// Email is the unique login address, stored trimmed and lowercased.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Position is the user's job title within the organization.
	Position *string `json:"position" db:"position"`

	// PhoneNumber is an optional contact number.
	PhoneNumber *string `json:"phone_number" db:"phone_number"`

	// IsActive reports whether the account may log in. Users are never
	// hard-deleted; deactivation flips this flag.
	IsActive bool `json:"is_active" db:"is_active"`

	// AvatarKey is the object storage key of the profile picture, if any.
	AvatarKey *string `json:"-" db:"avatar_key"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent profile change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasAvatar reports whether an avatar object is recorded for the user.
func (u User) HasAvatar() bool {
	return u.AvatarKey != nil && *u.AvatarKey != ""
}

// UserWithRoles is a user together with the names of its assigned roles.
type UserWithRoles struct {
	User
	Roles []string `json:"roles"`
}
