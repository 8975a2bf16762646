package types

import "time"

// UserEventType enumerates the lifecycle events published for users.
type UserEventType string

const (
	UserRegistered  UserEventType = "user.registered"
	UserCreated     UserEventType = "user.created"
	UserUpdated     UserEventType = "user.updated"
	UserActivated   UserEventType = "user.activated"
	UserDeactivated UserEventType = "user.deactivated"
)

// UserEvent is the payload published on the user events channel after a
// user mutation commits. It never carries credentials.
type UserEvent struct {
	// Type identifies what happened to the user.
	Type UserEventType `json:"type"`

	// UserID is the affected user.
	UserID int `json:"user_id"`

	// Email is the affected user's email at the time of the event.
	Email string `json:"email"`

	// ActorID is the authenticated caller that caused the event.
	// It is zero for self-registration.
	ActorID int `json:"actor_id,omitempty"`

	// Roles is the user's role set after the change, when it is known.
	Roles []string `json:"roles,omitempty"`

	// IsActive is the user's active flag after the change.
	IsActive bool `json:"is_active"`

	// OccurredAt is when the change was committed.
	OccurredAt time.Time `json:"occurred_at"`
}
