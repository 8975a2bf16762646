package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nexocrm/authsvc/types"
	"github.com/rs/zerolog/log"
)

// ErrInvalidCredentials is returned by Login for an unknown email, a wrong
// password or a deactivated account alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrRolesRequired is returned when a user is created without any role.
var ErrRolesRequired = errors.New("at least one role is required")

// ErrUnknownRoles matches every *UnknownRolesError.
var ErrUnknownRoles = errors.New("unknown roles")

// UnknownRolesError lists role names that do not exist.
type UnknownRolesError struct {
	Names []string
}

func (e *UnknownRolesError) Error() string {
	return fmt.Sprintf("unknown roles: %s", strings.Join(e.Names, ", "))
}

func (e *UnknownRolesError) Is(target error) bool {
	return target == ErrUnknownRoles
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, update types.UserUpdate) (types.User, error)
	LockActive(ctx context.Context, id int) (bool, error)
	SetActive(ctx context.Context, id int, active bool) error
	SetAvatarKey(ctx context.Context, id int, key *string) error
}

// RoleRepository defines persistence operations for roles and assignments.
type RoleRepository interface {
	List(ctx context.Context) ([]types.Role, error)
	FindByNames(ctx context.Context, names []string) ([]types.Role, error)
	NamesForUser(ctx context.Context, userID int) ([]string, error)
	Assign(ctx context.Context, userID int, roleIDs []int) error
	Replace(ctx context.Context, userID int, roleIDs []int) error
}

// TxRunner runs fn inside a transaction. Repositories called with txCtx take
// part in it; a non-nil error from fn rolls everything back.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// EventPublisher delivers user lifecycle events to other services.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, event types.UserEvent) error
}

// NoopPublisher drops every event. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishUserEvent(context.Context, types.UserEvent) error {
	return nil
}

// publishTimeout bounds how long a committed mutation waits on the broker.
var publishTimeout = 5 * time.Second

// publishEvent is best-effort: the mutation already committed, so a broker
// failure is logged and otherwise ignored. The publish outlives a cancelled
// request but not publishTimeout.
func publishEvent(ctx context.Context, events EventPublisher, event types.UserEvent) {
	if events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := events.PublishUserEvent(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Int("user_id", event.UserID).
			Msg("failed to publish user event")
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// resolveRoles maps role names to roles, reporting every name that does not
// exist. Duplicate names are collapsed.
func resolveRoles(ctx context.Context, repo RoleRepository, names []string) ([]types.Role, error) {
	unique := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}

	roles, err := repo.FindByNames(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}

	found := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		found[role.Name] = struct{}{}
	}
	var missing []string
	for _, name := range unique {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &UnknownRolesError{Names: missing}
	}
	return roles, nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
