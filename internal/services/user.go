package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/types"
)

// CreateUserInput is the administrator-side user creation payload.
type CreateUserInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	Position    *string
	PhoneNumber *string
	Roles       []string
}

// UpdateUserInput is the user update payload. Nil IsActive keeps the current
// flag; nil Roles keeps the current role set.
type UpdateUserInput struct {
	ID          int
	FirstName   string
	LastName    string
	Email       string
	Position    *string
	PhoneNumber *string
	IsActive    *bool
	Roles       *[]string
}

// UserService encapsulates user administration use-cases.
type UserService struct {
	tx     TxRunner
	users  UserRepository
	roles  RoleRepository
	hasher *auth.PasswordHasher
	events EventPublisher
	now    func() time.Time
}

func NewUserService(
	tx TxRunner,
	users UserRepository,
	roles RoleRepository,
	hasher *auth.PasswordHasher,
	events EventPublisher,
) *UserService {
	if events == nil {
		events = NoopPublisher{}
	}
	return &UserService{
		tx:     tx,
		users:  users,
		roles:  roles,
		hasher: hasher,
		events: events,
		now:    time.Now,
	}
}

// List returns every user, newest first.
func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.users.List(ctx)
}

// GetByID returns the user's profile without roles.
func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

// GetWithRoles returns the user's profile and role names.
func (s *UserService) GetWithRoles(ctx context.Context, id int) (types.UserWithRoles, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.UserWithRoles{}, err
	}
	roles, err := s.roles.NamesForUser(ctx, id)
	if err != nil {
		return types.UserWithRoles{}, fmt.Errorf("load roles: %w", err)
	}
	return types.UserWithRoles{User: user, Roles: roles}, nil
}

// Create inserts a user and assigns its roles in one transaction. Any unknown
// role name rolls the whole operation back with an *UnknownRolesError.
// actor may be nil when the caller is not a request, e.g. the bootstrap CLI.
func (s *UserService) Create(ctx context.Context, actor *auth.Claims, in CreateUserInput) (types.UserWithRoles, error) {
	if len(in.Roles) == 0 {
		return types.UserWithRoles{}, ErrRolesRequired
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.UserWithRoles{}, fmt.Errorf("hash password: %w", err)
	}

	var created types.UserWithRoles
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.Create(txCtx, types.User{
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			Email:        NormalizeEmail(in.Email),
			PasswordHash: hash,
			Position:     trimmedOrNil(in.Position),
			PhoneNumber:  trimmedOrNil(in.PhoneNumber),
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		roles, err := resolveRoles(txCtx, s.roles, in.Roles)
		if err != nil {
			return err
		}
		if err := s.roles.Assign(txCtx, user.ID, types.RoleIDs(roles)); err != nil {
			return fmt.Errorf("assign roles: %w", err)
		}

		created = types.UserWithRoles{User: user, Roles: types.RoleNames(roles)}
		return nil
	})
	if err != nil {
		return types.UserWithRoles{}, err
	}

	publishEvent(ctx, s.events, types.UserEvent{
		Type:       types.UserCreated,
		UserID:     created.ID,
		Email:      created.Email,
		ActorID:    actorID(actor),
		Roles:      created.Roles,
		IsActive:   created.IsActive,
		OccurredAt: created.CreatedAt,
	})
	return created, nil
}

// Update writes the profile and, for a Superadmin actor that sent roles,
// replaces the role set. Roles sent by any other actor are ignored. An empty
// role list from a Superadmin clears every role.
func (s *UserService) Update(ctx context.Context, actor *auth.Claims, in UpdateUserInput) (types.UserWithRoles, error) {
	replaceRoles := in.Roles != nil && actor.HasRole(auth.RoleSuperadmin)

	var updated types.UserWithRoles
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.Update(txCtx, types.UserUpdate{
			ID:          in.ID,
			FirstName:   strings.TrimSpace(in.FirstName),
			LastName:    strings.TrimSpace(in.LastName),
			Email:       NormalizeEmail(in.Email),
			Position:    trimmedOrNil(in.Position),
			PhoneNumber: trimmedOrNil(in.PhoneNumber),
			IsActive:    in.IsActive,
		})
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		if replaceRoles {
			roles, err := resolveRoles(txCtx, s.roles, *in.Roles)
			if err != nil {
				return err
			}
			if err := s.roles.Replace(txCtx, user.ID, types.RoleIDs(roles)); err != nil {
				return fmt.Errorf("replace roles: %w", err)
			}
		}

		names, err := s.roles.NamesForUser(txCtx, user.ID)
		if err != nil {
			return fmt.Errorf("load roles: %w", err)
		}
		updated = types.UserWithRoles{User: user, Roles: names}
		return nil
	})
	if err != nil {
		return types.UserWithRoles{}, err
	}

	publishEvent(ctx, s.events, types.UserEvent{
		Type:       types.UserUpdated,
		UserID:     updated.ID,
		Email:      updated.Email,
		ActorID:    actorID(actor),
		Roles:      updated.Roles,
		IsActive:   updated.IsActive,
		OccurredAt: updated.UpdatedAt,
	})
	return updated, nil
}

// ToggleActive flips the user's active flag under a row lock and returns the
// new value. Tokens already issued to the user stay valid until they expire.
func (s *UserService) ToggleActive(ctx context.Context, actor *auth.Claims, id int) (bool, error) {
	var user types.User
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		active, err := s.users.LockActive(txCtx, id)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if err := s.users.SetActive(txCtx, id, !active); err != nil {
			return fmt.Errorf("set active: %w", err)
		}
		user, err = s.users.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("reload user: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	eventType := types.UserDeactivated
	if user.IsActive {
		eventType = types.UserActivated
	}
	publishEvent(ctx, s.events, types.UserEvent{
		Type:       eventType,
		UserID:     user.ID,
		Email:      user.Email,
		ActorID:    actorID(actor),
		IsActive:   user.IsActive,
		OccurredAt: s.now().UTC(),
	})
	return user.IsActive, nil
}

func actorID(actor *auth.Claims) int {
	if actor == nil {
		return 0
	}
	return actor.UserID
}
