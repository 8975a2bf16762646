package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/nexocrm/authsvc/types"
)

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// LoginResult is a freshly issued token and the user it was issued for.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      types.UserWithRoles
}

// AuthService handles registration and credential checks.
type AuthService struct {
	users  UserRepository
	roles  RoleRepository
	hasher *auth.PasswordHasher
	tokens *auth.TokenManager
	events EventPublisher
}

func NewAuthService(
	users UserRepository,
	roles RoleRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenManager,
	events EventPublisher,
) *AuthService {
	if events == nil {
		events = NoopPublisher{}
	}
	return &AuthService{users: users, roles: roles, hasher: hasher, tokens: tokens, events: events}
}

// Register creates an active user with no roles. A taken email yields
// store.ErrConflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        NormalizeEmail(in.Email),
		PasswordHash: hash,
	})
	if err != nil {
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	publishEvent(ctx, s.events, types.UserEvent{
		Type:       types.UserRegistered,
		UserID:     user.ID,
		Email:      user.Email,
		IsActive:   user.IsActive,
		OccurredAt: user.CreatedAt,
	})
	return user, nil
}

// Login verifies credentials and issues a token carrying the user's current
// role names. Every credential failure is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return LoginResult{}, ErrInvalidCredentials
	}

	roles, err := s.roles.NamesForUser(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("load roles: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Email, roles)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      types.UserWithRoles{User: user, Roles: roles},
	}, nil
}
