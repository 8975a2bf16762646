package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/nexocrm/authsvc/internal/store/memory"
	"github.com/nexocrm/authsvc/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.UserEvent
	err    error
}

func (p *recordingPublisher) PublishUserEvent(_ context.Context, event types.UserEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []types.UserEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.UserEventType, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type testEnv struct {
	store  *memory.Store
	tokens *auth.TokenManager
	events *recordingPublisher
	auth   *AuthService
	users  *UserService
	roles  *RoleService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := memory.New()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	tokens := auth.NewTokenManager("services-test-secret")
	events := &recordingPublisher{}
	return &testEnv{
		store:  mem,
		tokens: tokens,
		events: events,
		auth:   NewAuthService(mem.Users(), mem.Roles(), hasher, tokens, events),
		users:  NewUserService(mem, mem.Users(), mem.Roles(), hasher, events),
		roles:  NewRoleService(mem.Roles()),
	}
}

func superadmin() *auth.Claims {
	return &auth.Claims{UserID: 999, Email: "root@crm.test", Roles: []string{auth.RoleSuperadmin}}
}

func admin() *auth.Claims {
	return &auth.Claims{UserID: 998, Email: "admin@crm.test", Roles: []string{auth.RoleAdmin}}
}

func strPtr(s string) *string { return &s }

func TestRegisterNormalizesEmailAndAssignsNoRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.Register(ctx, RegisterInput{
		FirstName: " Ana ",
		LastName:  "Lopez",
		Email:     "  Ana@Example.COM ",
		Password:  "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, "Ana", user.FirstName)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	roles, err := env.store.Roles().NamesForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Equal(t, []types.UserEventType{types.UserRegistered}, env.events.eventTypes())
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, RegisterInput{FirstName: "A", LastName: "B", Email: "a@x.io", Password: "p"})
	require.NoError(t, err)

	_, err = env.auth.Register(ctx, RegisterInput{FirstName: "C", LastName: "D", Email: "A@X.io", Password: "q"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestLoginIssuesTokenWithCurrentRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Create(ctx, superadmin(), CreateUserInput{
		FirstName: "Bo",
		LastName:  "Diaz",
		Email:     "bo@crm.test",
		Password:  "pw",
		Roles:     []string{auth.RoleAdmin, auth.RoleUser},
	})
	require.NoError(t, err)

	result, err := env.auth.Login(ctx, "BO@crm.test", "pw")
	require.NoError(t, err)

	claims, err := env.tokens.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.UserID)
	assert.Equal(t, "bo@crm.test", claims.Email)
	assert.ElementsMatch(t, []string{auth.RoleAdmin, auth.RoleUser}, claims.Roles)
}

func TestLoginWithoutRolesCarriesEmptyRoleList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Register(ctx, RegisterInput{FirstName: "A", LastName: "B", Email: "a@x.io", Password: "p"})
	require.NoError(t, err)

	result, err := env.auth.Login(ctx, "a@x.io", "p")
	require.NoError(t, err)

	claims, err := env.tokens.Verify(result.Token)
	require.NoError(t, err)
	assert.NotNil(t, claims.Roles)
	assert.Empty(t, claims.Roles)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.Register(ctx, RegisterInput{FirstName: "A", LastName: "B", Email: "a@x.io", Password: "right"})
	require.NoError(t, err)

	_, err = env.auth.Login(ctx, "nobody@x.io", "right")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.auth.Login(ctx, "a@x.io", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, env.store.Users().SetActive(ctx, user.ID, false))
	_, err = env.auth.Login(ctx, "a@x.io", "right")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserWithUnknownRoleRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.users.Create(ctx, admin(), CreateUserInput{
		FirstName: "X",
		LastName:  "Y",
		Email:     "x@y.z",
		Password:  "p",
		Roles:     []string{auth.RoleAdmin, "Ghost", "Phantom"},
	})
	require.ErrorIs(t, err, ErrUnknownRoles)

	var unknown *UnknownRolesError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"Ghost", "Phantom"}, unknown.Names)

	_, err = env.store.Users().GetByEmail(ctx, "x@y.z")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, env.events.eventTypes())
}

func TestCreateUserRequiresRoles(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.users.Create(context.Background(), admin(), CreateUserInput{
		FirstName: "X", LastName: "Y", Email: "x@y.z", Password: "p",
	})
	assert.ErrorIs(t, err, ErrRolesRequired)
}

func TestCreateUserDuplicateEmailConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	in := CreateUserInput{FirstName: "X", LastName: "Y", Email: "x@y.z", Password: "p", Roles: []string{auth.RoleUser}}
	_, err := env.users.Create(ctx, admin(), in)
	require.NoError(t, err)

	_, err = env.users.Create(ctx, admin(), in)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCreateUserPublishesEventWithActor(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.users.Create(context.Background(), admin(), CreateUserInput{
		FirstName:   "X",
		LastName:    "Y",
		Email:       "x@y.z",
		Password:    "p",
		Position:    strPtr("  Sales  "),
		PhoneNumber: strPtr("   "),
		Roles:       []string{auth.RoleUser, auth.RoleUser},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleUser}, created.Roles)
	require.NotNil(t, created.Position)
	assert.Equal(t, "Sales", *created.Position)
	assert.Nil(t, created.PhoneNumber)

	require.Len(t, env.events.events, 1)
	event := env.events.events[0]
	assert.Equal(t, types.UserCreated, event.Type)
	assert.Equal(t, admin().UserID, event.ActorID)
	assert.Equal(t, created.ID, event.UserID)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(t)
	env.events.err = errors.New("broker down")

	_, err := env.auth.Register(context.Background(), RegisterInput{FirstName: "A", LastName: "B", Email: "a@x.io", Password: "p"})
	assert.NoError(t, err)
}

type stalledPublisher struct {
	err chan error
}

func (p stalledPublisher) PublishUserEvent(ctx context.Context, _ types.UserEvent) error {
	<-ctx.Done()
	p.err <- ctx.Err()
	return ctx.Err()
}

func TestStalledBrokerIsBoundedByPublishTimeout(t *testing.T) {
	previous := publishTimeout
	publishTimeout = 20 * time.Millisecond
	t.Cleanup(func() { publishTimeout = previous })

	mem := memory.New()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	events := stalledPublisher{err: make(chan error, 1)}
	svc := NewAuthService(mem.Users(), mem.Roles(), hasher, auth.NewTokenManager("s"), events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err := svc.Register(ctx, RegisterInput{FirstName: "A", LastName: "B", Email: "a@x.io", Password: "p"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, <-events.err, context.DeadlineExceeded)
}

func createUser(t *testing.T, env *testEnv, email string, roles ...string) types.UserWithRoles {
	t.Helper()
	created, err := env.users.Create(context.Background(), superadmin(), CreateUserInput{
		FirstName: "First",
		LastName:  "Last",
		Email:     email,
		Password:  "pw",
		Roles:     roles,
	})
	require.NoError(t, err)
	return created
}

func TestUpdateByAdminIgnoresRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	roles := []string{auth.RoleSuperadmin}
	updated, err := env.users.Update(ctx, admin(), UpdateUserInput{
		ID:        target.ID,
		FirstName: "Renamed",
		LastName:  "Last",
		Email:     "t@crm.test",
		Roles:     &roles,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.FirstName)
	assert.Equal(t, []string{auth.RoleUser}, updated.Roles)
}

func TestUpdateBySuperadminReplacesRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	roles := []string{auth.RoleAdmin}
	updated, err := env.users.Update(ctx, superadmin(), UpdateUserInput{
		ID: target.ID, FirstName: "F", LastName: "L", Email: "t@crm.test", Roles: &roles,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleAdmin}, updated.Roles)
}

func TestUpdateBySuperadminWithEmptyRolesClearsThem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser, auth.RoleAdmin)

	roles := []string{}
	updated, err := env.users.Update(ctx, superadmin(), UpdateUserInput{
		ID: target.ID, FirstName: "F", LastName: "L", Email: "t@crm.test", Roles: &roles,
	})
	require.NoError(t, err)
	assert.Empty(t, updated.Roles)
}

func TestUpdateBySuperadminWithoutRolesKeepsThem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	updated, err := env.users.Update(ctx, superadmin(), UpdateUserInput{
		ID: target.ID, FirstName: "F", LastName: "L", Email: "t@crm.test",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleUser}, updated.Roles)
}

func TestUpdateUnknownRoleRollsBackProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	roles := []string{"Ghost"}
	_, err := env.users.Update(ctx, superadmin(), UpdateUserInput{
		ID: target.ID, FirstName: "Changed", LastName: "L", Email: "t@crm.test", Roles: &roles,
	})
	require.ErrorIs(t, err, ErrUnknownRoles)

	stored, err := env.users.GetWithRoles(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "First", stored.FirstName)
	assert.Equal(t, []string{auth.RoleUser}, stored.Roles)
}

func TestUpdateIsActiveOptional(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	inactive := false
	updated, err := env.users.Update(ctx, admin(), UpdateUserInput{
		ID: target.ID, FirstName: "F", LastName: "L", Email: "t@crm.test", IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	updated, err = env.users.Update(ctx, admin(), UpdateUserInput{
		ID: target.ID, FirstName: "F", LastName: "L", Email: "t@crm.test",
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
}

func TestUpdateErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	createUser(t, env, "taken@crm.test", auth.RoleUser)
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	_, err := env.users.Update(ctx, admin(), UpdateUserInput{ID: 4040, FirstName: "F", LastName: "L", Email: "n@crm.test"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.users.Update(ctx, admin(), UpdateUserInput{ID: target.ID, FirstName: "F", LastName: "L", Email: "Taken@crm.test"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestToggleActiveFlipsTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := createUser(t, env, "t@crm.test", auth.RoleUser)

	active, err := env.users.ToggleActive(ctx, superadmin(), target.ID)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = env.users.ToggleActive(ctx, superadmin(), target.ID)
	require.NoError(t, err)
	assert.True(t, active)

	assert.Equal(t, []types.UserEventType{
		types.UserCreated,
		types.UserDeactivated,
		types.UserActivated,
	}, env.events.eventTypes())
}

func TestToggleActiveUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.users.ToggleActive(context.Background(), superadmin(), 77)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListUsersNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	first := createUser(t, env, "one@crm.test", auth.RoleUser)
	second := createUser(t, env, "two@crm.test", auth.RoleUser)

	users, err := env.users.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, second.ID, users[0].ID)
	assert.Equal(t, first.ID, users[1].ID)
}

func TestRoleServiceListsOrderedByName(t *testing.T) {
	env := newTestEnv(t)

	roles, err := env.roles.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "Superadmin", "User"}, types.RoleNames(roles))
}

type memoryObjects struct {
	objects map[string][]byte
	deleted []string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestAvatarUploadReplacesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := createUser(t, env, "t@crm.test", auth.RoleUser)
	objects := newMemoryObjects()
	avatars := NewAvatarService(env.store.Users(), objects)

	first, err := avatars.Upload(ctx, user.ID, pngHeader)
	require.NoError(t, err)
	assert.Regexp(t, `^avatars/\d+/[0-9a-f-]{36}\.png$`, first)

	second, err := avatars.Upload(ctx, user.ID, pngHeader)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{first}, objects.deleted)

	reader, contentType, err := avatars.Open(ctx, user.ID)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, "image/png", contentType)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestAvatarUploadRejectsNonImages(t *testing.T) {
	env := newTestEnv(t)
	user := createUser(t, env, "t@crm.test", auth.RoleUser)
	avatars := NewAvatarService(env.store.Users(), newMemoryObjects())

	_, err := avatars.Upload(context.Background(), user.ID, []byte("#!/bin/sh\necho hi\n"))
	assert.ErrorIs(t, err, ErrUnsupportedAvatarType)

	_, err = avatars.Upload(context.Background(), user.ID, make([]byte, MaxAvatarSize+1))
	assert.ErrorIs(t, err, ErrAvatarTooLarge)
}

func TestAvatarOpenWithoutAvatar(t *testing.T) {
	env := newTestEnv(t)
	user := createUser(t, env, "t@crm.test", auth.RoleUser)
	avatars := NewAvatarService(env.store.Users(), newMemoryObjects())

	_, _, err := avatars.Open(context.Background(), user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
