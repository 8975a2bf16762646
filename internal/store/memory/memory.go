// Package memory provides in-process implementations of the store
// repositories for tests and local experiments. They honour the same error
// contract as the Postgres repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexocrm/authsvc/internal/store"
	"github.com/nexocrm/authsvc/types"
)

type txKey struct{}

type state struct {
	users     map[int]types.User
	roles     []types.Role
	userRoles map[int]map[int]struct{}
	nextID    int
}

func (s state) clone() state {
	users := make(map[int]types.User, len(s.users))
	for id, user := range s.users {
		users[id] = user
	}
	userRoles := make(map[int]map[int]struct{}, len(s.userRoles))
	for id, set := range s.userRoles {
		copied := make(map[int]struct{}, len(set))
		for roleID := range set {
			copied[roleID] = struct{}{}
		}
		userRoles[id] = copied
	}
	return state{
		users:     users,
		roles:     append([]types.Role(nil), s.roles...),
		userRoles: userRoles,
		nextID:    s.nextID,
	}
}

// Store holds users, roles and assignments in memory.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	data  state
	clock time.Time
}

// New returns a store seeded with the Superadmin, Admin and User roles.
func New() *Store {
	return &Store{
		data: state{
			users: make(map[int]types.User),
			roles: []types.Role{
				{ID: 1, Name: "Superadmin"},
				{ID: 2, Name: "Admin"},
				{ID: 3, Name: "User"},
			},
			userRoles: make(map[int]map[int]struct{}),
			nextID:    1,
		},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so ordering is deterministic.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// RunInTx serializes transactions and restores the previous state when fn
// fails or panics. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

// Users returns a user repository backed by s.
func (s *Store) Users() *UserRepository {
	return &UserRepository{s: s}
}

// Roles returns a role repository backed by s.
func (s *Store) Roles() *RoleRepository {
	return &RoleRepository{s: s}
}

// UserRepository is the in-memory counterpart of store.UserRepository.
type UserRepository struct {
	s *Store
}

func (r *UserRepository) GetByID(_ context.Context, id int) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.data.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.data.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(_ context.Context) ([]types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]types.User, 0, len(r.s.data.users))
	for _, user := range r.s.data.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID > users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.emailTaken(user.Email, 0) {
		return types.User{}, fmt.Errorf("email %q: %w", user.Email, store.ErrConflict)
	}
	now := r.s.tick()
	user.ID = r.s.data.nextID
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.data.nextID++
	r.s.data.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, update types.UserUpdate) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.data.users[update.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if r.emailTaken(update.Email, update.ID) {
		return types.User{}, fmt.Errorf("email %q: %w", update.Email, store.ErrConflict)
	}
	user.FirstName = update.FirstName
	user.LastName = update.LastName
	user.Email = update.Email
	user.Position = update.Position
	user.PhoneNumber = update.PhoneNumber
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}
	user.UpdatedAt = r.s.tick()
	r.s.data.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) LockActive(ctx context.Context, id int) (bool, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.IsActive, nil
}

func (r *UserRepository) SetActive(_ context.Context, id int, active bool) error {
	return r.mutate(id, func(user *types.User) {
		user.IsActive = active
	})
}

func (r *UserRepository) SetAvatarKey(_ context.Context, id int, key *string) error {
	return r.mutate(id, func(user *types.User) {
		user.AvatarKey = key
	})
}

func (r *UserRepository) mutate(id int, fn func(user *types.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.data.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&user)
	user.UpdatedAt = r.s.tick()
	r.s.data.users[id] = user
	return nil
}

func (r *UserRepository) emailTaken(email string, exceptID int) bool {
	for id, user := range r.s.data.users {
		if id != exceptID && user.Email == email {
			return true
		}
	}
	return false
}

// RoleRepository is the in-memory counterpart of store.RoleRepository.
type RoleRepository struct {
	s *Store
}

func (r *RoleRepository) List(_ context.Context) ([]types.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	roles := append([]types.Role(nil), r.s.data.roles...)
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *RoleRepository) FindByNames(ctx context.Context, names []string) ([]types.Role, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	roles := make([]types.Role, 0, len(names))
	for _, role := range all {
		if _, ok := wanted[role.Name]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (r *RoleRepository) NamesForUser(ctx context.Context, userID int) ([]string, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	assigned := r.s.data.userRoles[userID]
	names := make([]string, 0, len(assigned))
	for _, role := range all {
		if _, ok := assigned[role.ID]; ok {
			names = append(names, role.Name)
		}
	}
	return names, nil
}

func (r *RoleRepository) Assign(_ context.Context, userID int, roleIDs []int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.users[userID]; !ok {
		return store.ErrNotFound
	}
	set, ok := r.s.data.userRoles[userID]
	if !ok {
		set = make(map[int]struct{}, len(roleIDs))
		r.s.data.userRoles[userID] = set
	}
	for _, roleID := range roleIDs {
		set[roleID] = struct{}{}
	}
	return nil
}

func (r *RoleRepository) Replace(ctx context.Context, userID int, roleIDs []int) error {
	r.s.mu.Lock()
	delete(r.s.data.userRoles, userID)
	r.s.mu.Unlock()
	return r.Assign(ctx, userID, roleIDs)
}
