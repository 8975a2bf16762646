package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexocrm/authsvc/types"
)

const userColumns = `id, first_name, last_name, email, password_hash, position, phone_number,
	is_active, avatar_key, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&user.Position,
		&user.PhoneNumber,
		&user.IsActive,
		&user.AvatarKey,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(conn(ctx, r.db).QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(conn(ctx, r.db).QueryRowContext(ctx, query, email))
}

// List returns every user, newest first.
func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Create inserts a user and fills in the generated id, flags and timestamps.
// A duplicate email yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (first_name, last_name, email, password_hash, position, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_active, created_at, updated_at`
	err := conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		user.Position,
		user.PhoneNumber,
	).Scan(&user.ID, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, fmt.Errorf("email %q: %w", user.Email, ErrConflict)
		}
		return types.User{}, err
	}
	return user, nil
}

// Update writes profile fields and, when set, the active flag.
func (r *UserRepository) Update(ctx context.Context, update types.UserUpdate) (types.User, error) {
	query := `
		UPDATE users
		SET first_name = $1,
			last_name = $2,
			email = $3,
			position = $4,
			phone_number = $5,
			is_active = COALESCE($6, is_active),
			updated_at = NOW()
		WHERE id = $7
		RETURNING ` + userColumns
	var isActive sql.NullBool
	if update.IsActive != nil {
		isActive = sql.NullBool{Bool: *update.IsActive, Valid: true}
	}
	user, err := scanUser(conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		update.FirstName,
		update.LastName,
		update.Email,
		update.Position,
		update.PhoneNumber,
		isActive,
		update.ID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, fmt.Errorf("email %q: %w", update.Email, ErrConflict)
		}
		return types.User{}, err
	}
	return user, nil
}

// LockActive reads the active flag and holds a row lock until the
// surrounding transaction ends. It must run inside RunInTx.
func (r *UserRepository) LockActive(ctx context.Context, id int) (bool, error) {
	const query = `SELECT is_active FROM users WHERE id = $1 FOR UPDATE`
	var active bool
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return active, nil
}

func (r *UserRepository) SetActive(ctx context.Context, id int, active bool) error {
	const query = `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`
	return execAffectingOne(ctx, conn(ctx, r.db), query, active, id)
}

// SetAvatarKey records the avatar object key; nil clears it.
func (r *UserRepository) SetAvatarKey(ctx context.Context, id int, key *string) error {
	const query = `UPDATE users SET avatar_key = $1, updated_at = NOW() WHERE id = $2`
	return execAffectingOne(ctx, conn(ctx, r.db), query, key, id)
}

func execAffectingOne(ctx context.Context, db DBTX, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
