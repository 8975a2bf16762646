package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/nexocrm/authsvc/types"
)

// RoleRepository handles persistence for roles and the user_roles join.
type RoleRepository struct {
	db *sql.DB
}

func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// List returns all roles ordered by name.
func (r *RoleRepository) List(ctx context.Context) ([]types.Role, error) {
	const query = `SELECT id, name FROM roles ORDER BY name`
	return r.queryRoles(ctx, query)
}

// FindByNames returns the roles whose names are in names. Names that do not
// exist are simply absent from the result.
func (r *RoleRepository) FindByNames(ctx context.Context, names []string) ([]types.Role, error) {
	if len(names) == 0 {
		return []types.Role{}, nil
	}
	const query = `SELECT id, name FROM roles WHERE name = ANY($1::text[]) ORDER BY name`
	return r.queryRoles(ctx, query, pq.Array(names))
}

// NamesForUser returns the names of the roles assigned to userID.
func (r *RoleRepository) NamesForUser(ctx context.Context, userID int) ([]string, error) {
	const query = `
		SELECT r.id, r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`
	roles, err := r.queryRoles(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return types.RoleNames(roles), nil
}

// Assign links userID to every role in roleIDs.
func (r *RoleRepository) Assign(ctx context.Context, userID int, roleIDs []int) error {
	db := conn(ctx, r.db)
	const query = `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role_id) DO NOTHING`
	for _, roleID := range roleIDs {
		if _, err := db.ExecContext(ctx, query, userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

// Replace swaps the user's role set for roleIDs. Call it inside RunInTx so
// readers never observe the intermediate empty set.
func (r *RoleRepository) Replace(ctx context.Context, userID int, roleIDs []int) error {
	const query = `DELETE FROM user_roles WHERE user_id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, userID); err != nil {
		return err
	}
	return r.Assign(ctx, userID, roleIDs)
}

func (r *RoleRepository) queryRoles(ctx context.Context, query string, args ...any) ([]types.Role, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]types.Role, 0)
	for rows.Next() {
		var role types.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}
