package roles

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapline/tapline/internal/platform/db"
	"github.com/tapline/tapline/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, user_id, bar_id, name, created_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.UserID, &role.BarID, &role.Name, &role.CreatedAt)
	return role, err
}

// ListRoles returns roles matching filter.
func (r *Repository) ListRoles(ctx context.Context, filter Filter) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE 1=1`
	args := []any{}
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		query += ` AND user_id = $` + strconv.Itoa(len(args))
	}
	if filter.BarID != "" {
		args = append(args, filter.BarID)
		query += ` AND bar_id = $` + strconv.Itoa(len(args))
	}
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += ` AND name = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole loads a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		return Role{}, db.Translate(err, fmt.Sprintf("roles: get %d", id))
	}
	return role, nil
}

// InsertRole creates the assignment or returns the existing one.
func (r *Repository) InsertRole(ctx context.Context, role Role) (Role, bool, error) {
	created, err := scanRole(r.pool.QueryRow(ctx, `INSERT INTO roles (user_id, bar_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, bar_id, name) DO NOTHING
RETURNING `+roleColumns, role.UserID, role.BarID, role.Name))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Role{}, false, db.Translate(err, "roles: insert")
	}
	existing, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles
WHERE user_id = $1 AND bar_id = $2 AND name = $3`, role.UserID, role.BarID, role.Name))
	if err != nil {
		return Role{}, false, db.Translate(err, "roles: reload")
	}
	return existing, false, nil
}

// DeleteRole removes an assignment.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roles: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("roles: delete %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
