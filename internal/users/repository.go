package users

import (
	"context"
	"fmt"
	"time"

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

const userColumns = `id, username, full_name, pseudo, password_hash, is_active, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Pseudo, &u.PasswordHash, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, db.Translate(err, fmt.Sprintf("users: get %d", id))
	}
	return u, nil
}

// FindUserByUsername loads a user by normalised username.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return User{}, db.Translate(err, "users: find")
	}
	return u, nil
}

// ListUsers returns all users ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// InsertUser stores a new user.
func (r *Repository) InsertUser(ctx context.Context, user User) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (username, full_name, pseudo, password_hash, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+userColumns, user.Username, user.FullName, user.Pseudo, user.PasswordHash, user.IsActive))
	if err != nil {
		return User{}, db.Translate(err, fmt.Sprintf("users: insert %q", user.Username))
	}
	return u, nil
}

// UpdateUser persists profile fields and the password hash.
func (r *Repository) UpdateUser(ctx context.Context, user User) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `UPDATE users
SET full_name = $2, pseudo = $3, password_hash = $4, is_active = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns, user.ID, user.FullName, user.Pseudo, user.PasswordHash, user.IsActive))
	if err != nil {
		return User{}, db.Translate(err, fmt.Sprintf("users: update %d", user.ID))
	}
	return u, nil
}

// TouchLastLogin stamps the last successful login.
func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("users: last login %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("users: last login %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
