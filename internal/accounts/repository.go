package accounts

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

const accountColumns = `id, owner_id, bar_id, balance, ledger_seq, deleted, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.BarID, &a.Balance, &a.LedgerSeq, &a.Deleted, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetAccount loads an account by id.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return Account{}, db.Translate(err, fmt.Sprintf("accounts: get %d", id))
	}
	return a, nil
}

// FindAccount loads the account of owner at bar.
func (r *Repository) FindAccount(ctx context.Context, ownerID int64, barID string) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 AND bar_id = $2`, ownerID, barID))
	if err != nil {
		return Account{}, db.Translate(err, fmt.Sprintf("accounts: find %d@%s", ownerID, barID))
	}
	return a, nil
}

// ListAccounts returns accounts matching filter.
func (r *Repository) ListAccounts(ctx context.Context, filter Filter) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1=1`
	args := []any{}
	if filter.BarID != "" {
		args = append(args, filter.BarID)
		query += ` AND bar_id = $` + strconv.Itoa(len(args))
	}
	if filter.OwnerID != 0 {
		args = append(args, filter.OwnerID)
		query += ` AND owner_id = $` + strconv.Itoa(len(args))
	}
	if !filter.IncludeDeleted {
		query += ` AND NOT deleted`
	}
	query += ` ORDER BY id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("accounts: list: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAccount creates the account or returns the existing one.
func (r *Repository) InsertAccount(ctx context.Context, account Account) (Account, bool, error) {
	created, err := scanAccount(r.pool.QueryRow(ctx, `INSERT INTO accounts (owner_id, bar_id)
VALUES ($1, $2)
ON CONFLICT (owner_id, bar_id) DO NOTHING
RETURNING `+accountColumns, account.OwnerID, account.BarID))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, db.Translate(err, "accounts: insert")
	}
	existing, err := r.FindAccount(ctx, account.OwnerID, account.BarID)
	if err != nil {
		return Account{}, false, err
	}
	return existing, false, nil
}

// SetAccountDeleted flips the soft-delete flag.
func (r *Repository) SetAccountDeleted(ctx context.Context, id int64, deleted bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET deleted = $2, updated_at = NOW() WHERE id = $1`, id, deleted)
	if err != nil {
		return fmt.Errorf("accounts: deleted %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("accounts: deleted %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
