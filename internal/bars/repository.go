package bars

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapline/tapline/internal/platform/db"
)

// Repository persists bars in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const barColumns = `id, name, COALESCE(parent_id, ''), settings, created_at, updated_at`

func scanBar(row pgx.Row) (Bar, error) {
	var (
		bar      Bar
		settings []byte
	)
	if err := row.Scan(&bar.ID, &bar.Name, &bar.ParentID, &settings, &bar.CreatedAt, &bar.UpdatedAt); err != nil {
		return Bar{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &bar.Settings); err != nil {
			return Bar{}, fmt.Errorf("bars: decode settings of %q: %w", bar.ID, err)
		}
	}
	return bar, nil
}

// GetBar loads a bar by id.
func (r *Repository) GetBar(ctx context.Context, id string) (Bar, error) {
	bar, err := scanBar(r.pool.QueryRow(ctx, `SELECT `+barColumns+` FROM bars WHERE id = $1`, id))
	if err != nil {
		return Bar{}, db.Translate(err, fmt.Sprintf("bars: get %q", id))
	}
	return bar, nil
}

// ListBars returns every bar ordered by id.
func (r *Repository) ListBars(ctx context.Context) ([]Bar, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+barColumns+` FROM bars ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("bars: list: %w", err)
	}
	defer rows.Close()
	var out []Bar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, rows.Err()
}

// FindRoot returns the bar without a parent.
func (r *Repository) FindRoot(ctx context.Context) (Bar, error) {
	bar, err := scanBar(r.pool.QueryRow(ctx, `SELECT `+barColumns+` FROM bars WHERE parent_id IS NULL`))
	if err != nil {
		return Bar{}, db.Translate(err, "bars: root")
	}
	return bar, nil
}

// CountBars returns the number of bars.
func (r *Repository) CountBars(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bars`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertBar stores a new bar.
func (r *Repository) InsertBar(ctx context.Context, bar Bar) (Bar, error) {
	settings, err := json.Marshal(bar.Settings)
	if err != nil {
		return Bar{}, err
	}
	created, err := scanBar(r.pool.QueryRow(ctx, `INSERT INTO bars (id, name, parent_id, settings)
VALUES ($1, $2, NULLIF($3, ''), $4)
RETURNING `+barColumns, bar.ID, bar.Name, bar.ParentID, settings))
	if err != nil {
		return Bar{}, db.Translate(err, fmt.Sprintf("bars: insert %q", bar.ID))
	}
	return created, nil
}

// UpdateBar persists name, parent and settings.
func (r *Repository) UpdateBar(ctx context.Context, bar Bar) (Bar, error) {
	settings, err := json.Marshal(bar.Settings)
	if err != nil {
		return Bar{}, err
	}
	updated, err := scanBar(r.pool.QueryRow(ctx, `UPDATE bars
SET name = $2, parent_id = NULLIF($3, ''), settings = $4, updated_at = NOW()
WHERE id = $1
RETURNING `+barColumns, bar.ID, bar.Name, bar.ParentID, settings))
	if err != nil {
		return Bar{}, db.Translate(err, fmt.Sprintf("bars: update %q", bar.ID))
	}
	return updated, nil
}
