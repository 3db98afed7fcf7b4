package items

import (
	"context"
	"fmt"
	"strconv"
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

const stockItemSelect = `SELECT si.id, si.bar_id, si.details_id, si.sell_item_id, si.qty, si.price, si.unit_factor,
       si.last_inventory, si.deleted, si.ledger_seq, sl.tax, si.created_at, si.updated_at
FROM stock_items si
JOIN sell_items sl ON sl.id = si.sell_item_id`

func scanStockItem(row pgx.Row) (StockItem, error) {
	var item StockItem
	err := row.Scan(&item.ID, &item.BarID, &item.DetailsID, &item.SellItemID, &item.Qty, &item.Price, &item.UnitFactor,
		&item.LastInventory, &item.Deleted, &item.LedgerSeq, &item.Tax, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// GetStockItem loads a stock item with its tax rate.
func (r *Repository) GetStockItem(ctx context.Context, id int64) (StockItem, error) {
	item, err := scanStockItem(r.pool.QueryRow(ctx, stockItemSelect+` WHERE si.id = $1`, id))
	if err != nil {
		return StockItem{}, db.Translate(err, fmt.Sprintf("items: get %d", id))
	}
	return item, nil
}

// ListStockItems returns stock items matching filter.
func (r *Repository) ListStockItems(ctx context.Context, filter Filter) ([]StockItem, error) {
	query := stockItemSelect + ` WHERE 1=1`
	args := []any{}
	if filter.BarID != "" {
		args = append(args, filter.BarID)
		query += ` AND si.bar_id = $` + strconv.Itoa(len(args))
	}
	if filter.SellItemID != 0 {
		args = append(args, filter.SellItemID)
		query += ` AND si.sell_item_id = $` + strconv.Itoa(len(args))
	}
	if !filter.IncludeDeleted {
		query += ` AND NOT si.deleted`
	}
	query += ` ORDER BY si.id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("items: list: %w", err)
	}
	defer rows.Close()
	var out []StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// InsertStockItem creates a stock item with zero qty and price.
func (r *Repository) InsertStockItem(ctx context.Context, item StockItem) (StockItem, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_items (bar_id, details_id, sell_item_id, unit_factor)
VALUES ($1, $2, $3, $4)
RETURNING id`, item.BarID, item.DetailsID, item.SellItemID, item.UnitFactor).Scan(&id)
	if err != nil {
		return StockItem{}, db.Translate(err, "items: insert")
	}
	return r.GetStockItem(ctx, id)
}

func (r *Repository) exec(ctx context.Context, what string, id int64, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return db.Translate(err, what)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", what, id, shared.ErrNotFound)
	}
	return nil
}

// DeleteStockItem removes an item that never recorded an operation.
func (r *Repository) DeleteStockItem(ctx context.Context, id int64) error {
	return r.exec(ctx, "items: delete unused", id,
		`DELETE FROM stock_items WHERE id = $1 AND ledger_seq = 0
AND NOT EXISTS (SELECT 1 FROM ledger_operations WHERE target_kind = 'stockitem' AND target_id = $1)`, id)
}

// UpdateUnitFactor stores a new unit factor.
func (r *Repository) UpdateUnitFactor(ctx context.Context, id int64, factor float64) error {
	return r.exec(ctx, "items: unit factor", id,
		`UPDATE stock_items SET unit_factor = $2, updated_at = NOW() WHERE id = $1`, id, factor)
}

// UpdateLastInventory stamps the last inventory time.
func (r *Repository) UpdateLastInventory(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, "items: last inventory", id,
		`UPDATE stock_items SET last_inventory = $2, updated_at = NOW() WHERE id = $1`, id, at)
}

// SetStockItemDeleted flips the soft-delete flag.
func (r *Repository) SetStockItemDeleted(ctx context.Context, id int64, deleted bool) error {
	return r.exec(ctx, "items: deleted", id,
		`UPDATE stock_items SET deleted = $2, updated_at = NOW() WHERE id = $1`, id, deleted)
}

// GetItemDetails loads a catalog description.
func (r *Repository) GetItemDetails(ctx context.Context, id int64) (ItemDetails, error) {
	var d ItemDetails
	err := r.pool.QueryRow(ctx, `SELECT id, name, brand, container FROM item_details WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Brand, &d.Container)
	if err != nil {
		return ItemDetails{}, db.Translate(err, fmt.Sprintf("items: details %d", id))
	}
	return d, nil
}

// GetSellItem loads a sell item.
func (r *Repository) GetSellItem(ctx context.Context, id int64) (SellItem, error) {
	var s SellItem
	err := r.pool.QueryRow(ctx, `SELECT id, bar_id, name, tax FROM sell_items WHERE id = $1`, id).
		Scan(&s.ID, &s.BarID, &s.Name, &s.Tax)
	if err != nil {
		return SellItem{}, db.Translate(err, fmt.Sprintf("items: sell item %d", id))
	}
	return s, nil
}
