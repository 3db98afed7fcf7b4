package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapline/tapline/internal/platform/db"
	"github.com/tapline/tapline/internal/shared"
)

// Repository stores operations in ledger_operations and cached values on the target rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken by LockTarget serialise writers.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func selectSnapshot(target Target, forUpdate bool) (string, error) {
	var query string
	switch target.Kind {
	case KindStockItem:
		query = `SELECT qty, price, unit_factor, ledger_seq FROM stock_items WHERE id = $1`
	case KindAccount:
		query = `SELECT balance, ledger_seq FROM accounts WHERE id = $1`
	default:
		return "", shared.NewValidationError("target.kind", fmt.Sprintf("unknown kind %q", target.Kind))
	}
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return query, nil
}

func scanSnapshot(row pgx.Row, target Target) (Snapshot, error) {
	snap := Snapshot{Target: target, Values: make(map[Field]float64)}
	switch target.Kind {
	case KindStockItem:
		var qty, price float64
		if err := row.Scan(&qty, &price, &snap.UnitFactor, &snap.LastSeq); err != nil {
			return Snapshot{}, db.Translate(err, fmt.Sprintf("ledger: %s", target))
		}
		snap.Values[FieldQty] = qty
		snap.Values[FieldPrice] = price
	case KindAccount:
		var balance float64
		if err := row.Scan(&balance, &snap.LastSeq); err != nil {
			return Snapshot{}, db.Translate(err, fmt.Sprintf("ledger: %s", target))
		}
		snap.Values[FieldBalance] = balance
	}
	return snap, nil
}

// LockTarget locks the target row until the transaction ends.
func (t *txRepository) LockTarget(ctx context.Context, target Target) (Snapshot, error) {
	query, err := selectSnapshot(target, true)
	if err != nil {
		return Snapshot{}, err
	}
	return scanSnapshot(t.tx.QueryRow(ctx, query, target.ID), target)
}

// InsertOperation appends the operation row.
func (t *txRepository) InsertOperation(ctx context.Context, op Operation) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_operations
    (id, target_kind, target_id, seq, field, mode, value, resulting, actor_id, reason, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0), $10, $11)`,
		op.ID, string(op.Target.Kind), op.Target.ID, op.Seq, string(op.Field), string(op.Mode),
		op.Value, op.Resulting, op.ActorID, op.Reason, op.RecordedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("ledger: seq %d of %s taken: %w", op.Seq, op.Target, shared.ErrConcurrentMutation)
		}
		return err
	}
	return nil
}

// StoreSnapshot writes cached values guarded by the previous seq.
func (t *txRepository) StoreSnapshot(ctx context.Context, snap Snapshot, expectedSeq int64) error {
	var (
		query string
		args  []any
	)
	switch snap.Target.Kind {
	case KindStockItem:
		query = `UPDATE stock_items SET qty = $2, price = $3, ledger_seq = $4, updated_at = NOW()
WHERE id = $1 AND ledger_seq = $5`
		args = []any{snap.Target.ID, snap.Values[FieldQty], snap.Values[FieldPrice], snap.LastSeq, expectedSeq}
	case KindAccount:
		query = `UPDATE accounts SET balance = $2, ledger_seq = $3, updated_at = NOW()
WHERE id = $1 AND ledger_seq = $4`
		args = []any{snap.Target.ID, snap.Values[FieldBalance], snap.LastSeq, expectedSeq}
	default:
		return shared.NewValidationError("target.kind", fmt.Sprintf("unknown kind %q", snap.Target.Kind))
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger: store %s: %w", snap.Target, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("ledger: store %s at seq %d: %w", snap.Target, expectedSeq, shared.ErrConcurrentMutation)
	}
	return nil
}

// ListOperations returns the operations of a target in seq order.
func (r *Repository) ListOperations(ctx context.Context, target Target) ([]Operation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, seq, field, mode, value, resulting, COALESCE(actor_id, 0), reason, recorded_at
FROM ledger_operations
WHERE target_kind = $1 AND target_id = $2
ORDER BY seq`, string(target.Kind), target.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", target, err)
	}
	defer rows.Close()
	var ops []Operation
	for rows.Next() {
		op := Operation{Target: target}
		var field, mode string
		if err := rows.Scan(&op.ID, &op.Seq, &field, &mode, &op.Value, &op.Resulting, &op.ActorID, &op.Reason, &op.RecordedAt); err != nil {
			return nil, err
		}
		op.Field = Field(field)
		op.Mode = Mode(mode)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Snapshot reads the cached values without locking.
func (r *Repository) Snapshot(ctx context.Context, target Target) (Snapshot, error) {
	query, err := selectSnapshot(target, false)
	if err != nil {
		return Snapshot{}, err
	}
	return scanSnapshot(r.pool.QueryRow(ctx, query, target.ID), target)
}

// ListTargets lists every target of kind.
func (r *Repository) ListTargets(ctx context.Context, kind TargetKind) ([]Target, error) {
	var query string
	switch kind {
	case KindStockItem:
		query = `SELECT id FROM stock_items ORDER BY id`
	case KindAccount:
		query = `SELECT id FROM accounts ORDER BY id`
	default:
		return nil, shared.NewValidationError("kind", fmt.Sprintf("unknown kind %q", kind))
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger: list %s targets: %w", kind, err)
	}
	defer rows.Close()
	var targets []Target
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		targets = append(targets, Target{Kind: kind, ID: id})
	}
	return targets, rows.Err()
}
