package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/shared"
)

// snapshotLocked reads the cached state of target. Callers hold s.mu.
func (s *Store) snapshotLocked(target ledger.Target) (ledger.Snapshot, error) {
	snap := ledger.Snapshot{Target: target, Values: make(map[ledger.Field]float64)}
	switch target.Kind {
	case ledger.KindStockItem:
		item, ok := s.stockItems[target.ID]
		if !ok {
			return ledger.Snapshot{}, fmt.Errorf("memory: %s: %w", target, shared.ErrNotFound)
		}
		snap.Values[ledger.FieldQty] = item.Qty
		snap.Values[ledger.FieldPrice] = item.Price
		snap.LastSeq = item.LedgerSeq
		snap.UnitFactor = item.UnitFactor
	case ledger.KindAccount:
		acc, ok := s.accounts[target.ID]
		if !ok {
			return ledger.Snapshot{}, fmt.Errorf("memory: %s: %w", target, shared.ErrNotFound)
		}
		snap.Values[ledger.FieldBalance] = acc.Balance
		snap.LastSeq = acc.LedgerSeq
	default:
		return ledger.Snapshot{}, shared.NewValidationError("target.kind", fmt.Sprintf("unknown kind %q", target.Kind))
	}
	return snap, nil
}

// Snapshot implements ledger.RepositoryPort.
func (s *Store) Snapshot(_ context.Context, target ledger.Target) (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(target)
}

// ListOperations implements ledger.RepositoryPort.
func (s *Store) ListOperations(_ context.Context, target ledger.Target) ([]ledger.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := s.operations[target]
	out := make([]ledger.Operation, len(ops))
	copy(out, ops)
	return out, nil
}

// ListTargets implements ledger.RepositoryPort.
func (s *Store) ListTargets(_ context.Context, kind ledger.TargetKind) ([]ledger.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Target
	switch kind {
	case ledger.KindStockItem:
		for id := range s.stockItems {
			out = append(out, ledger.StockItem(id))
		}
	case ledger.KindAccount:
		for id := range s.accounts {
			out = append(out, ledger.Account(id))
		}
	default:
		return nil, shared.NewValidationError("kind", fmt.Sprintf("unknown kind %q", kind))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WithTx stages writes and applies them together when fn succeeds. Targets locked through
// LockTarget stay locked until WithTx returns.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := &ledgerTx{store: s}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type ledgerTx struct {
	store     *Store
	unlocks   []func()
	locked    map[ledger.Target]bool
	ops       []ledger.Operation
	snapshots []stagedSnapshot
}

type stagedSnapshot struct {
	snap        ledger.Snapshot
	expectedSeq int64
}

func (t *ledgerTx) release() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

// LockTarget implements ledger.TxRepository.
func (t *ledgerTx) LockTarget(ctx context.Context, target ledger.Target) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	if !t.locked[target] {
		t.unlocks = append(t.unlocks, t.store.targetLocks.Lock(target.LockKey()))
		if t.locked == nil {
			t.locked = make(map[ledger.Target]bool)
		}
		t.locked[target] = true
	}
	return t.store.Snapshot(ctx, target)
}

// InsertOperation implements ledger.TxRepository.
func (t *ledgerTx) InsertOperation(_ context.Context, op ledger.Operation) error {
	if !t.locked[op.Target] {
		return fmt.Errorf("memory: insert on unlocked %s: %w", op.Target, shared.ErrConcurrentMutation)
	}
	t.ops = append(t.ops, op)
	return nil
}

// StoreSnapshot implements ledger.TxRepository.
func (t *ledgerTx) StoreSnapshot(_ context.Context, snap ledger.Snapshot, expectedSeq int64) error {
	t.snapshots = append(t.snapshots, stagedSnapshot{snap: snap.Clone(), expectedSeq: expectedSeq})
	return nil
}

func (t *ledgerTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, staged := range t.snapshots {
		current, err := s.snapshotLocked(staged.snap.Target)
		if err != nil {
			return err
		}
		if current.LastSeq != staged.expectedSeq {
			return fmt.Errorf("memory: store %s at seq %d: %w", staged.snap.Target, staged.expectedSeq, shared.ErrConcurrentMutation)
		}
	}
	for _, op := range t.ops {
		for _, existing := range s.operations[op.Target] {
			if existing.Seq == op.Seq {
				return fmt.Errorf("memory: seq %d of %s taken: %w", op.Seq, op.Target, shared.ErrConcurrentMutation)
			}
		}
	}

	for _, op := range t.ops {
		s.operations[op.Target] = append(s.operations[op.Target], op)
	}
	now := s.now()
	for _, staged := range t.snapshots {
		snap := staged.snap
		switch snap.Target.Kind {
		case ledger.KindStockItem:
			item := s.stockItems[snap.Target.ID]
			item.Qty = snap.Values[ledger.FieldQty]
			item.Price = snap.Values[ledger.FieldPrice]
			item.LedgerSeq = snap.LastSeq
			item.UpdatedAt = now
			s.stockItems[snap.Target.ID] = item
		case ledger.KindAccount:
			acc := s.accounts[snap.Target.ID]
			acc.Balance = snap.Values[ledger.FieldBalance]
			acc.LedgerSeq = snap.LastSeq
			acc.UpdatedAt = now
			s.accounts[snap.Target.ID] = acc
		}
	}
	return nil
}

// CorruptCachedValue overwrites a cached value without recording an operation. It exists to
// exercise reconciliation in tests.
func (s *Store) CorruptCachedValue(target ledger.Target, field ledger.Field, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch target.Kind {
	case ledger.KindStockItem:
		item := s.stockItems[target.ID]
		if field == ledger.FieldQty {
			item.Qty = value
		} else {
			item.Price = value
		}
		s.stockItems[target.ID] = item
	case ledger.KindAccount:
		acc := s.accounts[target.ID]
		acc.Balance = value
		s.accounts[target.ID] = acc
	}
}
