package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/shared"
)

func (s *Store) joinStockItem(item items.StockItem) items.StockItem {
	item.LastInventory = copyTime(item.LastInventory)
	item.Tax = s.sellItems[item.SellItemID].Tax
	return item
}

// GetStockItem implements items.RepositoryPort.
func (s *Store) GetStockItem(_ context.Context, id int64) (items.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.stockItems[id]
	if !ok {
		return items.StockItem{}, fmt.Errorf("memory: stock item %d: %w", id, shared.ErrNotFound)
	}
	return s.joinStockItem(item), nil
}

// ListStockItems implements items.RepositoryPort.
func (s *Store) ListStockItems(_ context.Context, filter items.Filter) ([]items.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []items.StockItem
	for _, item := range s.stockItems {
		if filter.BarID != "" && item.BarID != filter.BarID {
			continue
		}
		if filter.SellItemID != 0 && item.SellItemID != filter.SellItemID {
			continue
		}
		if item.Deleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, s.joinStockItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertStockItem implements items.RepositoryPort. The ledger-backed values start at zero.
func (s *Store) InsertStockItem(_ context.Context, item items.StockItem) (items.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bars[item.BarID]; !ok {
		return items.StockItem{}, shared.NewValidationError("bar_id", "references a missing row")
	}
	if _, ok := s.details[item.DetailsID]; !ok {
		return items.StockItem{}, shared.NewValidationError("details_id", "references a missing row")
	}
	if _, ok := s.sellItems[item.SellItemID]; !ok {
		return items.StockItem{}, shared.NewValidationError("sellitem_id", "references a missing row")
	}
	if item.UnitFactor <= 0 {
		return items.StockItem{}, shared.NewValidationError("unit_factor", "must be positive")
	}
	for _, existing := range s.stockItems {
		if existing.BarID == item.BarID && existing.DetailsID == item.DetailsID {
			return items.StockItem{}, fmt.Errorf("memory: stock item for details %d in bar %q: %w", item.DetailsID, item.BarID, shared.ErrConflict)
		}
	}
	s.nextItemID++
	item.ID = s.nextItemID
	item.Qty, item.Price, item.LedgerSeq = 0, 0, 0
	now := s.now()
	item.CreatedAt, item.UpdatedAt = now, now
	item.LastInventory = copyTime(item.LastInventory)
	s.stockItems[item.ID] = item
	return s.joinStockItem(item), nil
}

// DeleteStockItem implements items.RepositoryPort. Only items without operations go.
func (s *Store) DeleteStockItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.stockItems[id]
	if !ok || item.LedgerSeq != 0 || len(s.operations[ledger.StockItem(id)]) > 0 {
		return fmt.Errorf("memory: delete unused stock item %d: %w", id, shared.ErrNotFound)
	}
	delete(s.stockItems, id)
	return nil
}

func (s *Store) updateStockItem(id int64, fn func(*items.StockItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.stockItems[id]
	if !ok {
		return fmt.Errorf("memory: stock item %d: %w", id, shared.ErrNotFound)
	}
	fn(&item)
	item.UpdatedAt = s.now()
	s.stockItems[id] = item
	return nil
}

// UpdateUnitFactor implements items.RepositoryPort.
func (s *Store) UpdateUnitFactor(_ context.Context, id int64, factor float64) error {
	if factor <= 0 {
		return shared.NewValidationError("unit_factor", "must be positive")
	}
	// Ledger writers read the factor under the target lock; wait for them.
	unlock := s.targetLocks.Lock(ledger.StockItem(id).LockKey())
	defer unlock()
	return s.updateStockItem(id, func(item *items.StockItem) { item.UnitFactor = factor })
}

// UpdateLastInventory implements items.RepositoryPort.
func (s *Store) UpdateLastInventory(_ context.Context, id int64, at time.Time) error {
	return s.updateStockItem(id, func(item *items.StockItem) { item.LastInventory = &at })
}

// SetStockItemDeleted implements items.RepositoryPort.
func (s *Store) SetStockItemDeleted(_ context.Context, id int64, deleted bool) error {
	return s.updateStockItem(id, func(item *items.StockItem) { item.Deleted = deleted })
}

// GetItemDetails implements items.RepositoryPort.
func (s *Store) GetItemDetails(_ context.Context, id int64) (items.ItemDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.details[id]
	if !ok {
		return items.ItemDetails{}, fmt.Errorf("memory: item details %d: %w", id, shared.ErrNotFound)
	}
	return d, nil
}

// GetSellItem implements items.RepositoryPort.
func (s *Store) GetSellItem(_ context.Context, id int64) (items.SellItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.sellItems[id]
	if !ok {
		return items.SellItem{}, fmt.Errorf("memory: sell item %d: %w", id, shared.ErrNotFound)
	}
	return si, nil
}
