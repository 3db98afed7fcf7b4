package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/shared"
)

// GetBar implements bars.RepositoryPort.
func (s *Store) GetBar(_ context.Context, id string) (bars.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bar, ok := s.bars[id]
	if !ok {
		return bars.Bar{}, fmt.Errorf("memory: bar %q: %w", id, shared.ErrNotFound)
	}
	return bar, nil
}

// ListBars implements bars.RepositoryPort.
func (s *Store) ListBars(context.Context) ([]bars.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bars.Bar, 0, len(s.bars))
	for _, bar := range s.bars {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindRoot implements bars.RepositoryPort.
func (s *Store) FindRoot(context.Context) (bars.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bar := range s.bars {
		if bar.ParentID == "" {
			return bar, nil
		}
	}
	return bars.Bar{}, fmt.Errorf("memory: root bar: %w", shared.ErrNotFound)
}

// CountBars implements bars.RepositoryPort.
func (s *Store) CountBars(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars), nil
}

// InsertBar implements bars.RepositoryPort.
func (s *Store) InsertBar(_ context.Context, bar bars.Bar) (bars.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bars[bar.ID]; exists {
		return bars.Bar{}, fmt.Errorf("memory: bar %q: %w", bar.ID, shared.ErrConflict)
	}
	if bar.ParentID == "" {
		for _, other := range s.bars {
			if other.ParentID == "" {
				return bars.Bar{}, fmt.Errorf("memory: second root bar %q: %w", bar.ID, shared.ErrConflict)
			}
		}
	} else if _, ok := s.bars[bar.ParentID]; !ok {
		return bars.Bar{}, shared.NewValidationError("parent_id", "references a missing row")
	}
	now := s.now()
	bar.CreatedAt, bar.UpdatedAt = now, now
	s.bars[bar.ID] = bar
	return bar, nil
}

// UpdateBar implements bars.RepositoryPort.
func (s *Store) UpdateBar(_ context.Context, bar bars.Bar) (bars.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.bars[bar.ID]
	if !ok {
		return bars.Bar{}, fmt.Errorf("memory: bar %q: %w", bar.ID, shared.ErrNotFound)
	}
	if bar.ParentID != "" {
		if _, ok := s.bars[bar.ParentID]; !ok {
			return bars.Bar{}, shared.NewValidationError("parent_id", "references a missing row")
		}
	}
	bar.CreatedAt = current.CreatedAt
	bar.UpdatedAt = s.now()
	s.bars[bar.ID] = bar
	return bar, nil
}

// SetParentUnchecked rewrites a parent link without any validation. It exists to build
// corrupted hierarchies in tests.
func (s *Store) SetParentUnchecked(id, parentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bar := s.bars[id]
	bar.ParentID = parentID
	s.bars[id] = bar
}
