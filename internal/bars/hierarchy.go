package bars

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tapline/tapline/internal/shared"
)

// RepositoryPort abstracts bar persistence.
type RepositoryPort interface {
	GetBar(ctx context.Context, id string) (Bar, error)
	ListBars(ctx context.Context) ([]Bar, error)
	FindRoot(ctx context.Context) (Bar, error)
	CountBars(ctx context.Context) (int, error)
	InsertBar(ctx context.Context, bar Bar) (Bar, error)
	UpdateBar(ctx context.Context, bar Bar) (Bar, error)
}

// Hierarchy answers root and ancestor queries. The root bar is memoized for the
// lifetime of the process until Invalidate is called.
type Hierarchy struct {
	repo   RepositoryPort
	logger *slog.Logger

	mu    sync.RWMutex
	root  *Bar
	gen   uint64
	loads singleflight.Group
}

// NewHierarchy builds a Hierarchy.
func NewHierarchy(repo RepositoryPort, logger *slog.Logger) *Hierarchy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{repo: repo, logger: logger}
}

// Root returns the single bar without a parent.
func (h *Hierarchy) Root(ctx context.Context) (Bar, error) {
	h.mu.RLock()
	if h.root != nil {
		root := *h.root
		h.mu.RUnlock()
		return root, nil
	}
	h.mu.RUnlock()

	res := h.loads.DoChan("root", func() (interface{}, error) {
		h.mu.RLock()
		gen := h.gen
		h.mu.RUnlock()
		root, err := h.repo.FindRoot(ctx)
		if err != nil {
			return Bar{}, err
		}
		// A load that raced with Invalidate answers its callers but is not memoized.
		h.mu.Lock()
		if h.gen == gen {
			h.root = &root
		}
		h.mu.Unlock()
		return root, nil
	})
	select {
	case <-ctx.Done():
		return Bar{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return Bar{}, fmt.Errorf("bars: load root: %w", r.Err)
		}
		return r.Val.(Bar), nil
	}
}

// Invalidate drops the memoized root so the next call reloads it.
func (h *Hierarchy) Invalidate() {
	h.mu.Lock()
	h.root = nil
	h.gen++
	h.mu.Unlock()
	h.loads.Forget("root")
}

// Get loads a bar by id.
func (h *Hierarchy) Get(ctx context.Context, id string) (Bar, error) {
	return h.repo.GetBar(ctx, id)
}

// AncestorsOf returns the ancestors of id, nearest first, ending at the root.
func (h *Hierarchy) AncestorsOf(ctx context.Context, id string) ([]Bar, error) {
	chain, err := h.Chain(ctx, id)
	if err != nil {
		return nil, err
	}
	return chain[1:], nil
}

// Chain returns the bar followed by its ancestors, nearest first.
func (h *Hierarchy) Chain(ctx context.Context, id string) ([]Bar, error) {
	current, err := h.repo.GetBar(ctx, id)
	if err != nil {
		return nil, err
	}
	limit, err := h.repo.CountBars(ctx)
	if err != nil {
		return nil, fmt.Errorf("bars: count: %w", err)
	}
	chain := []Bar{current}
	seen := map[string]struct{}{current.ID: {}}
	for current.ParentID != "" {
		if _, dup := seen[current.ParentID]; dup || len(chain) >= limit {
			h.logger.ErrorContext(ctx, "bar hierarchy corrupted",
				slog.String("bar_id", id),
				slog.String("at", current.ID),
				slog.Int("depth", len(chain)),
				slog.Int("bar_count", limit))
			return nil, fmt.Errorf("bars: walking from %q: %w", id, shared.ErrCycleDetected)
		}
		parent, err := h.repo.GetBar(ctx, current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("bars: parent of %q: %w", current.ID, err)
		}
		chain = append(chain, parent)
		seen[parent.ID] = struct{}{}
		current = parent
	}
	return chain, nil
}
