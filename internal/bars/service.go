package bars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tapline/tapline/internal/shared"
)

// Authorizer gates bar operations.
type Authorizer interface {
	Require(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) error
}

// AuditPort records administrative changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes gated bar administration on top of the hierarchy.
type Service struct {
	repo      RepositoryPort
	hierarchy *Hierarchy
	authz     Authorizer
	audit     AuditPort
	logger    *slog.Logger
}

// NewService constructs a bar service.
func NewService(repo RepositoryPort, hierarchy *Hierarchy, authz Authorizer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, hierarchy: hierarchy, authz: authz, audit: audit, logger: logger}
}

// Hierarchy exposes the underlying hierarchy.
func (s *Service) Hierarchy() *Hierarchy {
	return s.hierarchy
}

// Get returns a bar when the principal may view it.
func (s *Service) Get(ctx context.Context, principal *shared.Principal, id string) (Bar, error) {
	bar, err := s.repo.GetBar(ctx, id)
	if err != nil {
		return Bar{}, err
	}
	if err := s.authz.Require(ctx, principal, bar.ID, shared.CapViewBar); err != nil {
		return Bar{}, err
	}
	return bar, nil
}

// List returns the bars the principal may view.
func (s *Service) List(ctx context.Context, principal *shared.Principal) ([]Bar, error) {
	all, err := s.repo.ListBars(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]Bar, 0, len(all))
	for _, bar := range all {
		err := s.authz.Require(ctx, principal, bar.ID, shared.CapViewBar)
		switch {
		case err == nil:
			visible = append(visible, bar)
		case errors.Is(err, shared.ErrPermissionDenied), errors.Is(err, shared.ErrUnauthenticated):
		default:
			return nil, err
		}
	}
	return visible, nil
}

// Create inserts a bar under its parent, the root bar when no parent is given.
func (s *Service) Create(ctx context.Context, principal *shared.Principal, input CreateInput) (Bar, error) {
	input.ID = strings.TrimSpace(input.ID)
	if err := validateID(input.ID); err != nil {
		return Bar{}, err
	}
	if err := validateName(input.Name); err != nil {
		return Bar{}, err
	}
	if err := validateSettings(input.Settings); err != nil {
		return Bar{}, err
	}
	parentID := input.ParentID
	if parentID == "" {
		root, err := s.hierarchy.Root(ctx)
		if err != nil {
			return Bar{}, err
		}
		parentID = root.ID
	}
	if _, err := s.repo.GetBar(ctx, parentID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Bar{}, shared.NewValidationError("parent_id", "unknown bar")
		}
		return Bar{}, err
	}
	if err := s.authz.Require(ctx, principal, parentID, shared.CapManageBar); err != nil {
		return Bar{}, err
	}
	if _, err := s.repo.GetBar(ctx, input.ID); err == nil {
		return Bar{}, fmt.Errorf("bars: %q already exists: %w", input.ID, shared.ErrConflict)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Bar{}, err
	}
	bar, err := s.repo.InsertBar(ctx, Bar{
		ID:       input.ID,
		Name:     strings.TrimSpace(input.Name),
		ParentID: parentID,
		Settings: input.Settings,
	})
	if err != nil {
		return Bar{}, err
	}
	s.record(ctx, principal, "bar.create", bar.ID, map[string]any{"parent_id": parentID})
	return bar, nil
}

// Rename changes the display name of a bar.
func (s *Service) Rename(ctx context.Context, principal *shared.Principal, id, name string) (Bar, error) {
	if err := validateName(name); err != nil {
		return Bar{}, err
	}
	bar, err := s.repo.GetBar(ctx, id)
	if err != nil {
		return Bar{}, err
	}
	if err := s.authz.Require(ctx, principal, bar.ID, shared.CapManageBar); err != nil {
		return Bar{}, err
	}
	bar.Name = strings.TrimSpace(name)
	updated, err := s.repo.UpdateBar(ctx, bar)
	if err != nil {
		return Bar{}, err
	}
	if updated.IsRoot() {
		s.hierarchy.Invalidate()
	}
	s.record(ctx, principal, "bar.rename", bar.ID, map[string]any{"name": bar.Name})
	return updated, nil
}

// UpdateSettings replaces the settings of a bar.
func (s *Service) UpdateSettings(ctx context.Context, principal *shared.Principal, id string, settings Settings) (Bar, error) {
	if err := validateSettings(settings); err != nil {
		return Bar{}, err
	}
	bar, err := s.repo.GetBar(ctx, id)
	if err != nil {
		return Bar{}, err
	}
	if err := s.authz.Require(ctx, principal, bar.ID, shared.CapManageBarSettings); err != nil {
		return Bar{}, err
	}
	bar.Settings = settings
	updated, err := s.repo.UpdateBar(ctx, bar)
	if err != nil {
		return Bar{}, err
	}
	if updated.IsRoot() {
		s.hierarchy.Invalidate()
	}
	s.record(ctx, principal, "bar.settings", bar.ID, map[string]any{
		"agios_enabled":   settings.AgiosEnabled,
		"agios_threshold": settings.AgiosThreshold,
		"agios_factor":    settings.AgiosFactor,
	})
	return updated, nil
}

// Move re-parents a bar. The root bar never moves and cycles are rejected.
func (s *Service) Move(ctx context.Context, principal *shared.Principal, id, newParentID string) (Bar, error) {
	bar, err := s.repo.GetBar(ctx, id)
	if err != nil {
		return Bar{}, err
	}
	if bar.IsRoot() {
		return Bar{}, shared.NewValidationError("parent_id", "the root bar cannot have a parent")
	}
	if newParentID == "" {
		return Bar{}, shared.NewValidationError("parent_id", "is required")
	}
	if newParentID == bar.ID {
		return Bar{}, shared.NewValidationError("parent_id", "a bar cannot be its own parent")
	}
	chain, err := s.hierarchy.Chain(ctx, newParentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Bar{}, shared.NewValidationError("parent_id", "unknown bar")
		}
		return Bar{}, err
	}
	for _, ancestor := range chain {
		if ancestor.ID == bar.ID {
			return Bar{}, shared.NewValidationError("parent_id", "would create a cycle")
		}
	}
	if err := s.authz.Require(ctx, principal, bar.ID, shared.CapManageBar); err != nil {
		return Bar{}, err
	}
	if err := s.authz.Require(ctx, principal, newParentID, shared.CapManageBar); err != nil {
		return Bar{}, err
	}
	previous := bar.ParentID
	bar.ParentID = newParentID
	updated, err := s.repo.UpdateBar(ctx, bar)
	if err != nil {
		return Bar{}, err
	}
	s.record(ctx, principal, "bar.move", bar.ID, map[string]any{"from": previous, "to": newParentID})
	return updated, nil
}

// EnsureRoot creates the root bar when the hierarchy is empty and returns it.
func (s *Service) EnsureRoot(ctx context.Context, id, name string) (Bar, error) {
	root, err := s.repo.FindRoot(ctx)
	if err == nil {
		s.hierarchy.Invalidate()
		return root, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Bar{}, err
	}
	if id == "" {
		id = DefaultRootID
	}
	if name == "" {
		name = id
	}
	if err := validateID(id); err != nil {
		return Bar{}, err
	}
	root, err = s.repo.InsertBar(ctx, Bar{ID: id, Name: name})
	if err != nil {
		return Bar{}, fmt.Errorf("bars: create root: %w", err)
	}
	s.hierarchy.Invalidate()
	s.logger.InfoContext(ctx, "root bar created", slog.String("bar_id", root.ID))
	return root, nil
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.ActorID(),
		Action:   action,
		Entity:   "bar",
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
