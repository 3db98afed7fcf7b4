package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tapline/tapline/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context, filter Filter) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	// InsertRole returns the existing row when (user, bar, name) is already granted.
	InsertRole(ctx context.Context, role Role) (Role, bool, error)
	DeleteRole(ctx context.Context, id int64) error
}

// Catalog knows which role names exist.
type Catalog interface {
	HasRole(name string) bool
}

// Authorizer gates role management.
type Authorizer interface {
	Require(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) error
}

// Invalidator drops cached role lookups for a user.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// AuditPort records role changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles role business logic.
type Service struct {
	repo        RepositoryPort
	catalog     Catalog
	authz       Authorizer
	invalidator Invalidator
	audit       AuditPort
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, catalog Catalog, authz Authorizer, invalidator Invalidator, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: catalog, authz: authz, invalidator: invalidator, audit: audit, logger: logger}
}

// List returns the roles visible to the principal. A user always sees their own roles.
func (s *Service) List(ctx context.Context, principal *shared.Principal, filter Filter) ([]Role, error) {
	if filter.BarID != "" && (principal == nil || filter.UserID != principal.UserID) {
		if err := s.authz.Require(ctx, principal, filter.BarID, shared.CapViewRoles); err != nil {
			return nil, err
		}
	}
	rows, err := s.repo.ListRoles(ctx, filter)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool)
	out := make([]Role, 0, len(rows))
	for _, role := range rows {
		if principal != nil && role.UserID == principal.UserID {
			out = append(out, role)
			continue
		}
		ok, seen := allowed[role.BarID]
		if !seen {
			err := s.authz.Require(ctx, principal, role.BarID, shared.CapViewRoles)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, shared.ErrPermissionDenied), errors.Is(err, shared.ErrUnauthenticated):
			default:
				return nil, err
			}
			allowed[role.BarID] = ok
		}
		if ok {
			out = append(out, role)
		}
	}
	return out, nil
}

// Get returns one role.
func (s *Service) Get(ctx context.Context, principal *shared.Principal, id int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if principal != nil && role.UserID == principal.UserID {
		return role, nil
	}
	if err := s.authz.Require(ctx, principal, role.BarID, shared.CapViewRoles); err != nil {
		return Role{}, err
	}
	return role, nil
}

// Grant assigns a role. Granting an existing (user, bar, name) returns the stored row.
func (s *Service) Grant(ctx context.Context, principal *shared.Principal, input GrantInput) (Role, bool, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.UserID <= 0 {
		return Role{}, false, shared.NewValidationError("user_id", "is required")
	}
	if input.BarID == "" {
		return Role{}, false, shared.NewValidationError("bar_id", "is required")
	}
	if !s.catalog.HasRole(input.Name) {
		return Role{}, false, shared.NewValidationError("name", fmt.Sprintf("unknown role %q", input.Name))
	}
	if err := s.authz.Require(ctx, principal, input.BarID, shared.CapManageRoles); err != nil {
		return Role{}, false, err
	}
	role, created, err := s.repo.InsertRole(ctx, Role{UserID: input.UserID, BarID: input.BarID, Name: input.Name})
	if err != nil {
		return Role{}, false, err
	}
	if created {
		s.invalidate(ctx, role.UserID)
		s.record(ctx, principal, "role.grant", role)
	}
	return role, created, nil
}

// Revoke removes a role assignment.
func (s *Service) Revoke(ctx context.Context, principal *shared.Principal, id int64) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.Require(ctx, principal, role.BarID, shared.CapManageRoles); err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, role.UserID)
	s.record(ctx, principal, "role.revoke", role)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "role cache invalidation failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action string, role Role) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.ActorID(),
		Action:   action,
		Entity:   "role",
		EntityID: fmt.Sprintf("%d", role.ID),
		Meta:     map[string]any{"user_id": role.UserID, "bar_id": role.BarID, "name": role.Name},
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
