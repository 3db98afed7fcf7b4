package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
)

// HierarchyPort is the part of the bar hierarchy the resolver walks.
type HierarchyPort interface {
	Root(ctx context.Context) (bars.Bar, error)
	Chain(ctx context.Context, id string) ([]bars.Bar, error)
	Invalidate()
}

// RoleSource looks up stored role assignments.
type RoleSource interface {
	ListRoles(ctx context.Context, filter roles.Filter) ([]roles.Role, error)
}

// Reason explains a decision.
type Reason string

const (
	ReasonAnonymousTable Reason = "anonymous-table"
	ReasonAuthenticated  Reason = "authenticated-baseline"
	ReasonRole           Reason = "role"
	ReasonRootAdmin      Reason = "root-admin"
	ReasonDenied         Reason = "denied"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// BarID and Role identify the grant when Reason is ReasonRole or ReasonRootAdmin.
	BarID string
	Role  string
}

// Resolver decides whether a principal holds a capability on a bar.
type Resolver struct {
	hierarchy HierarchyPort
	roles     RoleSource
	policy    *Policy
	cache     *RoleCache
	logger    *slog.Logger
}

// NewResolver wires a resolver. A nil cache disables caching.
func NewResolver(hierarchy HierarchyPort, source RoleSource, policy *Policy, cache *RoleCache, logger *slog.Logger) *Resolver {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{hierarchy: hierarchy, roles: source, policy: policy, cache: cache, logger: logger}
}

// Policy returns the active policy.
func (r *Resolver) Policy() *Policy {
	return r.policy
}

// Can reports whether principal holds capability on barID. An empty barID means the root bar.
func (r *Resolver) Can(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) (bool, error) {
	d, err := r.Decide(ctx, principal, barID, capability)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Require returns nil when allowed, ErrUnauthenticated for anonymous denials and
// ErrPermissionDenied otherwise.
func (r *Resolver) Require(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) error {
	d, err := r.Decide(ctx, principal, barID, capability)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	if principal == nil {
		return fmt.Errorf("rbac: %s on %q: %w", capability, barID, shared.ErrUnauthenticated)
	}
	return fmt.Errorf("rbac: user %d lacks %s on %q: %w", principal.UserID, capability, barID, shared.ErrPermissionDenied)
}

// Decide evaluates the check and explains the outcome.
func (r *Resolver) Decide(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) (Decision, error) {
	if !capability.Valid() {
		return Decision{}, shared.NewValidationError("capability", fmt.Sprintf("unknown capability %q", capability))
	}
	if r.policy.AnonymousAllows(capability) {
		return Decision{Allowed: true, Reason: ReasonAnonymousTable}, nil
	}
	if principal == nil {
		return Decision{Reason: ReasonDenied}, nil
	}
	if r.policy.AuthenticatedAllows(capability) {
		return Decision{Allowed: true, Reason: ReasonAuthenticated}, nil
	}

	root, err := r.hierarchy.Root(ctx)
	if err != nil {
		return Decision{}, err
	}
	if barID == "" {
		barID = root.ID
	}

	chain, walkErr := r.hierarchy.Chain(ctx, barID)
	if walkErr != nil && !errors.Is(walkErr, shared.ErrCycleDetected) {
		return Decision{}, walkErr
	}
	for _, bar := range chain {
		names, err := r.roleNames(ctx, principal.UserID, bar.ID)
		if err != nil {
			return Decision{}, err
		}
		for _, name := range names {
			if r.policy.RoleGrants(name, capability) {
				return Decision{Allowed: true, Reason: ReasonRole, BarID: bar.ID, Role: name}, nil
			}
		}
	}

	// The chain normally ends at the root, but a corrupted chain may not.
	admin, err := r.isRootAdmin(ctx, principal.UserID, root.ID)
	if err != nil {
		return Decision{}, err
	}
	if admin {
		return Decision{Allowed: true, Reason: ReasonRootAdmin, BarID: root.ID, Role: r.policy.RootAdminRole()}, nil
	}
	if walkErr != nil {
		return Decision{}, walkErr
	}
	return Decision{Reason: ReasonDenied}, nil
}

// IsRootAdmin reports whether the principal holds the root-admin role on the root bar.
func (r *Resolver) IsRootAdmin(ctx context.Context, principal *shared.Principal) (bool, error) {
	if principal == nil {
		return false, nil
	}
	root, err := r.hierarchy.Root(ctx)
	if err != nil {
		return false, err
	}
	return r.isRootAdmin(ctx, principal.UserID, root.ID)
}

func (r *Resolver) isRootAdmin(ctx context.Context, userID int64, rootID string) (bool, error) {
	names, err := r.roleNames(ctx, userID, rootID)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == r.policy.RootAdminRole() {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) roleNames(ctx context.Context, userID int64, barID string) ([]string, error) {
	if names, ok := r.cache.Get(userID, barID); ok {
		return names, nil
	}
	gen := r.cache.Generation(userID)
	rows, err := r.roles.ListRoles(ctx, roles.Filter{UserID: userID, BarID: barID})
	if err != nil {
		return nil, fmt.Errorf("rbac: roles of user %d on %q: %w", userID, barID, err)
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	r.cache.Put(userID, barID, names, gen)
	return names, nil
}

// InvalidateUser drops cached roles of one user in this process.
func (r *Resolver) InvalidateUser(_ context.Context, userID int64) error {
	r.cache.InvalidateUser(userID)
	return nil
}

// InvalidateAll drops every cached role and the root-bar memo in this process.
func (r *Resolver) InvalidateAll() {
	r.cache.Purge()
	r.hierarchy.Invalidate()
}
