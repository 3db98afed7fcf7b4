package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/store/memory"
	"github.com/tapline/tapline/internal/testing/fixture"
	"github.com/tapline/tapline/internal/users"
)

func TestAnonymousTable(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "b", env.Root.ID)

	d, err := env.Svc.Resolver.Decide(ctx, nil, "b", shared.CapViewInventory)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, rbac.ReasonAnonymousTable, d.Reason)

	err = env.Svc.Resolver.Require(ctx, nil, "b", shared.CapManageInventory)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	err = env.Svc.Resolver.Require(ctx, nil, "b", shared.CapViewUsers)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestAuthenticatedBaseline(t *testing.T) {
	env := fixture.New(t)
	u := env.User(t, "alice")

	d, err := env.Svc.Resolver.Decide(context.Background(), fixture.As(u.ID), "", shared.CapViewUsers)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, rbac.ReasonAuthenticated, d.Reason)

	err = env.Svc.Resolver.Require(context.Background(), fixture.As(u.ID), "", shared.CapManageUsers)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestStaffCanViewButNotManage(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "b", env.Root.ID)
	staff := env.User(t, "staff")
	env.Grant(t, staff.ID, "b", "staff")

	d, err := env.Svc.Resolver.Decide(ctx, fixture.As(staff.ID), "b", shared.CapManageBarSettings)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, rbac.ReasonRole, d.Reason)
	require.Equal(t, "b", d.BarID)
	require.Equal(t, "staff", d.Role)

	require.ErrorIs(t, env.Svc.Resolver.Require(ctx, fixture.As(staff.ID), "b", shared.CapManageInventory), shared.ErrPermissionDenied)
	require.ErrorIs(t, env.Svc.Resolver.Require(ctx, fixture.As(staff.ID), "", shared.CapManageBarSettings), shared.ErrPermissionDenied)
}

func TestRolesInheritDownTheHierarchy(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "group", env.Root.ID)
	env.Bar(t, "pub", "group")
	env.Bar(t, "other", env.Root.ID)
	manager := env.User(t, "manager")
	env.Grant(t, manager.ID, "group", "admin")

	d, err := env.Svc.Resolver.Decide(ctx, fixture.As(manager.ID), "pub", shared.CapManageInventory)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, "group", d.BarID)

	allowed, err := env.Svc.Resolver.Can(ctx, fixture.As(manager.ID), "other", shared.CapManageInventory)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = env.Svc.Resolver.Can(ctx, fixture.As(manager.ID), env.Root.ID, shared.CapManageInventory)
	require.NoError(t, err)
	require.False(t, allowed)

	isRoot, err := env.Svc.Resolver.IsRootAdmin(ctx, fixture.As(manager.ID))
	require.NoError(t, err)
	require.False(t, isRoot)
}

func TestRootAdminHoldsEverything(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "b", env.Root.ID)
	admin := env.Admin(t)

	for _, c := range shared.AllCapabilities() {
		require.NoError(t, env.Svc.Resolver.Require(ctx, admin, "b", c), c)
	}
	isRoot, err := env.Svc.Resolver.IsRootAdmin(ctx, admin)
	require.NoError(t, err)
	require.True(t, isRoot)
}

func TestCycleStillHonoursRootAdmin(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "x", env.Root.ID)
	env.Bar(t, "y", "x")
	env.Store.SetParentUnchecked("x", "y")
	admin := env.Admin(t)
	other := env.User(t, "other")
	env.Grant(t, other.ID, "y", "staff")

	d, err := env.Svc.Resolver.Decide(ctx, admin, "x", shared.CapManageInventory)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, rbac.ReasonRootAdmin, d.Reason)
	require.Equal(t, env.Root.ID, d.BarID)

	_, err = env.Svc.Resolver.Decide(ctx, fixture.As(other.ID), "x", shared.CapManageInventory)
	require.ErrorIs(t, err, shared.ErrCycleDetected)
}

func TestUnknownCapabilityAndBar(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	u := env.User(t, "u")

	_, err := env.Svc.Resolver.Decide(ctx, fixture.As(u.ID), "", shared.Capability("pour"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.Svc.Resolver.Decide(ctx, fixture.As(u.ID), "nowhere", shared.CapManageBar)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCachedRolesNeedInvalidation(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "b", env.Root.ID)
	u := env.User(t, "u")
	principal := fixture.As(u.ID)

	allowed, err := env.Svc.Resolver.Can(ctx, principal, "b", shared.CapManageBarSettings)
	require.NoError(t, err)
	require.False(t, allowed)

	_, _, err = env.Store.InsertRole(ctx, roles.Role{UserID: u.ID, BarID: "b", Name: "staff"})
	require.NoError(t, err)
	allowed, err = env.Svc.Resolver.Can(ctx, principal, "b", shared.CapManageBarSettings)
	require.NoError(t, err)
	require.False(t, allowed, "stale cache entry still answers")

	require.NoError(t, env.Svc.Resolver.InvalidateUser(ctx, u.ID))
	allowed, err = env.Svc.Resolver.Can(ctx, principal, "b", shared.CapManageBarSettings)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRoleCache(t *testing.T) {
	c := rbac.NewRoleCache(0, 0)
	require.True(t, c.Put(1, "a", []string{"staff"}, c.Generation(1)))
	require.True(t, c.Put(1, "b", []string{"admin"}, c.Generation(1)))
	require.True(t, c.Put(2, "a", nil, c.Generation(2)))
	require.Equal(t, 3, c.Len())

	names, ok := c.Get(1, "a")
	require.True(t, ok)
	require.Equal(t, []string{"staff"}, names)

	c.InvalidateUser(1)
	_, ok = c.Get(1, "b")
	require.False(t, ok)
	_, ok = c.Get(2, "a")
	require.True(t, ok)

	c.Purge()
	require.Zero(t, c.Len())

	var disabled *rbac.RoleCache
	require.False(t, disabled.Put(1, "a", nil, disabled.Generation(1)))
	_, ok = disabled.Get(1, "a")
	require.False(t, ok)
}

func TestRoleCacheRejectsLoadsOlderThanInvalidation(t *testing.T) {
	c := rbac.NewRoleCache(0, 0)

	gen := c.Generation(1)
	c.InvalidateUser(1)
	require.False(t, c.Put(1, "a", []string{"admin"}, gen))
	_, ok := c.Get(1, "a")
	require.False(t, ok)

	other := c.Generation(2)
	c.InvalidateUser(1)
	require.True(t, c.Put(2, "a", []string{"staff"}, other))

	gen = c.Generation(2)
	c.Purge()
	require.False(t, c.Put(2, "a", []string{"staff"}, gen))
	require.True(t, c.Put(2, "a", []string{"staff"}, c.Generation(2)))
}

func TestRoleCacheExpires(t *testing.T) {
	c := rbac.NewRoleCache(8, 20*time.Millisecond)
	c.Put(1, "a", []string{"staff"}, c.Generation(1))
	require.Eventually(t, func() bool {
		_, ok := c.Get(1, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// revokingSource runs afterList once, after the first lookup has read its rows.
type revokingSource struct {
	rbac.RoleSource
	afterList func()
}

func (s *revokingSource) ListRoles(ctx context.Context, filter roles.Filter) ([]roles.Role, error) {
	rows, err := s.RoleSource.ListRoles(ctx, filter)
	if s.afterList != nil {
		hook := s.afterList
		s.afterList = nil
		hook()
	}
	return rows, err
}

func TestRevokeDuringLookupDoesNotLeaveStaleCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.InsertBar(ctx, bars.Bar{ID: "root", Name: "root"})
	require.NoError(t, err)
	_, err = store.InsertBar(ctx, bars.Bar{ID: "b", Name: "b", ParentID: "root"})
	require.NoError(t, err)
	u, err := store.InsertUser(ctx, users.User{Username: "u", IsActive: true})
	require.NoError(t, err)
	role, _, err := store.InsertRole(ctx, roles.Role{UserID: u.ID, BarID: "b", Name: "admin"})
	require.NoError(t, err)

	source := &revokingSource{RoleSource: store}
	resolver := rbac.NewResolver(bars.NewHierarchy(store, nil), source, nil, rbac.NewRoleCache(0, 0), nil)
	source.afterList = func() {
		require.NoError(t, store.DeleteRole(ctx, role.ID))
		require.NoError(t, resolver.InvalidateUser(ctx, u.ID))
	}
	principal := &shared.Principal{UserID: u.ID}

	// The in-flight check still sees the rows it read before the revoke.
	allowed, err := resolver.Can(ctx, principal, "b", shared.CapManageInventory)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = resolver.Can(ctx, principal, "b", shared.CapManageInventory)
	require.NoError(t, err)
	require.False(t, allowed)
}
