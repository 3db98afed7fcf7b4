package roles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/testing/fixture"
)

func TestOnlyRootAdminGrantsOnRoot(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "b", env.Root.ID)
	admin := env.Admin(t)
	manager := env.User(t, "manager")
	env.Grant(t, manager.ID, "b", "admin")
	target := env.User(t, "target")

	_, _, err := env.Svc.Roles.Grant(ctx, fixture.As(manager.ID), roles.GrantInput{UserID: target.ID, BarID: env.Root.ID, Name: "staff"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	role, created, err := env.Svc.Roles.Grant(ctx, fixture.As(manager.ID), roles.GrantInput{UserID: target.ID, BarID: "b", Name: "staff"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "b", role.BarID)

	_, created, err = env.Svc.Roles.Grant(ctx, admin, roles.GrantInput{UserID: target.ID, BarID: env.Root.ID, Name: "staff"})
	require.NoError(t, err)
	require.True(t, created)
}

func TestGrantIsIdempotent(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	admin := env.Admin(t)
	u := env.User(t, "u")

	first, created, err := env.Svc.Roles.Grant(ctx, admin, roles.GrantInput{UserID: u.ID, BarID: env.Root.ID, Name: " customer "})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "customer", first.Name)

	second, created, err := env.Svc.Roles.Grant(ctx, admin, roles.GrantInput{UserID: u.ID, BarID: env.Root.ID, Name: "customer"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestGrantValidation(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	admin := env.Admin(t)
	u := env.User(t, "u")

	cases := map[string]roles.GrantInput{
		"unknown role": {UserID: u.ID, BarID: env.Root.ID, Name: "bouncer"},
		"no user":      {BarID: env.Root.ID, Name: "staff"},
		"no bar":       {UserID: u.ID, Name: "staff"},
		"missing user": {UserID: 999, BarID: env.Root.ID, Name: "staff"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := env.Svc.Roles.Grant(ctx, admin, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, _, err := env.Svc.Roles.Grant(ctx, nil, roles.GrantInput{UserID: u.ID, BarID: env.Root.ID, Name: "staff"})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestGrantAndRevokeTakeEffectImmediately(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "b", env.Root.ID)
	admin := env.Admin(t)
	u := env.User(t, "u")
	principal := fixture.As(u.ID)

	allowed, err := env.Svc.Resolver.Can(ctx, principal, "b", shared.CapManageInventory)
	require.NoError(t, err)
	require.False(t, allowed)

	role, _, err := env.Svc.Roles.Grant(ctx, admin, roles.GrantInput{UserID: u.ID, BarID: "b", Name: "admin"})
	require.NoError(t, err)
	allowed, err = env.Svc.Resolver.Can(ctx, principal, "b", shared.CapManageInventory)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, env.Svc.Roles.Revoke(ctx, admin, role.ID))
	allowed, err = env.Svc.Resolver.Can(ctx, principal, "b", shared.CapManageInventory)
	require.NoError(t, err)
	require.False(t, allowed)

	require.ErrorIs(t, env.Svc.Roles.Revoke(ctx, admin, role.ID), shared.ErrNotFound)

	var actions []string
	for _, log := range env.Store.AuditLogs() {
		if log.Entity == "role" {
			actions = append(actions, log.Action)
		}
	}
	require.Equal(t, []string{"role.grant", "role.revoke"}, actions)
}

func TestListFiltersByVisibility(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "a", env.Root.ID)
	env.Bar(t, "b", env.Root.ID)
	u := env.User(t, "u")
	other := env.User(t, "other")
	env.Grant(t, u.ID, "a", "customer")
	env.Grant(t, other.ID, "b", "staff")

	all, err := env.Svc.Roles.List(ctx, nil, roles.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2, "view-roles is in the anonymous table")

	mine, err := env.Svc.Roles.List(ctx, fixture.As(u.ID), roles.Filter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "a", mine[0].BarID)

	got, err := env.Svc.Roles.Get(ctx, fixture.As(u.ID), mine[0].ID)
	require.NoError(t, err)
	require.Equal(t, "customer", got.Name)
}
