package bars_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/testing/fixture"
)

func TestCreateDefaultsToRootParent(t *testing.T) {
	env := fixture.New(t)
	admin := env.Admin(t)

	bar, err := env.Svc.Bars.Create(context.Background(), admin, bars.CreateInput{ID: " pub ", Name: " The Pub "})
	require.NoError(t, err)
	require.Equal(t, "pub", bar.ID)
	require.Equal(t, "The Pub", bar.Name)
	require.Equal(t, env.Root.ID, bar.ParentID)

	logs := env.Store.AuditLogs()
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	require.Equal(t, "bar.create", last.Action)
	require.Equal(t, admin.UserID, last.ActorID)
}

func TestCreateRejects(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	admin := env.Admin(t)
	env.Bar(t, "pub", env.Root.ID)

	_, err := env.Svc.Bars.Create(ctx, admin, bars.CreateInput{ID: "pub", Name: "Again"})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = env.Svc.Bars.Create(ctx, admin, bars.CreateInput{ID: "Not A Slug", Name: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.Svc.Bars.Create(ctx, admin, bars.CreateInput{ID: "x", Name: "x", ParentID: "ghost"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.Svc.Bars.Create(ctx, admin, bars.CreateInput{ID: "x", Name: "x", Settings: bars.Settings{AgiosFactor: -1}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.Svc.Bars.Create(ctx, nil, bars.CreateInput{ID: "x", Name: "x"})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestBarAdminScope(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "group", env.Root.ID)
	env.Bar(t, "other", env.Root.ID)
	manager := env.User(t, "manager")
	env.Grant(t, manager.ID, "group", "admin")
	staff := env.User(t, "staff")
	env.Grant(t, staff.ID, "group", "staff")

	_, err := env.Svc.Bars.Create(ctx, fixture.As(manager.ID), bars.CreateInput{ID: "pub", Name: "Pub", ParentID: "group"})
	require.NoError(t, err)

	_, err = env.Svc.Bars.Create(ctx, fixture.As(manager.ID), bars.CreateInput{ID: "side", Name: "Side", ParentID: "other"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = env.Svc.Bars.Create(ctx, fixture.As(staff.ID), bars.CreateInput{ID: "stall", Name: "Stall", ParentID: "group"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	updated, err := env.Svc.Bars.UpdateSettings(ctx, fixture.As(staff.ID), "pub", bars.Settings{AgiosEnabled: true, AgiosThreshold: -10, AgiosFactor: 0.05})
	require.NoError(t, err)
	require.True(t, updated.Settings.AgiosEnabled)

	_, err = env.Svc.Bars.Rename(ctx, fixture.As(staff.ID), "pub", "Renamed")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestMoveRules(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	admin := env.Admin(t)
	env.Bar(t, "a", env.Root.ID)
	env.Bar(t, "b", "a")
	env.Bar(t, "c", env.Root.ID)

	_, err := env.Svc.Bars.Move(ctx, admin, env.Root.ID, "a")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.Svc.Bars.Move(ctx, admin, "a", "a")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = env.Svc.Bars.Move(ctx, admin, "a", "b")
	require.ErrorIs(t, err, shared.ErrValidation, "moving under a descendant")

	_, err = env.Svc.Bars.Move(ctx, admin, "a", "ghost")
	require.ErrorIs(t, err, shared.ErrValidation)

	moved, err := env.Svc.Bars.Move(ctx, admin, "b", "c")
	require.NoError(t, err)
	require.Equal(t, "c", moved.ParentID)

	chain, err := env.Svc.Hierarchy.Chain(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "root"}, ids(chain))
}

func TestMoveNeedsManageOnBothEnds(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	env.Bar(t, "a", env.Root.ID)
	env.Bar(t, "b", "a")
	env.Bar(t, "c", env.Root.ID)
	manager := env.User(t, "manager")
	env.Grant(t, manager.ID, "a", "admin")

	_, err := env.Svc.Bars.Move(ctx, fixture.As(manager.ID), "b", "c")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	env.Grant(t, manager.ID, "c", "admin")
	_, err = env.Svc.Bars.Move(ctx, fixture.As(manager.ID), "b", "c")
	require.NoError(t, err)
}

func TestAnonymousCanBrowse(t *testing.T) {
	env := fixture.New(t)
	env.Bar(t, "pub", env.Root.ID)

	all, err := env.Svc.Bars.List(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"pub", "root"}, ids(all))

	bar, err := env.Svc.Bars.Get(context.Background(), nil, "pub")
	require.NoError(t, err)
	require.Equal(t, "pub", bar.Name)

	_, err = env.Svc.Bars.Get(context.Background(), nil, "ghost")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRenameRootRefreshesMemo(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	admin := env.Admin(t)

	_, err := env.Svc.Hierarchy.Root(ctx)
	require.NoError(t, err)
	_, err = env.Svc.Bars.Rename(ctx, admin, env.Root.ID, "Main Hall")
	require.NoError(t, err)

	root, err := env.Svc.Hierarchy.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, "Main Hall", root.Name)
}

func TestEnsureRootIsIdempotent(t *testing.T) {
	env := fixture.New(t)
	root, err := env.Svc.Bars.EnsureRoot(context.Background(), "other-root", "Other")
	require.NoError(t, err)
	require.Equal(t, env.Root.ID, root.ID)

	count, err := env.Store.CountBars(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
