package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/store/memory"
	"github.com/tapline/tapline/internal/users"
)

func newProcessResolver(store *memory.Store) *rbac.Resolver {
	return rbac.NewResolver(bars.NewHierarchy(store, nil), store, nil, rbac.NewRoleCache(0, 0), nil)
}

func TestBroadcastInvalidatesOtherProcesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)

	store := memory.New()
	_, err := store.InsertBar(ctx, bars.Bar{ID: "root", Name: "root"})
	require.NoError(t, err)
	_, err = store.InsertBar(ctx, bars.Bar{ID: "b", Name: "b", ParentID: "root"})
	require.NoError(t, err)
	u, err := store.InsertUser(ctx, users.User{Username: "u", IsActive: true})
	require.NoError(t, err)
	principal := &shared.Principal{UserID: u.ID}

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})
	resolverA, resolverB := newProcessResolver(store), newProcessResolver(store)
	broadcasterA := rbac.NewBroadcaster(clientA, resolverA, nil)
	broadcasterB := rbac.NewBroadcaster(clientB, resolverB, nil)
	require.NoError(t, broadcasterB.Listen(ctx))

	allowed, err := resolverB.Can(ctx, principal, "b", shared.CapManageBarSettings)
	require.NoError(t, err)
	require.False(t, allowed)

	_, _, err = store.InsertRole(ctx, roles.Role{UserID: u.ID, BarID: "b", Name: "staff"})
	require.NoError(t, err)
	require.NoError(t, broadcasterA.InvalidateUser(ctx, u.ID))

	require.Eventually(t, func() bool {
		ok, err := resolverB.Can(ctx, principal, "b", shared.CapManageBarSettings)
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastRootInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)

	store := memory.New()
	_, err := store.InsertBar(ctx, bars.Bar{ID: "root", Name: "root"})
	require.NoError(t, err)
	hierarchy := bars.NewHierarchy(store, nil)
	resolver := rbac.NewResolver(hierarchy, store, nil, rbac.NewRoleCache(0, 0), nil)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	listener := rbac.NewBroadcaster(client, resolver, nil)
	require.NoError(t, listener.Listen(ctx))

	root, err := hierarchy.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, "root", root.Name)

	root.Name = "Renamed"
	_, err = store.UpdateBar(ctx, root)
	require.NoError(t, err)

	publisher := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = publisher.Close() })
	require.NoError(t, publisher.Publish(ctx, rbac.InvalidationChannel, "root").Err())

	require.Eventually(t, func() bool {
		got, err := hierarchy.Root(ctx)
		return err == nil && got.Name == "Renamed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcasterWithoutRedisStaysLocal(t *testing.T) {
	store := memory.New()
	resolver := newProcessResolver(store)
	b := rbac.NewBroadcaster(nil, resolver, nil)

	require.NoError(t, b.Listen(context.Background()))
	require.NoError(t, b.InvalidateUser(context.Background(), 1))
	require.NoError(t, b.InvalidateRoot(context.Background()))
	require.NoError(t, b.InvalidateAll(context.Background()))
}
