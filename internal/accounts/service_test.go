package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/accounts"
	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/testing/fixture"
)

type accountEnv struct {
	*fixture.Env
	barman   *shared.Principal
	customer int64
}

func newAccountEnv(t *testing.T) accountEnv {
	t.Helper()
	env := fixture.New(t)
	env.Bar(t, "pub", env.Root.ID)
	env.Bar(t, "cafe", env.Root.ID)
	barman := env.User(t, "barman")
	env.Grant(t, barman.ID, "pub", "admin")
	customer := env.User(t, "customer")
	return accountEnv{Env: env, barman: fixture.As(barman.ID), customer: customer.ID}
}

func TestGetOrCreate(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()

	acc, created, err := env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", env.customer)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "pub", acc.BarID)
	require.Zero(t, acc.Balance)

	again, created, err := env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", env.customer)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, acc.ID, again.ID)

	_, _, err = env.Svc.Accounts.GetOrCreate(ctx, env.barman, "cafe", env.customer)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, _, err = env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", 404)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustAndSetBalance(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()
	acc, _, err := env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", env.customer)
	require.NoError(t, err)

	op, updated, err := env.Svc.Accounts.Adjust(ctx, env.barman, "pub", acc.ID, 25, "top-up", "")
	require.NoError(t, err)
	require.Equal(t, ledger.ModeDelta, op.Mode)
	require.Equal(t, 25.0, updated.Balance)
	require.Equal(t, env.barman.UserID, op.ActorID)

	_, updated, err = env.Svc.Accounts.Adjust(ctx, env.barman, "pub", acc.ID, -30, "tab", "")
	require.NoError(t, err)
	require.Equal(t, -5.0, updated.Balance, "balances may go negative")

	op, updated, err = env.Svc.Accounts.SetBalance(ctx, env.barman, "pub", acc.ID, 12, "recount", "")
	require.NoError(t, err)
	require.Equal(t, ledger.ModeNextValue, op.Mode)
	require.Equal(t, 12.0, updated.Balance)

	history, err := env.Svc.Accounts.History(ctx, nil, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, updated.Balance, ledger.Fold(history)[ledger.FieldBalance])
}

func TestWritesAreScopedToTheBar(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()
	acc, _, err := env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", env.customer)
	require.NoError(t, err)

	cafeAdmin := env.User(t, "cafe-admin")
	env.Grant(t, cafeAdmin.ID, "cafe", "admin")

	_, _, err = env.Svc.Accounts.Adjust(ctx, fixture.As(cafeAdmin.ID), "cafe", acc.ID, 5, "", "")
	require.ErrorIs(t, err, shared.ErrPermissionDenied, "account belongs to another bar")

	_, _, err = env.Svc.Accounts.Adjust(ctx, fixture.As(cafeAdmin.ID), "pub", acc.ID, 5, "", "")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, _, err = env.Svc.Accounts.Adjust(ctx, nil, "pub", acc.ID, 5, "", "")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	ops, err := env.Svc.Ledger.History(ctx, ledger.Account(acc.ID))
	require.NoError(t, err)
	require.Empty(t, ops)
}

func TestDeletedAccountRejectsWrites(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()
	acc, _, err := env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", env.customer)
	require.NoError(t, err)
	_, _, err = env.Svc.Accounts.Adjust(ctx, env.barman, "pub", acc.ID, 3, "", "")
	require.NoError(t, err)

	deleted, err := env.Svc.Accounts.SetDeleted(ctx, env.barman, "pub", acc.ID, true)
	require.NoError(t, err)
	require.True(t, deleted.Deleted)

	_, _, err = env.Svc.Accounts.Adjust(ctx, env.barman, "pub", acc.ID, 3, "", "")
	require.ErrorIs(t, err, shared.ErrValidation)

	listed, err := env.Svc.Accounts.List(ctx, nil, accounts.Filter{BarID: "pub"})
	require.NoError(t, err)
	require.Empty(t, listed)

	listed, err = env.Svc.Accounts.List(ctx, nil, accounts.Filter{BarID: "pub", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, 3.0, listed[0].Balance)

	restored, err := env.Svc.Accounts.SetDeleted(ctx, env.barman, "pub", acc.ID, false)
	require.NoError(t, err)
	require.False(t, restored.Deleted)
}

func TestAdjustIdempotencyKey(t *testing.T) {
	env := newAccountEnv(t)
	ctx := context.Background()
	acc, _, err := env.Svc.Accounts.GetOrCreate(ctx, env.barman, "pub", env.customer)
	require.NoError(t, err)

	_, _, err = env.Svc.Accounts.Adjust(ctx, env.barman, "pub", acc.ID, 10, "", "order-7")
	require.NoError(t, err)
	_, _, err = env.Svc.Accounts.Adjust(ctx, env.barman, "pub", acc.ID, 10, "", "order-7")
	require.ErrorIs(t, err, shared.ErrConflict)

	got, err := env.Svc.Accounts.Get(ctx, nil, acc.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, got.Balance)
}
