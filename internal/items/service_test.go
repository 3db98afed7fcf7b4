package items_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/testing/fixture"
)

func ptr(v float64) *float64 { return &v }

type itemEnv struct {
	*fixture.Env
	admin *shared.Principal
	item  items.StockItem
}

// newItemEnv creates bar "b" with a stock item of unit factor 2, price 10 and tax 0.1.
func newItemEnv(t *testing.T) itemEnv {
	t.Helper()
	env := fixture.New(t)
	admin := env.Admin(t)
	env.Bar(t, "b", env.Root.ID)
	details, sell := env.Catalog(t, "b", 0.1)
	item, err := env.Svc.Items.Create(context.Background(), admin, items.CreateInput{
		BarID:      "b",
		DetailsID:  details.ID,
		SellItemID: sell.ID,
		SellToBuy:  0.5,
		Price:      10,
	})
	require.NoError(t, err)
	return itemEnv{Env: env, admin: admin, item: item}
}

func TestCreateRecordsInitialOperations(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()

	require.Equal(t, 2.0, env.item.UnitFactor)
	require.Equal(t, 10.0, env.item.Price)
	require.Equal(t, 0.1, env.item.Tax)
	require.InDelta(t, 5.5, env.item.GetPrice(items.UnitSell, true), 1e-9)

	ops, err := env.Svc.Items.History(ctx, nil, env.item.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, ledger.FieldPrice, ops[0].Field)
	require.Equal(t, ledger.ModeNextValue, ops[0].Mode)
}

func TestCreateRejectsDuplicateDetailsInBar(t *testing.T) {
	env := newItemEnv(t)
	_, err := env.Svc.Items.Create(context.Background(), env.admin, items.CreateInput{
		BarID: "b", DetailsID: env.item.DetailsID, SellItemID: env.item.SellItemID, SellToBuy: 1,
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateRejectsForeignSellItem(t *testing.T) {
	env := newItemEnv(t)
	env.Bar(t, "other", env.Root.ID)
	details, sell := env.Catalog(t, "other", 0)
	_, err := env.Svc.Items.Create(context.Background(), env.admin, items.CreateInput{
		BarID: "b", DetailsID: details.ID, SellItemID: sell.ID, SellToBuy: 1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSellUnitDeltaIsScaled(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()

	op, item, err := env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{
		Unit: items.UnitSell, Field: ledger.FieldQty, Delta: ptr(4),
	})
	require.NoError(t, err)
	require.Equal(t, 2.0, op.Value)
	require.Equal(t, 2.0, op.Resulting)
	require.Equal(t, 2.0, item.Qty)
	require.Equal(t, 4.0, item.SellQty())
}

func TestUnitIsNormalisedBeforeScaling(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()

	for _, unit := range []items.Unit{"Sell", " sell ", "SELL"} {
		op, _, err := env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{
			Unit: unit, Field: ledger.FieldQty, Delta: ptr(4),
		})
		require.NoError(t, err)
		require.Equal(t, 2.0, op.Value, "unit %q", unit)
	}
	item, err := env.Svc.Items.Get(ctx, nil, env.item.ID)
	require.NoError(t, err)
	require.Equal(t, 6.0, item.Qty)

	_, _, err = env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{
		Unit: "litre", Field: ledger.FieldQty, Delta: ptr(4),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateInSellUnits(t *testing.T) {
	env := newItemEnv(t)
	details, sell := env.Catalog(t, "b", 0)
	item, err := env.Svc.Items.Create(context.Background(), env.admin, items.CreateInput{
		BarID: "b", DetailsID: details.ID, SellItemID: sell.ID, SellToBuy: 0.25,
		Unit: "Sell", Qty: 8, Price: 4,
	})
	require.NoError(t, err)
	require.Equal(t, 2.0, item.Qty)
	require.Equal(t, 1.0, item.Price)
	require.Equal(t, 8.0, item.SellQty())
}

func TestFailedCreateLeavesNoItem(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()
	details, sell := env.Catalog(t, "b", 0)
	input := items.CreateInput{BarID: "b", DetailsID: details.ID, SellItemID: sell.ID, SellToBuy: 1, Qty: -3}

	_, err := env.Svc.Items.Create(ctx, env.admin, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	stocked, err := env.Store.ListStockItems(ctx, items.Filter{BarID: "b", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, stocked, 1)

	input.Qty = 3
	item, err := env.Svc.Items.Create(ctx, env.admin, input)
	require.NoError(t, err)
	require.Equal(t, 3.0, item.Qty)

	ops, err := env.Svc.Items.History(ctx, nil, item.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
}

// brokenLedger fails every write after the entries were checked.
type brokenLedger struct {
	items.Ledger
}

func (brokenLedger) RecordAll(context.Context, []ledger.Entry) ([]ledger.Operation, error) {
	return nil, errors.New("connection reset")
}

func TestCreateRemovesRowWhenLedgerWriteFails(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()
	details, sell := env.Catalog(t, "b", 0)
	svc := items.NewService(env.Store, brokenLedger{Ledger: env.Svc.Ledger}, env.Svc.Resolver, env.Store, env.Logger)

	_, err := svc.Create(ctx, env.admin, items.CreateInput{BarID: "b", DetailsID: details.ID, SellItemID: sell.ID, SellToBuy: 1, Price: 2})
	require.Error(t, err)

	stocked, err := env.Store.ListStockItems(ctx, items.Filter{BarID: "b", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, stocked, 1)
	require.Equal(t, env.item.ID, stocked[0].ID)
}

func TestCreateOperationRequiresExactlyOneValue(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()

	_, _, err := env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{Field: ledger.FieldQty})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{
		Field: ledger.FieldQty, Delta: ptr(1), NextValue: ptr(2),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNegativeStockRejected(t *testing.T) {
	env := newItemEnv(t)
	_, _, err := env.Svc.Items.CreateOperation(context.Background(), env.admin, env.item.ID, items.OperationInput{
		Field: ledger.FieldQty, Delta: ptr(-1),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	item, err := env.Svc.Items.Get(context.Background(), nil, env.item.ID)
	require.NoError(t, err)
	require.Zero(t, item.Qty)
}

func TestSetSellToBuyRejectsNonPositive(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()

	for _, bad := range []float64{0, -2} {
		_, err := env.Svc.Items.SetSellToBuy(ctx, env.admin, env.item.ID, bad)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	item, err := env.Svc.Items.Get(ctx, nil, env.item.ID)
	require.NoError(t, err)
	require.Equal(t, 2.0, item.UnitFactor)

	item, err = env.Svc.Items.SetSellToBuy(ctx, env.admin, env.item.ID, 0.25)
	require.NoError(t, err)
	require.Equal(t, 4.0, item.UnitFactor)
	require.Equal(t, 0.25, items.ToSellToBuy(item))
}

func TestDisplayPriceRoundTrip(t *testing.T) {
	env := newItemEnv(t)
	_, item, err := env.Svc.Items.SetDisplayPrice(context.Background(), env.admin, env.item.ID, 3, "")
	require.NoError(t, err)
	require.InDelta(t, 3.0, item.DisplayPrice(), 1e-9)
	require.InDelta(t, 6.0, item.Price, 1e-9)
}

func TestRecordInventoryStampsTime(t *testing.T) {
	env := newItemEnv(t)
	op, item, err := env.Svc.Items.RecordInventory(context.Background(), env.admin, env.item.ID, 10, "")
	require.NoError(t, err)
	require.Equal(t, ledger.ModeNextValue, op.Mode)
	require.Equal(t, 5.0, item.Qty)
	require.NotNil(t, item.LastInventory)
	require.True(t, item.LastInventory.Equal(op.RecordedAt))
}

func TestDeletedItemRejectsOperations(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()

	item, err := env.Svc.Items.SetDeleted(ctx, env.admin, env.item.ID, true)
	require.NoError(t, err)
	require.True(t, item.Deleted)

	_, _, err = env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{Field: ledger.FieldQty, Delta: ptr(1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	listed, err := env.Svc.Items.List(ctx, nil, items.Filter{BarID: "b"})
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestStaffCanViewButNotManage(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()
	staff := env.User(t, "staff")
	env.Grant(t, staff.ID, "b", "staff")

	_, err := env.Svc.Items.History(ctx, fixture.As(staff.ID), env.item.ID)
	require.NoError(t, err)

	_, _, err = env.Svc.Items.CreateOperation(ctx, fixture.As(staff.ID), env.item.ID, items.OperationInput{Field: ledger.FieldQty, Delta: ptr(1)})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, _, err = env.Svc.Items.CreateOperation(ctx, nil, env.item.ID, items.OperationInput{Field: ledger.FieldQty, Delta: ptr(1)})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestConcurrentDeltasAreSerialised(t *testing.T) {
	env := newItemEnv(t)
	ctx := context.Background()
	_, _, err := env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{Field: ledger.FieldQty, NextValue: ptr(100)})
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		for _, d := range []float64{5, -3} {
			d := d
			g.Go(func() error {
				_, _, err := env.Svc.Items.CreateOperation(ctx, env.admin, env.item.ID, items.OperationInput{Field: ledger.FieldQty, Delta: &d})
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	item, err := env.Svc.Items.Get(ctx, nil, env.item.ID)
	require.NoError(t, err)
	require.Equal(t, 140.0, item.Qty)

	ops, err := env.Svc.Items.History(ctx, nil, env.item.ID)
	require.NoError(t, err)
	require.Len(t, ops, 42)
	for i, op := range ops {
		require.Equal(t, int64(i+1), op.Seq)
	}
	folded := ledger.Fold(ops)
	require.Equal(t, item.Qty, folded[ledger.FieldQty])
	require.Equal(t, item.Price, folded[ledger.FieldPrice])

	rec, err := env.Svc.Ledger.Reconcile(ctx, ledger.StockItem(item.ID))
	require.NoError(t, err)
	require.True(t, rec.Consistent())
}
