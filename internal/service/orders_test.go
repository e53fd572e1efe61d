package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/repository"
)

func (f *fixture) pendingPayment(orderID string) *model.Payment {
	f.t.Helper()

	var p *model.Payment
	f.tx(func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = tx.GetPendingOrderPayment(ctx, orderID)
		return err
	})
	return p
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.product("grains", 100)
	buyer := f.buyerWith(DefaultTrustScore, 500)

	tests := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{
			name: "no items",
			in:   CreateOrderInput{BuyerID: buyer.ID},
			want: apperrors.ErrInvalidAmount,
		},
		{
			name: "zero quantity",
			in:   CreateOrderInput{BuyerID: buyer.ID, Items: []ItemInput{{ProductID: p.ID}}},
			want: apperrors.ErrInvalidAmount,
		},
		{
			name: "negative price",
			in: CreateOrderInput{BuyerID: buyer.ID, Items: []ItemInput{
				{ProductID: p.ID, Quantity: decimal.NewFromInt(1), PricePerUnit: decimal.NewFromInt(-5)},
			}},
			want: apperrors.ErrInvalidAmount,
		},
		{
			name: "unknown product",
			in:   CreateOrderInput{BuyerID: buyer.ID, Items: []ItemInput{{ProductID: "missing", Quantity: decimal.NewFromInt(1)}}},
			want: apperrors.ErrNotFound,
		},
		{
			name: "unknown buyer",
			in:   CreateOrderInput{BuyerID: "nobody", Items: []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}}},
			want: apperrors.ErrNotFound,
		},
		{
			name: "unknown payment method",
			in: CreateOrderInput{BuyerID: buyer.ID, PaymentMethod: "BARTER",
				Items: []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}}},
			want: apperrors.ErrInvalidInput,
		},
		{
			name: "pay later above limit",
			in: CreateOrderInput{BuyerID: buyer.ID, PaymentMethod: model.PaymentMethodPayLater,
				Items: []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(6)}}},
			want: apperrors.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(f.ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assertDecimal(t, "0", f.reloadBuyer(buyer.ID).UsedCredit)
}

func TestCreateOrder_PricesAndPayment(t *testing.T) {
	f := newFixture(t)
	rice := f.product("grains", 42)
	buyer := f.buyer()

	o, err := f.svc.CreateOrder(f.ctx, CreateOrderInput{
		BuyerID: buyer.ID,
		Items: []ItemInput{
			{ProductID: rice.ID, Quantity: dec("2.5")},
			{ProductID: rice.ID, Quantity: decimal.NewFromInt(1), PricePerUnit: decimal.NewFromInt(40), Unit: "bag"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.OrderTypeIndividual, o.OrderType)
	assert.Equal(t, model.PaymentMethodCash, o.PaymentMethod)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "kg", o.Items[0].Unit)
	assertDecimal(t, "42", o.Items[0].PricePerUnit)
	assertDecimal(t, "105", o.Items[0].TotalPrice)
	assert.Equal(t, "bag", o.Items[1].Unit)
	assertDecimal(t, "145", o.TotalAmount)

	payment := f.pendingPayment(o.ID)
	assertDecimal(t, "145", payment.Amount)
	assert.Equal(t, model.PaymentTypeOrder, payment.Type)

	assertDecimal(t, "0", f.reloadBuyer(buyer.ID).UsedCredit)
}

func TestCreateOrder_GroupRules(t *testing.T) {
	f := newFixture(t)
	p := f.product("grains", 10)
	creator, member := f.buyer(), f.buyer()
	g := f.group(creator.ID, 2, 5)
	f.join(g.ID, member)

	_, err := f.svc.CreateOrder(f.ctx, CreateOrderInput{
		BuyerID: f.buyer().ID,
		GroupID: g.ID,
		Items:   []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	o := f.order(member.ID, g.ID, p, 3, model.PaymentMethodCash)
	assert.Equal(t, model.OrderTypeGroup, o.OrderType)
	assert.Contains(t, f.notifier.names(g.ID), "order_placed")

	_, err = f.svc.ConfirmGroup(f.ctx, g.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(f.ctx, CreateOrderInput{
		BuyerID: member.ID,
		GroupID: g.ID,
		Items:   []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = f.svc.AddItems(f.ctx, member.ID, o.ID, []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}})
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestAddItems_AmendsPaymentAndCredit(t *testing.T) {
	f := newFixture(t)
	p := f.product("oil", 100)
	buyer := f.buyerWith(DefaultTrustScore, 1000)

	o := f.order(buyer.ID, "", p, 4, model.PaymentMethodPayLater)
	assertDecimal(t, "400", f.reloadBuyer(buyer.ID).UsedCredit)

	updated, err := f.svc.AddItems(f.ctx, buyer.ID, o.ID, []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(5)}})
	require.NoError(t, err)
	assertDecimal(t, "900", updated.TotalAmount)
	assert.Len(t, updated.Items, 2)
	assertDecimal(t, "900", f.pendingPayment(o.ID).Amount)
	assertDecimal(t, "900", f.reloadBuyer(buyer.ID).UsedCredit)
	f.assertLedger(buyer.ID)

	_, err = f.svc.AddItems(f.ctx, buyer.ID, o.ID, []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(2)}})
	require.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	assertDecimal(t, "900", f.reloadBuyer(buyer.ID).UsedCredit)
	assert.Len(t, f.reloadOrder(o.ID).Items, 2)

	_, err = f.svc.AddItems(f.ctx, f.buyer().ID, o.ID, []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.AddItems(f.ctx, buyer.ID, "missing", []ItemInput{{ProductID: p.ID, Quantity: decimal.NewFromInt(1)}})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateOrderStatus_Transitions(t *testing.T) {
	f := newFixture(t)
	p := f.product("grains", 100)
	buyer := f.buyer()
	owner := auth.Principal{ID: buyer.ID, Role: auth.RoleBuyer}

	o := f.order(buyer.ID, "", p, 1, model.PaymentMethodCash)

	_, err := f.svc.UpdateOrderStatus(f.ctx, owner, o.ID, model.OrderStatusDelivered)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = f.svc.UpdateOrderStatus(f.ctx, auth.Principal{ID: f.buyer().ID, Role: auth.RoleBuyer}, o.ID, model.OrderStatusConfirmed)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.UpdateOrderStatus(f.ctx, auth.Principal{ID: "supplier-x", Role: auth.RoleSupplier}, o.ID, model.OrderStatusConfirmed)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	for _, status := range []model.OrderStatus{model.OrderStatusConfirmed, model.OrderStatusDispatched} {
		updated, err := f.svc.UpdateOrderStatus(f.ctx, owner, o.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}

	_, err = f.svc.UpdateOrderStatus(f.ctx, owner, o.ID, model.OrderStatusCancelled)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestUpdateOrderStatus_DeliveredRewardsBuyer(t *testing.T) {
	f := newFixture(t)
	p := f.product("grains", 100)
	buyer := f.buyerWith(99, 5000)
	owner := auth.Principal{ID: buyer.ID, Role: auth.RoleBuyer}

	o := f.order(buyer.ID, "", p, 5, model.PaymentMethodUPI)
	_, err := f.svc.UpdateOrderStatus(f.ctx, owner, o.ID, model.OrderStatusConfirmed)
	require.NoError(t, err)
	delivered, err := f.svc.UpdateOrderStatus(f.ctx, owner, o.ID, model.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)

	reloaded := f.reloadBuyer(buyer.ID)
	assertDecimal(t, "50", reloaded.TotalSavings)
	assert.Equal(t, 100, reloaded.TrustScore)

	f.tx(func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.GetPendingOrderPayment(ctx, o.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		return nil
	})
}

func TestUpdateOrderStatus_CancelReleasesCredit(t *testing.T) {
	f := newFixture(t)
	p := f.product("grains", 100)
	buyer := f.buyer()
	s := f.supplier(nil, nil)

	o := f.order(buyer.ID, "", p, 3, model.PaymentMethodPayLater)
	bid, err := f.svc.PlaceBid(f.ctx, PlaceBidInput{SupplierID: s.ID, Target: model.OrderTarget(o.ID), TotalAmount: decimal.NewFromInt(280)})
	require.NoError(t, err)

	cancelled, err := f.svc.UpdateOrderStatus(f.ctx, auth.Principal{ID: buyer.ID, Role: auth.RoleBuyer}, o.ID, model.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)

	assertDecimal(t, "0", f.reloadBuyer(buyer.ID).UsedCredit)
	f.assertLedger(buyer.ID)

	bids, err := f.svc.ListBidsForOrder(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, bid.ID, bids[0].ID)
	assert.Equal(t, model.BidStatusRejected, bids[0].Status)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	p := f.product("grains", 10)
	buyer, other := f.buyer(), f.buyer()

	f.order(buyer.ID, "", p, 1, model.PaymentMethodCash)
	f.order(buyer.ID, "", p, 2, model.PaymentMethodCash)
	f.order(other.ID, "", p, 3, model.PaymentMethodCash)

	orders, err := f.svc.ListOrders(f.ctx, buyer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, buyer.ID, o.BuyerID)
		assert.NotEmpty(t, o.Items)
	}

	_, err = f.svc.GetOrder(f.ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
