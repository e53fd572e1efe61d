package consolidation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/groupbuy/internal/model"
)

func item(productID, unit string, qty, price string) model.OrderItem {
	return model.NewOrderItem("", "", productID, unit, decimal.RequireFromString(qty), decimal.RequireFromString(price))
}

func TestConsolidate(t *testing.T) {
	orders := []model.Order{
		{
			ID:      "o1",
			BuyerID: "b1",
			Status:  model.OrderStatusPending,
			Items: []model.OrderItem{
				item("rice", "kg", "10", "40"),
				item("oil", "l", "2", "150"),
			},
		},
		{
			ID:      "o2",
			BuyerID: "b2",
			Status:  model.OrderStatusPending,
			Items: []model.OrderItem{
				item("rice", "kg", "5", "42"),
				item("rice", "bag", "1", "1900"),
			},
		},
		{
			ID:      "o3",
			BuyerID: "b3",
			Status:  model.OrderStatusCancelled,
			Items: []model.OrderItem{
				item("rice", "kg", "100", "40"),
			},
		},
	}
	products := map[string]model.Product{
		"rice": {ID: "rice", Name: "Basmati rice", Category: "grains"},
		"oil":  {ID: "oil", Name: "Sunflower oil", Category: "oils"},
	}

	res := Consolidate("g1", orders, products)

	require.Len(t, res.Items, 3)
	assert.Equal(t, "g1", res.GroupID)
	assert.True(t, decimal.RequireFromString("2810").Equal(res.TotalValue), "total %s", res.TotalValue)

	assert.Equal(t, "oil", res.Items[0].ProductID)
	assert.Equal(t, "rice", res.Items[1].ProductID)
	assert.Equal(t, "bag", res.Items[1].Unit)
	assert.Equal(t, "rice", res.Items[2].ProductID)
	assert.Equal(t, "kg", res.Items[2].Unit)

	riceKg := res.Items[2]
	assert.True(t, decimal.NewFromInt(15).Equal(riceKg.TotalQuantity))
	assert.True(t, decimal.NewFromInt(610).Equal(riceKg.TotalPrice))
	assert.Equal(t, "Basmati rice", riceKg.ProductName)
	require.Len(t, riceKg.Contributions, 2)
	assert.Equal(t, "b1", riceKg.Contributions[0].BuyerID)
	assert.Equal(t, "b2", riceKg.Contributions[1].BuyerID)

	assert.Equal(t, []string{"grains", "oils"}, Categories(res.Items))
}

func TestConsolidate_Deterministic(t *testing.T) {
	orders := []model.Order{
		{ID: "o1", BuyerID: "b1", Items: []model.OrderItem{item("b", "kg", "1", "1"), item("a", "kg", "1", "1")}},
		{ID: "o2", BuyerID: "b2", Items: []model.OrderItem{item("c", "kg", "1", "1")}},
	}

	first := Consolidate("g", orders, nil)
	second := Consolidate("g", orders, nil)

	require.Len(t, second.Items, len(first.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].ProductID, second.Items[i].ProductID)
		assert.Equal(t, first.Items[i].TotalPrice.String(), second.Items[i].TotalPrice.String())
	}
	assert.Equal(t, []string{"a", "b", "c"}, []string{first.Items[0].ProductID, first.Items[1].ProductID, first.Items[2].ProductID})
}

func TestConsolidate_Empty(t *testing.T) {
	res := Consolidate("g", nil, nil)

	assert.Empty(t, res.Items)
	assert.True(t, res.TotalValue.IsZero())
}
