// Package consolidation сводит строки заказов участников группы в общий спрос по товарам.
package consolidation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/model"
)

type key struct {
	productID string
	unit      string
}

// Consolidate группирует строки заказов по паре (товар, единица измерения),
// суммируя количество и стоимость и сохраняя вклад каждого покупателя.
// Отменённые заказы не учитываются. products может быть nil.
func Consolidate(groupID string, orders []model.Order, products map[string]model.Product) model.ConsolidatedOrder {
	byKey := make(map[key]*model.ConsolidatedItem)
	total := decimal.Zero

	for _, o := range orders {
		if o.Status == model.OrderStatusCancelled {
			continue
		}
		for _, it := range o.Items {
			k := key{productID: it.ProductID, unit: it.Unit}
			ci, ok := byKey[k]
			if !ok {
				ci = &model.ConsolidatedItem{
					ProductID:     it.ProductID,
					Unit:          it.Unit,
					TotalQuantity: decimal.Zero,
					TotalPrice:    decimal.Zero,
				}
				if p, found := products[it.ProductID]; found {
					ci.ProductName = p.Name
					ci.Category = p.Category
				}
				byKey[k] = ci
			}
			ci.TotalQuantity = ci.TotalQuantity.Add(it.Quantity)
			ci.TotalPrice = ci.TotalPrice.Add(it.TotalPrice)
			ci.Contributions = append(ci.Contributions, model.Contribution{
				BuyerID:  o.BuyerID,
				OrderID:  o.ID,
				Quantity: it.Quantity,
				Price:    it.TotalPrice,
			})
			total = total.Add(it.TotalPrice)
		}
	}

	items := make([]model.ConsolidatedItem, 0, len(byKey))
	for _, ci := range byKey {
		items = append(items, *ci)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].Unit < items[j].Unit
	})

	return model.ConsolidatedOrder{
		GroupID:    groupID,
		Items:      items,
		TotalValue: total,
	}
}

// Categories возвращает множество категорий товаров в сводном заказе.
func Categories(items []model.ConsolidatedItem) []string {
	seen := make(map[string]struct{})
	var res []string
	for _, it := range items {
		if it.Category == "" {
			continue
		}
		if _, ok := seen[it.Category]; ok {
			continue
		}
		seen[it.Category] = struct{}{}
		res = append(res, it.Category)
	}
	sort.Strings(res)
	return res
}
