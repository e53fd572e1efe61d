package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/credit"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/repository"
)

var deliverySavingsRate = decimal.NewFromFloat(0.1)

const trustScoreStep = 2

// ItemInput описывает строку заказа в запросе. Нулевая цена заменяется рыночной ценой товара,
// пустая единица измерения заменяется единицей товара.
type ItemInput struct {
	ProductID    string
	Quantity     decimal.Decimal
	Unit         string
	PricePerUnit decimal.Decimal
}

// CreateOrderInput содержит параметры нового заказа.
type CreateOrderInput struct {
	BuyerID       string
	GroupID       string
	Items         []ItemInput
	PaymentMethod model.PaymentMethod
}

// CreateOrder оформляет индивидуальный или групповой заказ.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	method := in.PaymentMethod
	if method == "" {
		method = model.PaymentMethodCash
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: payment method %q", apperrors.ErrInvalidInput, method)
	}

	keys := []string{lock.BuyerKey(in.BuyerID)}
	if in.GroupID != "" {
		keys = []string{lock.GroupKey(in.GroupID), lock.BuyerKey(in.BuyerID)}
	}

	var order *model.Order
	err := s.run(ctx, keys, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		if in.GroupID != "" {
			g, err := tx.LockGroup(ctx, in.GroupID)
			if err != nil {
				return err
			}
			members, err := tx.ListMembers(ctx, in.GroupID)
			if err != nil {
				return err
			}
			if !hasMember(members, in.BuyerID) {
				return fmt.Errorf("%w: buyer %s is not a member of group %s", apperrors.ErrNotFound, in.BuyerID, in.GroupID)
			}
			if g.Status != model.GroupStatusForming {
				return fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, in.GroupID, g.Status)
			}
		}

		var err error
		order, err = s.createOrderTx(ctx, tx, in.BuyerID, in.GroupID, in.Items, method)
		if err != nil {
			return err
		}

		if order.InGroup() {
			out.group(order.GroupID, "order_placed", map[string]any{
				"groupId":     order.GroupID,
				"orderId":     order.ID,
				"buyerId":     order.BuyerID,
				"totalAmount": order.TotalAmount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// createOrderTx создаёт заказ со строками, ожидающий платёж и, для оплаты позже,
// операцию использования кредита.
func (s *Service) createOrderTx(ctx context.Context, tx repository.Tx, buyerID, groupID string, inputs []ItemInput, method model.PaymentMethod) (*model.Order, error) {
	buyer, err := tx.LockBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &model.Order{
		ID:            s.newID(),
		BuyerID:       buyerID,
		GroupID:       groupID,
		OrderType:     model.OrderTypeIndividual,
		Status:        model.OrderStatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if groupID != "" {
		o.OrderType = model.OrderTypeGroup
	}

	o.Items, err = s.buildItems(ctx, tx, o.ID, inputs)
	if err != nil {
		return nil, err
	}
	o.TotalAmount = itemsTotal(o.Items)

	if method == model.PaymentMethodPayLater && o.TotalAmount.GreaterThan(buyer.RemainingCredit()) {
		return nil, fmt.Errorf("%w: order total %s exceeds remaining credit %s",
			apperrors.ErrInvalidAmount, o.TotalAmount, buyer.RemainingCredit())
	}

	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	err = tx.CreatePayment(ctx, &model.Payment{
		ID:        s.newID(),
		BuyerID:   buyerID,
		OrderID:   o.ID,
		Amount:    o.TotalAmount,
		Type:      model.PaymentTypeOrder,
		Method:    method,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	if method != model.PaymentMethodPayLater {
		return o, nil
	}

	due := now.Add(credit.Term)
	err = tx.CreateCreditTransaction(ctx, &model.CreditTransaction{
		ID:          s.newID(),
		BuyerID:     buyerID,
		OrderID:     o.ID,
		Amount:      o.TotalAmount,
		Type:        model.CreditUsed,
		Status:      model.CreditStatusActive,
		Description: "pay later for order " + o.ID,
		DueDate:     &due,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	buyer.UsedCredit = buyer.UsedCredit.Add(o.TotalAmount)
	if err := tx.UpdateBuyer(ctx, buyer); err != nil {
		return nil, err
	}
	s.metrics.CreditOperation(string(model.CreditUsed))
	return o, nil
}

func (s *Service) buildItems(ctx context.Context, tx repository.Tx, orderID string, inputs []ItemInput) ([]model.OrderItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: order has no items", apperrors.ErrInvalidAmount)
	}

	items := make([]model.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		quantity := in.Quantity.Round(3)
		if !quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity %s for product %s", apperrors.ErrInvalidAmount, in.Quantity, in.ProductID)
		}
		if in.PricePerUnit.IsNegative() {
			return nil, fmt.Errorf("%w: price %s for product %s", apperrors.ErrInvalidAmount, in.PricePerUnit, in.ProductID)
		}

		p, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}

		price := model.RoundMoney(in.PricePerUnit)
		if price.IsZero() {
			price = p.MarketPrice
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: product %s has no price", apperrors.ErrInvalidAmount, p.ID)
		}

		unit := in.Unit
		if unit == "" {
			unit = p.Unit
		}

		items = append(items, model.NewOrderItem(s.newID(), orderID, p.ID, unit, quantity, price))
	}
	return items, nil
}

func itemsTotal(items []model.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalPrice)
	}
	return model.RoundMoney(total)
}

// AddItems дополняет ожидающий заказ покупателя новыми строками.
func (s *Service) AddItems(ctx context.Context, buyerID, orderID string, inputs []ItemInput) (*model.Order, error) {
	var order *model.Order

	err := s.run(ctx, []string{lock.OrderKey(orderID)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		o, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return fmt.Errorf("%w: order %s belongs to another buyer", apperrors.ErrForbidden, orderID)
		}
		if o.Status != model.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", apperrors.ErrInvalidState, orderID, o.Status)
		}
		if o.InGroup() {
			g, err := tx.GetGroup(ctx, o.GroupID)
			if err != nil {
				return err
			}
			if g.Status != model.GroupStatusForming {
				return fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, g.ID, g.Status)
			}
		}

		items, err := s.buildItems(ctx, tx, o.ID, inputs)
		if err != nil {
			return err
		}

		buyer, err := tx.LockBuyer(ctx, o.BuyerID)
		if err != nil {
			return err
		}

		total := model.RoundMoney(o.TotalAmount.Add(itemsTotal(items)))
		if err := s.reprice(ctx, tx, o, buyer, total, true); err != nil {
			return err
		}
		if err := tx.AddOrderItems(ctx, o.ID, items); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.UpdateBuyer(ctx, buyer); err != nil {
			return err
		}

		o.Items = append(o.Items, items...)
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// lockOrder блокирует заказ, а для группового заказа сначала его группу,
// сохраняя порядок блокировок группа → заказ → покупатель.
func (s *Service) lockOrder(ctx context.Context, tx repository.Tx, orderID string) (*model.Order, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.InGroup() {
		if _, err := tx.LockGroup(ctx, o.GroupID); err != nil {
			return nil, err
		}
	}
	return tx.LockOrder(ctx, orderID)
}

// reprice устанавливает новую сумму заказа и согласует с ней ожидающий платёж
// и операцию использования кредита. Изменения покупателя сохраняет вызывающий.
func (s *Service) reprice(ctx context.Context, tx repository.Tx, o *model.Order, buyer *model.Buyer, amount decimal.Decimal, checkLimit bool) error {
	now := s.now()
	delta := amount.Sub(o.TotalAmount)

	if o.PaymentMethod == model.PaymentMethodPayLater {
		if checkLimit && delta.IsPositive() && delta.GreaterThan(buyer.RemainingCredit()) {
			return fmt.Errorf("%w: additional %s exceeds remaining credit %s",
				apperrors.ErrInvalidAmount, delta, buyer.RemainingCredit())
		}

		usage, err := tx.GetCreditUsage(ctx, o.ID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		switch {
		case delta.IsPositive() && (usage == nil || usage.Status == model.CreditStatusPaid):
			// Погашенная запись остаётся закрытой, новый долг получает свой срок.
			due := now.Add(credit.Term)
			err := tx.CreateCreditTransaction(ctx, &model.CreditTransaction{
				ID:          s.newID(),
				BuyerID:     o.BuyerID,
				OrderID:     o.ID,
				Amount:      delta,
				Type:        model.CreditUsed,
				Status:      model.CreditStatusActive,
				Description: "pay later for order " + o.ID,
				DueDate:     &due,
				CreatedAt:   now,
			})
			if err != nil {
				return err
			}
			buyer.UsedCredit = buyer.UsedCredit.Add(delta)
		case delta.IsPositive():
			buyer.UsedCredit = buyer.UsedCredit.Add(delta)
			usage.Amount = usage.Amount.Add(delta)
			if err := tx.UpdateCreditTransaction(ctx, usage); err != nil {
				return err
			}
		case delta.IsNegative() && usage != nil:
			releaseCredit(buyer, usage, delta.Neg())
			if err := tx.UpdateCreditTransaction(ctx, usage); err != nil {
				return err
			}
		}
	}

	p, err := tx.GetPendingOrderPayment(ctx, o.ID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		err = tx.CreatePayment(ctx, &model.Payment{
			ID:        s.newID(),
			BuyerID:   o.BuyerID,
			OrderID:   o.ID,
			Amount:    amount,
			Type:      model.PaymentTypeOrder,
			Method:    o.PaymentMethod,
			Status:    model.PaymentStatusPending,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		p.Amount = amount
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
	}

	o.TotalAmount = amount
	o.UpdatedAt = now
	return nil
}

// releaseCredit уменьшает долг покупателя и запись использования кредита на одну
// и ту же величину, не больше суммы записи и текущей задолженности. Погашенная
// запись не меняется: возврат оплаченного долга кредитом не выдаётся.
func releaseCredit(buyer *model.Buyer, usage *model.CreditTransaction, amount decimal.Decimal) {
	if usage.Status == model.CreditStatusPaid {
		return
	}
	amount = decimal.Min(amount, usage.Amount, decimal.Max(buyer.UsedCredit, decimal.Zero))
	buyer.UsedCredit = buyer.UsedCredit.Sub(amount)
	usage.Amount = usage.Amount.Sub(amount)
}

// cancelOrdersTx отменяет заказы, блокируя их покупателей в порядке идентификаторов.
func (s *Service) cancelOrdersTx(ctx context.Context, tx repository.Tx, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	buyers, err := lockBuyers(ctx, tx, orders)
	if err != nil {
		return err
	}

	for i := range orders {
		if err := s.cancelOrderTx(ctx, tx, &orders[i], buyers[orders[i].BuyerID]); err != nil {
			return err
		}
	}

	for _, b := range buyers {
		if err := tx.UpdateBuyer(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func lockBuyers(ctx context.Context, tx repository.Tx, orders []model.Order) (map[string]*model.Buyer, error) {
	ids := make([]string, 0, len(orders))
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if !seen[o.BuyerID] {
			seen[o.BuyerID] = true
			ids = append(ids, o.BuyerID)
		}
	}
	sort.Strings(ids)

	buyers := make(map[string]*model.Buyer, len(ids))
	for _, id := range ids {
		b, err := tx.LockBuyer(ctx, id)
		if err != nil {
			return nil, err
		}
		buyers[id] = b
	}
	return buyers, nil
}

// cancelOrderTx отменяет заказ: платёж помечается FAILED, кредит по оплате позже
// освобождается, ожидающие предложения по заказу отклоняются.
func (s *Service) cancelOrderTx(ctx context.Context, tx repository.Tx, o *model.Order, buyer *model.Buyer) error {
	now := s.now()

	o.Status = model.OrderStatusCancelled
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return err
	}

	p, err := tx.GetPendingOrderPayment(ctx, o.ID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
	case err != nil:
		return err
	default:
		p.Status = model.PaymentStatusFailed
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
	}

	if o.PaymentMethod == model.PaymentMethodPayLater {
		usage, err := tx.GetCreditUsage(ctx, o.ID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
		case err != nil:
			return err
		default:
			releaseCredit(buyer, usage, usage.Amount)
			if usage.Status != model.CreditStatusPaid {
				usage.Status = model.CreditStatusPaid
				usage.PaidAt = &now
			}
			usage.Description = "released: order " + o.ID + " cancelled"
			if err := tx.UpdateCreditTransaction(ctx, usage); err != nil {
				return err
			}
		}
	}

	bids, err := tx.ListBidsByTarget(ctx, model.OrderTarget(o.ID))
	if err != nil {
		return err
	}
	for _, b := range bids {
		if b.Status == model.BidStatusPending {
			if err := tx.UpdateBidStatus(ctx, b.ID, model.BidStatusRejected); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateOrderStatus переводит заказ в новый статус. Покупатель управляет своими заказами,
// поставщик управляет заказами, по которым принято его предложение.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor auth.Principal, orderID string, status model.OrderStatus) (*model.Order, error) {
	var order *model.Order

	err := s.run(ctx, []string{lock.OrderKey(orderID)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		o, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch {
		case actor.Role == auth.RoleBuyer && o.BuyerID == actor.ID:
		case actor.Role == auth.RoleSupplier && o.SupplierID != "" && o.SupplierID == actor.ID:
		default:
			return fmt.Errorf("%w: order %s", apperrors.ErrForbidden, orderID)
		}

		if !o.Status.CanTransition(status) {
			return fmt.Errorf("%w: order %s cannot move from %s to %s", apperrors.ErrInvalidState, orderID, o.Status, status)
		}

		buyer, err := tx.LockBuyer(ctx, o.BuyerID)
		if err != nil {
			return err
		}

		switch status {
		case model.OrderStatusCancelled:
			if err := s.cancelOrderTx(ctx, tx, o, buyer); err != nil {
				return err
			}
		case model.OrderStatusDelivered:
			if err := s.deliverTx(ctx, tx, o, buyer); err != nil {
				return err
			}
		default:
			o.Status = status
			o.UpdatedAt = s.now()
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}

		if err := tx.UpdateBuyer(ctx, buyer); err != nil {
			return err
		}

		if o.InGroup() {
			out.group(o.GroupID, "order_status_changed", map[string]any{
				"groupId": o.GroupID,
				"orderId": o.ID,
				"status":  o.Status,
			})
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// deliverTx завершает заказ: начисляет покупателю экономию и рейтинг доверия,
// закрывает платёж наличными или UPI.
func (s *Service) deliverTx(ctx context.Context, tx repository.Tx, o *model.Order, buyer *model.Buyer) error {
	now := s.now()

	o.Status = model.OrderStatusDelivered
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return err
	}

	buyer.TotalSavings = model.RoundMoney(buyer.TotalSavings.Add(o.TotalAmount.Mul(deliverySavingsRate)))
	buyer.TrustScore += trustScoreStep
	if buyer.TrustScore > credit.MaxTrustScore {
		buyer.TrustScore = credit.MaxTrustScore
	}

	if o.PaymentMethod == model.PaymentMethodPayLater {
		return nil
	}

	p, err := tx.GetPendingOrderPayment(ctx, o.ID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	p.Status = model.PaymentStatusCompleted
	p.PaidAt = &now
	return tx.UpdatePayment(ctx, p)
}

// ListOrders возвращает заказы покупателя.
func (s *Service) ListOrders(ctx context.Context, buyerID string) ([]model.Order, error) {
	var orders []model.Order
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		orders, err = tx.ListOrdersByBuyer(ctx, buyerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder возвращает заказ со строками.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o *model.Order
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}
