package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/consolidation"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/repository"
)

// DefaultBidValidity задаёт срок действия предложения по умолчанию.
const DefaultBidValidity = 24 * time.Hour

// PlaceBidInput содержит параметры предложения поставщика.
type PlaceBidInput struct {
	SupplierID    string
	Target        model.BidTarget
	TotalAmount   decimal.Decimal
	Message       string
	DeliveryTime  time.Time
	ValidityHours int
}

func targetKey(t model.BidTarget) string {
	if t.IsGroup() {
		return lock.GroupKey(t.ID)
	}
	return lock.OrderKey(t.ID)
}

// PlaceBid регистрирует предложение поставщика по заказу или подтверждённой группе.
func (s *Service) PlaceBid(ctx context.Context, in PlaceBidInput) (*model.Bid, error) {
	if !in.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: bid amount must be positive", apperrors.ErrInvalidAmount)
	}
	if in.Target.Kind != model.BidTargetOrder && in.Target.Kind != model.BidTargetGroup {
		return nil, fmt.Errorf("%w: bid target kind %q", apperrors.ErrInvalidInput, in.Target.Kind)
	}

	validity := DefaultBidValidity
	if in.ValidityHours > 0 {
		validity = time.Duration(in.ValidityHours) * time.Hour
	}

	now := s.now()
	bid := &model.Bid{
		ID:           s.newID(),
		SupplierID:   in.SupplierID,
		Target:       in.Target,
		TotalAmount:  model.RoundMoney(in.TotalAmount),
		Message:      in.Message,
		DeliveryTime: in.DeliveryTime,
		ValidUntil:   now.Add(validity),
		Status:       model.BidStatusPending,
		CreatedAt:    now,
	}

	err := s.run(ctx, []string{targetKey(in.Target)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		supplier, err := tx.GetSupplier(ctx, in.SupplierID)
		if err != nil {
			return err
		}

		var groupID string
		if in.Target.IsGroup() {
			if err := s.checkGroupBid(ctx, tx, in.SupplierID, in.Target.ID); err != nil {
				return err
			}
			groupID = in.Target.ID
		} else {
			groupID, err = s.checkOrderBid(ctx, tx, in.SupplierID, in.Target.ID)
			if err != nil {
				return err
			}
		}

		if err := tx.CreateBid(ctx, bid); err != nil {
			return err
		}

		if groupID != "" {
			out.group(groupID, "new_bid", map[string]any{
				"bidId":        bid.ID,
				"target":       bid.Target.String(),
				"supplierId":   supplier.ID,
				"supplierName": supplier.Name,
				"totalAmount":  bid.TotalAmount,
				"validUntil":   bid.ValidUntil,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Bid("placed")
	return bid, nil
}

func (s *Service) checkGroupBid(ctx context.Context, tx repository.Tx, supplierID, groupID string) error {
	g, err := tx.LockGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Status != model.GroupStatusConfirmed {
		return fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, groupID, g.Status)
	}

	orders, err := tx.ListOrdersByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if len(pendingOrders(orders, "")) == 0 {
		return fmt.Errorf("%w: group %s has no open orders", apperrors.ErrInvalidState, groupID)
	}

	has, err := tx.SupplierHasBid(ctx, supplierID, model.GroupTarget(groupID))
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: supplier %s on group %s", apperrors.ErrDuplicateBid, supplierID, groupID)
	}
	for _, o := range orders {
		has, err := tx.SupplierHasBid(ctx, supplierID, model.OrderTarget(o.ID))
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: supplier %s on order %s of group %s", apperrors.ErrDuplicateBid, supplierID, o.ID, groupID)
		}
	}
	return nil
}

// checkOrderBid проверяет, что по заказу можно сделать предложение, и возвращает его группу.
func (s *Service) checkOrderBid(ctx context.Context, tx repository.Tx, supplierID, orderID string) (string, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.Status == model.OrderStatusCancelled || o.SupplierID != "" {
		return "", fmt.Errorf("%w: order %s is %s", apperrors.ErrInvalidState, orderID, o.Status)
	}

	open := o.Status == model.OrderStatusPending
	if o.InGroup() {
		g, err := tx.GetGroup(ctx, o.GroupID)
		if err != nil {
			return "", err
		}
		open = open || g.Status == model.GroupStatusConfirmed
		if g.Status == model.GroupStatusOrdered || g.Status == model.GroupStatusCancelled {
			open = false
		}
	}
	if !open {
		return "", fmt.Errorf("%w: order %s is not open for bids", apperrors.ErrInvalidState, orderID)
	}

	has, err := tx.SupplierHasBid(ctx, supplierID, model.OrderTarget(orderID))
	if err != nil {
		return "", err
	}
	if has {
		return "", fmt.Errorf("%w: supplier %s on order %s", apperrors.ErrDuplicateBid, supplierID, orderID)
	}
	return o.GroupID, nil
}

// AcceptBid принимает предложение и в одной транзакции применяет его к заказу или ко всем
// открытым заказам группы: сумма, платёж, кредит, отклонение конкурирующих предложений,
// счётчик заказов поставщика. Истёкшее предложение помечается EXPIRED и возвращается
// ErrDeadlinePassed.
func (s *Service) AcceptBid(ctx context.Context, buyerID, bidID string) (*model.Bid, error) {
	target, err := s.bidTarget(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var (
		bid     *model.Bid
		expired bool
	)
	err = s.run(ctx, []string{targetKey(target)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		expired = false

		var err error
		if target.IsGroup() {
			bid, expired, err = s.acceptGroupBidTx(ctx, tx, out, buyerID, bidID)
		} else {
			bid, expired, err = s.acceptOrderBidTx(ctx, tx, out, buyerID, bidID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if expired {
		s.metrics.Bid("expired")
		return nil, fmt.Errorf("%w: bid %s expired at %s", apperrors.ErrDeadlinePassed, bidID, bid.ValidUntil.Format(time.RFC3339))
	}

	s.metrics.Bid("accepted")
	if target.IsGroup() {
		s.metrics.GroupTransition(string(model.GroupStatusOrdered))
	}
	return bid, nil
}

func (s *Service) bidTarget(ctx context.Context, bidID string) (model.BidTarget, error) {
	var target model.BidTarget
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		target = b.Target
		return nil
	})
	return target, err
}

// lockPendingBid перечитывает предложение под блокировкой. Истёкшее ожидающее
// предложение сохраняется как EXPIRED, и expired = true.
func (s *Service) lockPendingBid(ctx context.Context, tx repository.Tx, bidID string) (b *model.Bid, expired bool, err error) {
	b, err = tx.LockBid(ctx, bidID)
	if err != nil {
		return nil, false, err
	}
	if b.Status != model.BidStatusPending {
		return nil, false, fmt.Errorf("%w: bid %s is %s", apperrors.ErrInvalidState, bidID, b.Status)
	}
	if model.IsExpired(b, s.now()) {
		if err := tx.UpdateBidStatus(ctx, bidID, model.BidStatusExpired); err != nil {
			return nil, false, err
		}
		b.Status = model.BidStatusExpired
		return b, true, nil
	}
	return b, false, nil
}

func (s *Service) acceptOrderBidTx(ctx context.Context, tx repository.Tx, out *outbox, buyerID, bidID string) (*model.Bid, bool, error) {
	b, err := tx.GetBid(ctx, bidID)
	if err != nil {
		return nil, false, err
	}

	o, err := s.lockOrder(ctx, tx, b.Target.ID)
	if err != nil {
		return nil, false, err
	}
	if o.BuyerID != buyerID {
		return nil, false, fmt.Errorf("%w: order %s belongs to another buyer", apperrors.ErrForbidden, o.ID)
	}

	buyer, err := tx.LockBuyer(ctx, o.BuyerID)
	if err != nil {
		return nil, false, err
	}

	b, expired, err := s.lockPendingBid(ctx, tx, bidID)
	if err != nil || expired {
		return b, expired, err
	}
	if o.Status == model.OrderStatusCancelled || o.SupplierID != "" {
		return nil, false, fmt.Errorf("%w: order %s already settled", apperrors.ErrInvalidState, o.ID)
	}

	supplier, err := tx.GetSupplier(ctx, b.SupplierID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.UpdateBidStatus(ctx, b.ID, model.BidStatusAccepted); err != nil {
		return nil, false, err
	}
	b.Status = model.BidStatusAccepted

	if err := s.settleOrderTx(ctx, tx, o, buyer, b.SupplierID, b.TotalAmount); err != nil {
		return nil, false, err
	}
	if err := tx.UpdateBuyer(ctx, buyer); err != nil {
		return nil, false, err
	}
	if err := rejectPendingBids(ctx, tx, model.OrderTarget(o.ID), b.ID); err != nil {
		return nil, false, err
	}
	if err := tx.IncrementSupplierOrders(ctx, supplier.ID); err != nil {
		return nil, false, err
	}

	if o.InGroup() {
		out.group(o.GroupID, "bid_accepted", map[string]any{
			"bidId":        b.ID,
			"orderId":      o.ID,
			"supplierId":   supplier.ID,
			"supplierName": supplier.Name,
			"finalAmount":  b.TotalAmount,
		})
	}
	return b, false, nil
}

func (s *Service) acceptGroupBidTx(ctx context.Context, tx repository.Tx, out *outbox, buyerID, bidID string) (*model.Bid, bool, error) {
	b, err := tx.GetBid(ctx, bidID)
	if err != nil {
		return nil, false, err
	}

	g, err := tx.LockGroup(ctx, b.Target.ID)
	if err != nil {
		return nil, false, err
	}
	if g.CreatedBy != buyerID {
		return nil, false, fmt.Errorf("%w: only the creator of group %s accepts group bids", apperrors.ErrForbidden, g.ID)
	}

	orders, err := tx.ListOrdersByGroup(ctx, g.ID)
	if err != nil {
		return nil, false, err
	}
	live := pendingOrders(orders, "")
	buyers, err := lockBuyers(ctx, tx, live)
	if err != nil {
		return nil, false, err
	}

	b, expired, err := s.lockPendingBid(ctx, tx, bidID)
	if err != nil || expired {
		return b, expired, err
	}
	if g.Status != model.GroupStatusConfirmed {
		return nil, false, fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, g.ID, g.Status)
	}
	if len(live) == 0 {
		return nil, false, fmt.Errorf("%w: group %s has no open orders", apperrors.ErrInvalidState, g.ID)
	}

	supplier, err := tx.GetSupplier(ctx, b.SupplierID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.UpdateBidStatus(ctx, b.ID, model.BidStatusAccepted); err != nil {
		return nil, false, err
	}
	b.Status = model.BidStatusAccepted

	shares := splitProRata(b.TotalAmount, live)
	for i := range live {
		if err := s.settleOrderTx(ctx, tx, &live[i], buyers[live[i].BuyerID], b.SupplierID, shares[i]); err != nil {
			return nil, false, err
		}
	}
	for _, buyer := range buyers {
		if err := tx.UpdateBuyer(ctx, buyer); err != nil {
			return nil, false, err
		}
	}

	if err := rejectPendingBids(ctx, tx, model.GroupTarget(g.ID), b.ID); err != nil {
		return nil, false, err
	}
	for _, o := range orders {
		if err := rejectPendingBids(ctx, tx, model.OrderTarget(o.ID), b.ID); err != nil {
			return nil, false, err
		}
	}

	g.Status = model.GroupStatusOrdered
	if err := tx.UpdateGroup(ctx, g); err != nil {
		return nil, false, err
	}
	if err := tx.IncrementSupplierOrders(ctx, supplier.ID); err != nil {
		return nil, false, err
	}

	out.group(g.ID, "bid_accepted", map[string]any{
		"bidId":        b.ID,
		"groupId":      g.ID,
		"supplierId":   supplier.ID,
		"supplierName": supplier.Name,
		"finalAmount":  b.TotalAmount,
	})
	return b, false, nil
}

// settleOrderTx закрепляет заказ за поставщиком по итоговой сумме.
func (s *Service) settleOrderTx(ctx context.Context, tx repository.Tx, o *model.Order, buyer *model.Buyer, supplierID string, amount decimal.Decimal) error {
	if err := s.reprice(ctx, tx, o, buyer, amount, false); err != nil {
		return err
	}
	o.SupplierID = supplierID
	o.Status = model.OrderStatusConfirmed
	return tx.UpdateOrder(ctx, o)
}

// splitProRata делит сумму между заказами пропорционально их суммам.
// Остаток от округления достаётся последнему заказу.
func splitProRata(amount decimal.Decimal, orders []model.Order) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(orders))

	weights := decimal.Zero
	for _, o := range orders {
		weights = weights.Add(o.TotalAmount)
	}

	allocated := decimal.Zero
	n := decimal.NewFromInt(int64(len(orders)))
	for i, o := range orders {
		if i == len(orders)-1 {
			shares[i] = amount.Sub(allocated)
			break
		}
		if weights.IsZero() {
			shares[i] = model.RoundMoney(amount.Div(n))
		} else {
			shares[i] = model.RoundMoney(amount.Mul(o.TotalAmount).Div(weights))
		}
		allocated = allocated.Add(shares[i])
	}
	return shares
}

func rejectPendingBids(ctx context.Context, tx repository.Tx, target model.BidTarget, keepID string) error {
	bids, err := tx.ListBidsByTarget(ctx, target)
	if err != nil {
		return err
	}
	for _, b := range bids {
		if b.ID == keepID || b.Status != model.BidStatusPending {
			continue
		}
		if err := tx.UpdateBidStatus(ctx, b.ID, model.BidStatusRejected); err != nil {
			return err
		}
	}
	return nil
}

// RejectBid отклоняет ожидающее предложение. Отклонять может владелец заказа
// или создатель группы. Истёкшее предложение даёт ErrDeadlinePassed.
func (s *Service) RejectBid(ctx context.Context, buyerID, bidID string) (*model.Bid, error) {
	target, err := s.bidTarget(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var (
		bid     *model.Bid
		expired bool
	)
	err = s.run(ctx, []string{targetKey(target)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		groupID, err := s.authorizeBidOwner(ctx, tx, buyerID, target)
		if err != nil {
			return err
		}

		bid, expired, err = s.lockPendingBid(ctx, tx, bidID)
		if err != nil || expired {
			return err
		}

		if err := tx.UpdateBidStatus(ctx, bidID, model.BidStatusRejected); err != nil {
			return err
		}
		bid.Status = model.BidStatusRejected

		if groupID != "" {
			out.group(groupID, "bid_rejected", map[string]any{
				"bidId":      bid.ID,
				"supplierId": bid.SupplierID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		s.metrics.Bid("expired")
		return nil, fmt.Errorf("%w: bid %s expired at %s", apperrors.ErrDeadlinePassed, bidID, bid.ValidUntil.Format(time.RFC3339))
	}

	s.metrics.Bid("rejected")
	return bid, nil
}

// authorizeBidOwner проверяет права покупателя на цель предложения и возвращает группу цели.
func (s *Service) authorizeBidOwner(ctx context.Context, tx repository.Tx, buyerID string, target model.BidTarget) (string, error) {
	if target.IsGroup() {
		g, err := tx.LockGroup(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if g.CreatedBy != buyerID {
			return "", fmt.Errorf("%w: group %s", apperrors.ErrForbidden, g.ID)
		}
		return g.ID, nil
	}

	o, err := s.lockOrder(ctx, tx, target.ID)
	if err != nil {
		return "", err
	}
	if o.BuyerID != buyerID {
		return "", fmt.Errorf("%w: order %s", apperrors.ErrForbidden, o.ID)
	}
	return o.GroupID, nil
}

// ListBidsBySupplier возвращает предложения поставщика с учётом истечения срока.
func (s *Service) ListBidsBySupplier(ctx context.Context, supplierID string) ([]model.Bid, error) {
	var bids []model.Bid
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetSupplier(ctx, supplierID); err != nil {
			return err
		}
		var err error
		bids, err = tx.ListBidsBySupplier(ctx, supplierID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.applyExpiry(bids)
	return bids, nil
}

// ListBidsForOrder возвращает предложения по заказу от самого дешёвого.
func (s *Service) ListBidsForOrder(ctx context.Context, orderID string) ([]model.Bid, error) {
	return s.listBidsForTarget(ctx, model.OrderTarget(orderID))
}

// ListBidsForGroup возвращает предложения по группе от самого дешёвого.
func (s *Service) ListBidsForGroup(ctx context.Context, groupID string) ([]model.Bid, error) {
	return s.listBidsForTarget(ctx, model.GroupTarget(groupID))
}

func (s *Service) listBidsForTarget(ctx context.Context, target model.BidTarget) ([]model.Bid, error) {
	var bids []model.Bid
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if target.IsGroup() {
			_, err = tx.GetGroup(ctx, target.ID)
		} else {
			_, err = tx.GetOrder(ctx, target.ID)
		}
		if err != nil {
			return err
		}
		bids, err = tx.ListBidsByTarget(ctx, target)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.applyExpiry(bids)
	sort.SliceStable(bids, func(i, j int) bool {
		if !bids[i].TotalAmount.Equal(bids[j].TotalAmount) {
			return bids[i].TotalAmount.LessThan(bids[j].TotalAmount)
		}
		return bids[i].CreatedAt.Before(bids[j].CreatedAt)
	})
	return bids, nil
}

func (s *Service) applyExpiry(bids []model.Bid) {
	now := s.now()
	for i := range bids {
		bids[i].Status = bids[i].EffectiveStatus(now)
	}
}

// ListAvailable подбирает подтверждённые группы и ожидающие индивидуальные заказы,
// подходящие поставщику по району и категории и ещё не получившие его предложения.
// Пустые фильтры заменяются районами и категориями поставщика.
func (s *Service) ListAvailable(ctx context.Context, supplierID, areaFilter, categoryFilter string) ([]model.AvailableTarget, error) {
	var res []model.AvailableTarget

	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		supplier, err := tx.GetSupplier(ctx, supplierID)
		if err != nil {
			return err
		}
		products, err := productIndex(ctx, tx)
		if err != nil {
			return err
		}

		matchArea := func(area string) bool {
			if areaFilter != "" {
				return strings.EqualFold(area, areaFilter)
			}
			return supplier.ServesArea(area)
		}
		matchCategories := func(categories []string) bool {
			if categoryFilter != "" {
				return containsFold(categories, categoryFilter)
			}
			if len(supplier.Categories) == 0 {
				return true
			}
			for _, c := range categories {
				if supplier.HandlesCategory(c) {
					return true
				}
			}
			return false
		}

		res = res[:0]

		groups, err := tx.ListGroupsByStatus(ctx, model.GroupStatusConfirmed)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if !matchArea(g.PickupLocation) {
				continue
			}
			has, err := tx.SupplierHasBid(ctx, supplierID, model.GroupTarget(g.ID))
			if err != nil {
				return err
			}
			if has {
				continue
			}

			orders, err := tx.ListOrdersByGroup(ctx, g.ID)
			if err != nil {
				return err
			}
			live := pendingOrders(orders, "")
			if len(live) == 0 {
				continue
			}
			c := consolidation.Consolidate(g.ID, live, products)
			categories := consolidation.Categories(c.Items)
			if !matchCategories(categories) {
				continue
			}

			count, err := tx.CountMembers(ctx, g.ID)
			if err != nil {
				return err
			}
			res = append(res, model.AvailableTarget{
				Target:      model.GroupTarget(g.ID),
				Name:        g.Name,
				Area:        g.PickupLocation,
				Categories:  categories,
				TotalValue:  c.TotalValue,
				MemberCount: count,
				PickupTime:  g.TargetPickupTime,
				Items:       c.Items,
			})
		}

		orders, err := tx.ListIndividualOrders(ctx, model.OrderStatusPending)
		if err != nil {
			return err
		}
		for _, o := range orders {
			buyer, err := tx.GetBuyer(ctx, o.BuyerID)
			if err != nil {
				return err
			}
			if !matchArea(buyer.Area) {
				continue
			}
			has, err := tx.SupplierHasBid(ctx, supplierID, model.OrderTarget(o.ID))
			if err != nil {
				return err
			}
			if has {
				continue
			}

			c := consolidation.Consolidate("", []model.Order{o}, products)
			categories := consolidation.Categories(c.Items)
			if !matchCategories(categories) {
				continue
			}
			res = append(res, model.AvailableTarget{
				Target:      model.OrderTarget(o.ID),
				Name:        buyer.Name,
				Area:        buyer.Area,
				Categories:  categories,
				TotalValue:  c.TotalValue,
				MemberCount: 1,
				Items:       c.Items,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
