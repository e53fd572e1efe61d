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
	"github.com/mmeshcher/groupbuy/internal/geo"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/repository"
	"github.com/mmeshcher/groupbuy/internal/validation"
)

const (
	// ConfirmationWindow отводится на набор участников с момента создания группы.
	ConfirmationWindow = 30 * time.Minute
	// DefaultRadiusKm задаёт радиус поиска групп по умолчанию.
	DefaultRadiusKm = 5.0
)

var savingsRate = decimal.NewFromFloat(0.15)

// CreateGroupInput содержит параметры новой группы.
type CreateGroupInput struct {
	Name             string
	PickupLocation   string
	Location         model.Coordinates
	TargetPickupTime time.Time
	MinMembers       int
	MaxMembers       int
	CreatorID        string
	Items            []ItemInput
	PaymentMethod    model.PaymentMethod
}

// Suggestion описывает группу, в которую покупатель может вступить.
type Suggestion struct {
	Group       model.BuyingGroup
	DistanceKm  float64
	MemberCount int
}

// CreateGroup создаёт группу в статусе FORMING с создателем в качестве первого участника.
// Непустой список позиций оформляется групповым заказом создателя.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*model.BuyingGroup, error) {
	if err := validation.Required(map[string]string{"name": in.Name, "pickupLocation": in.PickupLocation}); err != nil {
		return nil, err
	}
	if err := validation.GroupSize(in.MinMembers, in.MaxMembers); err != nil {
		return nil, err
	}
	if !validation.IsValidCoordinates(in.Location) {
		return nil, fmt.Errorf("%w: coordinates out of range", apperrors.ErrInvalidInput)
	}

	method := in.PaymentMethod
	if method == "" {
		method = model.PaymentMethodCash
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: payment method %q", apperrors.ErrInvalidInput, method)
	}

	now := s.now()
	g := &model.BuyingGroup{
		ID:                   s.newID(),
		Name:                 in.Name,
		CreatedBy:            in.CreatorID,
		PickupLocation:       in.PickupLocation,
		Location:             in.Location,
		TargetPickupTime:     in.TargetPickupTime,
		ConfirmationDeadline: now.Add(ConfirmationWindow),
		MinMembers:           in.MinMembers,
		MaxMembers:           in.MaxMembers,
		Status:               model.GroupStatusForming,
		TotalValue:           decimal.Zero,
		EstimatedSavings:     decimal.Zero,
		CreatedAt:            now,
	}
	membership := model.GroupMembership{GroupID: g.ID, BuyerID: in.CreatorID, IsConfirmed: true, JoinedAt: now}

	keys := []string{lock.GroupKey(g.ID), lock.BuyerKey(in.CreatorID)}
	err := s.run(ctx, keys, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		if _, err := tx.GetBuyer(ctx, in.CreatorID); err != nil {
			return err
		}
		if err := tx.CreateGroup(ctx, g); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, membership); err != nil {
			return err
		}
		if len(in.Items) > 0 {
			if _, err := s.createOrderTx(ctx, tx, in.CreatorID, g.ID, in.Items, method); err != nil {
				return err
			}
		}

		out.broadcast("group_created", map[string]any{
			"groupId":              g.ID,
			"name":                 g.Name,
			"pickupLocation":       g.PickupLocation,
			"confirmationDeadline": g.ConfirmationDeadline,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.GroupTransition(string(model.GroupStatusForming))
	g.Members = []model.GroupMembership{membership}
	return g, nil
}

// GetGroup возвращает группу вместе с участниками.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*model.BuyingGroup, error) {
	var g *model.BuyingGroup
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		g, err = tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		g.Members, err = tx.ListMembers(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// JoinGroup добавляет покупателя в группу. Проверки выполняются в порядке: существование,
// статус, повторное вступление, вместимость, срок.
func (s *Service) JoinGroup(ctx context.Context, groupID, buyerID string) (*model.GroupMembership, error) {
	var membership model.GroupMembership

	err := s.run(ctx, []string{lock.GroupKey(groupID)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		buyer, err := tx.GetBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		if g.Status != model.GroupStatusForming {
			return fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, groupID, g.Status)
		}

		members, err := tx.ListMembers(ctx, groupID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.BuyerID == buyerID {
				return fmt.Errorf("%w: buyer %s in group %s", apperrors.ErrDuplicateMembership, buyerID, groupID)
			}
		}
		if len(members) >= g.MaxMembers {
			return fmt.Errorf("%w: %d of %d", apperrors.ErrFull, len(members), g.MaxMembers)
		}

		now := s.now()
		if now.After(g.ConfirmationDeadline) {
			return fmt.Errorf("%w: group %s closed at %s", apperrors.ErrDeadlinePassed, groupID, g.ConfirmationDeadline.Format(time.RFC3339))
		}

		membership = model.GroupMembership{GroupID: groupID, BuyerID: buyerID, IsConfirmed: true, JoinedAt: now}
		if err := tx.AddMember(ctx, membership); err != nil {
			return err
		}

		out.group(groupID, "member_joined", map[string]any{
			"groupId":     groupID,
			"buyerId":     buyerID,
			"buyerName":   buyer.Name,
			"memberCount": len(members) + 1,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// LeaveGroup удаляет покупателя из формирующейся группы и отменяет его ожидающие заказы в ней.
// Если участников становится меньше минимума, группа отменяется.
func (s *Service) LeaveGroup(ctx context.Context, groupID, buyerID string) (*model.BuyingGroup, error) {
	var g *model.BuyingGroup

	err := s.run(ctx, []string{lock.GroupKey(groupID)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		var err error
		g, err = tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}

		members, err := tx.ListMembers(ctx, groupID)
		if err != nil {
			return err
		}
		if !hasMember(members, buyerID) {
			return fmt.Errorf("%w: buyer %s is not a member of group %s", apperrors.ErrNotFound, buyerID, groupID)
		}
		if g.Status != model.GroupStatusForming {
			return fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, groupID, g.Status)
		}

		if _, err := tx.RemoveMember(ctx, groupID, buyerID); err != nil {
			return err
		}
		remaining, err := tx.CountMembers(ctx, groupID)
		if err != nil {
			return err
		}

		orders, err := tx.ListOrdersByGroup(ctx, groupID)
		if err != nil {
			return err
		}

		if remaining < g.MinMembers {
			if err := s.cancelOrdersTx(ctx, tx, pendingOrders(orders, "")); err != nil {
				return err
			}
			g.Status = model.GroupStatusCancelled
			g.TotalValue = decimal.Zero
			g.EstimatedSavings = decimal.Zero
			if err := tx.UpdateGroup(ctx, g); err != nil {
				return err
			}
			out.group(groupID, "group_cancelled", map[string]any{
				"groupId":     groupID,
				"reason":      "not enough members",
				"memberCount": remaining,
			})
			return nil
		}

		if err := s.cancelOrdersTx(ctx, tx, pendingOrders(orders, buyerID)); err != nil {
			return err
		}
		out.group(groupID, "member_left", map[string]any{
			"groupId":     groupID,
			"buyerId":     buyerID,
			"memberCount": remaining,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.Status == model.GroupStatusCancelled {
		s.metrics.GroupTransition(string(model.GroupStatusCancelled))
	}
	return g, nil
}

// ConfirmGroup закрывает набор участников, фиксирует сумму заказов и открывает группу для торгов.
func (s *Service) ConfirmGroup(ctx context.Context, groupID string) (*model.BuyingGroup, error) {
	var g *model.BuyingGroup

	err := s.run(ctx, []string{lock.GroupKey(groupID)}, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		var err error
		g, err = tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if g.Status != model.GroupStatusForming {
			return fmt.Errorf("%w: group %s is %s", apperrors.ErrInvalidState, groupID, g.Status)
		}

		g.Members, err = tx.ListMembers(ctx, groupID)
		if err != nil {
			return err
		}
		if len(g.Members) < g.MinMembers {
			return fmt.Errorf("%w: %d of %d", apperrors.ErrInsufficientMembers, len(g.Members), g.MinMembers)
		}

		orders, err := tx.ListOrdersByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, o := range orders {
			if o.Status != model.OrderStatusCancelled {
				total = total.Add(o.TotalAmount)
			}
		}

		g.TotalValue = model.RoundMoney(total)
		g.EstimatedSavings = model.RoundMoney(total.Mul(savingsRate))
		g.Status = model.GroupStatusConfirmed
		if err := tx.UpdateGroup(ctx, g); err != nil {
			return err
		}

		out.broadcast("group_ready_for_bids", map[string]any{
			"groupId":        g.ID,
			"name":           g.Name,
			"pickupLocation": g.PickupLocation,
			"totalValue":     g.TotalValue,
			"memberCount":    len(g.Members),
		})
		out.group(groupID, "group_confirmed", map[string]any{
			"groupId":          g.ID,
			"totalValue":       g.TotalValue,
			"estimatedSavings": g.EstimatedSavings,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.GroupTransition(string(model.GroupStatusConfirmed))
	return g, nil
}

// Suggestions подбирает открытые группы, в которых покупатель ещё не состоит.
// Если задан center, остаются группы в пределах radiusKm (по умолчанию 5 км).
func (s *Service) Suggestions(ctx context.Context, buyerID string, center *model.Coordinates, radiusKm float64) ([]Suggestion, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if center != nil && !validation.IsValidCoordinates(*center) {
		return nil, fmt.Errorf("%w: coordinates out of range", apperrors.ErrInvalidInput)
	}

	now := s.now()
	var res []Suggestion

	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetBuyer(ctx, buyerID); err != nil {
			return err
		}

		joined, err := tx.ListGroupIDsByMember(ctx, buyerID)
		if err != nil {
			return err
		}
		member := make(map[string]bool, len(joined))
		for _, id := range joined {
			member[id] = true
		}

		groups, err := tx.ListGroupsByStatus(ctx, model.GroupStatusForming)
		if err != nil {
			return err
		}

		res = res[:0]
		for _, g := range groups {
			if member[g.ID] || !g.IsOpen(now) {
				continue
			}

			var distance float64
			if center != nil {
				distance = geo.DistanceKm(*center, g.Location)
				if distance > radiusKm {
					continue
				}
			}

			count, err := tx.CountMembers(ctx, g.ID)
			if err != nil {
				return err
			}
			res = append(res, Suggestion{Group: g, DistanceKm: distance, MemberCount: count})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].DistanceKm != res[j].DistanceKm {
			return res[i].DistanceKm < res[j].DistanceKm
		}
		return res[i].Group.ConfirmationDeadline.Before(res[j].Group.ConfirmationDeadline)
	})
	return res, nil
}

// Consolidate сводит заказы группы по товарам.
func (s *Service) Consolidate(ctx context.Context, groupID string) (*model.ConsolidatedOrder, error) {
	var c model.ConsolidatedOrder

	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return err
		}
		orders, err := tx.ListOrdersByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		products, err := productIndex(ctx, tx)
		if err != nil {
			return err
		}
		c = consolidation.Consolidate(groupID, orders, products)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func productIndex(ctx context.Context, tx repository.Tx) (map[string]model.Product, error) {
	products, err := tx.ListProducts(ctx, "")
	if err != nil {
		return nil, err
	}
	idx := make(map[string]model.Product, len(products))
	for _, p := range products {
		idx[p.ID] = p
	}
	return idx, nil
}

func hasMember(members []model.GroupMembership, buyerID string) bool {
	for _, m := range members {
		if m.BuyerID == buyerID {
			return true
		}
	}
	return false
}

// pendingOrders отбирает ожидающие заказы. Непустой buyerID оставляет только заказы этого покупателя.
func pendingOrders(orders []model.Order, buyerID string) []model.Order {
	var res []model.Order
	for _, o := range orders {
		if o.Status != model.OrderStatusPending {
			continue
		}
		if buyerID != "" && o.BuyerID != buyerID {
			continue
		}
		res = append(res, o)
	}
	return res
}

func containsFold(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
