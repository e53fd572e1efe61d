package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

// MemoryRepository реализует потокобезопасное хранилище в памяти.
// Транзакции сериализуются общей блокировкой и работают над копией состояния,
// которая публикуется только при успешном завершении.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	buyers      map[string]model.Buyer
	suppliers   map[string]model.Supplier
	products    map[string]model.Product
	groups      map[string]model.BuyingGroup
	members     map[string][]model.GroupMembership // key: groupID
	orders      map[string]model.Order
	orderItems  map[string][]model.OrderItem // key: orderID
	bids        map[string]model.Bid
	payments    map[string]model.Payment
	creditTx    map[string]model.CreditTransaction
	creditOrder []string // порядок вставки операций
}

var _ Store = (*MemoryRepository)(nil)

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			buyers:     make(map[string]model.Buyer),
			suppliers:  make(map[string]model.Supplier),
			products:   make(map[string]model.Product),
			groups:     make(map[string]model.BuyingGroup),
			members:    make(map[string][]model.GroupMembership),
			orders:     make(map[string]model.Order),
			orderItems: make(map[string][]model.OrderItem),
			bids:       make(map[string]model.Bid),
			payments:   make(map[string]model.Payment),
			creditTx:   make(map[string]model.CreditTransaction),
		},
	}
}

// WithTx выполняет fn над копией состояния и применяет её, если fn завершилась без ошибки.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := r.state.clone()
	if err := fn(ctx, &memTx{st: draft}); err != nil {
		return err
	}
	r.state = draft
	return nil
}

// Close ничего не делает и нужен для совместимости с Store.
func (r *MemoryRepository) Close() error {
	return nil
}

// Записи в картах не изменяются на месте, поэтому достаточно поверхностной копии.
func (s *memState) clone() *memState {
	c := &memState{
		buyers:      make(map[string]model.Buyer, len(s.buyers)),
		suppliers:   make(map[string]model.Supplier, len(s.suppliers)),
		products:    make(map[string]model.Product, len(s.products)),
		groups:      make(map[string]model.BuyingGroup, len(s.groups)),
		members:     make(map[string][]model.GroupMembership, len(s.members)),
		orders:      make(map[string]model.Order, len(s.orders)),
		orderItems:  make(map[string][]model.OrderItem, len(s.orderItems)),
		bids:        make(map[string]model.Bid, len(s.bids)),
		payments:    make(map[string]model.Payment, len(s.payments)),
		creditTx:    make(map[string]model.CreditTransaction, len(s.creditTx)),
		creditOrder: append([]string(nil), s.creditOrder...),
	}
	for k, v := range s.buyers {
		c.buyers[k] = v
	}
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.creditTx {
		c.creditTx[k] = v
	}
	return c
}

type memTx struct {
	st *memState
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", apperrors.ErrNotFound, kind, id)
}

func (t *memTx) CreateBuyer(ctx context.Context, b *model.Buyer) error {
	for _, existing := range t.st.buyers {
		if existing.Phone == b.Phone {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicatePhone, b.Phone)
		}
	}
	t.st.buyers[b.ID] = *b
	return nil
}

func (t *memTx) GetBuyer(ctx context.Context, id string) (*model.Buyer, error) {
	b, ok := t.st.buyers[id]
	if !ok {
		return nil, notFound("buyer", id)
	}
	return &b, nil
}

func (t *memTx) LockBuyer(ctx context.Context, id string) (*model.Buyer, error) {
	return t.GetBuyer(ctx, id)
}

func (t *memTx) GetBuyerByPhone(ctx context.Context, phone string) (*model.Buyer, error) {
	for _, b := range t.st.buyers {
		if b.Phone == phone {
			return &b, nil
		}
	}
	return nil, notFound("buyer with phone", phone)
}

func (t *memTx) UpdateBuyer(ctx context.Context, b *model.Buyer) error {
	if _, ok := t.st.buyers[b.ID]; !ok {
		return notFound("buyer", b.ID)
	}
	t.st.buyers[b.ID] = *b
	return nil
}

func (t *memTx) CreateSupplier(ctx context.Context, s *model.Supplier) error {
	for _, existing := range t.st.suppliers {
		if existing.Phone == s.Phone {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicatePhone, s.Phone)
		}
	}
	c := *s
	c.DeliveryAreas = append([]string(nil), s.DeliveryAreas...)
	c.Categories = append([]string(nil), s.Categories...)
	t.st.suppliers[s.ID] = c
	return nil
}

func (t *memTx) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	s, ok := t.st.suppliers[id]
	if !ok {
		return nil, notFound("supplier", id)
	}
	return copySupplier(s), nil
}

func (t *memTx) GetSupplierByPhone(ctx context.Context, phone string) (*model.Supplier, error) {
	for _, s := range t.st.suppliers {
		if s.Phone == phone {
			return copySupplier(s), nil
		}
	}
	return nil, notFound("supplier with phone", phone)
}

func copySupplier(s model.Supplier) *model.Supplier {
	s.DeliveryAreas = append([]string(nil), s.DeliveryAreas...)
	s.Categories = append([]string(nil), s.Categories...)
	return &s
}

func (t *memTx) IncrementSupplierOrders(ctx context.Context, id string) error {
	s, ok := t.st.suppliers[id]
	if !ok {
		return notFound("supplier", id)
	}
	s.TotalOrders++
	t.st.suppliers[id] = s
	return nil
}

func (t *memTx) CreateProduct(ctx context.Context, p *model.Product) error {
	t.st.products[p.ID] = *p
	return nil
}

func (t *memTx) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	return &p, nil
}

func (t *memTx) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	var res []model.Product
	for _, p := range t.st.products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (t *memTx) CreateGroup(ctx context.Context, g *model.BuyingGroup) error {
	c := *g
	c.Members = nil
	t.st.groups[g.ID] = c
	return nil
}

func (t *memTx) GetGroup(ctx context.Context, id string) (*model.BuyingGroup, error) {
	g, ok := t.st.groups[id]
	if !ok {
		return nil, notFound("group", id)
	}
	return &g, nil
}

func (t *memTx) LockGroup(ctx context.Context, id string) (*model.BuyingGroup, error) {
	return t.GetGroup(ctx, id)
}

func (t *memTx) UpdateGroup(ctx context.Context, g *model.BuyingGroup) error {
	if _, ok := t.st.groups[g.ID]; !ok {
		return notFound("group", g.ID)
	}
	c := *g
	c.Members = nil
	t.st.groups[g.ID] = c
	return nil
}

func (t *memTx) ListGroupsByStatus(ctx context.Context, status model.GroupStatus) ([]model.BuyingGroup, error) {
	var res []model.BuyingGroup
	for _, g := range t.st.groups {
		if g.Status == status {
			res = append(res, g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (t *memTx) AddMember(ctx context.Context, m model.GroupMembership) error {
	if _, ok := t.st.groups[m.GroupID]; !ok {
		return notFound("group", m.GroupID)
	}
	current := t.st.members[m.GroupID]
	for _, existing := range current {
		if existing.BuyerID == m.BuyerID {
			return fmt.Errorf("%w: buyer %s in group %s", apperrors.ErrDuplicateMembership, m.BuyerID, m.GroupID)
		}
	}
	next := make([]model.GroupMembership, 0, len(current)+1)
	next = append(next, current...)
	t.st.members[m.GroupID] = append(next, m)
	return nil
}

func (t *memTx) RemoveMember(ctx context.Context, groupID, buyerID string) (bool, error) {
	current := t.st.members[groupID]
	next := make([]model.GroupMembership, 0, len(current))
	removed := false
	for _, m := range current {
		if m.BuyerID == buyerID {
			removed = true
			continue
		}
		next = append(next, m)
	}
	t.st.members[groupID] = next
	return removed, nil
}

func (t *memTx) ListMembers(ctx context.Context, groupID string) ([]model.GroupMembership, error) {
	return append([]model.GroupMembership(nil), t.st.members[groupID]...), nil
}

func (t *memTx) CountMembers(ctx context.Context, groupID string) (int, error) {
	return len(t.st.members[groupID]), nil
}

func (t *memTx) ListGroupIDsByMember(ctx context.Context, buyerID string) ([]string, error) {
	var res []string
	for groupID, members := range t.st.members {
		for _, m := range members {
			if m.BuyerID == buyerID {
				res = append(res, groupID)
				break
			}
		}
	}
	sort.Strings(res)
	return res, nil
}

func (t *memTx) CreateOrder(ctx context.Context, o *model.Order) error {
	c := *o
	c.Items = nil
	t.st.orders[o.ID] = c
	t.st.orderItems[o.ID] = append([]model.OrderItem(nil), o.Items...)
	return nil
}

func (t *memTx) AddOrderItems(ctx context.Context, orderID string, items []model.OrderItem) error {
	if _, ok := t.st.orders[orderID]; !ok {
		return notFound("order", orderID)
	}
	current := t.st.orderItems[orderID]
	next := make([]model.OrderItem, 0, len(current)+len(items))
	next = append(next, current...)
	t.st.orderItems[orderID] = append(next, items...)
	return nil
}

func (t *memTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	o.Items = append([]model.OrderItem(nil), t.st.orderItems[id]...)
	return &o, nil
}

func (t *memTx) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return notFound("order", o.ID)
	}
	c := *o
	c.Items = nil
	t.st.orders[o.ID] = c
	return nil
}

func (t *memTx) listOrders(match func(o model.Order) bool) []model.Order {
	var res []model.Order
	for id, o := range t.st.orders {
		if !match(o) {
			continue
		}
		o.Items = append([]model.OrderItem(nil), t.st.orderItems[id]...)
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (t *memTx) ListOrdersByGroup(ctx context.Context, groupID string) ([]model.Order, error) {
	return t.listOrders(func(o model.Order) bool { return o.GroupID == groupID }), nil
}

func (t *memTx) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]model.Order, error) {
	return t.listOrders(func(o model.Order) bool { return o.BuyerID == buyerID }), nil
}

func (t *memTx) ListIndividualOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return t.listOrders(func(o model.Order) bool {
		return o.OrderType == model.OrderTypeIndividual && o.Status == status
	}), nil
}

func (t *memTx) CreateBid(ctx context.Context, b *model.Bid) error {
	for _, existing := range t.st.bids {
		if existing.SupplierID == b.SupplierID && existing.Target == b.Target {
			return fmt.Errorf("%w: supplier %s on %s", apperrors.ErrDuplicateBid, b.SupplierID, b.Target)
		}
	}
	t.st.bids[b.ID] = *b
	return nil
}

func (t *memTx) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	b, ok := t.st.bids[id]
	if !ok {
		return nil, notFound("bid", id)
	}
	return &b, nil
}

func (t *memTx) LockBid(ctx context.Context, id string) (*model.Bid, error) {
	return t.GetBid(ctx, id)
}

func (t *memTx) UpdateBidStatus(ctx context.Context, id string, status model.BidStatus) error {
	b, ok := t.st.bids[id]
	if !ok {
		return notFound("bid", id)
	}
	b.Status = status
	t.st.bids[id] = b
	return nil
}

func (t *memTx) listBids(match func(b model.Bid) bool) []model.Bid {
	var res []model.Bid
	for _, b := range t.st.bids {
		if match(b) {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

func (t *memTx) ListBidsByTarget(ctx context.Context, target model.BidTarget) ([]model.Bid, error) {
	return t.listBids(func(b model.Bid) bool { return b.Target == target }), nil
}

func (t *memTx) ListBidsBySupplier(ctx context.Context, supplierID string) ([]model.Bid, error) {
	return t.listBids(func(b model.Bid) bool { return b.SupplierID == supplierID }), nil
}

func (t *memTx) SupplierHasBid(ctx context.Context, supplierID string, target model.BidTarget) (bool, error) {
	for _, b := range t.st.bids {
		if b.SupplierID == supplierID && b.Target == target {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	t.st.payments[p.ID] = *p
	return nil
}

func (t *memTx) GetPendingOrderPayment(ctx context.Context, orderID string) (*model.Payment, error) {
	var found *model.Payment
	for _, p := range t.st.payments {
		if p.OrderID != orderID || p.Type != model.PaymentTypeOrder || p.Status != model.PaymentStatusPending {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			c := p
			found = &c
		}
	}
	if found == nil {
		return nil, notFound("pending payment for order", orderID)
	}
	return found, nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return notFound("payment", p.ID)
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *memTx) CreateCreditTransaction(ctx context.Context, ct *model.CreditTransaction) error {
	t.st.creditTx[ct.ID] = *ct
	t.st.creditOrder = append(t.st.creditOrder, ct.ID)
	return nil
}

func (t *memTx) GetCreditUsage(ctx context.Context, orderID string) (*model.CreditTransaction, error) {
	for i := len(t.st.creditOrder) - 1; i >= 0; i-- {
		ct := t.st.creditTx[t.st.creditOrder[i]]
		if ct.OrderID == orderID && ct.Type == model.CreditUsed {
			return &ct, nil
		}
	}
	return nil, notFound("credit usage for order", orderID)
}

func (t *memTx) UpdateCreditTransaction(ctx context.Context, ct *model.CreditTransaction) error {
	if _, ok := t.st.creditTx[ct.ID]; !ok {
		return notFound("credit transaction", ct.ID)
	}
	t.st.creditTx[ct.ID] = *ct
	return nil
}

// ListCreditTransactions возвращает операции покупателя от новых к старым.
func (t *memTx) ListCreditTransactions(ctx context.Context, buyerID string, limit int) ([]model.CreditTransaction, error) {
	var res []model.CreditTransaction
	for i := len(t.st.creditOrder) - 1; i >= 0; i-- {
		ct := t.st.creditTx[t.st.creditOrder[i]]
		if ct.BuyerID != buyerID {
			continue
		}
		res = append(res, ct)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (t *memTx) MarkOverdue(ctx context.Context, buyerID string, now time.Time) (int64, error) {
	var n int64
	for id, ct := range t.st.creditTx {
		if buyerID != "" && ct.BuyerID != buyerID {
			continue
		}
		if ct.Type != model.CreditUsed || ct.Status != model.CreditStatusActive {
			continue
		}
		if ct.DueDate == nil || !ct.DueDate.Before(now) {
			continue
		}
		ct.Status = model.CreditStatusOverdue
		t.st.creditTx[id] = ct
		n++
	}
	return n, nil
}
