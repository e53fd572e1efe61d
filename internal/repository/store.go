package repository

import (
	"context"
	"time"

	"github.com/mmeshcher/groupbuy/internal/model"
)

// Store предоставляет транзакционный доступ к хранилищу.
type Store interface {
	// WithTx выполняет fn в одной транзакции. Ошибка fn откатывает все изменения.
	// fn может быть вызвана повторно при конфликте сериализации, поэтому не должна
	// иметь побочных эффектов вне tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx описывает операции над агрегатами внутри транзакции.
// Методы Lock* блокируют строку до конца транзакции.
// Отсутствующие сущности возвращают apperrors.ErrNotFound.
type Tx interface {
	CreateBuyer(ctx context.Context, b *model.Buyer) error
	GetBuyer(ctx context.Context, id string) (*model.Buyer, error)
	LockBuyer(ctx context.Context, id string) (*model.Buyer, error)
	GetBuyerByPhone(ctx context.Context, phone string) (*model.Buyer, error)
	UpdateBuyer(ctx context.Context, b *model.Buyer) error

	CreateSupplier(ctx context.Context, s *model.Supplier) error
	GetSupplier(ctx context.Context, id string) (*model.Supplier, error)
	GetSupplierByPhone(ctx context.Context, phone string) (*model.Supplier, error)
	IncrementSupplierOrders(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, category string) ([]model.Product, error)

	CreateGroup(ctx context.Context, g *model.BuyingGroup) error
	GetGroup(ctx context.Context, id string) (*model.BuyingGroup, error)
	LockGroup(ctx context.Context, id string) (*model.BuyingGroup, error)
	UpdateGroup(ctx context.Context, g *model.BuyingGroup) error
	ListGroupsByStatus(ctx context.Context, status model.GroupStatus) ([]model.BuyingGroup, error)

	AddMember(ctx context.Context, m model.GroupMembership) error
	RemoveMember(ctx context.Context, groupID, buyerID string) (bool, error)
	ListMembers(ctx context.Context, groupID string) ([]model.GroupMembership, error)
	CountMembers(ctx context.Context, groupID string) (int, error)
	ListGroupIDsByMember(ctx context.Context, buyerID string) ([]string, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	AddOrderItems(ctx context.Context, orderID string, items []model.OrderItem) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	LockOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	ListOrdersByGroup(ctx context.Context, groupID string) ([]model.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]model.Order, error)
	ListIndividualOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error)

	CreateBid(ctx context.Context, b *model.Bid) error
	GetBid(ctx context.Context, id string) (*model.Bid, error)
	LockBid(ctx context.Context, id string) (*model.Bid, error)
	UpdateBidStatus(ctx context.Context, id string, status model.BidStatus) error
	ListBidsByTarget(ctx context.Context, target model.BidTarget) ([]model.Bid, error)
	ListBidsBySupplier(ctx context.Context, supplierID string) ([]model.Bid, error)
	SupplierHasBid(ctx context.Context, supplierID string, target model.BidTarget) (bool, error)

	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPendingOrderPayment(ctx context.Context, orderID string) (*model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment) error

	CreateCreditTransaction(ctx context.Context, t *model.CreditTransaction) error
	GetCreditUsage(ctx context.Context, orderID string) (*model.CreditTransaction, error)
	UpdateCreditTransaction(ctx context.Context, t *model.CreditTransaction) error
	ListCreditTransactions(ctx context.Context, buyerID string, limit int) ([]model.CreditTransaction, error)
	MarkOverdue(ctx context.Context, buyerID string, now time.Time) (int64, error)
}
