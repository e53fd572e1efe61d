// Package model содержит доменные сущности сервиса совместных закупок.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Buyer представляет покупателя, участвующего в групповых закупках.
type Buyer struct {
	ID              string
	Name            string
	Phone           string
	PasswordHash    []byte
	Area            string
	Location        Coordinates
	TrustScore      int
	AvailableCredit decimal.Decimal
	UsedCredit      decimal.Decimal
	TotalSavings    decimal.Decimal
	CreatedAt       time.Time
}

// RemainingCredit возвращает неиспользованный остаток кредитного лимита.
func (b *Buyer) RemainingCredit() decimal.Decimal {
	return b.AvailableCredit.Sub(b.UsedCredit)
}

// Supplier представляет поставщика, делающего предложения по заказам.
type Supplier struct {
	ID            string
	Name          string
	Phone         string
	PasswordHash  []byte
	DeliveryAreas []string
	Categories    []string
	Rating        decimal.Decimal
	TotalOrders   int
	Location      Coordinates
	CreatedAt     time.Time
}

// ServesArea сообщает, доставляет ли поставщик в указанный район.
// Пустой список районов означает отсутствие ограничений.
func (s *Supplier) ServesArea(area string) bool {
	if len(s.DeliveryAreas) == 0 {
		return true
	}
	return containsFold(s.DeliveryAreas, area)
}

// HandlesCategory сообщает, работает ли поставщик с категорией товаров.
func (s *Supplier) HandlesCategory(category string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	return containsFold(s.Categories, category)
}

// Product описывает позицию каталога.
type Product struct {
	ID          string
	Name        string
	Category    string
	Unit        string
	MarketPrice decimal.Decimal
	CreatedAt   time.Time
}

// Coordinates задаёт географическую точку в градусах.
type Coordinates struct {
	Lat float64
	Lon float64
}

// GroupStatus описывает стадию жизненного цикла группы.
type GroupStatus string

const (
	GroupStatusForming   GroupStatus = "FORMING"
	GroupStatusConfirmed GroupStatus = "CONFIRMED"
	GroupStatusOrdered   GroupStatus = "ORDERED"
	GroupStatusCancelled GroupStatus = "CANCELLED"
)

// BuyingGroup описывает группу покупателей, объединяющих заказы.
type BuyingGroup struct {
	ID                   string
	Name                 string
	CreatedBy            string
	PickupLocation       string
	Location             Coordinates
	TargetPickupTime     time.Time
	ConfirmationDeadline time.Time
	MinMembers           int
	MaxMembers           int
	Status               GroupStatus
	TotalValue           decimal.Decimal
	EstimatedSavings     decimal.Decimal
	CreatedAt            time.Time

	Members []GroupMembership
}

// IsOpen сообщает, принимает ли группа новых участников в момент now.
func (g *BuyingGroup) IsOpen(now time.Time) bool {
	return g.Status == GroupStatusForming && now.Before(g.ConfirmationDeadline)
}

// GroupMembership связывает покупателя с группой.
type GroupMembership struct {
	GroupID     string
	BuyerID     string
	IsConfirmed bool
	JoinedAt    time.Time
}

// OrderType различает индивидуальные и групповые заказы.
type OrderType string

const (
	OrderTypeIndividual OrderType = "INDIVIDUAL"
	OrderTypeGroup      OrderType = "GROUP"
)

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusDispatched OrderStatus = "DISPATCHED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusDispatched, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDispatched: {OrderStatusDelivered},
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в статус to.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentMethod задаёт способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodUPI      PaymentMethod = "UPI"
	PaymentMethodPayLater PaymentMethod = "PAY_LATER"
)

// Valid проверяет, что способ оплаты известен.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodUPI, PaymentMethodPayLater:
		return true
	}
	return false
}

// Order описывает заказ покупателя.
type Order struct {
	ID            string
	BuyerID       string
	GroupID       string
	OrderType     OrderType
	Status        OrderStatus
	TotalAmount   decimal.Decimal
	PaymentMethod PaymentMethod
	SupplierID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Items []OrderItem
}

// InGroup сообщает, относится ли заказ к группе.
func (o *Order) InGroup() bool {
	return o.GroupID != ""
}

// OrderItem описывает строку заказа.
type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	Quantity     decimal.Decimal
	Unit         string
	PricePerUnit decimal.Decimal
	TotalPrice   decimal.Decimal
}

// NewOrderItem создаёт строку заказа и вычисляет её стоимость.
func NewOrderItem(id, orderID, productID, unit string, quantity, price decimal.Decimal) OrderItem {
	return OrderItem{
		ID:           id,
		OrderID:      orderID,
		ProductID:    productID,
		Quantity:     quantity,
		Unit:         unit,
		PricePerUnit: price,
		TotalPrice:   RoundMoney(quantity.Mul(price)),
	}
}

// Payment описывает платёж покупателя.
type Payment struct {
	ID        string
	BuyerID   string
	OrderID   string
	Amount    decimal.Decimal
	Type      PaymentType
	Method    PaymentMethod
	Status    PaymentStatus
	DueDate   *time.Time
	PaidAt    *time.Time
	CreatedAt time.Time
}

// PaymentType различает оплату заказа и погашение кредита.
type PaymentType string

const (
	PaymentTypeOrder           PaymentType = "ORDER_PAYMENT"
	PaymentTypeCreditRepayment PaymentType = "CREDIT_REPAYMENT"
)

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// RoundMoney округляет денежную сумму до копеек.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
