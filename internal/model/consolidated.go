package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contribution описывает долю одного покупателя в сводной позиции.
type Contribution struct {
	BuyerID  string
	OrderID  string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// ConsolidatedItem описывает суммарный спрос группы по товару и единице измерения.
type ConsolidatedItem struct {
	ProductID     string
	ProductName   string
	Category      string
	Unit          string
	TotalQuantity decimal.Decimal
	TotalPrice    decimal.Decimal
	Contributions []Contribution
}

// ConsolidatedOrder представляет сводный заказ группы, который видят поставщики.
type ConsolidatedOrder struct {
	GroupID    string
	Items      []ConsolidatedItem
	TotalValue decimal.Decimal
}

// AvailableTarget описывает заказ или группу, доступные поставщику для предложения.
type AvailableTarget struct {
	Target      BidTarget
	Name        string
	Area        string
	Categories  []string
	TotalValue  decimal.Decimal
	MemberCount int
	PickupTime  time.Time
	Items       []ConsolidatedItem
}
