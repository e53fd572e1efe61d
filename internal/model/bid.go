package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus описывает статус предложения поставщика.
type BidStatus string

const (
	BidStatusPending  BidStatus = "PENDING"
	BidStatusAccepted BidStatus = "ACCEPTED"
	BidStatusRejected BidStatus = "REJECTED"
	BidStatusExpired  BidStatus = "EXPIRED"
)

// BidTargetKind различает предложения по отдельному заказу и по группе целиком.
type BidTargetKind string

const (
	BidTargetOrder BidTargetKind = "ORDER"
	BidTargetGroup BidTargetKind = "GROUP"
)

// BidTarget указывает, на что сделано предложение: заказ или подтверждённая группа.
type BidTarget struct {
	Kind BidTargetKind
	ID   string
}

// OrderTarget возвращает цель предложения для отдельного заказа.
func OrderTarget(orderID string) BidTarget {
	return BidTarget{Kind: BidTargetOrder, ID: orderID}
}

// GroupTarget возвращает цель предложения для группы.
func GroupTarget(groupID string) BidTarget {
	return BidTarget{Kind: BidTargetGroup, ID: groupID}
}

// IsGroup сообщает, что предложение адресовано группе.
func (t BidTarget) IsGroup() bool {
	return t.Kind == BidTargetGroup
}

// String возвращает ключ цели вида "order:<id>" или "group:<id>".
func (t BidTarget) String() string {
	return strings.ToLower(string(t.Kind)) + ":" + t.ID
}

// Bid описывает предложение поставщика.
type Bid struct {
	ID           string
	SupplierID   string
	Target       BidTarget
	TotalAmount  decimal.Decimal
	Message      string
	DeliveryTime time.Time
	ValidUntil   time.Time
	Status       BidStatus
	CreatedAt    time.Time
}

// IsExpired сообщает, что ожидающее предложение истекло к моменту now.
// Истечение вычисляется при чтении, фоновой задачи для него нет.
func IsExpired(b *Bid, now time.Time) bool {
	return b.Status == BidStatusPending && now.After(b.ValidUntil)
}

// EffectiveStatus возвращает статус предложения с учётом истечения срока.
func (b *Bid) EffectiveStatus(now time.Time) BidStatus {
	if IsExpired(b, now) {
		return BidStatusExpired
	}
	return b.Status
}

func containsFold(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
