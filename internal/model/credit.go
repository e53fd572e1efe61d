package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditTransactionType описывает вид операции по кредитной линии.
type CreditTransactionType string

const (
	CreditUsed          CreditTransactionType = "CREDIT_USED"
	CreditRepaid        CreditTransactionType = "CREDIT_REPAID"
	CreditLimitIncrease CreditTransactionType = "CREDIT_LIMIT_INCREASE"
)

// CreditTransactionStatus описывает состояние операции по кредитной линии.
type CreditTransactionStatus string

const (
	CreditStatusActive  CreditTransactionStatus = "ACTIVE"
	CreditStatusPaid    CreditTransactionStatus = "PAID"
	CreditStatusOverdue CreditTransactionStatus = "OVERDUE"
)

// CreditTransaction представляет запись журнала кредитных операций покупателя.
type CreditTransaction struct {
	ID          string
	BuyerID     string
	OrderID     string
	Amount      decimal.Decimal
	Type        CreditTransactionType
	Status      CreditTransactionStatus
	Description string
	DueDate     *time.Time
	PaidAt      *time.Time
	CreatedAt   time.Time
}

// IsOverdue сообщает, просрочена ли операция к моменту now.
func (t *CreditTransaction) IsOverdue(now time.Time) bool {
	return t.Status == CreditStatusOverdue && t.DueDate != nil && t.DueDate.Before(now)
}

// CreditStatus содержит сводку по кредитной линии покупателя.
type CreditStatus struct {
	AvailableCredit    decimal.Decimal
	UsedCredit         decimal.Decimal
	RemainingCredit    decimal.Decimal
	TrustScore         int
	RecentTransactions []CreditTransaction
	Overdue            []CreditTransaction
	OverdueAmount      decimal.Decimal
	UtilizationRatio   decimal.Decimal
}

// CreditIncreaseDecision содержит результат рассмотрения заявки на увеличение лимита.
type CreditIncreaseDecision struct {
	Approved        bool
	RequestedAmount decimal.Decimal
	ApprovedAmount  decimal.Decimal
	NewLimit        decimal.Decimal
	Reason          string
}

// Repayment содержит результат погашения задолженности.
type Repayment struct {
	Payment        Payment
	Transaction    CreditTransaction
	UsedCredit     decimal.Decimal
	SettledCharges []string
}
