// Package credit содержит правила кредитной линии покупателя: скоринг заявок на увеличение
// лимита, расчёт загрузки и распределение погашения по задолженностям.
package credit

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/model"
)

const (
	// Term задаёт срок кредита по заказу с оплатой позже.
	Term = 30 * 24 * time.Hour

	// HighTrustScore задаёт порог доверия для одобрения полной суммы.
	HighTrustScore = 80
	// MediumTrustScore задаёт порог доверия для частичного одобрения.
	MediumTrustScore = 60
	// MaxTrustScore ограничивает рейтинг доверия сверху.
	MaxTrustScore = 100
)

var (
	mediumTrustShare = decimal.NewFromFloat(0.5)
	hundred          = decimal.NewFromInt(100)
)

// DecideIncrease рассматривает заявку на увеличение лимита по рейтингу доверия:
// при рейтинге от 80 одобряется вся сумма, от 60 не более половины текущего лимита.
// Заявки с меньшим рейтингом отклоняются.
func DecideIncrease(trustScore int, available, requested decimal.Decimal) model.CreditIncreaseDecision {
	d := model.CreditIncreaseDecision{
		RequestedAmount: requested,
		ApprovedAmount:  decimal.Zero,
		NewLimit:        available,
	}

	switch {
	case trustScore >= HighTrustScore:
		d.ApprovedAmount = requested
		d.Reason = "approved in full"
	case trustScore >= MediumTrustScore:
		d.ApprovedAmount = decimal.Min(requested, model.RoundMoney(available.Mul(mediumTrustShare)))
		d.Reason = "partially approved: limited to 50% of current limit"
	default:
		d.Reason = "rejected: trust score below 60"
		return d
	}

	d.Approved = d.ApprovedAmount.IsPositive()
	d.NewLimit = available.Add(d.ApprovedAmount)
	return d
}

// UtilizationRatio возвращает долю использованного лимита в процентах.
func UtilizationRatio(used, available decimal.Decimal) decimal.Decimal {
	if available.IsZero() {
		return decimal.Zero
	}
	return used.Div(available).Mul(hundred).Round(2)
}

// AllocateRepayment распределяет сумму погашения по задолженностям и возвращает
// идентификаторы полностью покрытых операций. Сначала гасятся просроченные, затем
// активные. Внутри каждой группы первыми идут операции с самым ранним сроком.
func AllocateRepayment(amount decimal.Decimal, charges []model.CreditTransaction) []string {
	outstanding := make([]model.CreditTransaction, 0, len(charges))
	for _, c := range charges {
		if c.Type != model.CreditUsed {
			continue
		}
		if c.Status != model.CreditStatusOverdue && c.Status != model.CreditStatusActive {
			continue
		}
		outstanding = append(outstanding, c)
	}

	sort.SliceStable(outstanding, func(i, j int) bool {
		a, b := outstanding[i], outstanding[j]
		if a.Status != b.Status {
			return a.Status == model.CreditStatusOverdue
		}
		if !dueEqual(a.DueDate, b.DueDate) {
			return dueBefore(a.DueDate, b.DueDate)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	var settled []string
	remaining := amount
	for _, c := range outstanding {
		if c.Amount.GreaterThan(remaining) {
			continue
		}
		remaining = remaining.Sub(c.Amount)
		settled = append(settled, c.ID)
	}
	return settled
}

func dueEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// dueBefore упорядочивает операции без срока в конец.
func dueBefore(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}
