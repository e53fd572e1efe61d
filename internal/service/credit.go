package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/credit"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/repository"
)

// recentTransactions ограничивает число последних операций в сводке по кредиту.
const recentTransactions = 10

// CreditStatus возвращает сводку по кредитной линии покупателя.
// Просроченные активные операции предварительно помечаются OVERDUE.
func (s *Service) CreditStatus(ctx context.Context, buyerID string) (*model.CreditStatus, error) {
	var st *model.CreditStatus

	err := s.run(ctx, []string{lock.BuyerKey(buyerID)}, func(ctx context.Context, tx repository.Tx, _ *outbox) error {
		buyer, err := tx.GetBuyer(ctx, buyerID)
		if err != nil {
			return err
		}

		now := s.now()
		if _, err := tx.MarkOverdue(ctx, buyerID, now); err != nil {
			return err
		}

		recent, err := tx.ListCreditTransactions(ctx, buyerID, recentTransactions)
		if err != nil {
			return err
		}
		all, err := tx.ListCreditTransactions(ctx, buyerID, 0)
		if err != nil {
			return err
		}

		st = &model.CreditStatus{
			AvailableCredit:    buyer.AvailableCredit,
			UsedCredit:         buyer.UsedCredit,
			RemainingCredit:    buyer.RemainingCredit(),
			TrustScore:         buyer.TrustScore,
			RecentTransactions: recent,
			OverdueAmount:      decimal.Zero,
			UtilizationRatio:   credit.UtilizationRatio(buyer.UsedCredit, buyer.AvailableCredit),
		}
		for _, t := range all {
			if t.Type == model.CreditUsed && t.IsOverdue(now) {
				st.Overdue = append(st.Overdue, t)
				st.OverdueAmount = st.OverdueAmount.Add(t.Amount)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Repay погашает задолженность покупателя. Платёж подтверждается сразу, сумма
// распределяется по задолженностям: сначала просроченные, затем активные.
func (s *Service) Repay(ctx context.Context, buyerID string, amount decimal.Decimal, method model.PaymentMethod) (*model.Repayment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: repayment must be positive", apperrors.ErrInvalidAmount)
	}
	if !method.Valid() || method == model.PaymentMethodPayLater {
		return nil, fmt.Errorf("%w: repayment method %q", apperrors.ErrInvalidInput, method)
	}
	amount = model.RoundMoney(amount)

	var res *model.Repayment
	err := s.run(ctx, []string{lock.BuyerKey(buyerID)}, func(ctx context.Context, tx repository.Tx, _ *outbox) error {
		buyer, err := tx.LockBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(buyer.UsedCredit) {
			return fmt.Errorf("%w: repayment %s exceeds used credit %s",
				apperrors.ErrInvalidAmount, amount.StringFixed(2), buyer.UsedCredit.StringFixed(2))
		}

		now := s.now()
		payment := model.Payment{
			ID:        s.newID(),
			BuyerID:   buyerID,
			Amount:    amount,
			Type:      model.PaymentTypeCreditRepayment,
			Method:    method,
			Status:    model.PaymentStatusProcessing,
			CreatedAt: now,
		}
		if err := tx.CreatePayment(ctx, &payment); err != nil {
			return err
		}

		payment.Status = model.PaymentStatusCompleted
		payment.PaidAt = &now
		if err := tx.UpdatePayment(ctx, &payment); err != nil {
			return err
		}

		repaid := model.CreditTransaction{
			ID:          s.newID(),
			BuyerID:     buyerID,
			Amount:      amount,
			Type:        model.CreditRepaid,
			Status:      model.CreditStatusPaid,
			Description: "repayment " + payment.ID,
			PaidAt:      &now,
			CreatedAt:   now,
		}
		if err := tx.CreateCreditTransaction(ctx, &repaid); err != nil {
			return err
		}

		charges, err := tx.ListCreditTransactions(ctx, buyerID, 0)
		if err != nil {
			return err
		}
		settled := credit.AllocateRepayment(amount, charges)
		byID := make(map[string]model.CreditTransaction, len(charges))
		for _, c := range charges {
			byID[c.ID] = c
		}
		for _, id := range settled {
			c := byID[id]
			c.Status = model.CreditStatusPaid
			c.PaidAt = &now
			if err := tx.UpdateCreditTransaction(ctx, &c); err != nil {
				return err
			}
		}

		buyer.UsedCredit = buyer.UsedCredit.Sub(amount)
		if err := tx.UpdateBuyer(ctx, buyer); err != nil {
			return err
		}

		res = &model.Repayment{
			Payment:        payment,
			Transaction:    repaid,
			UsedCredit:     buyer.UsedCredit,
			SettledCharges: settled,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditOperation("repay")
	return res, nil
}

// RequestIncrease рассматривает заявку на увеличение кредитного лимита.
func (s *Service) RequestIncrease(ctx context.Context, buyerID string, requested decimal.Decimal, reason string) (*model.CreditIncreaseDecision, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("%w: requested amount must be positive", apperrors.ErrInvalidAmount)
	}
	requested = model.RoundMoney(requested)

	var decision model.CreditIncreaseDecision
	err := s.run(ctx, []string{lock.BuyerKey(buyerID)}, func(ctx context.Context, tx repository.Tx, _ *outbox) error {
		buyer, err := tx.LockBuyer(ctx, buyerID)
		if err != nil {
			return err
		}

		decision = credit.DecideIncrease(buyer.TrustScore, buyer.AvailableCredit, requested)
		if !decision.Approved {
			return nil
		}

		now := s.now()
		buyer.AvailableCredit = decision.NewLimit
		if err := tx.UpdateBuyer(ctx, buyer); err != nil {
			return err
		}

		description := decision.Reason
		if reason != "" {
			description = reason + " (" + decision.Reason + ")"
		}
		return tx.CreateCreditTransaction(ctx, &model.CreditTransaction{
			ID:          s.newID(),
			BuyerID:     buyerID,
			Amount:      decision.ApprovedAmount,
			Type:        model.CreditLimitIncrease,
			Status:      model.CreditStatusActive,
			Description: description,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	if decision.Approved {
		s.metrics.CreditOperation("increase_approved")
	} else {
		s.metrics.CreditOperation("increase_rejected")
	}
	return &decision, nil
}

// SweepOverdue помечает просроченными все активные кредитные операции со сроком до now.
func (s *Service) SweepOverdue(ctx context.Context) (int64, error) {
	var n int64
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		n, err = tx.MarkOverdue(ctx, "", s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.CreditOperation("overdue")
		s.logger.Info("credit usage marked overdue", zap.Int64("count", n))
	}
	return n, nil
}

// StartOverdueSweep запускает фоновую пометку просроченных операций с периодом interval.
// Цикл завершается вместе с ctx.
func (s *Service) StartOverdueSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOverdue(ctx); err != nil {
					s.logger.Warn("overdue sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
