package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

const paymentColumns = `id::text, buyer_id::text, COALESCE(order_id::text, ''), amount, type, method, status,
	due_date, paid_at, created_at`

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p      model.Payment
		amount int64
	)
	err := row.Scan(&p.ID, &p.BuyerID, &p.OrderID, &amount, &p.Type, &p.Method, &p.Status,
		&p.DueDate, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount = fromCents(amount)
	return &p, nil
}

// CreatePayment сохраняет платёж.
func (t *pgTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO payments (id, buyer_id, order_id, amount, type, method, status, due_date, paid_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.BuyerID, nullable(p.OrderID), toCents(p.Amount), p.Type, p.Method, p.Status,
		p.DueDate, p.PaidAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPendingOrderPayment возвращает ожидающую оплату заказа.
func (t *pgTx) GetPendingOrderPayment(ctx context.Context, orderID string) (*model.Payment, error) {
	p, err := scanPayment(t.q.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = $1 AND type = $2 AND status = $3
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE`,
		orderID, model.PaymentTypeOrder, model.PaymentStatusPending,
	))
	if err != nil {
		return nil, scanErr(err, "pending payment for order", orderID)
	}
	return p, nil
}

// UpdatePayment сохраняет сумму, статус и время оплаты.
func (t *pgTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE payments SET amount = $2, status = $3, paid_at = $4 WHERE id = $1`,
		p.ID, toCents(p.Amount), p.Status, p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %s", apperrors.ErrNotFound, p.ID)
	}
	return nil
}

const creditColumns = `id::text, buyer_id::text, COALESCE(order_id::text, ''), amount, type, status, description,
	due_date, paid_at, created_at`

func scanCreditTransaction(row rowScanner) (*model.CreditTransaction, error) {
	var (
		ct     model.CreditTransaction
		amount int64
	)
	err := row.Scan(&ct.ID, &ct.BuyerID, &ct.OrderID, &amount, &ct.Type, &ct.Status, &ct.Description,
		&ct.DueDate, &ct.PaidAt, &ct.CreatedAt)
	if err != nil {
		return nil, err
	}
	ct.Amount = fromCents(amount)
	return &ct, nil
}

// CreateCreditTransaction добавляет запись в журнал кредитных операций.
func (t *pgTx) CreateCreditTransaction(ctx context.Context, ct *model.CreditTransaction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO credit_transactions (id, buyer_id, order_id, amount, type, status, description,
			due_date, paid_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ct.ID, ct.BuyerID, nullable(ct.OrderID), toCents(ct.Amount), ct.Type, ct.Status, ct.Description,
		ct.DueDate, ct.PaidAt, ct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

// GetCreditUsage возвращает последнюю операцию использования кредита по заказу.
func (t *pgTx) GetCreditUsage(ctx context.Context, orderID string) (*model.CreditTransaction, error) {
	ct, err := scanCreditTransaction(t.q.QueryRow(ctx,
		`SELECT `+creditColumns+`
		 FROM credit_transactions
		 WHERE order_id = $1 AND type = $2
		 ORDER BY position DESC
		 LIMIT 1`,
		orderID, model.CreditUsed,
	))
	if err != nil {
		return nil, scanErr(err, "credit usage for order", orderID)
	}
	return ct, nil
}

// UpdateCreditTransaction сохраняет сумму, статус и время погашения операции.
func (t *pgTx) UpdateCreditTransaction(ctx context.Context, ct *model.CreditTransaction) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE credit_transactions SET amount = $2, status = $3, paid_at = $4, description = $5 WHERE id = $1`,
		ct.ID, toCents(ct.Amount), ct.Status, ct.PaidAt, ct.Description,
	)
	if err != nil {
		return fmt.Errorf("update credit transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: credit transaction %s", apperrors.ErrNotFound, ct.ID)
	}
	return nil
}

// ListCreditTransactions возвращает операции покупателя от новых к старым.
// limit <= 0 снимает ограничение.
func (t *pgTx) ListCreditTransactions(ctx context.Context, buyerID string, limit int) ([]model.CreditTransaction, error) {
	query := `SELECT ` + creditColumns + ` FROM credit_transactions WHERE buyer_id = $1 ORDER BY position DESC`
	args := []any{buyerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select credit transactions: %w", err)
	}
	defer rows.Close()

	var res []model.CreditTransaction
	for rows.Next() {
		ct, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		res = append(res, *ct)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkOverdue переводит активные операции использования кредита с истёкшим сроком
// в статус OVERDUE. Пустой buyerID обрабатывает всех покупателей.
func (t *pgTx) MarkOverdue(ctx context.Context, buyerID string, now time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE credit_transactions
		 SET status = $1
		 WHERE type = $2 AND status = $3 AND due_date < $4
		   AND ($5 = '' OR buyer_id::text = $5)`,
		model.CreditStatusOverdue, model.CreditUsed, model.CreditStatusActive, now, buyerID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}
