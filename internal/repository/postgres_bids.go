package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

const bidColumns = `id::text, supplier_id::text, target_kind, COALESCE(order_id::text, group_id::text),
	total_amount, message, delivery_time, valid_until, status, created_at`

func scanBid(row rowScanner) (*model.Bid, error) {
	var (
		b      model.Bid
		amount int64
	)
	err := row.Scan(&b.ID, &b.SupplierID, &b.Target.Kind, &b.Target.ID,
		&amount, &b.Message, &b.DeliveryTime, &b.ValidUntil, &b.Status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.TotalAmount = fromCents(amount)
	return &b, nil
}

// targetColumns раскладывает цель предложения по столбцам order_id и group_id.
func targetColumns(target model.BidTarget) (orderID, groupID *string) {
	if target.IsGroup() {
		return nil, nullable(target.ID)
	}
	return nullable(target.ID), nil
}

// CreateBid сохраняет предложение. Повторное предложение того же поставщика
// на ту же цель отклоняется уникальным индексом.
func (t *pgTx) CreateBid(ctx context.Context, b *model.Bid) error {
	orderID, groupID := targetColumns(b.Target)
	_, err := t.q.Exec(ctx,
		`INSERT INTO bids (id, supplier_id, target_kind, order_id, group_id, total_amount, message,
			delivery_time, valid_until, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.SupplierID, b.Target.Kind, orderID, groupID, toCents(b.TotalAmount), b.Message,
		b.DeliveryTime, b.ValidUntil, b.Status, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: supplier %s on %s", apperrors.ErrDuplicateBid, b.SupplierID, b.Target)
		}
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

// GetBid возвращает предложение по идентификатору.
func (t *pgTx) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	b, err := scanBid(t.q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return nil, scanErr(err, "bid", id)
	}
	return b, nil
}

// LockBid возвращает предложение и блокирует его строку.
func (t *pgTx) LockBid(ctx context.Context, id string) (*model.Bid, error) {
	b, err := scanBid(t.q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, scanErr(err, "bid", id)
	}
	return b, nil
}

// UpdateBidStatus меняет статус предложения.
func (t *pgTx) UpdateBidStatus(ctx context.Context, id string, status model.BidStatus) error {
	tag, err := t.q.Exec(ctx, `UPDATE bids SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bid %s", apperrors.ErrNotFound, id)
	}
	return nil
}

// ListBidsByTarget возвращает предложения по заказу или группе в порядке поступления.
func (t *pgTx) ListBidsByTarget(ctx context.Context, target model.BidTarget) ([]model.Bid, error) {
	column := "order_id"
	if target.IsGroup() {
		column = "group_id"
	}
	return t.listBids(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE target_kind = $1 AND `+column+` = $2 ORDER BY created_at, id`,
		target.Kind, target.ID)
}

// ListBidsBySupplier возвращает все предложения поставщика.
func (t *pgTx) ListBidsBySupplier(ctx context.Context, supplierID string) ([]model.Bid, error) {
	return t.listBids(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE supplier_id = $1 ORDER BY created_at, id`, supplierID)
}

func (t *pgTx) listBids(ctx context.Context, query string, args ...any) ([]model.Bid, error) {
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	defer rows.Close()

	var res []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SupplierHasBid сообщает, делал ли поставщик предложение на цель.
func (t *pgTx) SupplierHasBid(ctx context.Context, supplierID string, target model.BidTarget) (bool, error) {
	orderID, groupID := targetColumns(target)
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM bids
			WHERE supplier_id = $1 AND target_kind = $2
			  AND order_id IS NOT DISTINCT FROM $3::uuid
			  AND group_id IS NOT DISTINCT FROM $4::uuid
		)`,
		supplierID, target.Kind, orderID, groupID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select bid existence: %w", err)
	}
	return exists, nil
}
