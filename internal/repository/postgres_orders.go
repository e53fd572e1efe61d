package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

const orderColumns = `id::text, buyer_id::text, COALESCE(group_id::text, ''), order_type, status, total_amount,
	payment_method, COALESCE(supplier_id::text, ''), created_at, updated_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o     model.Order
		total int64
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.GroupID, &o.OrderType, &o.Status, &total,
		&o.PaymentMethod, &o.SupplierID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.TotalAmount = fromCents(total)
	return &o, nil
}

// CreateOrder сохраняет заказ вместе с его строками.
func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO orders (id, buyer_id, group_id, order_type, status, total_amount,
			payment_method, supplier_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.BuyerID, nullable(o.GroupID), o.OrderType, o.Status, toCents(o.TotalAmount),
		o.PaymentMethod, nullable(o.SupplierID), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return t.insertItems(ctx, o.Items)
}

// AddOrderItems добавляет строки к существующему заказу.
func (t *pgTx) AddOrderItems(ctx context.Context, orderID string, items []model.OrderItem) error {
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("select order: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: order %s", apperrors.ErrNotFound, orderID)
	}
	return t.insertItems(ctx, items)
}

func (t *pgTx) insertItems(ctx context.Context, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(
			`INSERT INTO order_items (id, order_id, product_id, quantity, unit, price_per_unit, total_price)
			 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
			it.ID, it.OrderID, it.ProductID, it.Quantity.String(), it.Unit,
			toCents(it.PricePerUnit), toCents(it.TotalPrice),
		)
	}

	br := t.q.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// GetOrder возвращает заказ вместе со строками.
func (t *pgTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// LockOrder возвращает заказ со строками и блокирует строку заказа.
func (t *pgTx) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) getOrder(ctx context.Context, query, id string) (*model.Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, scanErr(err, "order", id)
	}

	orders := []model.Order{*o}
	if err := t.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// UpdateOrder сохраняет статус, сумму, поставщика и время изменения заказа.
func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE orders
		 SET status = $2, total_amount = $3, supplier_id = $4, updated_at = $5
		 WHERE id = $1`,
		o.ID, o.Status, toCents(o.TotalAmount), nullable(o.SupplierID), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", apperrors.ErrNotFound, o.ID)
	}
	return nil
}

// ListOrdersByGroup возвращает заказы группы в порядке создания.
func (t *pgTx) ListOrdersByGroup(ctx context.Context, groupID string) ([]model.Order, error) {
	return t.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE group_id = $1 ORDER BY created_at, id`, groupID)
}

// ListOrdersByBuyer возвращает заказы покупателя в порядке создания.
func (t *pgTx) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]model.Order, error) {
	return t.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at, id`, buyerID)
}

// ListIndividualOrders возвращает индивидуальные заказы с указанным статусом.
func (t *pgTx) ListIndividualOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return t.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_type = $1 AND status = $2 ORDER BY created_at, id`,
		model.OrderTypeIndividual, status)
}

func (t *pgTx) listOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := t.attachItems(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// attachItems загружает строки для всех заказов одним запросом.
func (t *pgTx) attachItems(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := t.q.Query(ctx,
		`SELECT id::text, order_id::text, product_id::text, quantity::text, unit, price_per_unit, total_price
		 FROM order_items
		 WHERE order_id = ANY($1::text[]::uuid[])
		 ORDER BY position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it           model.OrderItem
			quantity     string
			price, total int64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &quantity, &it.Unit, &price, &total); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		q, err := decimal.NewFromString(quantity)
		if err != nil {
			return fmt.Errorf("parse quantity %q: %w", quantity, err)
		}
		it.Quantity = q
		it.PricePerUnit = fromCents(price)
		it.TotalPrice = fromCents(total)

		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}
