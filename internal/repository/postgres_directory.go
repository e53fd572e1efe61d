package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

const buyerColumns = `id::text, name, phone, password_hash, area, lat, lon, trust_score,
	available_credit, used_credit, total_savings, created_at`

func scanBuyer(row rowScanner) (*model.Buyer, error) {
	var (
		b                       model.Buyer
		available, used, saving int64
	)
	err := row.Scan(&b.ID, &b.Name, &b.Phone, &b.PasswordHash, &b.Area, &b.Location.Lat, &b.Location.Lon,
		&b.TrustScore, &available, &used, &saving, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.AvailableCredit = fromCents(available)
	b.UsedCredit = fromCents(used)
	b.TotalSavings = fromCents(saving)
	return &b, nil
}

// CreateBuyer сохраняет нового покупателя.
func (t *pgTx) CreateBuyer(ctx context.Context, b *model.Buyer) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO buyers (id, name, phone, password_hash, area, lat, lon, trust_score,
			available_credit, used_credit, total_savings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.Name, b.Phone, b.PasswordHash, b.Area, b.Location.Lat, b.Location.Lon, b.TrustScore,
		toCents(b.AvailableCredit), toCents(b.UsedCredit), toCents(b.TotalSavings), b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicatePhone, b.Phone)
		}
		return fmt.Errorf("insert buyer: %w", err)
	}
	return nil
}

// GetBuyer возвращает покупателя по идентификатору.
func (t *pgTx) GetBuyer(ctx context.Context, id string) (*model.Buyer, error) {
	b, err := scanBuyer(t.q.QueryRow(ctx, `SELECT `+buyerColumns+` FROM buyers WHERE id = $1`, id))
	if err != nil {
		return nil, scanErr(err, "buyer", id)
	}
	return b, nil
}

// LockBuyer возвращает покупателя и блокирует его строку для сериализации изменений баланса.
func (t *pgTx) LockBuyer(ctx context.Context, id string) (*model.Buyer, error) {
	b, err := scanBuyer(t.q.QueryRow(ctx, `SELECT `+buyerColumns+` FROM buyers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, scanErr(err, "buyer", id)
	}
	return b, nil
}

// GetBuyerByPhone возвращает покупателя по номеру телефона.
func (t *pgTx) GetBuyerByPhone(ctx context.Context, phone string) (*model.Buyer, error) {
	b, err := scanBuyer(t.q.QueryRow(ctx, `SELECT `+buyerColumns+` FROM buyers WHERE phone = $1`, phone))
	if err != nil {
		return nil, scanErr(err, "buyer with phone", phone)
	}
	return b, nil
}

// UpdateBuyer сохраняет рейтинг доверия, кредитные поля и накопленную экономию.
func (t *pgTx) UpdateBuyer(ctx context.Context, b *model.Buyer) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE buyers
		 SET trust_score = $2, available_credit = $3, used_credit = $4, total_savings = $5
		 WHERE id = $1`,
		b.ID, b.TrustScore, toCents(b.AvailableCredit), toCents(b.UsedCredit), toCents(b.TotalSavings),
	)
	if err != nil {
		return fmt.Errorf("update buyer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: buyer %s", apperrors.ErrNotFound, b.ID)
	}
	return nil
}

const supplierColumns = `id::text, name, phone, password_hash, delivery_areas, categories, rating,
	total_orders, lat, lon, created_at`

func scanSupplier(row rowScanner) (*model.Supplier, error) {
	var (
		s      model.Supplier
		rating int64
	)
	err := row.Scan(&s.ID, &s.Name, &s.Phone, &s.PasswordHash, &s.DeliveryAreas, &s.Categories, &rating,
		&s.TotalOrders, &s.Location.Lat, &s.Location.Lon, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Rating = fromCents(rating)
	return &s, nil
}

// CreateSupplier сохраняет нового поставщика.
func (t *pgTx) CreateSupplier(ctx context.Context, s *model.Supplier) error {
	areas := s.DeliveryAreas
	if areas == nil {
		areas = []string{}
	}
	categories := s.Categories
	if categories == nil {
		categories = []string{}
	}

	_, err := t.q.Exec(ctx,
		`INSERT INTO suppliers (id, name, phone, password_hash, delivery_areas, categories, rating,
			total_orders, lat, lon, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.Name, s.Phone, s.PasswordHash, areas, categories, toCents(s.Rating),
		s.TotalOrders, s.Location.Lat, s.Location.Lon, s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicatePhone, s.Phone)
		}
		return fmt.Errorf("insert supplier: %w", err)
	}
	return nil
}

// GetSupplier возвращает поставщика по идентификатору.
func (t *pgTx) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	s, err := scanSupplier(t.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		return nil, scanErr(err, "supplier", id)
	}
	return s, nil
}

// GetSupplierByPhone возвращает поставщика по номеру телефона.
func (t *pgTx) GetSupplierByPhone(ctx context.Context, phone string) (*model.Supplier, error) {
	s, err := scanSupplier(t.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE phone = $1`, phone))
	if err != nil {
		return nil, scanErr(err, "supplier with phone", phone)
	}
	return s, nil
}

// IncrementSupplierOrders увеличивает счётчик выигранных заказов поставщика.
func (t *pgTx) IncrementSupplierOrders(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `UPDATE suppliers SET total_orders = total_orders + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update supplier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: supplier %s", apperrors.ErrNotFound, id)
	}
	return nil
}

// CreateProduct добавляет товар в каталог.
func (t *pgTx) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO products (id, name, category, unit, market_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Category, p.Unit, toCents(p.MarketPrice), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var (
		p     model.Product
		price int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &price, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.MarketPrice = fromCents(price)
	return &p, nil
}

// GetProduct возвращает товар по идентификатору.
func (t *pgTx) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(t.q.QueryRow(ctx,
		`SELECT id::text, name, category, unit, market_price, created_at FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, scanErr(err, "product", id)
	}
	return p, nil
}

// ListProducts возвращает товары каталога. Непустой category оставляет только эту категорию.
func (t *pgTx) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	rows, err := t.q.Query(ctx,
		`SELECT id::text, name, category, unit, market_price, created_at
		 FROM products
		 WHERE $1 = '' OR lower(category) = lower($1)
		 ORDER BY name`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
