package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/repository"
	"github.com/mmeshcher/groupbuy/internal/validation"
)

// DefaultTrustScore задаёт рейтинг доверия нового покупателя.
const DefaultTrustScore = 50

// DefaultCreditLimit задаёт кредитный лимит нового покупателя.
var DefaultCreditLimit = decimal.NewFromInt(5000)

// RegisterBuyerInput содержит регистрационные данные покупателя.
type RegisterBuyerInput struct {
	Name     string
	Phone    string
	Password string
	Area     string
	Location model.Coordinates
}

// RegisterSupplierInput содержит регистрационные данные поставщика.
type RegisterSupplierInput struct {
	Name          string
	Phone         string
	Password      string
	DeliveryAreas []string
	Categories    []string
	Location      model.Coordinates
}

// ProductInput описывает новую позицию каталога.
type ProductInput struct {
	Name        string
	Category    string
	Unit        string
	MarketPrice decimal.Decimal
}

func validateCredentials(name, phone, password string, loc model.Coordinates) error {
	if err := validation.Required(map[string]string{"name": name, "phone": phone, "password": password}); err != nil {
		return err
	}
	if !validation.IsValidPhone(phone) {
		return fmt.Errorf("%w: phone %q", apperrors.ErrInvalidInput, phone)
	}
	if !validation.IsValidCoordinates(loc) {
		return fmt.Errorf("%w: coordinates out of range", apperrors.ErrInvalidInput)
	}
	return nil
}

// RegisterBuyer регистрирует покупателя с начальным рейтингом и кредитным лимитом.
func (s *Service) RegisterBuyer(ctx context.Context, in RegisterBuyerInput) (*model.Buyer, error) {
	if err := validateCredentials(in.Name, in.Phone, in.Password, in.Location); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	b := &model.Buyer{
		ID:              s.newID(),
		Name:            strings.TrimSpace(in.Name),
		Phone:           in.Phone,
		PasswordHash:    hash,
		Area:            strings.TrimSpace(in.Area),
		Location:        in.Location,
		TrustScore:      DefaultTrustScore,
		AvailableCredit: DefaultCreditLimit,
		UsedCredit:      decimal.Zero,
		TotalSavings:    decimal.Zero,
		CreatedAt:       s.now(),
	}

	err = s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateBuyer(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RegisterSupplier регистрирует поставщика.
func (s *Service) RegisterSupplier(ctx context.Context, in RegisterSupplierInput) (*model.Supplier, error) {
	if err := validateCredentials(in.Name, in.Phone, in.Password, in.Location); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	sup := &model.Supplier{
		ID:            s.newID(),
		Name:          strings.TrimSpace(in.Name),
		Phone:         in.Phone,
		PasswordHash:  hash,
		DeliveryAreas: in.DeliveryAreas,
		Categories:    in.Categories,
		Rating:        decimal.Zero,
		Location:      in.Location,
		CreatedAt:     s.now(),
	}

	err = s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateSupplier(ctx, sup)
	})
	if err != nil {
		return nil, err
	}
	return sup, nil
}

// Login проверяет телефон и пароль участника и выпускает токен доступа.
func (s *Service) Login(ctx context.Context, role auth.Role, phone, password string) (string, error) {
	var (
		id   string
		hash []byte
	)

	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		switch role {
		case auth.RoleBuyer:
			b, err := tx.GetBuyerByPhone(ctx, phone)
			if err != nil {
				return err
			}
			id, hash = b.ID, b.PasswordHash
		case auth.RoleSupplier:
			sup, err := tx.GetSupplierByPhone(ctx, phone)
			if err != nil {
				return err
			}
			id, hash = sup.ID, sup.PasswordHash
		default:
			return fmt.Errorf("%w: role %q", apperrors.ErrInvalidInput, role)
		}
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if !auth.CheckPassword(hash, password) {
		return "", apperrors.ErrInvalidCredentials
	}

	return s.IssueToken(auth.Principal{ID: id, Role: role})
}

// IssueToken выпускает токен доступа для участника.
func (s *Service) IssueToken(p auth.Principal) (string, error) {
	if s.tokens == nil {
		return "", fmt.Errorf("%w: token manager is not configured", apperrors.ErrUnavailable)
	}
	return s.tokens.Generate(p)
}

// AddProduct добавляет товар в каталог.
func (s *Service) AddProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	if err := validation.Required(map[string]string{"name": in.Name, "category": in.Category, "unit": in.Unit}); err != nil {
		return nil, err
	}
	if !in.MarketPrice.IsPositive() {
		return nil, fmt.Errorf("%w: market price must be positive", apperrors.ErrInvalidAmount)
	}

	p := &model.Product{
		ID:          s.newID(),
		Name:        strings.TrimSpace(in.Name),
		Category:    strings.TrimSpace(in.Category),
		Unit:        strings.TrimSpace(in.Unit),
		MarketPrice: model.RoundMoney(in.MarketPrice),
		CreatedAt:   s.now(),
	}

	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts возвращает каталог. Непустой category оставляет только эту категорию.
func (s *Service) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	var products []model.Product
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		products, err = tx.ListProducts(ctx, category)
		return err
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}
