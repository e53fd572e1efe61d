// Package handler содержит HTTP-обработчики API сервиса совместных закупок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/metrics"
	"github.com/mmeshcher/groupbuy/internal/middleware"
	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterBuyer(ctx context.Context, in service.RegisterBuyerInput) (*model.Buyer, error)
	RegisterSupplier(ctx context.Context, in service.RegisterSupplierInput) (*model.Supplier, error)
	Login(ctx context.Context, role auth.Role, phone, password string) (string, error)
	IssueToken(p auth.Principal) (string, error)
	AddProduct(ctx context.Context, in service.ProductInput) (*model.Product, error)
	ListProducts(ctx context.Context, category string) ([]model.Product, error)

	CreateGroup(ctx context.Context, in service.CreateGroupInput) (*model.BuyingGroup, error)
	GetGroup(ctx context.Context, groupID string) (*model.BuyingGroup, error)
	JoinGroup(ctx context.Context, groupID, buyerID string) (*model.GroupMembership, error)
	LeaveGroup(ctx context.Context, groupID, buyerID string) (*model.BuyingGroup, error)
	ConfirmGroup(ctx context.Context, groupID string) (*model.BuyingGroup, error)
	Suggestions(ctx context.Context, buyerID string, center *model.Coordinates, radiusKm float64) ([]service.Suggestion, error)
	Consolidate(ctx context.Context, groupID string) (*model.ConsolidatedOrder, error)

	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	AddItems(ctx context.Context, buyerID, orderID string, inputs []service.ItemInput) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, actor auth.Principal, orderID string, status model.OrderStatus) (*model.Order, error)
	ListOrders(ctx context.Context, buyerID string) ([]model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)

	PlaceBid(ctx context.Context, in service.PlaceBidInput) (*model.Bid, error)
	AcceptBid(ctx context.Context, buyerID, bidID string) (*model.Bid, error)
	RejectBid(ctx context.Context, buyerID, bidID string) (*model.Bid, error)
	ListBidsBySupplier(ctx context.Context, supplierID string) ([]model.Bid, error)
	ListBidsForOrder(ctx context.Context, orderID string) ([]model.Bid, error)
	ListBidsForGroup(ctx context.Context, groupID string) ([]model.Bid, error)
	ListAvailable(ctx context.Context, supplierID, areaFilter, categoryFilter string) ([]model.AvailableTarget, error)

	CreditStatus(ctx context.Context, buyerID string) (*model.CreditStatus, error)
	Repay(ctx context.Context, buyerID string, amount decimal.Decimal, method model.PaymentMethod) (*model.Repayment, error)
	RequestIncrease(ctx context.Context, buyerID string, requested decimal.Decimal, reason string) (*model.CreditIncreaseDecision, error)
}

// Handler реализует HTTP-обработчики API сервиса совместных закупок.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// Метрики необязательны: без них маршрут /metrics не регистрируется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет ошибку таксономии с HTTP-статусом.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidState),
		errors.Is(err, apperrors.ErrInsufficientMembers),
		errors.Is(err, apperrors.ErrFull),
		errors.Is(err, apperrors.ErrDuplicateMembership),
		errors.Is(err, apperrors.ErrDuplicateBid),
		errors.Is(err, apperrors.ErrDuplicatePhone):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrDeadlinePassed):
		return http.StatusGone
	case errors.Is(err, apperrors.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// principal достаёт участника, положенного AuthMiddleware. Маршруты без
// аутентификации сюда не попадают, поэтому без участника отвечаем 401.
func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: http.StatusText(http.StatusUnauthorized)})
	}
	return p, ok
}
