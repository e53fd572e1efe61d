package handler

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/metrics"
	"github.com/mmeshcher/groupbuy/internal/middleware"
	"github.com/mmeshcher/groupbuy/internal/repository"
	"github.com/mmeshcher/groupbuy/internal/service"
)

type testAPI struct {
	t      *testing.T
	router *chi.Mux
	phones int
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	tokens := auth.NewJWTManager("test-secret", time.Hour)
	m := metrics.New()
	svc := service.NewService(repository.NewMemoryRepository(),
		service.WithTokens(tokens),
		service.WithLocker(lock.NewKeyedMutex()),
		service.WithMetrics(m),
	)

	h := NewHandler(svc, zap.NewNop(), middleware.NewAuthMiddleware(tokens), m)
	return &testAPI{t: t, router: h.SetupRouter()}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}

	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *testAPI) nextPhone() string {
	a.phones++
	return fmt.Sprintf("+9198%08d", a.phones)
}

func (a *testAPI) registerBuyer(area string) (id, token string) {
	a.t.Helper()

	w := a.do(http.MethodPost, "/api/buyers/register", "", map[string]any{
		"name":     "Buyer",
		"phone":    a.nextPhone(),
		"password": "pass",
		"area":     area,
		"location": map[string]float64{"lat": 12.97, "lon": 77.64},
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[registerResponse](a.t, w)
	require.NotNil(a.t, resp.Buyer)
	return resp.Buyer.ID, resp.Token
}

func (a *testAPI) registerSupplier() (id, token string) {
	a.t.Helper()

	w := a.do(http.MethodPost, "/api/suppliers/register", "", map[string]any{
		"name":          "Fresh Farms",
		"phone":         a.nextPhone(),
		"password":      "pass",
		"deliveryAreas": []string{"Indiranagar"},
		"categories":    []string{"vegetables"},
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[registerResponse](a.t, w)
	require.NotNil(a.t, resp.Supplier)
	return resp.Supplier.ID, resp.Token
}

func (a *testAPI) addProduct(token, category, price string) string {
	a.t.Helper()

	w := a.do(http.MethodPost, "/api/products", token, map[string]any{
		"name":        "Onion",
		"category":    category,
		"unit":        "kg",
		"marketPrice": price,
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[productResponse](a.t, w).ID
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: apperrors.ErrNotFound, want: http.StatusNotFound},
		{err: apperrors.ErrInvalidState, want: http.StatusConflict},
		{err: apperrors.ErrInsufficientMembers, want: http.StatusConflict},
		{err: apperrors.ErrFull, want: http.StatusConflict},
		{err: apperrors.ErrDuplicateMembership, want: http.StatusConflict},
		{err: apperrors.ErrDuplicateBid, want: http.StatusConflict},
		{err: apperrors.ErrDuplicatePhone, want: http.StatusConflict},
		{err: apperrors.ErrDeadlinePassed, want: http.StatusGone},
		{err: apperrors.ErrInvalidAmount, want: http.StatusUnprocessableEntity},
		{err: apperrors.ErrInvalidInput, want: http.StatusBadRequest},
		{err: apperrors.ErrForbidden, want: http.StatusForbidden},
		{err: apperrors.ErrInvalidCredentials, want: http.StatusUnauthorized},
		{err: apperrors.ErrUnavailable, want: http.StatusServiceUnavailable},
		{err: fmt.Errorf("%w: group g1", apperrors.ErrFull), want: http.StatusConflict},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t)

	body := map[string]any{"name": "Asha", "phone": "+919876543210", "password": "s3cret"}
	w := api.do(http.MethodPost, "/api/buyers/register", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Result().Cookies())

	w = api.do(http.MethodPost, "/api/buyers/register", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodPost, "/api/buyers/login", "", map[string]string{"phone": "+919876543210", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decodeBody[tokenResponse](t, w).Token
	assert.NotEmpty(t, token)

	w = api.do(http.MethodGet, "/api/orders", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "wrong password", path: "/api/buyers/login",
			body: map[string]string{"phone": "+919876543210", "password": "nope"}, want: http.StatusUnauthorized},
		{name: "wrong role", path: "/api/suppliers/login",
			body: map[string]string{"phone": "+919876543210", "password": "s3cret"}, want: http.StatusUnauthorized},
		{name: "missing password", path: "/api/buyers/login",
			body: map[string]string{"phone": "+919876543210"}, want: http.StatusBadRequest},
		{name: "bad phone", path: "/api/buyers/register",
			body: map[string]string{"name": "x", "phone": "123", "password": "p"}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestMalformedBody(t *testing.T) {
	api := newTestAPI(t)

	r := httptest.NewRequest(http.MethodPost, "/api/buyers/register", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestAuthorization(t *testing.T) {
	api := newTestAPI(t)
	_, buyerToken := api.registerBuyer("Indiranagar")
	_, supplierToken := api.registerSupplier()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "anonymous orders", method: http.MethodGet, path: "/api/orders", want: http.StatusUnauthorized},
		{name: "anonymous products", method: http.MethodGet, path: "/api/products", want: http.StatusUnauthorized},
		{name: "supplier credit", method: http.MethodGet, path: "/api/credit", token: supplierToken, want: http.StatusForbidden},
		{name: "buyer available", method: http.MethodGet, path: "/api/bids/available", token: buyerToken, want: http.StatusForbidden},
		{name: "supplier accepts", method: http.MethodPost, path: "/api/bids/b1/accept", token: supplierToken, want: http.StatusForbidden},
		{name: "buyer credit", method: http.MethodGet, path: "/api/credit", token: buyerToken, want: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/api/nowhere", token: buyerToken, want: http.StatusNotFound},
		{name: "unknown group", method: http.MethodGet, path: "/api/groups/missing", token: buyerToken, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestGroupBidFlow(t *testing.T) {
	api := newTestAPI(t)
	creatorID, creator := api.registerBuyer("Indiranagar")
	_, member := api.registerBuyer("Indiranagar")
	supplierID, supplier := api.registerSupplier()
	productID := api.addProduct(creator, "vegetables", "50")

	w := api.do(http.MethodPost, "/api/groups", creator, map[string]any{
		"name":             "Weekly veg",
		"pickupLocation":   "Indiranagar",
		"location":         map[string]float64{"lat": 12.97, "lon": 77.64},
		"targetPickupTime": time.Now().Add(48 * time.Hour),
		"minMembers":       2,
		"maxMembers":       5,
		"items":            []map[string]any{{"productId": productID, "quantity": "12"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	group := decodeBody[groupResponse](t, w)
	assert.Equal(t, "FORMING", group.Status)
	assert.Equal(t, creatorID, group.CreatedBy)

	w = api.do(http.MethodPost, "/api/groups/"+group.ID+"/confirm", creator, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "confirm below minimum")

	w = api.do(http.MethodGet, "/api/groups/suggestions?lat=12.97&lon=77.64&radius=2", member, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	suggestions := decodeBody[[]suggestionResponse](t, w)
	require.Len(t, suggestions, 1)
	assert.Equal(t, group.ID, suggestions[0].Group.ID)

	w = api.do(http.MethodPost, "/api/groups/"+group.ID+"/join", member, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/groups/"+group.ID+"/join", member, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodPost, "/api/orders", member, map[string]any{
		"groupId":       group.ID,
		"paymentMethod": "PAY_LATER",
		"items":         []map[string]any{{"productId": productID, "quantity": "8"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	memberOrder := decodeBody[orderResponse](t, w)

	w = api.do(http.MethodPost, "/api/groups/"+group.ID+"/confirm", creator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	group = decodeBody[groupResponse](t, w)
	assert.Equal(t, "CONFIRMED", group.Status)
	assert.Equal(t, "1000", group.TotalValue.String())
	assert.Equal(t, "150", group.EstimatedSavings.String())

	w = api.do(http.MethodGet, "/api/groups/"+group.ID+"/consolidated", supplier, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	consolidated := decodeBody[consolidatedResponse](t, w)
	require.Len(t, consolidated.Items, 1)
	assert.Equal(t, "20", consolidated.Items[0].TotalQuantity.String())

	w = api.do(http.MethodGet, "/api/bids/available", supplier, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	available := decodeBody[[]availableResponse](t, w)
	require.NotEmpty(t, available)
	assert.Equal(t, "GROUP", available[0].TargetType)

	w = api.do(http.MethodPost, "/api/bids", supplier, map[string]any{
		"targetType":  "group",
		"targetId":    group.ID,
		"totalAmount": "800",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bid := decodeBody[bidResponse](t, w)
	assert.Equal(t, "PENDING", bid.Status)

	w = api.do(http.MethodPost, "/api/bids", supplier, map[string]any{
		"targetType":  "GROUP",
		"targetId":    group.ID,
		"totalAmount": "750",
	})
	assert.Equal(t, http.StatusConflict, w.Code, "second bid from the same supplier")

	w = api.do(http.MethodGet, "/api/groups/"+group.ID+"/bids", creator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]bidResponse](t, w), 1)

	w = api.do(http.MethodPost, "/api/bids/"+bid.ID+"/accept", member, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the creator accepts group bids")

	w = api.do(http.MethodPost, "/api/bids/"+bid.ID+"/accept", creator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ACCEPTED", decodeBody[bidResponse](t, w).Status)

	w = api.do(http.MethodPost, "/api/bids/"+bid.ID+"/accept", creator, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodGet, "/api/groups/"+group.ID, member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ORDERED", decodeBody[groupResponse](t, w).Status)

	w = api.do(http.MethodGet, "/api/orders/"+memberOrder.ID, member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	settled := decodeBody[orderResponse](t, w)
	assert.Equal(t, "CONFIRMED", settled.Status)
	assert.Equal(t, supplierID, settled.SupplierID)
	assert.Equal(t, "320", settled.TotalAmount.String())

	w = api.do(http.MethodPatch, "/api/orders/"+memberOrder.ID+"/status", supplier, map[string]string{"status": "DISPATCHED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "DISPATCHED", decodeBody[orderResponse](t, w).Status)

	w = api.do(http.MethodGet, "/api/bids", supplier, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]bidResponse](t, w), 1)
}

func TestOrderBidAndCredit(t *testing.T) {
	api := newTestAPI(t)
	_, buyer := api.registerBuyer("Indiranagar")
	_, supplier := api.registerSupplier()
	productID := api.addProduct(buyer, "vegetables", "100")

	w := api.do(http.MethodPost, "/api/orders", buyer, map[string]any{
		"paymentMethod": "PAY_LATER",
		"items":         []map[string]any{{"productId": productID, "quantity": "10"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decodeBody[orderResponse](t, w)
	assert.Equal(t, "1000", order.TotalAmount.String())

	w = api.do(http.MethodPost, "/api/orders/"+order.ID+"/items", buyer, map[string]any{
		"items": []map[string]any{{"productId": productID, "quantity": "0"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(http.MethodPost, "/api/bids", supplier, map[string]any{
		"targetId":    order.ID,
		"totalAmount": "900",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bid := decodeBody[bidResponse](t, w)

	w = api.do(http.MethodGet, "/api/orders/"+order.ID+"/bids", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]bidResponse](t, w), 1)

	w = api.do(http.MethodPost, "/api/bids/"+bid.ID+"/accept", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/credit", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decodeBody[creditStatusResponse](t, w)
	assert.Equal(t, "900", st.UsedCredit.String())
	assert.Equal(t, "4100", st.RemainingCredit.String())

	w = api.do(http.MethodPost, "/api/credit/repay", buyer, map[string]any{"amount": "1000", "paymentMethod": "UPI"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "repay more than owed")

	w = api.do(http.MethodPost, "/api/credit/repay", buyer, map[string]any{"amount": "900", "paymentMethod": "UPI"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	repay := decodeBody[repaymentResponse](t, w)
	assert.True(t, repay.UsedCredit.IsZero())
	assert.Equal(t, "COMPLETED", repay.Payment.Status)
	assert.Len(t, repay.SettledCharges, 1)

	w = api.do(http.MethodPost, "/api/credit/increase", buyer, map[string]any{"requestedAmount": "1000", "reason": "festival"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	inc := decodeBody[increaseResponse](t, w)
	assert.False(t, inc.Approved, "default trust score is below the approval threshold")
}

func TestCompressedOrderRequest(t *testing.T) {
	api := newTestAPI(t)
	_, buyer := api.registerBuyer("Indiranagar")
	productID := api.addProduct(buyer, "vegetables", "40")

	var body bytes.Buffer
	zw := gzip.NewWriter(&body)
	require.NoError(t, json.NewEncoder(zw).Encode(map[string]any{
		"paymentMethod": "CASH",
		"items":         []map[string]any{{"productId": productID, "quantity": "3"}},
	}))
	require.NoError(t, zw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/orders", &body)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Content-Encoding", "gzip")
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Authorization", "Bearer "+buyer)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var order orderResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&order))
	assert.Equal(t, "120", order.TotalAmount.String())
	assert.Equal(t, "CASH", order.PaymentMethod)

	r = httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"paymentMethod":"CASH"}`))
	r.Header.Set("Content-Encoding", "gzip")
	r.Header.Set("Authorization", "Bearer "+buyer)
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.registerBuyer("Indiranagar")

	w := api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `groupbuy_http_requests_total{code="201",method="POST",route="/api/buyers/register"} 1`)
}
