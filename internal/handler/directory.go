package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/middleware"
	"github.com/mmeshcher/groupbuy/internal/service"
)

type registerBuyerRequest struct {
	Name     string      `json:"name"`
	Phone    string      `json:"phone"`
	Password string      `json:"password"`
	Area     string      `json:"area"`
	Location coordinates `json:"location"`
}

type registerSupplierRequest struct {
	Name          string      `json:"name"`
	Phone         string      `json:"phone"`
	Password      string      `json:"password"`
	DeliveryAreas []string    `json:"deliveryAreas"`
	Categories    []string    `json:"categories"`
	Location      coordinates `json:"location"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type registerResponse struct {
	Token    string            `json:"token"`
	Buyer    *buyerResponse    `json:"buyer,omitempty"`
	Supplier *supplierResponse `json:"supplier,omitempty"`
}

// RegisterBuyer регистрирует покупателя и сразу выдаёт ему токен.
func (h *Handler) RegisterBuyer(w http.ResponseWriter, r *http.Request) {
	var req registerBuyerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	b, err := h.service.RegisterBuyer(r.Context(), service.RegisterBuyerInput{
		Name:     req.Name,
		Phone:    req.Phone,
		Password: req.Password,
		Area:     req.Area,
		Location: req.Location.model(),
	})
	if err != nil {
		h.writeError(w, r, "register buyer", err)
		return
	}

	token, err := h.service.IssueToken(auth.Principal{ID: b.ID, Role: auth.RoleBuyer})
	if err != nil {
		h.writeError(w, r, "issue token", err)
		return
	}

	middleware.SetAuthCookie(w, token)
	resp := newBuyerResponse(b)
	writeJSON(w, http.StatusCreated, registerResponse{Token: token, Buyer: &resp})
}

// RegisterSupplier регистрирует поставщика и сразу выдаёт ему токен.
func (h *Handler) RegisterSupplier(w http.ResponseWriter, r *http.Request) {
	var req registerSupplierRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	s, err := h.service.RegisterSupplier(r.Context(), service.RegisterSupplierInput{
		Name:          req.Name,
		Phone:         req.Phone,
		Password:      req.Password,
		DeliveryAreas: req.DeliveryAreas,
		Categories:    req.Categories,
		Location:      req.Location.model(),
	})
	if err != nil {
		h.writeError(w, r, "register supplier", err)
		return
	}

	token, err := h.service.IssueToken(auth.Principal{ID: s.ID, Role: auth.RoleSupplier})
	if err != nil {
		h.writeError(w, r, "issue token", err)
		return
	}

	middleware.SetAuthCookie(w, token)
	resp := newSupplierResponse(s)
	writeJSON(w, http.StatusCreated, registerResponse{Token: token, Supplier: &resp})
}

// LoginBuyer выполняет вход покупателя.
func (h *Handler) LoginBuyer(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, auth.RoleBuyer)
}

// LoginSupplier выполняет вход поставщика.
func (h *Handler) LoginSupplier(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, auth.RoleSupplier)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, role auth.Role) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if req.Phone == "" || req.Password == "" {
		badRequest(w, "phone and password are required")
		return
	}

	token, err := h.service.Login(r.Context(), role, req.Phone, req.Password)
	if err != nil {
		h.writeError(w, r, "login", err)
		return
	}

	middleware.SetAuthCookie(w, token)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type productRequest struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	MarketPrice decimal.Decimal `json:"marketPrice"`
}

// AddProduct добавляет позицию в каталог.
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	p, err := h.service.AddProduct(r.Context(), service.ProductInput{
		Name:        req.Name,
		Category:    req.Category,
		Unit:        req.Unit,
		MarketPrice: req.MarketPrice,
	})
	if err != nil {
		h.writeError(w, r, "add product", err)
		return
	}

	writeJSON(w, http.StatusCreated, newProductResponse(p))
}

// ListProducts возвращает каталог, при необходимости отфильтрованный по категории.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, "list products", err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, newProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
