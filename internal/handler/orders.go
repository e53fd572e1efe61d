package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/service"
)

type createOrderRequest struct {
	GroupID       string        `json:"groupId,omitempty"`
	Items         []itemRequest `json:"items"`
	PaymentMethod string        `json:"paymentMethod"`
}

type addItemsRequest struct {
	Items []itemRequest `json:"items"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// CreateOrder оформляет заказ текущего покупателя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	o, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		BuyerID:       p.ID,
		GroupID:       req.GroupID,
		Items:         itemInputs(req.Items),
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// ListOrders возвращает заказы текущего покупателя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ с позициями.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// AddItems дополняет заказ текущего покупателя.
func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req addItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	o, err := h.service.AddItems(r.Context(), p.ID, chi.URLParam(r, "id"), itemInputs(req.Items))
	if err != nil {
		h.writeError(w, r, "add order items", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// UpdateOrderStatus меняет статус заказа от имени покупателя или поставщика.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		badRequest(w, "status is required")
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), p, chi.URLParam(r, "id"), model.OrderStatus(req.Status))
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// OrderBids возвращает предложения по заказу.
func (h *Handler) OrderBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.service.ListBidsForOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "list order bids", err)
		return
	}

	writeJSON(w, http.StatusOK, newBidList(bids))
}
