package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/service"
)

type placeBidRequest struct {
	TargetType    string          `json:"targetType"`
	TargetID      string          `json:"targetId"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Message       string          `json:"message"`
	DeliveryTime  time.Time       `json:"deliveryTime"`
	ValidityHours int             `json:"validityHours"`
}

// PlaceBid регистрирует предложение текущего поставщика. Без targetType
// предложение считается адресованным заказу.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req placeBidRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.TargetID == "" {
		badRequest(w, "targetId is required")
		return
	}

	kind := model.BidTargetOrder
	if req.TargetType != "" {
		kind = model.BidTargetKind(strings.ToUpper(req.TargetType))
	}

	b, err := h.service.PlaceBid(r.Context(), service.PlaceBidInput{
		SupplierID:    p.ID,
		Target:        model.BidTarget{Kind: kind, ID: req.TargetID},
		TotalAmount:   req.TotalAmount,
		Message:       req.Message,
		DeliveryTime:  req.DeliveryTime,
		ValidityHours: req.ValidityHours,
	})
	if err != nil {
		h.writeError(w, r, "place bid", err)
		return
	}

	writeJSON(w, http.StatusCreated, newBidResponse(b))
}

// ListSupplierBids возвращает предложения текущего поставщика.
func (h *Handler) ListSupplierBids(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	bids, err := h.service.ListBidsBySupplier(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, r, "list supplier bids", err)
		return
	}

	writeJSON(w, http.StatusOK, newBidList(bids))
}

// AvailableTargets возвращает заказы и группы, открытые для предложений.
func (h *Handler) AvailableTargets(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	targets, err := h.service.ListAvailable(r.Context(), p.ID, q.Get("area"), q.Get("category"))
	if err != nil {
		h.writeError(w, r, "list available targets", err)
		return
	}

	resp := make([]availableResponse, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, availableResponse{
			TargetType:  string(t.Target.Kind),
			TargetID:    t.Target.ID,
			Name:        t.Name,
			Area:        t.Area,
			Categories:  t.Categories,
			TotalValue:  t.TotalValue,
			MemberCount: t.MemberCount,
			PickupTime:  t.PickupTime,
			Items:       newConsolidatedItems(t.Items),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// AcceptBid принимает предложение от имени владельца заказа или создателя группы.
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	b, err := h.service.AcceptBid(r.Context(), p.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "accept bid", err)
		return
	}

	writeJSON(w, http.StatusOK, newBidResponse(b))
}

// RejectBid отклоняет предложение.
func (h *Handler) RejectBid(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	b, err := h.service.RejectBid(r.Context(), p.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "reject bid", err)
		return
	}

	writeJSON(w, http.StatusOK, newBidResponse(b))
}
