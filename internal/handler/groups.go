package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/groupbuy/internal/model"
	"github.com/mmeshcher/groupbuy/internal/service"
)

type createGroupRequest struct {
	Name             string        `json:"name"`
	PickupLocation   string        `json:"pickupLocation"`
	Location         coordinates   `json:"location"`
	TargetPickupTime time.Time     `json:"targetPickupTime"`
	MinMembers       int           `json:"minMembers"`
	MaxMembers       int           `json:"maxMembers"`
	Items            []itemRequest `json:"items"`
	PaymentMethod    string        `json:"paymentMethod"`
}

// CreateGroup создаёт группу от имени текущего покупателя.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	g, err := h.service.CreateGroup(r.Context(), service.CreateGroupInput{
		Name:             req.Name,
		PickupLocation:   req.PickupLocation,
		Location:         req.Location.model(),
		TargetPickupTime: req.TargetPickupTime,
		MinMembers:       req.MinMembers,
		MaxMembers:       req.MaxMembers,
		CreatorID:        p.ID,
		Items:            itemInputs(req.Items),
		PaymentMethod:    model.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.writeError(w, r, "create group", err)
		return
	}

	writeJSON(w, http.StatusCreated, newGroupResponse(g))
}

// GetGroup возвращает группу с участниками.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get group", err)
		return
	}

	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

// JoinGroup добавляет текущего покупателя в группу.
func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	m, err := h.service.JoinGroup(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		h.writeError(w, r, "join group", err)
		return
	}

	writeJSON(w, http.StatusCreated, memberResponse{
		BuyerID:     m.BuyerID,
		IsConfirmed: m.IsConfirmed,
		JoinedAt:    m.JoinedAt,
	})
}

// LeaveGroup выводит текущего покупателя из группы.
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	g, err := h.service.LeaveGroup(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		h.writeError(w, r, "leave group", err)
		return
	}

	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

// ConfirmGroup переводит группу в CONFIRMED.
func (h *Handler) ConfirmGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.ConfirmGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "confirm group", err)
		return
	}

	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

// Suggestions подбирает группы поблизости. Параметры lat и lon задаются вместе,
// radius в километрах необязателен.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var center *model.Coordinates
	if q.Get("lat") != "" || q.Get("lon") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			badRequest(w, "lat and lon must be numbers")
			return
		}
		center = &model.Coordinates{Lat: lat, Lon: lon}
	}

	var radius float64
	if s := q.Get("radius"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			badRequest(w, "radius must be a number")
			return
		}
		radius = v
	}

	suggestions, err := h.service.Suggestions(r.Context(), p.ID, center, radius)
	if err != nil {
		h.writeError(w, r, "group suggestions", err)
		return
	}

	resp := make([]suggestionResponse, 0, len(suggestions))
	for i := range suggestions {
		resp = append(resp, suggestionResponse{
			Group:       newGroupResponse(&suggestions[i].Group),
			DistanceKm:  suggestions[i].DistanceKm,
			MemberCount: suggestions[i].MemberCount,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Consolidated возвращает сводный заказ группы.
func (h *Handler) Consolidated(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Consolidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "consolidate group", err)
		return
	}

	writeJSON(w, http.StatusOK, consolidatedResponse{
		GroupID:    c.GroupID,
		Items:      newConsolidatedItems(c.Items),
		TotalValue: c.TotalValue,
	})
}

// GroupBids возвращает предложения по группе.
func (h *Handler) GroupBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.service.ListBidsForGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "list group bids", err)
		return
	}

	writeJSON(w, http.StatusOK, newBidList(bids))
}
