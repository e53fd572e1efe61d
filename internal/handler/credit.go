package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy/internal/model"
)

type repayRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
}

type increaseRequest struct {
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	Reason          string          `json:"reason"`
}

// CreditStatus возвращает сводку по кредитной линии текущего покупателя.
func (h *Handler) CreditStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	st, err := h.service.CreditStatus(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, r, "credit status", err)
		return
	}

	writeJSON(w, http.StatusOK, creditStatusResponse{
		AvailableCredit:    st.AvailableCredit,
		UsedCredit:         st.UsedCredit,
		RemainingCredit:    st.RemainingCredit,
		TrustScore:         st.TrustScore,
		UtilizationRatio:   st.UtilizationRatio,
		OverdueAmount:      st.OverdueAmount,
		Overdue:            newCreditTransactions(st.Overdue),
		RecentTransactions: newCreditTransactions(st.RecentTransactions),
	})
}

// Repay погашает задолженность текущего покупателя.
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	res, err := h.service.Repay(r.Context(), p.ID, req.Amount, model.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.writeError(w, r, "repay credit", err)
		return
	}

	writeJSON(w, http.StatusOK, repaymentResponse{
		Payment: paymentResponse{
			ID:        res.Payment.ID,
			OrderID:   res.Payment.OrderID,
			Amount:    res.Payment.Amount,
			Type:      string(res.Payment.Type),
			Method:    string(res.Payment.Method),
			Status:    string(res.Payment.Status),
			PaidAt:    res.Payment.PaidAt,
			CreatedAt: res.Payment.CreatedAt,
		},
		Transaction:    newCreditTransaction(res.Transaction),
		UsedCredit:     res.UsedCredit,
		SettledCharges: res.SettledCharges,
	})
}

// RequestIncrease рассматривает заявку на увеличение кредитного лимита.
func (h *Handler) RequestIncrease(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req increaseRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	d, err := h.service.RequestIncrease(r.Context(), p.ID, req.RequestedAmount, req.Reason)
	if err != nil {
		h.writeError(w, r, "request credit increase", err)
		return
	}

	writeJSON(w, http.StatusOK, increaseResponse{
		Approved:        d.Approved,
		RequestedAmount: d.RequestedAmount,
		ApprovedAmount:  d.ApprovedAmount,
		NewLimit:        d.NewLimit,
		Reason:          d.Reason,
	})
}
