package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/groupbuy/internal/auth"
	custommiddleware "github.com/mmeshcher/groupbuy/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса совместных закупок.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger, h.metrics))

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	buyerOnly := custommiddleware.RequireRole(auth.RoleBuyer)
	supplierOnly := custommiddleware.RequireRole(auth.RoleSupplier)

	r.Route("/api", func(r chi.Router) {
		r.Post("/buyers/register", h.RegisterBuyer)
		r.Post("/buyers/login", h.LoginBuyer)
		r.Post("/suppliers/register", h.RegisterSupplier)
		r.Post("/suppliers/login", h.LoginSupplier)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/products", h.ListProducts)
			r.Post("/products", h.AddProduct)

			r.Route("/groups", func(r chi.Router) {
				r.With(buyerOnly).Post("/", h.CreateGroup)
				r.With(buyerOnly).Get("/suggestions", h.Suggestions)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetGroup)
					r.Get("/consolidated", h.Consolidated)
					r.Get("/bids", h.GroupBids)

					r.Group(func(r chi.Router) {
						r.Use(buyerOnly)
						r.Post("/join", h.JoinGroup)
						r.Post("/leave", h.LeaveGroup)
						r.Post("/confirm", h.ConfirmGroup)
					})
				})
			})

			r.Route("/orders", func(r chi.Router) {
				r.With(buyerOnly).Post("/", h.CreateOrder)
				r.With(buyerOnly).Get("/", h.ListOrders)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetOrder)
					r.Get("/bids", h.OrderBids)
					r.Patch("/status", h.UpdateOrderStatus)
					r.With(buyerOnly).Post("/items", h.AddItems)
				})
			})

			r.Route("/bids", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(supplierOnly)
					r.Post("/", h.PlaceBid)
					r.Get("/", h.ListSupplierBids)
					r.Get("/available", h.AvailableTargets)
				})

				r.Group(func(r chi.Router) {
					r.Use(buyerOnly)
					r.Post("/{id}/accept", h.AcceptBid)
					r.Post("/{id}/reject", h.RejectBid)
				})
			})

			r.Route("/credit", func(r chi.Router) {
				r.Use(buyerOnly)
				r.Get("/", h.CreditStatus)
				r.Post("/repay", h.Repay)
				r.Post("/increase", h.RequestIncrease)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}
