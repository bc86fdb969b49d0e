package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/iwrumi/corebotstore/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	r.Post("/telegram/webhook", h.Webhook)

	if h.auth != nil {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Get("/deposits", h.ListDeposits)
			r.Post("/deposits/{id}/approve", h.ApproveDeposit)
			r.Post("/deposits/{id}/reject", h.RejectDeposit)

			r.Get("/stats", h.Stats)
			r.Get("/reports", h.Report)

			r.Get("/tickets", h.ListTickets)
			r.Post("/tickets/{id}/reply", h.ReplyTicket)
			r.Post("/tickets/{id}/status", h.SetTicketStatus)

			r.Get("/vouchers", h.ListVouchers)
			r.Post("/vouchers", h.CreateVoucher)
			r.Post("/vouchers/{code}/disable", h.DisableVoucher)

			r.Put("/variants/{id}/stock", h.SetStock)

			r.Post("/broadcasts", h.CreateBroadcast)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
