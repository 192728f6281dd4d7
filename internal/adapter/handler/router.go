package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *HTTPHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrdersByStatus)
		r.Post("/orders/{id}/serve", h.MarkServed)

		r.Get("/accounts/{id}/orders", h.ListAccountOrders)
		r.Get("/accounts/{id}/balance", h.GetBalance)

		r.Post("/rollover", h.RunRollover)
		r.Get("/stock", h.ListStock)
		r.Get("/stock/{id}", h.GetAvailability)
	})

	return r
}
