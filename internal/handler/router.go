package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/loyalty-engine/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/balance", h.CreateBalance)

		r.Route("/points", func(r chi.Router) {
			r.Post("/earn", h.Earn)
			r.Post("/use", h.Use)
			r.Post("/refund", h.Refund)
			r.Get("/balance", h.GetBalance)
			r.Get("/history", h.GetHistory)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Get("/{id}", h.GetCoupon)
			r.Patch("/{id}", h.UpdateCoupon)
			r.Delete("/{id}", h.DeleteCoupon)
			r.Post("/{id}/toggle", h.ToggleCoupon)
		})

		r.Route("/user/coupons", func(r chi.Router) {
			r.Post("/", h.IssueCoupon)
			r.Post("/register", h.RegisterCoupon)
			r.Post("/{id}/use", h.UseCoupon)
		})
	})

	// Триггер для внешнего планировщика, живёт внутри периметра развёртывания.
	r.Post("/internal/sweep", h.RunSweep)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
