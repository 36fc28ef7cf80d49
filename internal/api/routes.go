package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/claims", h.UploadClaim)
		r.Get("/claims", h.ListClaims)
		r.Get("/claims/stats", h.Statistics)
		r.Get("/reviews/pending", h.PendingReviews)
		r.Route("/claims/{claimId}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.GetClaim(w, r, chi.URLParam(r, "claimId"))
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				h.DeleteClaim(w, r, chi.URLParam(r, "claimId"))
			})
			r.Post("/review", func(w http.ResponseWriter, r *http.Request) {
				h.SubmitReview(w, r, chi.URLParam(r, "claimId"))
			})
			r.Post("/resubmit", func(w http.ResponseWriter, r *http.Request) {
				h.Resubmit(w, r, chi.URLParam(r, "claimId"))
			})
		})
	})

	return r
}
