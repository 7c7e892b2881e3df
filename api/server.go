/*
server.go - HTTP router and middleware configuration

ROUTER: chi

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: One slog line per request
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the frontend
  5. Authenticate:  Bearer JWT on everything under /api
  6. RequireAdmin:  /api/admin/* only

ROUTE GROUPS:
  /healthz              Liveness, unauthenticated
  /api/praise/*         Giving and reading praise
  /api/redemptions      Redeeming rewards
  /api/users            Directory of praise receivers
  /api/me/*             Caller's own account
  /api/catalog/*        Core values and rewards
  /api/admin/*          User registration, redemption lifecycle, audit

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/praise-ledger/config"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsCfg config.CORSConfig) *chi.Mux {
	r := chi.NewRouter()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsCfg.Origins(),
		AllowedMethods:   corsCfg.Methods(),
		AllowedHeaders:   corsCfg.Headers(),
		AllowCredentials: corsCfg.AllowCredentials,
		MaxAge:           corsCfg.MaxAge,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(h.Identity))

		r.Route("/praise", func(r chi.Router) {
			r.Post("/", h.GivePraise)
			r.Get("/recent", h.RecentPraise)
		})

		r.Post("/redemptions", h.Redeem)
		r.Get("/users", h.ListUsers)

		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.GetMe)
			r.Get("/balance", h.GetBalance)
			r.Get("/history", h.GetHistory)
			r.Get("/redemptions", h.ListMyRedemptions)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/core-values", h.ListCoreValues)
			r.Get("/rewards", h.ListRewards)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/users", h.CreateUser)
			r.Post("/redemptions/{id}/fulfill", h.FulfillRedemption)
			r.Post("/redemptions/{id}/cancel", h.CancelRedemption)
			r.Get("/audit", h.RunAudit)
		})
	})

	return r
}
