package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the router. metricsHandler may be nil.
func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		// Live updates hijack or hold the connection, so they stay outside
		// the timeout and compression wrappers.
		r.Get("/stream", h.HandleWebSocket)
		r.Get("/stream/sse", h.HandleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5, "application/json"))
			r.Use(m.Timeout(15 * time.Second))

			// JSON-RPC endpoint
			r.Post("/jsonrpc", h.HandleJSONRPC)

			r.Get("/swap/quote", h.Quote)
			r.Get("/tokens", h.ListTokens)
			r.Get("/pools", h.ListPools)

			r.Group(func(r chi.Router) {
				r.Use(h.auth.RequireCaller)

				r.Post("/swap", h.Swap)
				r.Post("/swap/async", h.SwapAsync)

				r.Get("/requests", h.ListRequests)
				r.Get("/requests/{id}", h.GetRequest)

				r.Get("/claims", h.ListClaims)
				r.Post("/claims/{id}/claim", h.ClaimToken)

				r.Get("/txs", h.ListTxs)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.auth.RequireAdmin)

				r.Post("/tokens", h.AddToken)
				r.Post("/pools", h.AddPool)
				r.Post("/pools/{id}/suspend", h.SuspendPool)
				r.Post("/pools/{id}/unsuspend", h.UnsuspendPool)
				r.Delete("/pools/{id}", h.RemovePool)
				r.Post("/maintenance", h.SetMaintenance)
			})
		})
	})

	return r
}
