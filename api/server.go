/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the mobile/web clients
  5. requestLogger: Structured access log (logrus)

ROUTE GROUPS:
  /api/auth/*     Token exchange (public)
  /api/catalog    Reward catalog (public read)
  /api/me/*       Member operations (bearer token required)
  /ws             Realtime profile push (bearer token required)
  /healthz        Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(requestLogger(h.Log))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", h.Login)
		r.Get("/catalog", h.ListCatalog)

		// Member routes (authenticated)
		r.Route("/me", func(r chi.Router) {
			r.Use(h.Auth.Middleware)
			r.Get("/", h.GetProfile)
			r.Patch("/", h.PatchProfile)
			r.Get("/history", h.GetHistory)
			r.Post("/earn", h.Earn)
			r.Post("/redeem", h.Redeem)

			r.Route("/vouchers", func(r chi.Router) {
				r.Get("/", h.ListVouchers)
				r.Post("/{id}/consume", h.ConsumeVoucher)
				r.Get("/{id}/payload", h.CheckoutPayload)
			})
		})
	})

	// Websocket attach point (token via query param, see auth.go)
	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		r.Get("/ws", h.AttachWebsocket)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("request")
		})
	}
}
