package router

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"norvis/internal/api/v1/handler"
	"norvis/internal/metrics"
	"norvis/internal/middleware"
	"norvis/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Users    service.UserService
	Chats    service.ChatService
	Guests   service.GuestService
	Quotas   service.QuotaService
	Payments handler.Payments
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

var _ Pinger = (*sql.DB)(nil)

func New(svcs Services, jwtSecret string, allowedOrigins []string, clientIPs *middleware.ClientIPResolver, db Pinger, m *metrics.Metrics, logger zerolog.Logger) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	authMiddleware := middleware.AuthMiddleware(jwtSecret, logger)

	apiV1Mux := http.NewServeMux()
	handler.NewGuestHandler(svcs.Guests, clientIPs, validate, logger).RegisterRoutes(apiV1Mux)
	handler.NewUserHandler(svcs.Users, validate, logger).RegisterRoutes(apiV1Mux, authMiddleware)
	handler.NewChatHandler(svcs.Chats, validate, logger).RegisterRoutes(apiV1Mux, authMiddleware)
	handler.NewSubscriptionHandler(svcs.Quotas, svcs.Payments, validate, logger).RegisterRoutes(apiV1Mux, authMiddleware)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	mux.HandleFunc("GET /healthz", healthz(db))
	mux.Handle("GET /metrics", m.Handler())

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Retry-After", middleware.RequestIDHeader},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux))
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}
}
