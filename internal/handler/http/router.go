package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"golang.org/x/time/rate"
)

type RouterDeps struct {
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Payments *PaymentHandler
	Metrics  *metrics.Metrics
	// Limiter throttles mutating buyer requests. Nil disables throttling.
	Limiter *rate.Limiter
}

func NewRouter(deps RouterDeps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
	}

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	deps.Payments.RegisterWebhookRoutes(router)
	deps.Orders.RegisterFulfillmentRoutes(router)

	router.Group(func(r chi.Router) {
		r.Use(RequireBuyer)
		r.Use(RateLimit(deps.Limiter))
		deps.Checkout.RegisterRoutes(r)
		deps.Orders.RegisterRoutes(r)
		deps.Payments.RegisterRoutes(r)
	})

	return router
}

// RateLimit rejects mutating requests with 429 once limiter is exhausted.
// Reads pass through.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead && !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				respondWithError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
