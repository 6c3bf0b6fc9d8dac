package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenandco/atelier-backend/api/controllers"
	ordercontrollers "github.com/lumenandco/atelier-backend/api/controllers/orders"
	paymentcontrollers "github.com/lumenandco/atelier-backend/api/controllers/payments"
	webhookcontrollers "github.com/lumenandco/atelier-backend/api/controllers/webhooks"
	"github.com/lumenandco/atelier-backend/api/middleware"
	checkoutsvc "github.com/lumenandco/atelier-backend/internal/checkout"
	"github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/internal/providers"
	stripewebhook "github.com/lumenandco/atelier-backend/internal/webhooks/stripe"
	"github.com/lumenandco/atelier-backend/pkg/config"
	"github.com/lumenandco/atelier-backend/pkg/db"
	"github.com/lumenandco/atelier-backend/pkg/logger"
	"github.com/lumenandco/atelier-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	checkoutService *checkoutsvc.Service,
	ordersService orders.Service,
	providerSettings *providers.Settings,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	promRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	startPolicy := middleware.NewRateLimitPolicy(
		"checkout_start",
		cfg.RateLimit.StartWindow,
		cfg.RateLimit.StartIPLimit,
	)
	confirmPolicy := middleware.NewRateLimitPolicy(
		"checkout_confirm",
		cfg.RateLimit.ConfirmWindow,
		cfg.RateLimit.ConfirmIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if promRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.Stripe(stripeWebhookService, providerSettings, stripeWebhookGuard, logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.With(middleware.RateLimit(startPolicy, redisClient, logg)).
			Post("/create-session", paymentcontrollers.CreateSession(checkoutService, logg))
		r.With(middleware.RateLimit(startPolicy, redisClient, logg)).
			Post("/create-order", paymentcontrollers.CreateOrder(checkoutService, logg))
		r.With(middleware.RateLimit(confirmPolicy, redisClient, logg)).
			Post("/confirm", paymentcontrollers.Confirm(checkoutService, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/", ordercontrollers.List(ordersService, logg))
		r.Get("/{orderNumber}", ordercontrollers.Detail(ordersService, logg))
		r.Post("/{orderId}/status", ordercontrollers.UpdateStatus(ordersService, logg))
	})

	return r
}
