package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/farmcart-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/farmcart-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/farmcart-backend/api/controllers/payments"
	transactioncontrollers "github.com/angelmondragon/farmcart-backend/api/controllers/transactions"
	"github.com/angelmondragon/farmcart-backend/api/middleware"
	"github.com/angelmondragon/farmcart-backend/internal/orders"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/redis"
)

// NewRouter mounts the HTTP surface. A nil redirect or async gateway leaves
// its routes answering 503.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	ordersSvc orders.Service,
	ledgerSvc transactioncontrollers.Ledger,
	gateways transactioncontrollers.Gateways,
	redirect paymentcontrollers.RedirectCapture,
	async paymentcontrollers.AsyncGateway,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore redis.IdempotencyStore
		counterStore     middleware.RateLimitStore
	)
	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if redisClient != nil {
		idempotencyStore = redisClient
		counterStore = redisClient
		readiness["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	callbackPolicy := middleware.NewRateLimitPolicy(
		"phonepe-callback",
		cfg.Payments.CallbackRPS,
		cfg.Payments.CallbackBurst,
		cfg.Payments.CallbackWindow,
		cfg.Payments.CallbackIPLimit,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(callbackPolicy, counterStore, logg)).
			Post("/payments/async/callback", paymentcontrollers.Callback(async, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/orders", func(r chi.Router) {
				r.With(middleware.RequireRole(logg, enums.RoleBuyer)).Post("/", ordercontrollers.Create(ordersSvc, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
				r.With(middleware.RequireRole(logg, enums.RoleFarmer, enums.RoleAdmin)).
					Put("/{orderId}/status", ordercontrollers.UpdateStatus(ordersSvc, logg))
				r.Put("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", transactioncontrollers.Create(gateways, logg))
				r.Get("/", transactioncontrollers.List(ledgerSvc, logg))
				r.Get("/stats", transactioncontrollers.Stats(ledgerSvc, logg))
				r.Get("/export", transactioncontrollers.Export(ledgerSvc, nil, logg))
				r.Get("/{transactionId}", transactioncontrollers.Detail(ledgerSvc, logg))
				r.Put("/{transactionId}/process", transactioncontrollers.Process(gateways, logg))
				r.With(middleware.RequireRole(logg, enums.RoleFarmer, enums.RoleAdmin)).
					Put("/{transactionId}/refund", transactioncontrollers.Refund(ledgerSvc, logg))
			})

			r.Route("/payments/redirect-capture", func(r chi.Router) {
				r.Post("/create-order", paymentcontrollers.CreateRedirectOrder(redirect, logg))
				r.Post("/capture-order/{providerOrderId}", paymentcontrollers.CaptureRedirectOrder(redirect, logg))
				r.Put("/link-transaction/{transactionId}", paymentcontrollers.LinkTransaction(redirect, logg))
			})

			r.Route("/payments/async", func(r chi.Router) {
				r.Post("/create-order", paymentcontrollers.CreateAsyncOrder(async, logg))
				r.Post("/check-status", paymentcontrollers.CheckStatus(async, logg))
				r.With(middleware.RequireRole(logg, enums.RoleFarmer, enums.RoleAdmin)).
					Post("/refund", paymentcontrollers.AsyncRefund(async, logg))
			})
		})
	})

	return r
}
