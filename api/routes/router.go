package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verdeviva/verdeviva-backend/api/controllers"
	webhookcontrollers "github.com/verdeviva/verdeviva-backend/api/controllers/webhooks"
	"github.com/verdeviva/verdeviva-backend/api/middleware"
	"github.com/verdeviva/verdeviva-backend/pkg/config"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

// RouterParams collects everything the HTTP surface needs. DB and Redis are
// the readiness probes; the services back their route groups.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Subscriptions controllers.SubscriptionService
	Webhook       webhookcontrollers.Processor
	Reconciler    controllers.ReconcileService
	Integrity     controllers.IntegrityChecker
	Reporting     controllers.ReportService
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, map[string]controllers.Pinger{
			"database": params.DB,
			"redis":    params.Redis,
		}))
	})

	r.Handle("/metrics", promhttp.Handler())

	// The provider authenticates with the shared webhook secret, not a JWT.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPago(params.Webhook, cfg.MercadoPago, logg))
	})

	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/", controllers.CreateSubscription(params.Subscriptions, logg))
		r.Get("/", controllers.ListSubscriptions(params.Subscriptions, logg))
		r.Get("/{id}", controllers.GetSubscription(params.Subscriptions, logg))
		r.Patch("/{id}", controllers.ModifySubscription(params.Subscriptions, logg))
		r.Post("/{id}/pause", controllers.PauseSubscription(params.Subscriptions, logg))
		r.Post("/{id}/resume", controllers.ResumeSubscription(params.Subscriptions, logg))
		r.Post("/{id}/cancel", controllers.CancelSubscription(params.Subscriptions, logg))
		r.Get("/{id}/billing-history", controllers.SubscriptionBillingHistory(params.Subscriptions, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.ActorRoleAdmin), logg))

		r.Post("/reconcile", controllers.AdminReconcile(params.Reconciler, logg))
		r.Post("/integrity/check", controllers.AdminIntegrityCheck(params.Integrity, logg))
		r.Get("/reports/subscriptions", controllers.AdminSubscriptionsReport(params.Reporting, logg))
	})

	return r
}
