package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scoopsociety/creamery-backend/api/controllers"
	webhookcontrollers "github.com/scoopsociety/creamery-backend/api/controllers/webhooks"
	"github.com/scoopsociety/creamery-backend/api/middleware"
	authsvc "github.com/scoopsociety/creamery-backend/internal/auth"
	checkoutsvc "github.com/scoopsociety/creamery-backend/internal/checkout"
	"github.com/scoopsociety/creamery-backend/internal/orders"
	"github.com/scoopsociety/creamery-backend/internal/products"
	"github.com/scoopsociety/creamery-backend/internal/subscriptions"
	stripewebhook "github.com/scoopsociety/creamery-backend/internal/webhooks/stripe"
	"github.com/scoopsociety/creamery-backend/pkg/config"
	"github.com/scoopsociety/creamery-backend/pkg/db"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
	"github.com/scoopsociety/creamery-backend/pkg/redis"
	"github.com/scoopsociety/creamery-backend/pkg/stripe"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	DB    db.Pinger
	Redis redis.Pinger

	AuthService       authsvc.Service
	ProductsRepo      products.Repository
	CheckoutService   checkoutsvc.Service
	ConfirmationSvc   *checkoutsvc.StatusService
	OrdersRepo        orders.Repository
	SubscriptionsRepo subscriptions.Repository

	StripeClient   *stripe.Client
	WebhookService *stripewebhook.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.WebhookService, deps.StripeClient, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", controllers.AuthRegister(deps.AuthService, logg))
		r.Post("/login", controllers.AuthLogin(deps.AuthService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ListProducts(deps.ProductsRepo, logg))

		// Checkout serves guests and signed-in shoppers alike.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Post("/checkout", controllers.Checkout(deps.CheckoutService, logg))
			r.Get("/checkout/confirmation/{intentId}", controllers.CheckoutConfirmation(deps.ConfirmationSvc, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Get("/orders", controllers.ListOrders(deps.OrdersRepo, logg))
			r.Get("/orders/{orderId}", controllers.GetOrder(deps.OrdersRepo, logg))
			r.Get("/subscriptions", controllers.ListSubscriptions(deps.SubscriptionsRepo, logg))
		})
	})

	return r
}
