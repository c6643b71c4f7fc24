package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/scoopsociety/creamery-backend/api/routes"
	"github.com/scoopsociety/creamery-backend/internal/attempts"
	authsvc "github.com/scoopsociety/creamery-backend/internal/auth"
	checkoutsvc "github.com/scoopsociety/creamery-backend/internal/checkout"
	"github.com/scoopsociety/creamery-backend/internal/orders"
	"github.com/scoopsociety/creamery-backend/internal/pricing"
	"github.com/scoopsociety/creamery-backend/internal/products"
	"github.com/scoopsociety/creamery-backend/internal/subscriptions"
	"github.com/scoopsociety/creamery-backend/internal/users"
	stripewebhook "github.com/scoopsociety/creamery-backend/internal/webhooks/stripe"
	"github.com/scoopsociety/creamery-backend/pkg/config"
	"github.com/scoopsociety/creamery-backend/pkg/db"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
	"github.com/scoopsociety/creamery-backend/pkg/metrics"
	"github.com/scoopsociety/creamery-backend/pkg/migrate"
	"github.com/scoopsociety/creamery-backend/pkg/redis"
	"github.com/scoopsociety/creamery-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	deps, err := buildDeps(cfg, logg, dbClient, redisClient, stripeClient)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(deps),
	}

	startCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(startCtx, "starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(startCtx, "api server stopped unexpectedly", err)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(startCtx, "signal", sig.String()), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(startCtx, "graceful shutdown failed", err)
		}
	}

	closeErr := multierr.Combine(
		redisClient.Close(),
		dbClient.Close(),
	)
	if closeErr != nil {
		logg.Error(startCtx, "error closing clients", closeErr)
		os.Exit(1)
	}
}

func buildDeps(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
) (routes.Deps, error) {
	usersRepo := users.NewRepository(dbClient.DB())
	productsRepo := products.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	subsRepo := subscriptions.NewRepository(dbClient.DB())

	attemptStore, err := attempts.NewRedisStore(redisClient, cfg.Checkout.AttemptTTL)
	if err != nil {
		return routes.Deps{}, err
	}

	sessionClient := checkoutsvc.NewSessionClient(stripeClient)
	calculator, err := pricing.NewCalculator(sessionClient, stripeClient.ShippingPriceID(), logg)
	if err != nil {
		return routes.Deps{}, err
	}

	authService, err := authsvc.NewService(authsvc.ServiceParams{
		UsersRepo:      usersRepo,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		AttemptStore: attemptStore,
		ProductsRepo: productsRepo,
		Stripe:       sessionClient,
		Pricing:      calculator,
		Logger:       logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	confirmationSvc, err := checkoutsvc.NewStatusService(sessionClient, ordersRepo, logg)
	if err != nil {
		return routes.Deps{}, err
	}

	orderMaterializer, err := orders.NewMaterializer(orders.MaterializerParams{
		AttemptStore:      attemptStore,
		OrdersRepo:        ordersRepo,
		Pricing:           calculator,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	subStripeClient := subscriptions.NewStripeClient(stripeClient)
	subMaterializer, err := subscriptions.NewMaterializer(subscriptions.MaterializerParams{
		AttemptStore:      attemptStore,
		SubscriptionsRepo: subsRepo,
		OrdersRepo:        ordersRepo,
		Stripe:            subStripeClient,
		Pricing:           calculator,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	lifecycleSync, err := subscriptions.NewSync(subscriptions.SyncParams{
		SubscriptionsRepo: subsRepo,
		OrdersRepo:        ordersRepo,
		Stripe:            subStripeClient,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Checkout.WebhookIdempotencyTTL)
	if err != nil {
		return routes.Deps{}, err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:        orderMaterializer,
		Subscriptions: subMaterializer,
		Lifecycle:     lifecycleSync,
		Guard:         guard,
		Metrics:       metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config:            cfg,
		Logger:            logg,
		DB:                dbClient,
		Redis:             redisClient,
		AuthService:       authService,
		ProductsRepo:      productsRepo,
		CheckoutService:   checkoutService,
		ConfirmationSvc:   confirmationSvc,
		OrdersRepo:        ordersRepo,
		SubscriptionsRepo: subsRepo,
		StripeClient:      stripeClient,
		WebhookService:    webhookService,
	}, nil
}
