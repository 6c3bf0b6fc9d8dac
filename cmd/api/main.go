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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/lumenandco/atelier-backend/api/routes"
	checkoutsvc "github.com/lumenandco/atelier-backend/internal/checkout"
	"github.com/lumenandco/atelier-backend/internal/orders"
	"github.com/lumenandco/atelier-backend/internal/pricing"
	"github.com/lumenandco/atelier-backend/internal/providers"
	stripewebhook "github.com/lumenandco/atelier-backend/internal/webhooks/stripe"
	"github.com/lumenandco/atelier-backend/pkg/config"
	"github.com/lumenandco/atelier-backend/pkg/db"
	"github.com/lumenandco/atelier-backend/pkg/enums"
	"github.com/lumenandco/atelier-backend/pkg/logger"
	"github.com/lumenandco/atelier-backend/pkg/metrics"
	"github.com/lumenandco/atelier-backend/pkg/migrate"
	"github.com/lumenandco/atelier-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	var redisClient *redis.Client
	defer func() {
		errs := []error{dbClient.Close()}
		if redisClient != nil {
			errs = append(errs, redisClient.Close())
		}
		if err := multierr.Combine(errs...); err != nil {
			logg.Error(context.Background(), "error closing clients", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checkoutMetrics := metrics.NewCheckoutMetrics(promRegistry)

	providerSettings, err := providers.NewSettings(providers.CredentialsFromConfig(cfg), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to load provider credentials", err)
		os.Exit(1)
	}

	stripeProvider, err := providers.NewStripeProvider(providers.StripeProviderParams{
		Client:     providers.NewCardSessionClient(providerSettings),
		Settings:   providerSettings,
		Logger:     logg,
		Timeout:    cfg.Checkout.ProviderTimeout,
		MaxRetries: cfg.Checkout.VerifyMaxRetries,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe provider", err)
		os.Exit(1)
	}

	var walletClient providers.WalletOrderClient
	if cfg.PayPal.IsLive() {
		walletClient, err = providers.NewWalletOrderClient(cfg.PayPal.ClientID, cfg.PayPal.Secret, true)
		if err != nil {
			logg.Error(context.Background(), "failed to create paypal client", err)
			os.Exit(1)
		}
	} else {
		// Non-live environments capture against the in-process sandbox so the
		// whole flow works without wallet credentials.
		walletClient = providers.NewSandboxWalletClient()
		logg.Info(context.Background(), "paypal sandbox wallet client in use")
	}
	paypalProvider, err := providers.NewPayPalProvider(providers.PayPalProviderParams{
		Client:  walletClient,
		Logger:  logg,
		Timeout: cfg.Checkout.ProviderTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create paypal provider", err)
		os.Exit(1)
	}

	taxRate, err := cfg.Checkout.Rate()
	if err != nil {
		logg.Error(context.Background(), "invalid tax rate", err)
		os.Exit(1)
	}
	calculator, err := pricing.NewCalculator(taxRate)
	if err != nil {
		logg.Error(context.Background(), "failed to create calculator", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:              orders.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           checkoutMetrics,
		OrderNumberPrefix: cfg.Checkout.OrderNumberPrefix,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	currency, err := enums.ParseCurrency(cfg.Checkout.Currency)
	if err != nil {
		logg.Error(context.Background(), "invalid checkout currency", err)
		os.Exit(1)
	}
	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Calculator: calculator,
		Registry:   providers.NewRegistry(stripeProvider, paypalProvider),
		Card:       stripeProvider,
		Wallet:     paypalProvider,
		Orders:     ordersService,
		Logger:     logg,
		Metrics:    checkoutMetrics,
		Currency:   currency,
		Country:    cfg.Checkout.DefaultCountry,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders: ordersService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Checkout.WebhookEventTTL, "stripe")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	// SIGHUP swaps provider credentials in place, no restart needed.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := providerSettings.Reload(context.Background()); err != nil {
				logg.Error(context.Background(), "provider credential reload failed", err)
			}
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			ordersService,
			providerSettings,
			webhookService,
			webhookGuard,
			promRegistry,
		),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
}
