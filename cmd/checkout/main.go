package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/checkout/internal/catalog"
	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/orderapi"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/jobs"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/secrets"
	"github.com/hanko-field/checkout/internal/pricing"
	"github.com/hanko-field/checkout/internal/services"
	"github.com/hanko-field/checkout/internal/submission"
)

const idempotencySweepBatch = 500

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("checkout")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretsProject, err := config.Lookup("CHECKOUT_SECRETS_PROJECT_ID")
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}
	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretsProject),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Int("count", len(missing.Names())))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	cat, err := loadCatalog(cfg.Checkout)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}
	if !strings.EqualFold(cat.Currency(), cfg.Checkout.Currency) {
		logger.Warn("catalog currency overrides configured currency",
			zap.String("catalog", cat.Currency()), zap.String("configured", cfg.Checkout.Currency))
	}
	events := observability.NewEventLogger(logger)

	gateway, err := newGateway(cfg, events, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise order gateway", zap.Error(err))
	}
	adapter, err := submission.NewAdapter(submission.Deps{
		Gateway:         gateway,
		Timeout:         cfg.Submission.Timeout,
		BreakerName:     "order-gateway",
		BreakerFailures: uint32(cfg.Submission.BreakerFailures),
		BreakerCooldown: cfg.Submission.BreakerCooldown,
		Logger:          events,
	})
	if err != nil {
		logger.Fatal("failed to initialise submission adapter", zap.Error(err))
	}

	var publisher services.OrderEventPublisher
	if cfg.Events.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := client.Topic(cfg.Events.OrderTopic)
		topic.EnableMessageOrdering = true
		defer func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		pub, err := jobs.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order publisher", zap.Error(err))
		}
		publisher = pub
	} else {
		logger.Info("order events disabled; no pubsub project configured")
	}

	wizards, err := services.NewWizardService(services.WizardServiceDeps{
		Catalog:   cat,
		Pricing:   pricing.NewEngine(cat.Currency()),
		Submitter: adapter,
		Publisher: publisher,
		TTL:       cfg.Checkout.SessionTTL,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise wizard service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	catalogHandlers, err := handlers.NewCatalogHandlers(cat)
	if err != nil {
		logger.Fatal("failed to initialise catalog handlers", zap.Error(err))
	}
	wizardHandlers := handlers.NewWizardHandlers(wizards, handlers.WithIdempotency(idempotencyMiddleware))
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithHealthVersion(buildVersion()),
		handlers.WithHealthBreaker(adapter.BreakerState),
		handlers.WithHealthSessions(wizards.Len),
	)

	projectID := cfg.Observability.TraceProjectID
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithWizardRoutes(wizardHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	group.Go(func() error {
		serverLogger.Info("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if interval := cfg.Idempotency.CleanupInterval; interval > 0 {
		cleanupLogger := logger.Named("idempotency")
		group.Go(func() error {
			runEvery(groupCtx, interval, func(runCtx context.Context) {
				removed, err := idempotencyStore.Sweep(runCtx, time.Now().UTC(), idempotencySweepBatch)
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					return
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			})
			return nil
		})
	}
	if interval := cfg.Checkout.SweepInterval; interval > 0 {
		janitorLogger := logger.Named("sessions")
		group.Go(func() error {
			runEvery(groupCtx, interval, func(runCtx context.Context) {
				if closed := wizards.Sweep(runCtx); closed > 0 {
					janitorLogger.Info("expired wizard sessions closed", zap.Int("count", closed))
				}
			})
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("checkout api stopped with error", zap.Error(err))
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			fn(runCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func loadCatalog(cfg config.CheckoutConfig) (*catalog.Catalog, error) {
	if path := strings.TrimSpace(cfg.CatalogFile); path != "" {
		return catalog.LoadFile(path)
	}
	return catalog.Default()
}

// newGateway picks the order API when one is configured and charges through the local
// payment providers otherwise. Wallet payments are only routed when a wallet endpoint is
// configured or offline mode is explicitly enabled.
func newGateway(cfg config.Config, events observability.EventLogger, logger *zap.Logger) (submission.Gateway, error) {
	if url := strings.TrimSpace(cfg.Submission.OrderAPIURL); url != "" {
		return orderapi.NewClient(url)
	}

	providers := map[string]payments.Provider{
		"bank": payments.NewBankTransferProvider(payments.BankTransferConfig{}),
	}
	routes := map[domain.PaymentKind]string{domain.PaymentBankTransfer: "bank"}

	switch {
	case strings.TrimSpace(cfg.PSP.WalletEndpoint) == "" && !cfg.PSP.WalletOffline:
		logger.Warn("wallet payments disabled; no wallet endpoint configured")
	default:
		if cfg.PSP.WalletOffline {
			logger.Warn("wallet offline mode enabled; wallet charges are approved without a provider call")
		}
		wallet, err := payments.NewWalletProvider(payments.WalletProviderConfig{
			Endpoint: cfg.PSP.WalletEndpoint,
			Token:    cfg.PSP.WalletToken,
			Offline:  cfg.PSP.WalletOffline,
			Logger:   events,
		})
		if err != nil {
			return nil, err
		}
		providers["wallet"] = wallet
		routes[domain.PaymentWallet] = "wallet"
	}

	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: payments.StripeLogger(events),
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripeProvider
		routes[domain.PaymentCard] = "stripe"
	}

	manager, err := payments.NewManager(providers, payments.WithKindRoutes(routes))
	if err != nil {
		return nil, err
	}
	return submission.NewPaymentsGateway(manager)
}

func buildVersion() string {
	if v := strings.TrimSpace(os.Getenv("CHECKOUT_BUILD_VERSION")); v != "" {
		return v
	}
	return "dev"
}
