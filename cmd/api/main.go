package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/handlers"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/config"
	"github.com/fixparts/api/internal/platform/idempotency"
	"github.com/fixparts/api/internal/platform/jobs"
	"github.com/fixparts/api/internal/platform/observability"
	"github.com/fixparts/api/internal/platform/secrets"
	"github.com/fixparts/api/internal/repositories"
	"github.com/fixparts/api/internal/repositories/memory"
	"github.com/fixparts/api/internal/repositories/postgres"
	"github.com/fixparts/api/internal/services"
	"github.com/fixparts/api/migrations"
)

const meterName = "github.com/fixparts/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	logger = logger.With(zap.String("environment", buildInfo.Environment), zap.String("version", buildInfo.Version))

	registry, pgStore, idempotencyStore, err := openStorage(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise storage", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	notifier, topic, closeNotifier, err := newOrderNotifier(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order notifier", zap.Error(err))
	}
	defer closeNotifier()

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: payments.StripeLogger(observability.ServiceLogger(logger.Named("stripe"))),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	gateway, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithDefaultProvider("stripe"),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	meter := otel.Meter(meterName)

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: registry.Inventory(),
		Clock:     time.Now,
		Logger:    observability.ServiceLogger(logger.Named("inventory")),
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:     registry.Carts(),
		Products:  registry.Products(),
		Customers: registry.Customers(),
		Inventory: inventoryService,
		Clock:     time.Now,
		Logger:    observability.ServiceLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          registry.Orders(),
		Carts:           cartService,
		Counters:        registry.Counters(),
		Inventory:       inventoryService,
		Gateway:         gateway,
		Notifier:        notifier,
		UnitOfWork:      registry,
		DefaultCurrency: cfg.PSP.DefaultCurrency,
		ReservationTTL:  cfg.Checkout.ReservationTTL,
		SweepBatchSize:  cfg.Checkout.SweepBatchSize,
		AmountTolerance: cfg.Checkout.AmountTolerance,
		Meter:           meter,
		Clock:           time.Now,
		Logger:          observability.ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:     cartService,
		Orders:    orderService,
		Customers: registry.Customers(),
		Logger:    observability.ServiceLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:       registry.Orders(),
		OrderService: orderService,
		Meter:        meter,
		Logger:       observability.ServiceLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	refundService, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:   registry.Orders(),
		Gateway:  gateway,
		Notifier: notifier,
		Clock:    time.Now,
		Logger:   observability.ServiceLogger(logger.Named("refunds")),
	})
	if err != nil {
		logger.Fatal("failed to initialise refund service", zap.Error(err))
	}

	sweeper, err := services.NewReservationSweeper(services.ReservationSweeperDeps{
		Orders:   orderService,
		Interval: cfg.Checkout.SweepInterval,
		Logger:   observability.ServiceLogger(logger.Named("sweeper")),
	})
	if err != nil {
		logger.Fatal("failed to initialise reservation sweeper", zap.Error(err))
	}

	systemService, err := newSystemService(logger, pgStore, topic, fetcher, cfg, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	backgroundCtx, backgroundCancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var backgroundWG sync.WaitGroup
	backgroundWG.Add(2)
	go func() {
		defer backgroundWG.Done()
		sweeper.Run(backgroundCtx)
	}()
	go func() {
		defer backgroundWG.Done()
		idempotency.Cleanup(backgroundCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	authenticator := auth.NewAuthenticator(
		auth.WithHeaders(cfg.Security.CustomerHeader, cfg.Security.RoleHeader, cfg.Security.EmailHeader),
		auth.WithSigningSecret(cfg.Security.SigningSecret),
		auth.WithClockSkew(cfg.Security.ClockSkew),
	)
	if strings.TrimSpace(cfg.Security.SigningSecret) == "" {
		logger.Warn("auth: identity headers are not signed; only use behind a trusted gateway")
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		authenticator.Identify,
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	cartHandlers := handlers.NewCartHandlers(cartService)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware, cfg.Idempotency.Header),
	)
	orderHandlers := handlers.NewOrderHandlers(orderService)
	adminHandlers := handlers.NewAdminOrderHandlers(orderService, refundService,
		handlers.WithRefundIdempotency(idempotencyMiddleware),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRoutes(handlers.GroupCart, cartHandlers.Routes),
		handlers.WithRoutes(handlers.GroupCheckout, checkoutHandlers.Routes),
		handlers.WithRoutes(handlers.GroupOrders, orderHandlers.Routes),
		handlers.WithRoutes(handlers.GroupAdmin, adminHandlers.Routes, auth.RequireRole(domain.RoleAdmin)),
	}
	if secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret); secret != "" {
		verifier, err := payments.NewStripeWebhookVerifier(secret)
		if err != nil {
			logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
		}
		webhookHandlers := handlers.NewPaymentWebhookHandlers(verifier, paymentService)
		opts = append(opts, handlers.WithRoutes(handlers.GroupWebhooks, webhookHandlers.Routes))
	} else {
		logger.Warn("payments: stripe webhook secret not configured; webhook endpoint disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fixparts api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	backgroundCancel()
	backgroundWG.Wait()
}

// openStorage selects Postgres when a database URL is configured and the in-memory store otherwise.
// The returned *postgres.Store is nil in memory mode.
func openStorage(ctx context.Context, logger *zap.Logger, cfg config.Config) (repositories.Registry, *postgres.Store, idempotency.Store, error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		logger.Warn("storage: no database configured; using in-memory store")
		return memory.NewStore(), nil, idempotency.NewMemoryStore(), nil
	}

	pool, err := postgres.OpenPool(ctx, postgres.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	store, err := postgres.NewStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	keys, err := idempotency.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return store, store, keys, nil
}

// newOrderNotifier publishes to Pub/Sub when a project is configured and logs events otherwise.
func newOrderNotifier(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderNotifier, *pubsub.Topic, func(), error) {
	projectID := strings.TrimSpace(cfg.Notifications.ProjectID)
	if projectID == "" {
		return jobs.NewLogOrderNotifier(logger.Named("notifications")), nil, func() {}, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, nil, err
	}
	topic := client.Topic(strings.TrimSpace(cfg.Notifications.Topic))
	topic.EnableMessageOrdering = true

	notifier, err := jobs.NewPubSubOrderNotifier(topic)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return notifier, topic, closeFn, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(logger *zap.Logger, store *postgres.Store, topic *pubsub.Topic, fetcher *secrets.Fetcher, cfg config.Config, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if store != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "postgres",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check:    store.Ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	if fetcher != nil && strings.TrimSpace(cfg.Secrets.ProjectID) != "" {
		const secretHealthReference = "secret://system-healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) || status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyTimeout(2*time.Second))
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		Logger:           observability.ServiceLogger(logger.Named("health")),
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Notifications.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Secrets.ProjectID)
}

// newSecretFetcher reads its own settings straight from the environment because it must exist
// before config.Load can resolve secret references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	fallbackPath := lookup("API_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/fixparts/api/internal/platform/secrets")),
	}
	if project := lookup("API_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if raw := lookup("API_SECRETS_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse API_SECRETS_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentials := lookup("API_SECRETS_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
