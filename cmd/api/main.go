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
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/naturalily/shop-api/internal/di"
	"github.com/naturalily/shop-api/internal/handlers"
	"github.com/naturalily/shop-api/internal/payments"
	"github.com/naturalily/shop-api/internal/platform/auth"
	"github.com/naturalily/shop-api/internal/platform/config"
	pfirestore "github.com/naturalily/shop-api/internal/platform/firestore"
	"github.com/naturalily/shop-api/internal/platform/idempotency"
	"github.com/naturalily/shop-api/internal/platform/jobs"
	"github.com/naturalily/shop-api/internal/platform/observability"
	"github.com/naturalily/shop-api/internal/platform/secrets"
	"github.com/naturalily/shop-api/internal/repositories"
	firestoreRepo "github.com/naturalily/shop-api/internal/repositories/firestore"
	"github.com/naturalily/shop-api/internal/repositories/memory"
	"github.com/naturalily/shop-api/internal/repositories/postgres"
	"github.com/naturalily/shop-api/internal/services"
)

const (
	shutdownTimeout       = 10 * time.Second
	firebaseTimeout       = 5 * time.Second
	jwksFetchTimeout      = 3 * time.Second
	publicLookupLimit     = 120
	publicLookupWindow    = time.Minute
	cleanupRunTimeout     = time.Minute
	secretHealthReference = "secret://system/healthz?version=latest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shop-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	storage, err := openStorage(ctx, cfg, logger.Named("storage"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := storage.registry.Close(closeCtx); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:         cfg.PSP.StripeAPIKey,
		WebhookSecret:  cfg.PSP.StripeWebhookSecret,
		PublishableKey: cfg.PSP.StripePublishableKey,
		Logger:         observability.EventLogger(logger.Named("stripe")),
	})
	if err != nil {
		return fmt.Errorf("initialise stripe provider: %w", err)
	}

	publisher, closePublisher, err := newOrderPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	container, err := di.NewContainer(ctx, cfg, storage.registry, di.Runtime{
		Payments:     stripeProvider,
		Publisher:    publisher,
		Logger:       logger,
		Build:        buildInfo,
		HealthChecks: []repositories.DependencyCheck{secretManagerCheck(fetcher)},
	})
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseTimeout)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		storage.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	webhookHandlers, err := handlers.NewWebhookHandlers(svc.Checkout)
	if err != nil {
		return fmt.Errorf("initialise webhook handlers: %w", err)
	}
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	wishlistHandlers := handlers.NewWishlistHandlers(authenticator, svc.Wishlist)
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Cart, svc.Wishlist)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, svc.Orders,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
	)
	publicHandlers := handlers.NewPublicHandlers(svc.Catalog,
		handlers.WithPublicRateLimit(publicLookupLimit, publicLookupWindow, time.Now),
	)
	internalHandlers := handlers.NewInternalHandlers(storage.idempotency, time.Now)

	projectID := traceProjectID(cfg)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithWishlistRoutes(wishlistHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Driver))
	g.Go(func() error {
		serverLogger.Info("shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runIdempotencyCleanup(gctx, logger.Named("idempotency"), storage.idempotency, cfg.Idempotency)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

type storageBackend struct {
	registry    repositories.Registry
	idempotency idempotency.Store
}

// openStorage selects the repository backend. Idempotency records live in Firestore when it is
// the primary store and in process memory otherwise.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storageBackend, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithTransactionOptions(
			pfirestore.WithTxAttempts(cfg.Firestore.TxMaxAttempts),
			pfirestore.WithTxTimeout(cfg.Firestore.TxTimeout),
		))
		if _, err := provider.Client(ctx); err != nil {
			return storageBackend{}, fmt.Errorf("initialise firestore client: %w", err)
		}
		registry, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return storageBackend{}, fmt.Errorf("initialise firestore repositories: %w", err)
		}
		return storageBackend{registry: registry, idempotency: idempotency.NewFirestoreStore(provider)}, nil

	case config.StorageDriverPostgres:
		opts := []postgres.Option{postgres.WithLogger(logger.Named("postgres"))}
		if cfg.Storage.AutoMigrate {
			opts = append(opts, postgres.WithAutoMigrate())
		}
		registry, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, opts...)
		if err != nil {
			return storageBackend{}, err
		}
		return storageBackend{registry: registry, idempotency: idempotency.NewMemoryStore()}, nil

	case config.StorageDriverMemory:
		store := memory.NewStore()
		if path := strings.TrimSpace(cfg.Storage.CatalogSeedFile); path != "" {
			count, err := store.LoadCatalog(path, time.Now().UTC())
			if err != nil {
				return storageBackend{}, fmt.Errorf("load catalog seed: %w", err)
			}
			logger.Info("catalog seeded", zap.String("file", path), zap.Int("products", count))
		}
		return storageBackend{registry: store, idempotency: idempotency.NewMemoryStore()}, nil
	}
	return storageBackend{}, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}

// newOrderPublisher returns a nil publisher when no topic is configured.
func newOrderPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, func(), error) {
	topicID := strings.TrimSpace(cfg.Events.OrderTopic)
	if topicID == "" {
		return nil, func() {}, nil
	}
	var opts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	publisher, err := jobs.NewPubSubOrderPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		topic.Stop()
		_ = client.Close()
	}, nil
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	if cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, cleanupRunTimeout)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
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

// secretManagerCheck treats a missing health-check secret as healthy; only transport and permission
// failures count.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSHTTPClient(&http.Client{Timeout: jwksFetchTimeout}))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger), auth.WithOIDCClock(time.Now))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for label, project := range projectMap {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve. The Stripe keys are always
// needed; the DSN only when Postgres is selected.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if strings.EqualFold(strings.TrimSpace(env["API_STORAGE_DRIVER"]), config.StorageDriverPostgres) {
		required = append(required, "Storage.PostgresDSN")
	}
	return required
}

// secretVersionPins parses "ref=version" pairs; refs without a scheme get secret://.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		pins[config.NormalizeSecretReference(ensureSecretScheme(ref))] = version
	}
	return pins
}

func ensureSecretScheme(ref string) string {
	if strings.HasPrefix(ref, "secret://") || strings.HasPrefix(ref, "sm://") {
		return ref
	}
	return "secret://" + ref
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
