package router

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"quotaledger/docs"
	"quotaledger/internal/api/v1/handler"
	"quotaledger/internal/config"
	"quotaledger/internal/lock"
	"quotaledger/internal/metrics"
	"quotaledger/internal/middleware"
	"quotaledger/internal/model"
	"quotaledger/internal/money"
	"quotaledger/internal/pgmq"
	"quotaledger/internal/pubsub"
	"quotaledger/internal/repository"
	"quotaledger/internal/secrets"
	"quotaledger/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/swaggo/swag"
)

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	Accounts  service.AccountService
	Quota     service.QuotaService
	Usage     service.UsageService
	Plans     service.PlanService
	Analytics service.AnalyticsService
	Stripe    *service.StripeService
}

// Runtime is the wired backend shared by the API server and the workers.
type Runtime struct {
	Services Services
	Metrics  *metrics.Metrics
	DB       *sql.DB
	// Queue is nil on the memory backend.
	Queue *pgmq.Client
	// Close releases every client opened by Bootstrap.
	Close func()
}

// New wires storage, external clients and services from cfg. The returned func releases them.
func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Str("storage", cfg.StorageBackend).Msg("Router initialized")
	rt, err := Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	health := func(ctx context.Context) error {
		if rt.DB == nil {
			return nil
		}
		return rt.DB.PingContext(ctx)
	}
	return Build(cfg, logger, rt.Metrics, rt.Services, health), rt.Close, nil
}

// Bootstrap opens storage and the optional Redis, Pub/Sub and Secret Manager clients.
func Bootstrap(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	var closers []func()
	rt.Close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = metrics.NewMetrics(registry)

	if cfg.StripeWebhookSecret == "" && cfg.StripeWebhookSecretName != "" {
		src, closeSrc, err := secrets.NewSecretManagerSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		err = secrets.ResolveStripeSecrets(ctx, cfg, src)
		_ = closeSrc()
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("Stripe webhook secret resolved from Secret Manager")
	}

	var (
		stores repository.Stores
		queue  service.RetryQueue
	)
	switch cfg.StorageBackend {
	case "memory":
		logger.Warn().Msg("Using in-memory storage; data is lost on restart")
		stores = repository.NewMemoryStores(repository.NewMemoryStore())
	default:
		db, err := repository.OpenDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { db.Close() })
		rt.DB = db
		rt.Queue = pgmq.New(db)
		stores = repository.NewPostgresStores(db)
		queue = rt.Queue
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		locker = lock.NewRedisLocker(rdb, "ledger:lock")
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis transition lock enabled")
	}

	var publisher pubsub.Publisher
	if cfg.GetGCPProjectID() != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
	} else {
		logger.Warn().Msg("GCP project not set; conversion notices are disabled")
	}

	svcs, err := NewServices(cfg, logger, rt.Metrics, stores, queue, locker, publisher, service.NewStripeVerifier(cfg.StripeSecretKey))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Services = svcs
	return rt, nil
}

// NewServices builds the service layer over stores. queue, locker and publisher may be nil.
func NewServices(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, stores repository.Stores, queue service.RetryQueue, locker lock.Locker, publisher pubsub.Publisher, verifier service.PaymentVerifier) (Services, error) {
	price, err := money.Parse(cfg.MonthlyPrice)
	if err != nil {
		return Services{}, err
	}
	freeLimits := model.Limits{MessageLimit: cfg.FreeMessageLimit, DocumentLimit: cfg.FreeDocumentLimit}

	plans := service.NewPlanService(stores.Plans, verifier, locker, publisher, m, service.PlanOptions{
		FreeLimits:      freeLimits,
		Currency:        cfg.Currency,
		VerifyTimeout:   cfg.PaymentVerifyTimeout(),
		LockTTL:         cfg.TransitionLockTTL(),
		LockWait:        cfg.TransitionLockWait(),
		ExpiryGrace:     cfg.ExpiryGrace(),
		ConversionTopic: cfg.PubSubConversionTopic,
		PublishTimeout:  time.Duration(cfg.PubSubPublishTimeoutSec) * time.Second,
	}, logger)

	return Services{
		Accounts: service.NewAccountService(stores.Accounts, freeLimits, logger),
		Quota:    service.NewQuotaService(stores.Accounts, m, logger),
		Usage: service.NewUsageService(stores.Usage, stores.Feedback, queue, m, service.UsageOptions{
			Attempts:       cfg.UsageWriteAttempts,
			Backoff:        time.Duration(cfg.UsageWriteBackoffMs) * time.Millisecond,
			RetryQueueName: cfg.UsageRetryQueueName,
		}, logger),
		Plans: plans,
		Analytics: service.NewAnalyticsService(stores.Accounts, stores.Usage, stores.Feedback, stores.Plans, service.AnalyticsOptions{
			MonthlyPrice: price,
			LTVMonths:    cfg.LTVMonths,
		}, logger),
		Stripe: service.NewStripeService(cfg, stores.Accounts, stores.Payments, plans, m, logger),
	}, nil
}

// Build assembles the HTTP handler tree.
func Build(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, svcs Services, health func(context.Context) error) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())

	accountHandler := handler.NewAccountHandler(svcs.Accounts, validate, logger)
	usageHandler := handler.NewUsageHandler(svcs.Quota, svcs.Usage, validate, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(svcs.Stripe, svcs.Plans, validate, logger)
	analyticsHandler := handler.NewAnalyticsHandler(svcs.Analytics, logger)

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)

	mux := http.NewServeMux()

	// Create a subrouter for API v1 with the /v1 prefix
	apiV1Mux := http.NewServeMux()
	accountHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	usageHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	subscriptionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	analyticsHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	apiV1Mux.HandleFunc("GET /docs/doc.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})

	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if health != nil {
			if err := health(ctx); err != nil {
				logger.Error().Err(err).Msg("Health check failed")
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger, m)(c.Handler(mux))
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.Environment == "development" {
		return []string{"*"}
	}
	origin := cfg.StripeReturnURL
	if i := strings.Index(origin, "://"); i >= 0 {
		if j := strings.Index(origin[i+3:], "/"); j >= 0 {
			origin = origin[:i+3+j]
		}
	}
	if origin == "" {
		return nil
	}
	return []string{origin}
}
