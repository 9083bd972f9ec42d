package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ginadapter "github.com/ganesh-swami/prvt-sub003/internal/adapter/inbound/gin"
	"github.com/ganesh-swami/prvt-sub003/internal/adapter/outbound/httpsource"
	"github.com/ganesh-swami/prvt-sub003/internal/adapter/outbound/postgres"
	redisadapter "github.com/ganesh-swami/prvt-sub003/internal/adapter/outbound/redis"
	s3adapter "github.com/ganesh-swami/prvt-sub003/internal/adapter/outbound/s3"
	"github.com/ganesh-swami/prvt-sub003/internal/module/catalog"
	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
	"github.com/ganesh-swami/prvt-sub003/internal/module/gate"
	"github.com/ganesh-swami/prvt-sub003/internal/module/subscription"
	"github.com/ganesh-swami/prvt-sub003/internal/module/usage"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/auth"
	sharedcache "github.com/ganesh-swami/prvt-sub003/internal/shared/cache"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/config"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/database"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/logger"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/metrics"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/middleware"
)

// App represents the application.
type App struct {
	config   *config.Config
	db       *gorm.DB
	redis    redis.UniversalClient
	router   *gin.Engine
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// cancels background work started by the app
	cancel context.CancelFunc

	// Modules
	loader        *catalog.Loader
	subscriptions *subscription.Service
	counter       *usage.Counter
	guard         *gate.Guard
	graceEnforcer *subscription.GraceEnforcer
	maintenance   *cron.Cron

	// Handlers
	catalogHandler inboundRoutes
	featureHandler inboundRoutes
	usageHandler   inboundRoutes
	webhookHandler inboundRoutes
}

type inboundRoutes interface {
	RegisterRoutes(r *gin.RouterGroup)
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config:   cfg,
		logger:   log,
		registry: registry,
		metrics:  metrics.New("gate", registry),
		cancel:   cancel,
	}

	if err := app.init(ctx); err != nil {
		app.Stop()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.config

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(&cfg.Database, a.logger); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}
	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.db = db

	if cfg.Usage.Backend == "redis" {
		client, err := sharedcache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
	}

	a.router = a.setupRouter()

	if err := a.initModules(ctx); err != nil {
		return fmt.Errorf("init modules: %w", err)
	}
	a.registerRoutes()
	a.startModules()

	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID(a.logger))
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(a.config.Server.AllowedOrigins))

	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return r
}

func (a *App) health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"catalog": "ok", "database": "ok"}

	if a.loader.Current() == nil {
		checks["catalog"] = "not loaded"
		status = http.StatusServiceUnavailable
	}
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		checks["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if a.redis != nil {
		checks["redis"] = "ok"
		if err := a.redis.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

// initModules initializes all application modules.
func (a *App) initModules(ctx context.Context) error {
	cfg := a.config

	source, err := a.catalogSource(ctx)
	if err != nil {
		return err
	}
	a.loader = catalog.NewLoader(source, catalog.LoaderConfig{
		TTL:          cfg.Catalog.TTL,
		FetchTimeout: cfg.Catalog.FetchTimeout,
		RetryBackoff: cfg.Catalog.RetryBackoff,
	}, a.metrics, a.logger.Named("catalog"))

	// Warm the cache; a failure here is served as unavailable until the source recovers.
	if _, err := a.loader.Load(ctx); err != nil {
		a.logger.Warn("initial catalog load failed", zap.Error(err))
	}

	if fs, ok := source.(*catalog.FileSource); ok && cfg.Catalog.Watch {
		go func() {
			if err := fs.Watch(ctx, a.loader.Invalidate); err != nil {
				a.logger.Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	evaluator := &entitlement.Evaluator{FallbackPlan: cfg.Catalog.FallbackPlan}

	a.subscriptions = subscription.NewService(
		postgres.NewSubscriptionAdapter(a.db),
		subscription.Config{
			FallbackPlan: cfg.Catalog.FallbackPlan,
			GracePeriod:  cfg.Subscription.GracePeriod,
		},
		a.metrics,
		a.logger.Named("subscription"),
	)

	store, err := a.usageStore()
	if err != nil {
		return err
	}
	a.counter = usage.NewCounter(a.loader, a.subscriptions, store, evaluator, usage.Config{
		TokenTTL:     cfg.Usage.TokenTTL,
		Retention:    cfg.Usage.Retention,
		FetchTimeout: cfg.Usage.FetchTimeout,
	}, a.metrics, a.logger.Named("usage"))

	a.guard = gate.NewGuard(a.loader, a.subscriptions, a.counter, evaluator, gate.Config{
		Timeout:   cfg.Gate.Timeout,
		CacheSize: cfg.Gate.SubscriptionCache,
		CacheTTL:  cfg.Gate.SubscriptionTTL,
	}, a.metrics, a.logger.Named("gate"))
	// Registered first so watchers re-evaluate against a fresh subscription.
	a.subscriptions.Observe(a.guard.SubscriptionChanged)

	a.graceEnforcer, err = subscription.NewGraceEnforcer(a.subscriptions, cfg.Subscription.GraceSweep, a.logger.Named("grace"))
	if err != nil {
		return err
	}

	a.catalogHandler = ginadapter.NewCatalogHandler(a.loader)
	a.featureHandler = ginadapter.NewFeatureHandler(a.guard, a.subscriptions, ginadapter.StreamConfig{
		Timeout: cfg.Gate.Timeout,
	}, a.logger.Named("stream"))
	a.usageHandler = ginadapter.NewUsageHandler(a.counter, gate.RequireFeatureParam(a.guard, "feature"))
	if cfg.Stripe.WebhookSecret != "" {
		a.webhookHandler = ginadapter.NewWebhookHandler(
			a.subscriptions,
			postgres.NewWebhookEventAdapter(a.db),
			cfg.Stripe.WebhookSecret,
			a.logger.Named("webhook"),
		)
	} else {
		a.logger.Warn("stripe webhook secret not set, billing webhook disabled")
	}

	return nil
}

func (a *App) catalogSource(ctx context.Context) (outbound.CatalogSourcePort, error) {
	cfg := a.config.Catalog

	switch cfg.Source {
	case "file":
		return catalog.NewFileSource(cfg.Path, a.logger.Named("catalog")), nil
	case "http":
		client := &http.Client{Timeout: cfg.FetchTimeout}
		return httpsource.NewCatalogSource(httpsource.Config{URL: cfg.URL}, client, a.logger.Named("catalog")), nil
	case "s3":
		client, err := s3adapter.NewClient(ctx, &a.config.Storage)
		if err != nil {
			return nil, fmt.Errorf("init s3 client: %w", err)
		}
		return s3adapter.NewCatalogSource(client, cfg.Bucket, cfg.Key), nil
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.Source)
	}
}

func (a *App) usageStore() (outbound.UsageStorePort, error) {
	switch a.config.Usage.Backend {
	case "redis":
		return redisadapter.NewUsageStore(a.redis), nil
	case "postgres":
		store := postgres.NewUsageStore(a.db)
		if err := a.schedulePurge(store); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown usage backend %q", a.config.Usage.Backend)
	}
}

// schedulePurge removes expired action tokens daily. Redis expires them on its own.
func (a *App) schedulePurge(store *postgres.UsageStore) error {
	a.maintenance = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := a.maintenance.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := store.PurgeTokens(ctx, time.Now().Add(-a.config.Usage.TokenTTL))
		if err != nil {
			a.logger.Error("purge usage tokens failed", zap.Error(err))
			return
		}
		a.logger.Info("usage tokens purged", zap.Int64("count", n))
	})
	if err != nil {
		return fmt.Errorf("schedule token purge: %w", err)
	}
	return nil
}

func (a *App) startModules() {
	a.graceEnforcer.Start()
	if a.maintenance != nil {
		a.maintenance.Start()
	}
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	// Public routes
	a.catalogHandler.RegisterRoutes(v1)

	// Organization routes (bearer token must match :org_id)
	var validator middleware.TokenValidator
	if a.config.Auth.Enabled {
		validator = auth.NewTokenManager(a.config.Auth.JWTSecret, a.config.Auth.Issuer)
	}
	orgRouter := v1.Group("/orgs/:org_id", middleware.RequireOrg(validator))
	a.featureHandler.RegisterRoutes(orgRouter)
	a.usageHandler.RegisterRoutes(orgRouter)

	// Webhook routes (signature verified)
	if a.webhookHandler != nil {
		a.webhookHandler.RegisterRoutes(a.router.Group("/webhooks"))
	}
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.graceEnforcer != nil {
		a.graceEnforcer.Stop(stopCtx)
	}
	if a.maintenance != nil {
		<-a.maintenance.Stop().Done()
	}

	a.cancel()

	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
