// Package server wires every collaborator package into one running
// process: load config, open the database, construct each component in
// dependency order, register HTTP routes, and hand back a Components
// value the entrypoint can gracefully shut down.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/dguik/discode/lib/audit"
	"github.com/dguik/discode/lib/bufferfallback"
	"github.com/dguik/discode/lib/checklist"
	"github.com/dguik/discode/lib/config"
	"github.com/dguik/discode/lib/eventsse"
	"github.com/dguik/discode/lib/handlers"
	"github.com/dguik/discode/lib/health"
	"github.com/dguik/discode/lib/hookauth"
	"github.com/dguik/discode/lib/hookpipe"
	"github.com/dguik/discode/lib/instance"
	"github.com/dguik/discode/lib/metrics"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/pipeline"
	"github.com/dguik/discode/lib/platform"
	"github.com/dguik/discode/lib/ratelimit"
	"github.com/dguik/discode/lib/redisx"
	"github.com/dguik/discode/lib/resilience"
	"github.com/dguik/discode/lib/router"
	"github.com/dguik/discode/lib/runtime"
	"github.com/dguik/discode/lib/streaming"
)

// Components holds every object SetupPipeline constructed, so the
// entrypoint can reach individual pieces (e.g. Instances, for a
// provisioning callback) and shut them all down in GracefulShutdown.
type Components struct {
	Config *config.Config

	DB *sql.DB

	Sender     platform.Sender
	Instances  *instance.Registry
	Windows    *runtime.Registry
	Pending    *pending.Tracker
	Streaming  *streaming.Updater
	Bundle     *handlers.Bundle
	Checklist  *checklist.Store
	Audit      audit.Sink
	Metrics    *metrics.MetricsRegistry
	Events     *eventsse.Broadcaster
	Hooks      *hookpipe.Chain
	Fallback   *bufferfallback.Fallback
	Limiter    *ratelimit.Limiter
	HookAuth   *hookauth.Middleware
	Signer     *hookauth.ServiceSigner
	Pipeline   *pipeline.Pipeline
	Router     *router.Router
	Routes     *platform.ChannelRouterTable
	Health     *health.Handler

	Handler http.Handler
}

// SetupPipeline builds the full discode stack from cfg, in dependency
// order: open storage first, then observability, then the domain
// collaborators, then the things that depend on all of the above, then
// HTTP routes last.
func SetupPipeline(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	logger.Info("initializing discode hook bridge",
		"hook_port", cfg.HookPort,
		"metrics_enabled", cfg.MetricsEnabled,
		"audit_enabled", cfg.AuditEnabled,
	)

	c := &Components{Config: cfg}

	// 1. Storage — sqlite by default, postgres when DatabaseURL is set.
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	c.DB = db

	// 2. Audit sink.
	if cfg.AuditEnabled && db != nil {
		logger.Info("initializing audit logger")
		auditLogger, err := audit.NewLogger(db, 1000)
		if err != nil {
			logger.Warn("failed to initialize audit logger, continuing without it", "error", err)
		} else {
			c.Audit = auditLogger
		}
	} else {
		logger.Info("audit logging disabled", "reason", auditDisabledReason(cfg, db))
	}

	// 3. Metrics registry.
	if cfg.MetricsEnabled {
		logger.Info("initializing metrics registry")
		c.Metrics = metrics.NewMetricsRegistry()
	}

	// 4. Chat platform sender, wrapped in a circuit breaker per channel.
	sender, err := newPlatformSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing chat platform sender: %w", err)
	}
	c.Sender = platform.NewResilientSender(sender, resilience.DefaultCBConfig())

	// 5. Checklist store.
	if db != nil {
		logger.Info("initializing checklist store")
		store, err := checklist.NewStore(db, logger)
		if err != nil {
			logger.Warn("failed to initialize checklist store, continuing without it", "error", err)
		} else {
			c.Checklist = store
		}
	}

	// 6. Instance/window registries — populated by external provisioning
	// (e.g. /runtime/ensure), never by the pipeline itself.
	c.Instances = instance.NewRegistry()
	c.Windows = runtime.NewRegistry()

	// 7. PendingTracker, reacting/posting through the chat sender.
	c.Pending = pending.New(pendingReactor{c.Sender}, startMessenger{c.Sender})

	// 8. Handler dependency bundle.
	c.Streaming = streaming.New(c.Sender, streaming.DefaultDebounce)
	bundle := handlers.New(c.Sender, c.Pending, c.Streaming, c.Checklist, c.Audit, c.Metrics, logger)
	c.Bundle = bundle

	// 9. Redis-backed extras (optional — only when Redis is configured):
	// per-project rate limiting and the fallback snapshot dedupe cache.
	var redisClient *redisx.Client
	var dedupe *redisx.DedupeCache
	if cfg.RedisURL != "" {
		redisClient, err = redisx.New(redisx.Config{URL: cfg.RedisURL})
		if err != nil {
			logger.Warn("failed to connect to redis, rate limiting and dedupe disabled", "error", err)
			redisClient = nil
		} else {
			limiter, err := ratelimit.New(redisClient, ratelimit.DefaultConfig())
			if err != nil {
				logger.Warn("failed to initialize rate limiter, continuing without it", "error", err)
			} else {
				c.Limiter = limiter
			}
			dedupe, err = redisx.NewDedupeCache(redisClient, redisx.DefaultDedupeConfig())
			if err != nil {
				logger.Warn("failed to initialize dedupe cache, continuing without it", "error", err)
			}
		}
	}

	// 10. BufferFallback, reading window buffers and posting fenced blocks.
	fallbackCfg := bufferfallback.DefaultConfig()
	fallbackCfg.InitialDelay = time.Duration(cfg.BufferFallbackInitialMs) * time.Millisecond
	fallbackCfg.StableCheck = time.Duration(cfg.BufferFallbackStableMs) * time.Millisecond
	fallbackCfg.MaxChecks = cfg.BufferFallbackMaxChecks
	c.Fallback = bufferfallback.New(fallbackCfg, windowScreenSource{c.Windows}, c.Pending, chatDeliverer{c.Sender})
	if dedupe != nil {
		c.Fallback.Dedupe = dedupe
	}

	// 11. Extension-point chain and the debug SSE feed. The chain ships
	// with a dispatch clock + slow-dispatch warning pair; deployments can
	// register more hooks off Components before serving.
	c.Hooks = hookpipe.NewChain()
	c.Hooks.Register(dispatchClock{})
	c.Hooks.Register(slowDispatchHook{threshold: 10 * time.Second, logger: logger})
	c.Events = eventsse.New(logger)

	// 12. Hook auth (enforced only when HookToken is set). The same
	// secret backs the internal service-token signer the runtime control
	// surface honors for channel-scoped calls.
	c.HookAuth = hookauth.New(cfg.HookToken, logger)
	if cfg.HookToken != "" {
		c.Signer = hookauth.NewServiceSigner([]byte(cfg.HookToken), 0)
	}

	// 13. EventPipeline — the HTTP dispatcher.
	c.Pipeline = pipeline.New(c.Instances, c.Pending, bundle, c.Hooks, c.Metrics, c.Events, c.Audit, logger)

	// 14. Router — chat-ingress dispatch into SDK/terminal instances,
	// with an operator-maintained channel forwarding table in front of
	// the registry's own channel index.
	c.Routes = platform.NewChannelRouterTable()
	c.Router = router.New(c.Instances, c.Pending, c.Sender, c.Windows, c.Fallback, nil, cfg, logger)
	c.Router.Channels = c.Routes

	// 15. Health checker over the stores, the window registry, and (when
	// configured) Redis.
	checker := health.NewHealthChecker(c.DB, c.Windows)
	if redisClient != nil {
		checker.RegisterCheck("redis", redisx.NewHealthCheck(redisClient))
	}
	c.Health = health.NewHandler(checker)

	// 16. HTTP routes.
	c.Handler = buildRouter(c, logger)

	logger.Info("discode hook bridge ready")
	return c, nil
}

// openDatabase picks the store backing the audit log and checklist:
// postgres when DatabaseURL is set, sqlite otherwise. The actual
// open-and-ping lives in audit.Open so the driver selection is defined
// once, next to the schema that uses it.
func openDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.DatabaseURL != "" {
		logger.Info("opening postgres database")
		return audit.Open(audit.DriverPostgres, cfg.DatabaseURL)
	}

	path := cfg.SQLitePath
	if path == "" {
		path = "discode.db"
	}
	logger.Info("opening sqlite database", "path", path)
	return audit.Open(audit.DriverSQLite, path)
}

func auditDisabledReason(cfg *config.Config, db *sql.DB) string {
	if !cfg.AuditEnabled {
		return "disabled by configuration"
	}
	return "no database connection"
}

func newPlatformSender(cfg *config.Config) (platform.Sender, error) {
	if cfg.DiscordBotToken != "" {
		return platform.NewDiscordSender(cfg.DiscordBotToken)
	}
	if cfg.SlackBotToken != "" {
		return platform.NewSlackSender(cfg.SlackBotToken), nil
	}
	return nil, fmt.Errorf("no chat platform token configured")
}

// GracefulShutdown releases every resource SetupPipeline opened, in
// reverse dependency order.
func (c *Components) GracefulShutdown(ctx context.Context, logger *slog.Logger) error {
	logger.Info("shutting down discode hook bridge")

	if c.Events != nil {
		if err := c.Events.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down event feed", "error", err)
		}
	}
	if auditLogger, ok := c.Audit.(*audit.Logger); ok && auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			logger.Error("failed to close audit logger", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}

	logger.Info("discode hook bridge shutdown complete")
	return nil
}

// buildRouter registers the hook HTTP surface on a chi mux, layering
// cors, hook auth, and (when configured) per-project rate limiting.
func buildRouter(c *Components, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/health", c.Health.Health)
	r.Get("/ready", c.Health.Ready)
	r.Get("/live", c.Health.Live)

	if c.Metrics != nil {
		r.Handle("/metrics", c.Metrics.HTTPHandler())
	}
	r.Get("/debug/events", c.Events.ServeHTTP)

	hookRoutes := chi.NewRouter()
	hookRoutes.Use(c.HookAuth.Wrap)
	if c.Limiter != nil {
		hookRoutes.Use(ratelimit.Middleware(ratelimit.DefaultMiddlewareConfig(c.Limiter)))
	}
	hookRoutes.Post("/opencode-event", c.Pipeline.ServeHTTP)

	// The control surface (reload, send-files, runtime/*) is declared
	// through huma on the same auth-guarded subrouter, so its OpenAPI
	// description is served alongside the endpoints themselves.
	api := humachi.New(hookRoutes, huma.DefaultConfig("discode control", "1.0.0"))
	registerAPI(api, c, logger)

	r.Mount("/", hookRoutes)

	return r
}
