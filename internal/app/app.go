// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/incident-desk/api/openapi"
	"github.com/bissquit/incident-desk/internal/changefeed"
	"github.com/bissquit/incident-desk/internal/config"
	"github.com/bissquit/incident-desk/internal/identity"
	"github.com/bissquit/incident-desk/internal/identity/jwt"
	identitypostgres "github.com/bissquit/incident-desk/internal/identity/postgres"
	"github.com/bissquit/incident-desk/internal/incidents"
	incidentspostgres "github.com/bissquit/incident-desk/internal/incidents/postgres"
	"github.com/bissquit/incident-desk/internal/notifications"
	"github.com/bissquit/incident-desk/internal/pkg/ctxlog"
	"github.com/bissquit/incident-desk/internal/pkg/httputil"
	"github.com/bissquit/incident-desk/internal/pkg/metrics"
	"github.com/bissquit/incident-desk/internal/pkg/postgres"
	"github.com/bissquit/incident-desk/internal/pkg/reltime"
	"github.com/bissquit/incident-desk/internal/seed"
	"github.com/bissquit/incident-desk/internal/version"
	"github.com/bissquit/incident-desk/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	applicationName      = "incidentdesk"
	requestTimeout       = 60 * time.Second
	dbMetricsInterval    = 15 * time.Second
	loginLimiterTTL      = 10 * time.Minute
	readinessPingTimeout = 2 * time.Second
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	clock         reltime.Clock
	server        *http.Server
	metricsServer *http.Server

	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	streamer           *changefeed.Streamer
	notificationWorker *notifications.Worker
}

// New creates a new application instance: it connects to the database, applies
// migrations when enabled, bootstraps the demo user and demo data, and builds
// the HTTP servers. Background loops start here and stop in Shutdown.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	db, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		clock:    reltime.SystemClock{},
		bgCancel: bgCancel,
	}

	app.goBackground(bgCtx, func(ctx context.Context) {
		metrics.CollectDBPoolMetrics(ctx, db, dbMetricsInterval)
	})

	router, err := app.setupRouter(bgCtx)
	if err != nil {
		bgCancel()
		app.bg.Wait()
		db.Close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	app.server.RegisterOnShutdown(app.streamer.Close)

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"changefeed_backend", a.config.ChangeFeed.Backend,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. Open live streams are closed
// first so the main server can drain, then background loops and the
// notification worker stop before the pool is closed.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	shutdown := func(name string, srv *http.Server) {
		defer wg.Done()
		if err := srv.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
			mu.Unlock()
		}
	}

	wg.Add(2)
	go shutdown("server", a.server)
	go shutdown("metrics server", a.metricsServer)
	wg.Wait()

	a.bgCancel()
	a.bg.Wait()

	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// NotificationWorker returns the notification worker, or nil when
// notifications are disabled.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
}

func (a *App) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn(ctx)
	}()
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	cfg := a.config

	// Live hub feeds SSE subscribers. Under the postgres backend mutations
	// travel through NOTIFY and the listener republishes them into the hub,
	// so every replica's streams see every change.
	liveHub := changefeed.NewHub(cfg.ChangeFeed.SubscriberBuffer)
	var livePublisher changefeed.Publisher = liveHub
	if cfg.ChangeFeed.Backend == config.ChangeFeedPostgres {
		livePublisher = changefeed.NewPGPublisher(a.db, cfg.ChangeFeed.Channel)
		listener := changefeed.NewListener(a.db, cfg.ChangeFeed.Channel, liveHub)
		a.goBackground(ctx, listener.Run)
	}
	a.streamer = changefeed.NewStreamer(liveHub, cfg.ChangeFeed.KeepAlive)

	incidentRepo := incidentspostgres.NewRepository(a.db)

	// Only mutations made by this process reach the notify hub, so each
	// lifecycle change is announced once regardless of replica count.
	mutationPublisher := livePublisher
	var notifyHub *changefeed.Hub
	if cfg.Notify.Enabled {
		notifyHub = changefeed.NewHub(cfg.Notify.Worker.QueueSize)
		mutationPublisher = changefeed.Fanout{livePublisher, notifyHub}
	}

	incidentService := incidents.NewService(incidentRepo, mutationPublisher, a.clock)
	incidentHandler := incidents.NewHandler(incidentService, a.streamer, reltime.NewFormatter(a.clock))

	if notifyHub != nil {
		worker, err := a.setupNotifications(ctx, incidentService, notifyHub)
		if err != nil {
			return nil, fmt.Errorf("setup notifications: %w", err)
		}
		a.notificationWorker = worker
	}

	identityRepo := identitypostgres.NewRepository(a.db)
	jwtAuth := jwt.NewAuthenticator(jwt.Config{
		SecretKey:           cfg.Auth.SecretKey,
		AccessTokenDuration: cfg.Auth.AccessTokenDuration,
	})
	identityService := identity.NewService(identityRepo, jwtAuth)
	identityHandler := identity.NewHandler(identityService, identity.CookieSettings{
		Secure:              cfg.Cookie.Secure,
		Domain:              cfg.Cookie.Domain,
		AccessTokenDuration: cfg.Auth.AccessTokenDuration,
	})

	seeder := seed.NewSeeder(incidentRepo, livePublisher, a.clock)
	seedHandler := seed.NewHandler(seeder)

	if err := a.bootstrap(ctx, identityService, seeder); err != nil {
		return nil, err
	}

	loginLimiter := httputil.NewRateLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginBurst, loginLimiterTTL)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)
	r.Get("/api/openapi.yaml", openAPIHandler)
	r.Get("/docs", docsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			identityHandler.RegisterRoutes(r, httputil.RateLimitMiddleware(loginLimiter))

			r.Group(func(r chi.Router) {
				r.Use(httputil.AuthMiddleware(identityService))

				identityHandler.RegisterProtectedRoutes(r)
				incidentHandler.RegisterRoutes(r)
				seedHandler.RegisterRoutes(r)
			})
		})

		// Streams stay open for the whole session, outside the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))
			incidentHandler.RegisterLiveRoutes(r)
		})
	})

	return r, nil
}

// bootstrap creates or refreshes the configured demo user and seeds demo
// incidents when enabled.
func (a *App) bootstrap(ctx context.Context, identityService *identity.Service, seeder *seed.Seeder) error {
	demo := a.config.Auth.DemoUser
	if demo.Email != "" {
		if _, err := identityService.EnsureUser(ctx, demo.Email, demo.Password, demo.Name); err != nil {
			return fmt.Errorf("ensure demo user: %w", err)
		}
		a.logger.Info("demo user ready", "email", demo.Email)
	}

	if a.config.Seed.OnStartup {
		result, err := seeder.Run(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("seed finished", "seeded", result.Seeded, "skipped", result.Skipped)
	}

	return nil
}

func (a *App) setupNotifications(
	ctx context.Context,
	finder notifications.IncidentFinder,
	hub *changefeed.Hub,
) (*notifications.Worker, error) {
	cfg := a.config.Notify

	senders, err := buildSenders(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher := notifications.NewDispatcher(buildTargets(cfg), senders...)
	if len(dispatcher.Targets()) == 0 {
		a.logger.Warn("notifications enabled but no delivery targets configured")
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	worker := notifications.NewWorker(notifications.WorkerConfig{
		QueueSize:         cfg.Worker.QueueSize,
		NumWorkers:        cfg.Worker.NumWorkers,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}, dispatcher, renderer)
	worker.Start(ctx)

	notifier := notifications.NewNotifier(finder, dispatcher.Targets(), worker, cfg.BaseURL, a.clock)
	sub := hub.Subscribe(notifications.LifecycleChanges)
	a.goBackground(ctx, func(ctx context.Context) {
		defer sub.Close()
		notifier.Run(ctx, sub.C)
	})

	a.logger.Info("notifications configured",
		"targets", len(dispatcher.Targets()),
		"email_enabled", cfg.Email.Enabled,
		"telegram_enabled", cfg.Telegram.Enabled,
		"mattermost_webhooks", len(cfg.Mattermost.WebhookURLs),
	)

	return worker, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func openAPIHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec)
}

func docsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>IncidentDesk API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
}

// connect opens the pool, applying migrations first when auto_migrate is set.
func connect(cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(migrations.FS, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ApplicationName: applicationName,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
