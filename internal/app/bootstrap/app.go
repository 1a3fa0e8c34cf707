package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/agenda-ai-platform/internal/api/router"
	"github.com/wolfman30/agenda-ai-platform/internal/availability"
	"github.com/wolfman30/agenda-ai-platform/internal/catalog"
	appconfig "github.com/wolfman30/agenda-ai-platform/internal/config"
	"github.com/wolfman30/agenda-ai-platform/internal/conversation"
	"github.com/wolfman30/agenda-ai-platform/internal/errorlog"
	"github.com/wolfman30/agenda-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/agenda-ai-platform/internal/http/middleware"
	"github.com/wolfman30/agenda-ai-platform/internal/messaging"
	"github.com/wolfman30/agenda-ai-platform/internal/notify"
	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/internal/reservations"
	"github.com/wolfman30/agenda-ai-platform/internal/tenantctx"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// App is the fully wired API process.
type App struct {
	Handler      http.Handler
	Reservations *reservations.Manager

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build connects to Postgres, Redis, the calendar and the LLM providers and
// assembles the HTTP handler.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	pool, err := BuildPostgresPool(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, pool.Close)
	sqlDB := stdlib.OpenDBFromPool(pool)
	app.closers = append(app.closers, func() { _ = sqlDB.Close() })

	redisClient, err := BuildRedisClient(ctx, cfg, true)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, func() { _ = redisClient.Close() })

	cal, err := BuildCalendar(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	messagingMetrics := metrics.NewMessagingMetrics(registry)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	loc := cfg.Location()
	catalogRepo := catalog.NewRepository(pool, logger)
	store := conversation.NewStore(redisClient)
	manager := reservations.NewManager(
		reservations.NewRepository(pool),
		cal,
		reservations.NewRedisLocker(redisClient, 0, 0),
		loc,
		logger,
		reservations.WithManagerMetrics(bookingMetrics),
	)
	app.Reservations = manager
	generator := availability.NewGenerator(cal, loc, logger,
		availability.WithDefaults(cfg.SlotHorizonDays, cfg.SlotMaxResults),
		availability.WithMetrics(bookingMetrics),
	)
	loader := tenantctx.NewLoader(catalogRepo, manager, store, logger)

	var gateway *messaging.GatewayClient
	var sender messaging.Sender
	var sessions handlers.SessionSource
	var whatsapp notify.WhatsAppSender
	if cfg.VenomURL != "" {
		gateway = messaging.NewGatewayClient(cfg.VenomURL, logger,
			messaging.WithHTTPClient(&http.Client{Timeout: cfg.ExternalTimeout}),
			messaging.WithGatewayMetrics(messagingMetrics),
		)
		sender, sessions, whatsapp = gateway, gateway, gateway
	} else {
		logger.Warn("VENOM_URL not set; replies are logged, not delivered")
	}

	var email notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		email = sg
	}
	notifier := notify.NewService(email, whatsapp, logger)

	opts := []conversation.ControllerOption{
		conversation.WithNotifier(notifier),
		conversation.WithErrorRecorder(errorlog.NewWriter(sqlDB, logger)),
		conversation.WithTimeout(cfg.RequestTimeout),
	}
	oracle, closeOracle := BuildOracle(ctx, cfg, logger, bookingMetrics)
	app.closers = append(app.closers, closeOracle)
	if oracle != nil {
		opts = append(opts, conversation.WithOracle(oracle))
	}
	controller := conversation.NewController(store, loader, generator, manager, logger, opts...)

	webhook := messaging.NewHandler(cfg.VerifyToken, catalogRepo, controller, sender, logger, messagingMetrics,
		messaging.WithRequestTimeout(cfg.RequestTimeout),
		messaging.WithSendTimeout(cfg.ExternalTimeout),
	)
	admin := handlers.NewAdminHandler(handlers.AdminConfig{
		User:         cfg.AdminUser,
		Password:     cfg.AdminPassword,
		Secret:       cfg.SecretKey,
		Tenants:      catalogRepo,
		Blocklist:    catalogRepo,
		HumanMode:    store,
		Reservations: manager,
		Sessions:     sessions,
		Logger:       logger,
		Location:     loc,
	})

	app.Handler = router.New(&router.Config{
		Logger:           logger,
		MessagingHandler: webhook,
		AdminHandler:     admin,
		AdminAuthSecret:  cfg.SecretKey,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		RateLimiter:      httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	})
	return app, nil
}
