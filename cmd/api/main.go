package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dental-outreach/internal/api/router"
	"github.com/wolfman30/dental-outreach/internal/app/bootstrap"
	"github.com/wolfman30/dental-outreach/internal/bookings"
	"github.com/wolfman30/dental-outreach/internal/campaign"
	appconfig "github.com/wolfman30/dental-outreach/internal/config"
	"github.com/wolfman30/dental-outreach/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-outreach/internal/http/middleware"
	"github.com/wolfman30/dental-outreach/internal/inbound"
	"github.com/wolfman30/dental-outreach/internal/messaging"
	"github.com/wolfman30/dental-outreach/internal/messaging/compliance"
	"github.com/wolfman30/dental-outreach/internal/notify"
	"github.com/wolfman30/dental-outreach/internal/observability/metrics"
	"github.com/wolfman30/dental-outreach/internal/outreach"
	"github.com/wolfman30/dental-outreach/internal/prospects"
	"github.com/wolfman30/dental-outreach/internal/sequencer"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err == nil {
		logging.Default().Debug("loaded .env file")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental-outreach API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := campaign.Load(cfg.CampaignsPath)
	if err != nil {
		logger.Error("failed to load campaigns", "error", err, "path", cfg.CampaignsPath)
		os.Exit(1)
	}
	logger.Info("campaigns loaded", "count", len(registry.List()))

	metricsHandler, campaignMetrics := setupMetrics()

	prospectDB := openProspectDB(cfg.DatabaseURL, logger)
	if prospectDB != nil {
		defer func() { _ = prospectDB.Close() }()
	}
	store, err := buildProspectStore(ctx, prospectDB, logger)
	if err != nil {
		logger.Error("failed to restore prospects", "error", err)
		os.Exit(1)
	}

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}

	awsReady := cfg.AWSAccessKeyID != "" || cfg.InboundQueueURL != "" || cfg.SESFromEmail != ""
	var awsClients *awsDeps
	if awsReady {
		awsClients, err = setupAWS(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
	}

	sender, providers := bootstrap.BuildSender(cfg, awsClients.sesClient(), logger)
	logger.Info("message providers selected", "sms", providers.SMS, "email", providers.Email)

	quiet, err := compliance.ParseQuietHours(cfg.QuietHoursStart, cfg.QuietHoursEnd, cfg.Location())
	if err != nil {
		logger.Warn("invalid quiet hours; sends are not deferred", "error", err)
		quiet = compliance.QuietHours{}
	}

	booker := bookings.NewBooker(store, logger).
		WithLocation(cfg.Location()).
		WithDefaults(cfg.DefaultAppointmentSlot, cfg.DefaultService).
		WithMetrics(campaignMetrics)
	var appointments *bookings.Repository
	if pool != nil {
		appointments = bookings.NewRepository(pool)
		booker.WithSink(appointments)
	}

	var notifier *notify.StaffNotifier
	if cfg.StaffNotifyEmail != "" {
		notifier = notify.NewStaffNotifier(sender, cfg.StaffNotifyEmail, cfg.PracticeName, logger)
	}

	runtime, err := outreach.New(outreach.Deps{
		Campaigns: registry,
		Store:     store,
		Sender:    sender,
		Booker:    booker,
		Notifier:  notifier,
		Metrics:   campaignMetrics,
		Practice:  cfg.PracticeSettings(),
		Sequencer: sequencer.Config{
			TickInterval:   cfg.SequencerTickInterval,
			SendTimeout:    cfg.SendTimeout,
			MaxAttempts:    cfg.SendMaxAttempts,
			RetryBaseDelay: cfg.SendRetryBaseDelay,
			RetryMaxDelay:  sequencer.DefaultConfig().RetryMaxDelay,
			RatePerSecond:  cfg.SendRatePerSecond,
			MaxConcurrent:  cfg.MaxConcurrentSends,
		},
		QuietHours: quiet,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build outreach runtime", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	deduper := bootstrap.BuildDeduper(redisClient, cfg)

	webhooks := handlers.NewWebhookHandler(runtime, logger).
		WithDeduper(deduper).
		WithMetrics(campaignMetrics)
	signingToken := cfg.TwilioWebhookSecret
	if signingToken == "" {
		signingToken = cfg.TwilioAuthToken
	}
	if signingToken != "" {
		webhooks.WithTwilio(signingToken, cfg.PublicBaseURL)
	}

	var consumer *inbound.Consumer
	if cfg.InboundQueueURL != "" && awsClients != nil {
		queue := inbound.NewSQSQueue(awsClients.sqs, cfg.InboundQueueURL)
		webhooks.WithPublisher(inbound.NewPublisher(queue))
		consumer = startConsumer(ctx, cfg, queue, runtime, sender, deduper, campaignMetrics, logger)
	}

	campaignsHandler := handlers.NewCampaignHandler(runtime, logger).WithLocation(cfg.Location())
	if appointments != nil {
		campaignsHandler.WithAppointments(appointments)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.WebhookRatePerSecond, cfg.WebhookRateBurst)
	go evictVisitors(ctx, limiter)

	r := router.New(&router.Config{
		Logger:          logger,
		Campaigns:       campaignsHandler,
		Webhooks:        webhooks,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
		WebhookLimiter:  limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sequencerDone := make(chan struct{})
	go func() {
		defer close(sequencerDone)
		if err := runtime.Run(ctx); err != nil {
			logger.Error("sequencer stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	<-sequencerDone
	if consumer != nil {
		consumer.Wait()
	}
	logger.Info("server stopped")
}

func setupMetrics() (http.Handler, *metrics.CampaignMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewCampaignMetrics(registry)
}

// openProspectDB returns nil when no database is configured; prospects then
// live only in memory.
func openProspectDB(databaseURL string, logger *logging.Logger) *sql.DB {
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set; prospects are not persisted")
		return nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Error("failed to open prospect database", "error", err)
		return nil
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db
}

func buildProspectStore(ctx context.Context, db *sql.DB, logger *logging.Logger) (*prospects.Store, error) {
	if db == nil {
		return prospects.NewStore(nil, logger), nil
	}
	repo := prospects.NewRepository(db)
	store := prospects.NewStore(repo, logger)
	n, err := store.Restore(ctx, repo)
	if err != nil {
		return nil, err
	}
	logger.Info("prospects restored", "count", n)
	return store, nil
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func startConsumer(
	ctx context.Context,
	cfg *appconfig.Config,
	queue inbound.Queue,
	ingester inbound.Ingester,
	replies messaging.Sender,
	deduper inbound.Deduper,
	m *metrics.CampaignMetrics,
	logger *logging.Logger,
) *inbound.Consumer {
	consumer := inbound.NewConsumer(queue, ingester, replies, logger,
		inbound.WithWorkers(cfg.InboundWorkers),
		inbound.WithDeduper(deduper),
		inbound.WithMetrics(m),
	)
	consumer.Start(ctx)
	logger.Info("inbound reply consumer started", "workers", cfg.InboundWorkers, "queue", cfg.InboundQueueURL)
	return consumer
}

func evictVisitors(ctx context.Context, limiter *httpmiddleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Evict(10 * time.Minute)
		}
	}
}
