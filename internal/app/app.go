package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cradoe/walletrecon/internal/cache"
	"github.com/cradoe/walletrecon/internal/config"
	"github.com/cradoe/walletrecon/internal/env"
	"github.com/cradoe/walletrecon/internal/errHandler"
	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/orchestrator"
	"github.com/cradoe/walletrecon/internal/provider"
	"github.com/cradoe/walletrecon/internal/reconcile"
	"github.com/cradoe/walletrecon/internal/repository"
	seeders "github.com/cradoe/walletrecon/internal/seeder"
	"github.com/cradoe/walletrecon/internal/smtp"
	"github.com/cradoe/walletrecon/internal/stream"
	"github.com/cradoe/walletrecon/internal/webhook"
	"github.com/cradoe/walletrecon/internal/worker"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Essential services and resources are exposed to the application
// this makes it possible for methods to have access to these items and when they need them
type Application struct {
	Config       config.Config
	DB           repository.Database
	Logger       *slog.Logger
	Mailer       *smtp.Mailer
	Cache        *cache.Cache
	Kafka        *stream.KafkaStream
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *reconcile.Dispatcher
	Webhooks     *webhook.Registry
	Providers    provider.Clients
	WG           sync.WaitGroup
	errorHandler *errHandler.ErrorHandler
	helper       *helper.HelperRepository
}

func loadConfig() config.Config {
	var cfg config.Config

	// config values are loaded from the .env file
	// Default values are provided for these items and these should  strictly be values for development mode only
	// make sure no production-level value is exposed as default value here
	cfg.BaseURL = env.GetString("BASE_URL", "http://localhost:4444")
	cfg.HttpPort = env.GetInt("HTTP_PORT", 4444)

	cfg.Db.Dsn = env.GetString("DB_DSN", "user:pass@localhost:5432/db")
	cfg.Db.Automigrate = env.GetBool("DB_AUTOMIGRATE", true)
	cfg.Db.Seed = env.GetBool("DB_SEED", false)

	cfg.Jwt.SecretKey = env.GetString("JWT_SECRET_KEY", "ajf5nx3qmp6zquevllxocxqvyz42ypuo")

	// server errors and manual-review alerts won't be sent via email if the NOTIFICATIONS_EMAIL wasn't set in the .env file
	cfg.Notifications.Email = env.GetString("NOTIFICATIONS_EMAIL", "")

	cfg.Smtp.Host = env.GetString("SMTP_HOST", "example.smtp.host")
	cfg.Smtp.Port = env.GetInt("SMTP_PORT", 25)
	cfg.Smtp.Username = env.GetString("SMTP_USERNAME", "example_username")
	cfg.Smtp.Password = env.GetString("SMTP_PASSWORD", "pa55word")
	cfg.Smtp.From = env.GetString("SMTP_FROM", "Example Name <no_reply@example.org>")

	// no defaults: an unset secret rejects every webhook from that provider
	cfg.Providers.PaystackSecretKey = env.GetString("PAYSTACK_SECRET_KEY", "")
	cfg.Providers.FlutterwaveSecretHash = env.GetString("FLUTTERWAVE_SECRET_HASH", "")
	cfg.Providers.MonnifyClientSecret = env.GetString("MONNIFY_CLIENT_SECRET", "")

	cfg.WebhookLockTTL = env.GetDuration("WEBHOOK_LOCK_TTL", reconcile.DefaultLockTTL)

	cfg.RedisServer = env.GetString("REDIS_SERVER", "localhost:6379")
	cfg.KafkaServers = env.GetString("KAFKA_SERVERS", "localhost:9092")

	return cfg
}

func NewApplication(logger *slog.Logger) (*Application, error) {
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", "error", err)
	}

	cfg := loadConfig()

	db, err := repository.New(cfg.Db.Dsn, cfg.Db.Automigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	mailer, err := smtp.NewMailer(cfg.Smtp.Host, cfg.Smtp.Port, cfg.Smtp.Username, cfg.Smtp.Password, cfg.Smtp.From)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	app := &Application{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Mailer:   mailer,
		Cache:    cache.New(cfg.RedisServer, 0),
		Kafka:    stream.New(cfg.KafkaServers, logger),
		Registry: prometheus.NewRegistry(),
	}

	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.New(app.Registry)

	app.helper = helper.New(cfg.BaseURL, &app.WG, logger)
	app.errorHandler = errHandler.New(cfg.Notifications.Email, mailer, logger, app.helper)

	notifier := notify.NewKafkaNotifier(app.Kafka, logger)

	app.Dispatcher = reconcile.NewDefaultDispatcher(reconcile.Dependencies{
		DB:        db,
		Notifier:  notifier,
		Escalator: app.errorHandler,
		Locker:    app.Cache,
		Helper:    app.helper,
		Logger:    logger,
		Metrics:   app.Metrics,
		LockTTL:   cfg.WebhookLockTTL,
	})

	app.Orchestrator = orchestrator.New(orchestrator.Dependencies{
		DB:        db,
		Notifier:  notifier,
		Escalator: app.errorHandler,
		Helper:    app.helper,
		Logger:    logger,
		Metrics:   app.Metrics,
	})

	app.Webhooks = webhook.NewRegistry(
		webhook.NewPaystack(cfg.Providers.PaystackSecretKey, logger),
		webhook.NewFlutterwave(cfg.Providers.FlutterwaveSecretHash, logger),
		webhook.NewMonnify(cfg.Providers.MonnifyClientSecret, logger),
	)

	app.Providers = newProviderClients(cfg, logger)

	if cfg.Db.Seed {
		if err := seeders.New(db, logger).Run(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to seed database: %w", err)
		}
	}

	return app, nil
}

// newProviderClients wires one outbound client per provider. The transfer
// integrations run out of band, so every request is queued and settled by
// the provider's webhook.
func newProviderClients(cfg config.Config, logger *slog.Logger) provider.Clients {
	transport := provider.QueueTransport{Logger: logger}

	return provider.Clients{
		models.ProviderPaystack:    provider.NewClient(models.ProviderPaystack, provider.StaticCredentials(cfg.Providers.PaystackSecretKey), transport, logger),
		models.ProviderFlutterwave: provider.NewClient(models.ProviderFlutterwave, provider.StaticCredentials(cfg.Providers.FlutterwaveSecretHash), transport, logger),
		models.ProviderMonnify:     provider.NewClient(models.ProviderMonnify, provider.StaticCredentials(cfg.Providers.MonnifyClientSecret), transport, logger),
	}
}

// StartWorkers runs the background consumers until ctx is cancelled.
func (app *Application) StartWorkers(ctx context.Context) {
	wk := worker.New(&worker.Worker{
		KafkaStream: app.Kafka,
		DB:          app.DB,
		Mailer:      app.Mailer,
		Helper:      app.helper,
		Logger:      app.Logger.With("worker", "notification"),
	})

	app.WG.Add(1)
	go func() {
		defer app.WG.Done()

		if err := wk.NotificationWorker(ctx); err != nil {
			app.Logger.Error("notification worker stopped", "error", err)
		}
	}()
}

// Close releases the connections opened by NewApplication.
func (app *Application) Close() {
	if err := app.Cache.Close(); err != nil {
		app.Logger.Error("closing redis", "error", err)
	}
	if err := app.DB.Close(); err != nil {
		app.Logger.Error("closing database", "error", err)
	}
}
