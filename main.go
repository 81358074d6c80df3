package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog"

	api "clubnotify/cmd/api"
	authUsecase "clubnotify/internal/auth/usecase"
	cleanupDelivery "clubnotify/internal/cleanup/delivery"
	cleanupRepo "clubnotify/internal/cleanup/repository"
	cleanupScheduler "clubnotify/internal/cleanup/scheduler"
	cleanupUsecase "clubnotify/internal/cleanup/usecase"
	"clubnotify/internal/notification/channel"
	notificationDelivery "clubnotify/internal/notification/delivery"
	"clubnotify/internal/notification/intake"
	notificationRepo "clubnotify/internal/notification/repository"
	notificationUsecase "clubnotify/internal/notification/usecase"
	scheduledDelivery "clubnotify/internal/scheduled/delivery"
	scheduledRepo "clubnotify/internal/scheduled/repository"
	scheduledScheduler "clubnotify/internal/scheduled/scheduler"
	scheduledUsecase "clubnotify/internal/scheduled/usecase"
	segmentDelivery "clubnotify/internal/segment/delivery"
	segmentRepo "clubnotify/internal/segment/repository"
	segmentUsecase "clubnotify/internal/segment/usecase"
	subscriptionDelivery "clubnotify/internal/subscription/delivery"
	subdomain "clubnotify/internal/subscription/domain"
	subscriptionRepo "clubnotify/internal/subscription/repository"
	"clubnotify/internal/supervisor"
	userRepo "clubnotify/internal/user/repository"
	"clubnotify/pkg/config"
	"clubnotify/pkg/docstore"
	"clubnotify/pkg/fcm"
	"clubnotify/pkg/gcloud"
	"clubnotify/pkg/lock"
	"clubnotify/pkg/logging"
	"clubnotify/pkg/mailer"
	"clubnotify/pkg/webpush"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger := logging.Logger()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})
	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Firebase backs native push, Firestore and the auth directory. It is
	// optional for local runs on the memory store.
	var app *firebase.App
	if cfg.Google.ProjectID != "" || cfg.Google.CredentialsFile != "" {
		app, err = gcloud.NewFirebaseApp(ctx, cfg.Google.ProjectID, cfg.Google.CredentialsFile)
		if err != nil {
			if cfg.Store.Driver == "firestore" {
				log.Fatal().Err(err).Msg("failed to initialize Firebase")
			}
			log.Warn().Err(err).Msg("Firebase unavailable, native push disabled")
		}
	}

	store := openStore(ctx, cfg, app, log)

	locker := openLocker(ctx, cfg, log)

	// Repositories
	subs := subscriptionRepo.NewSubscriptionRepository(store, logging.Component("subscriptions"))
	logs := notificationRepo.NewDeliveryLogRepository(store)
	analytics := notificationRepo.NewAnalyticsRepository(store)
	segments := segmentRepo.NewSegmentRepository(store)
	scheduled := scheduledRepo.NewScheduledRepository(store)
	runs := cleanupRepo.NewRunRepository(store)

	var users userRepo.Directory = userRepo.NewStoreDirectory(store)
	if app != nil {
		authClient, err := app.Auth(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Firebase Auth unavailable, orphan checks use the users collection")
		} else {
			users = userRepo.NewAuthDirectory(store, authClient)
		}
	}

	// Channel senders
	senders := []channel.Sender{
		channel.NewEmailSender(newMailer(cfg, log), logging.Component("email")),
	}
	if app != nil {
		fcmClient, err := fcm.NewClient(ctx, app, logging.Component("fcm"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize FCM client (native push disabled)")
		} else {
			senders = append(senders, channel.NewNativeSender(fcmClient, cfg.Delivery.NativeBatchSize, logging.Component("native-push")))
		}
	}
	if cfg.WebPush.VAPIDPrivateKey != "" {
		wp := webpush.NewClient(webpush.Config{
			VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
			Subscriber:      cfg.WebPush.Subscriber,
			TTL:             cfg.WebPush.TTL,
		})
		senders = append(senders, channel.NewWebSender(wp, logging.Component("web-push")))
	} else {
		log.Warn().Msg("VAPID keys not set, web push disabled")
	}

	// Delivery pipeline
	tracker := notificationUsecase.NewTracker(analytics, notificationUsecase.TrackerConfig{
		DedupSize: cfg.Delivery.AnalyticsDedupSize,
		DedupTTL:  cfg.Delivery.AnalyticsDedupTTL,
		Workers:   cfg.Delivery.AnalyticsWorkers,
		QueueSize: cfg.Delivery.AnalyticsQueueSize,
	}, logging.Component("analytics"))
	recorder := notificationUsecase.NewRecorder(logs, tracker, logging.Component("recorder"))

	cascade, err := notificationUsecase.NewCascade(subs, senders, recorder, notificationUsecase.CascadeConfig{
		ChannelOrder: configuredOrder(cfg.Delivery.ChannelOrder, senders),
		RequireAll:   cfg.Delivery.RequireAll,
	}, logging.Component("cascade"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build delivery cascade")
	}
	engine := segmentUsecase.NewEngine(store, segments, logging.Component("segments"))
	bulk := notificationUsecase.NewBulkDispatcher(subs, cascade, engine, notificationUsecase.BulkConfig{
		Window:        cfg.Delivery.BulkWindow,
		RatePerSecond: cfg.Delivery.BulkRatePerSecond,
	}, logging.Component("bulk"))

	// Retention
	loc, err := cfg.Cleanup.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cleanup timezone")
	}
	janitor := cleanupUsecase.NewJanitor(store, scheduled, subs, users, runs, locker, cleanupUsecase.Config{
		AnalyticsDays:  cfg.Retention.AnalyticsDays,
		DeliveryDays:   cfg.Retention.DeliveryDays,
		ScheduledDays:  cfg.Retention.ScheduledDays,
		InactivityDays: cfg.Retention.InactivityDays,
		BatchSize:      cfg.Retention.BatchSize,
		Drain:          cfg.Retention.Drain,
		OrphanSweep:    cfg.Retention.OrphanSweep,
		OrphanPageSize: cfg.Retention.OrphanPageSize,
		SweepTimeout:   cfg.Retention.SweepTimeout,
		LockTTL:        cfg.Retention.LockTTL,
	}, logging.Component("janitor"))
	cleanup := cleanupScheduler.NewCleanupScheduler(janitor, cleanupScheduler.Config{
		DailySpec:       cfg.Cleanup.DailySpec,
		WeeklySpec:      cfg.Cleanup.WeeklySpec,
		Location:        loc,
		RetryAttempts:   cfg.Cleanup.RetryAttempts,
		RetryDelay:      cfg.Cleanup.RetryDelay,
		HealthWindow:    cfg.Cleanup.HealthWindow,
		HealthThreshold: cfg.Cleanup.HealthThreshold,
	}, logging.Component("cleanup"))

	dispatcher := scheduledScheduler.NewDispatcher(scheduled, bulk, locker,
		cfg.Scheduled.PollInterval, cfg.Scheduled.BatchLimit, logging.Component("scheduled"))

	// HTTP layer
	notificationHandler := notificationDelivery.NewNotificationHandler(cascade, bulk, tracker, logs, analytics)
	handler := &api.Handler{
		AuthUsecase:   authUsecase.NewAuthUsecase(cfg.Auth.JWTSecret, cfg.Auth.SchedulerKeyHash),
		Subscriptions: subscriptionDelivery.NewSubscriptionHandler(subs),
		Notifications: notificationHandler,
		Segments:      segmentDelivery.NewSegmentHandler(engine),
		Scheduled:     scheduledDelivery.NewScheduledHandler(scheduledUsecase.NewScheduledUsecase(scheduled, logging.Component("scheduled"))),
		Cleanup:       cleanupDelivery.NewCleanupHandler(janitor, cleanup),
		Settings:      api.NewSettingsHandler(cascade),
		Logger:        logging.Component("http"),
	}

	tree := supervisor.NewTree(logging.Component("supervisor"), supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})

	// Pub/Sub intake. Only start if project ID is configured
	if cfg.Google.ProjectID != "" {
		topicName := cfg.Google.PubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		opts, err := gcloud.ClientOptions(ctx, cfg.Google.CredentialsFile)
		if err != nil {
			log.Warn().Err(err).Msg("no Google credentials, notification intake disabled")
		} else {
			router := intake.NewRouter(cascade, bulk, logging.Component("intake"))
			svc, err := intake.NewService(ctx, cfg.Google.ProjectID, topicName, router, logging.Component("intake"), opts...)
			if err != nil {
				log.Warn().Err(err).Msg("failed to create notification intake")
			} else {
				defer svc.Close()
				publisher := intake.NewPublisher(svc.Client(), topicName)
				defer publisher.Stop()
				notificationHandler.SetPublisher(publisher)
				tree.AddWorkerService(svc)
			}
		}
	}

	tree.AddWorkerService(tracker)
	tree.AddWorkerService(dispatcher)
	tree.AddWorkerService(cleanup)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler.Engine(cfg.Server.GinMode),
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	log.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).Msg("server starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("supervisor exited")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, s := range report {
			log.Warn().Str("service", s.Name).Msg("service did not stop in time")
		}
	}
	log.Info().Msg("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, app *firebase.App, log zerolog.Logger) docstore.Store {
	switch cfg.Store.Driver {
	case "firestore":
		client, err := app.Firestore(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open Firestore")
		}
		return docstore.NewFirestoreStore(client)
	case "postgres":
		db, err := docstore.OpenPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store, err := docstore.NewPostgresStore(db)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to migrate document table")
		}
		return store
	default:
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return docstore.NewMemoryStore()
	}
}

func openLocker(ctx context.Context, cfg *config.Config, log zerolog.Logger) lock.Locker {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker()
	}
	client, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	return lock.NewRedisLocker(client)
}

func newMailer(cfg *config.Config, log zerolog.Logger) mailer.Sender {
	if cfg.SMTP.Host == "" {
		log.Warn().Msg("SMTP not configured, emails are logged only")
		return mailer.NewLogSender(logging.Component("mailer"))
	}
	smtpSender := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		ReplyTo:  cfg.SMTP.ReplyTo,
	}, logging.Component("mailer"))
	return mailer.NewBreakerSender(smtpSender, "smtp", logging.Component("mailer"))
}

// configuredOrder drops channels that have no sender in this deployment.
func configuredOrder(names []string, senders []channel.Sender) []subdomain.Channel {
	have := make(map[subdomain.Channel]bool, len(senders))
	for _, s := range senders {
		have[s.Channel()] = true
	}
	var order []subdomain.Channel
	for _, n := range names {
		if ch := subdomain.Channel(n); have[ch] {
			order = append(order, ch)
		}
	}
	if len(order) == 0 {
		order = []subdomain.Channel{subdomain.ChannelEmail}
	}
	return order
}
