package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/noah-isme/ai-check-api/internal/config"
	"github.com/noah-isme/ai-check-api/internal/database"
	"github.com/noah-isme/ai-check-api/internal/events"
	"github.com/noah-isme/ai-check-api/internal/handler"
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/middleware"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/observability"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
	"github.com/noah-isme/ai-check-api/internal/router"
	"github.com/noah-isme/ai-check-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ai-check-api").Logger()
	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.HostTablePrefix)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.GradingRecord{}, &models.ActivityLog{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	adapter := host.New(db, afero.NewReadOnlyFs(afero.NewOsFs()), host.Options{
		Release:     cfg.HostRelease,
		TablePrefix: cfg.HostTablePrefix,
		DataRoot:    cfg.HostDataRoot,
	})

	jobQueue := queue.NewDispatcher(redisClient, queue.Config{
		Stream: cfg.QueueStream,
		Group:  cfg.QueueGroup,
	})
	if err := jobQueue.EnsureGroup(context.Background()); err != nil {
		log.Fatalf("failed to prepare job queue: %v", err)
	}

	recordRepo := repository.NewGradingRecordRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	activityService := service.NewActivityService(activityRepo, logger)
	dispatcher := service.NewAICheckDispatcher(adapter, recordRepo, jobQueue, cfg.DeferDelay, logger)
	eventService := service.NewSubmissionEventService(dispatcher, logger)
	sesskeyService := service.NewSessKeyService(redisClient, cfg.SessKeyTTL, logger)
	triggerService := service.NewManualTriggerService(dispatcher, sesskeyService, activityService, logger)
	statusService := service.NewStatusService(dispatcher, recordRepo, logger)
	settingsService := service.NewSettingsService(adapter, activityService, validate, logger)

	subscriber := events.NewSubscriber(natsConn, cfg.NATSEventSubject, eventService, logger)
	if err := subscriber.Start(); err != nil {
		log.Fatalf("failed to subscribe to host events: %v", err)
	}

	debugService := service.NewDebugInfoService(recordRepo, adapter, jobQueue, subscriber, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		ManualTriggerHandler:  handler.NewManualTriggerHandler(triggerService, logger),
		SessKeyHandler:        handler.NewSessKeyHandler(sesskeyService, logger),
		StatusHandler:         handler.NewStatusHandler(statusService, logger),
		SettingsHandler:       handler.NewSettingsHandler(settingsService, logger),
		DebugHandler:          handler.NewDebugHandler(debugService, logger),
		ActivityHandler:       handler.NewActivityHandler(activityService, logger),
		EventHandler:          handler.NewEventHandler(eventService, cfg.WebhookSecret, logger),
		JWTMiddleware:         middleware.JWTProtected(cfg.JWTSecret),
		OptionalJWTMiddleware: middleware.JWTOptional(cfg.JWTSecret),
		TriggerRateLimit:      cfg.TriggerRateLimit,
		TriggerRateWindow:     cfg.TriggerRateWindow,
		HealthProbes: map[string]handler.HealthProbe{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, subscriber)
	if natsConn != nil {
		natsConn.Close()
	}
}

func waitForShutdown(app *fiber.App, subscriber *events.Subscriber) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	subscriber.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
