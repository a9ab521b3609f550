package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/noah-isme/ai-check-api/internal/config"
	"github.com/noah-isme/ai-check-api/internal/database"
	"github.com/noah-isme/ai-check-api/internal/events"
	"github.com/noah-isme/ai-check-api/internal/host"
	"github.com/noah-isme/ai-check-api/internal/models"
	"github.com/noah-isme/ai-check-api/internal/observability"
	"github.com/noah-isme/ai-check-api/internal/queue"
	"github.com/noah-isme/ai-check-api/internal/repository"
	"github.com/noah-isme/ai-check-api/internal/service"
	"github.com/noah-isme/ai-check-api/internal/worker"
	"github.com/noah-isme/ai-check-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ai-check-worker").Logger()
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

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" worker", logger)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	adapter := host.New(db, afero.NewReadOnlyFs(afero.NewOsFs()), host.Options{
		Release:     cfg.HostRelease,
		TablePrefix: cfg.HostTablePrefix,
		DataRoot:    cfg.HostDataRoot,
	})

	jobQueue := queue.NewDispatcher(redisClient, queue.Config{
		Stream:    cfg.QueueStream,
		Group:     cfg.QueueGroup,
		Consumer:  cfg.QueueConsumer,
		Block:     cfg.QueueBlock,
		ClaimIdle: cfg.QueueClaimIdle,
	})
	if err := jobQueue.EnsureGroup(context.Background()); err != nil {
		log.Fatalf("failed to prepare job queue: %v", err)
	}
	logger.Info().Str("consumer", jobQueue.Consumer()).Msg("job queue ready")

	recordRepo := repository.NewGradingRecordRepository(db)
	dispatcher := service.NewAICheckDispatcher(adapter, recordRepo, jobQueue, cfg.DeferDelay, logger)

	var evaluator ai.Evaluator = ai.Unavailable{}
	switch cfg.AIProvider {
	case "openai":
		openaiEvaluator, err := ai.NewOpenAIEvaluator(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("openai evaluator unavailable, grading jobs will fail")
		} else {
			evaluator = openaiEvaluator
		}
	default:
		logger.Warn().Str("provider", cfg.AIProvider).Msg("unknown ai provider, grading jobs will fail")
	}

	processor := worker.NewProcessor(adapter, recordRepo, dispatcher, jobQueue, evaluator,
		events.NewStatusPublisher(natsConn, cfg.NATSStatusSubject),
		worker.Config{
			MaxDeferrals: cfg.MaxDeferrals,
			MaxAttempts:  cfg.WorkerMaxAttempts,
			RetryDelay:   cfg.WorkerRetryDelay,
			MaxFileSize:  int64(cfg.MaxFileSizeMB) * 1024 * 1024,
			GraderUserID: cfg.GraderUserID,
		}, logger)

	sweeper := worker.NewSweeper(recordRepo, cfg.ProcessingTimeout, logger).
		WithPendingTimeout(cfg.PendingTimeout).
		WithActivityRetention(repository.NewActivityLogRepository(db), cfg.ActivityRetention)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		log.Fatalf("failed to schedule stale sweeper: %v", err)
	}
	defer sweeper.Stop()

	runner := worker.NewRunner(jobQueue, processor, cfg.PromoteInterval, logger)

	metricsApp := observability.NewMetricsApp(cfg.AppName + " worker")
	go func() {
		if err := metricsApp.Listen(cfg.WorkerMetricsAddress()); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer func() {
		_ = metricsApp.Shutdown()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("stream", jobQueue.Stream()).Msg("grading worker started")
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("grading worker stopped unexpectedly")
	}

	log.Println("worker stopped")
}
