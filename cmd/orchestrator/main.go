package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"norvis/internal/clock"
	"norvis/internal/config"
	"norvis/internal/database"
	"norvis/internal/logger"
	"norvis/internal/metrics"
	"norvis/internal/orchestrator/expiry"
	"norvis/internal/orchestrator/notification"
	"norvis/internal/pgmq"
	"norvis/internal/pubsub"
	"norvis/internal/repository"
	"norvis/internal/service"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	mode := flag.String("mode", "", "Orchestrator mode: notification|expiry|migrate")
	down := flag.Bool("down", false, "With -mode=migrate, roll back every migration")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		l := logger.New()
		l.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Msgf("Error loading config: %v", err)
	}
	log := logger.NewWithLevel(cfg.LogLevel).With().Str("mode", *mode).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dsn := cfg.DBConnectionString
	if cfg.IsDevelopment() {
		dsn = database.PrepareDSN(dsn, true)
	}
	db, err := database.Open(ctx, "postgres", dsn, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	pgmqClient := pgmq.New(db)

	var runErr error
	switch *mode {
	case "migrate":
		if *down {
			runErr = database.MigrateDown(db, log)
		} else {
			runErr = database.Migrate(db, log)
		}

	case "notification":
		for _, q := range []string{cfg.NotificationQueueName, cfg.NotificationDeadLetterQueueName} {
			if err := pgmqClient.CreateQueue(ctx, q); err != nil {
				log.Fatal().Err(err).Str("queue", q).Msg("Failed to ensure queue")
			}
		}
		publisher, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Pub/Sub publisher")
		}
		defer publisher.Close()

		forwarder := notification.NewForwarder(pgmqClient, publisher, notification.Config{
			Queue:           cfg.NotificationQueueName,
			DeadLetterQueue: cfg.NotificationDeadLetterQueueName,
			Topic:           cfg.PubSubAuditTopic,
			VisibilitySec:   60,
			PollSec:         cfg.NotificationPollTimeoutSec,
			MaxMessages:     cfg.NotificationPollMaxMsg,
			MaxRetries:      cfg.NotificationMaxRetries,
			BackoffInitial:  time.Duration(cfg.NotificationBackoffInitialSec) * time.Second,
			BackoffMax:      time.Duration(cfg.NotificationBackoffMaxSec) * time.Second,
		}, log)
		runErr = forwarder.Run(ctx)

	case "expiry":
		events := service.NewQueueEventPublisher(pgmqClient, cfg.NotificationQueueName)
		quotas := service.NewQuotaService(repository.NewQuotaRepo(db), events, metrics.New(), clock.Real(), cfg.QuotaLocation(), log)
		runErr = expiry.Run(ctx, log, quotas, cfg.ExpirySweepInterval)

	default:
		log.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		log.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}
	log.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
