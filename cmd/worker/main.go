package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"eventportal/internal/config"
	"eventportal/internal/donation"
	"eventportal/internal/logging"
	"eventportal/internal/mail"
	"eventportal/internal/payment"
	"eventportal/internal/queue"
	"eventportal/internal/store"
	"eventportal/internal/token"
	"eventportal/internal/worker"
)

// Worker e-mails receipts for queued jobs and expires abandoned checkouts.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Production(), "worker")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}
	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("redis config invalid", zap.Error(err))
	}
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	// Only the read and bookkeeping paths are used here, so no gateway.
	tokens := token.NewService(token.NewRepository(db), logger)
	donations := donation.NewService(donation.Deps{Repo: donation.NewRepository(db), Tx: db, Log: logger, Currency: cfg.Currency})
	payments := payment.NewService(payment.Deps{Repo: payment.NewRepository(db), Tx: db, Log: logger, Currency: cfg.Currency})

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	reconciler := &worker.Reconciler{
		Payments:  payments,
		Donations: donations,
		TTL:       cfg.PendingTTL,
		Every:     cfg.ReconcileEvery,
		Log:       logger.Named("reconcile"),
	}
	go reconciler.Run(ctx)

	receipts := &worker.Receipts{
		Tokens:      tokens,
		Donations:   donations,
		Mail:        mail.NewSender(cfg.BrevoAPIKey, cfg.MailFromEmail, cfg.MailFromName, logger.Named("mail")),
		Jobs:        q,
		Log:         logger.Named("receipts"),
		PortalName:  cfg.PortalName,
		MaxAttempts: 5,
		Backoff:     30 * time.Second,
	}

	logger.Info("worker started, waiting for messages")
	receipts.Run(ctx, messages)
	logger.Info("worker stopped")
}
