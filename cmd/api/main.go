package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eventportal/internal/auth"
	"eventportal/internal/config"
	"eventportal/internal/dashboard"
	"eventportal/internal/donation"
	"eventportal/internal/event"
	"eventportal/internal/handler"
	"eventportal/internal/httpmiddleware"
	"eventportal/internal/logging"
	"eventportal/internal/mail"
	"eventportal/internal/payment"
	"eventportal/internal/queue"
	"eventportal/internal/razorpay"
	"eventportal/internal/registration"
	"eventportal/internal/storage"
	"eventportal/internal/store"
	"eventportal/internal/token"
	"eventportal/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.Production(), "api")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	uploads, presigner := newStorage(ctx, cfg, logger)
	gateway := razorpay.New(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	if cfg.RazorpayKeyID == "" {
		logger.Warn("razorpay not configured (RAZORPAY_KEY_ID / RAZORPAY_KEY_SECRET not set)")
	}

	students := registration.NewService(registration.NewRepository(db), db, uploads, logger)
	events := event.NewService(event.NewRepository(db))
	tokens := token.NewService(token.NewRepository(db), logger)
	payments := payment.NewService(payment.Deps{
		Repo:           payment.NewRepository(db),
		Tx:             db,
		Gateway:        gateway,
		Events:         events,
		Students:       students,
		Tokens:         tokens,
		Jobs:           q,
		Log:            logger,
		DefaultEventID: cfg.DefaultEventID,
		Currency:       cfg.Currency,
	})
	donations := donation.NewService(donation.Deps{
		Repo:     donation.NewRepository(db),
		Tx:       db,
		Gateway:  gateway,
		Jobs:     q,
		Log:      logger,
		Currency: cfg.Currency,
	})

	revoker := auth.NewRedisRevoker(redisClient.Client)
	accounts := auth.NewAccounts(auth.NewUserRepository(db), revoker, cfg.JWTSigningKey, cfg.JWTIssuer, cfg.SessionTTL)
	if cfg.AdminEmail != "" {
		if _, err := accounts.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			logger.Error("admin bootstrap failed", zap.Error(err))
		}
	}
	authenticator := auth.NewAuthenticator(cfg.JWTSigningKey, cfg.JWTIssuer, revoker)

	// The in-memory queue only reaches consumers in this process.
	if cfg.QueueBackend == "memory" {
		msgs, err := q.Consume(ctx)
		if err != nil {
			return err
		}
		receipts := &worker.Receipts{
			Tokens:     tokens,
			Donations:  donations,
			Mail:       mail.NewSender(cfg.BrevoAPIKey, cfg.MailFromEmail, cfg.MailFromName, logger.Named("mail")),
			Jobs:       q,
			Log:        logger.Named("receipts"),
			PortalName: cfg.PortalName,
			Backoff:    30 * time.Second,
		}
		go receipts.Run(ctx, msgs)
		reconciler := &worker.Reconciler{Payments: payments, Donations: donations, TTL: cfg.PendingTTL, Every: cfg.ReconcileEvery, Log: logger.Named("reconcile")}
		go reconciler.Run(ctx)
		logger.Info("in-process worker started")
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin, "portal:ratelimit")
	} else {
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	h := handler.New(handler.Deps{
		Students:       students,
		Events:         events,
		Payments:       payments,
		Tokens:         tokens,
		Donations:      donations,
		Stats:          &dashboard.Service{Students: students, Events: events, Payments: payments, Donations: donations, Tokens: tokens},
		Accounts:       accounts,
		Auth:           authenticator,
		Uploads:        uploads,
		Presigner:      presigner,
		Replay:         redisClient,
		Log:            logger,
		PortalName:     cfg.PortalName,
		WebhookSecret:  cfg.RazorpayWebhookSecret,
		CookieSecure:   cfg.CookieSecure,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	r := newRouter(cfg, logger, routerDeps{
		handler: h,
		auth:    authenticator,
		limiter: limiter,
		db:      db,
		redis:   redisClient,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// newStorage picks the photo backend. Both results are nil when storage is
// not configured; upload endpoints then answer 503.
func newStorage(ctx context.Context, cfg config.App, logger *zap.Logger) (storage.Store, storage.Presigner) {
	switch cfg.StorageBackend {
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			logger.Warn("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
			return nil, nil
		}
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
		return storage.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
	case "s3":
		s3, err := storage.NewS3(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			Prefix:        "students",
			PresignTTL:    cfg.UploadURLTTL,
		})
		if err != nil {
			logger.Warn("s3 storage unavailable", zap.Error(err))
			return nil, nil
		}
		logger.Info("s3 storage configured", zap.String("bucket", cfg.S3Bucket))
		return s3, s3
	default:
		logger.Warn("photo storage disabled", zap.String("backend", cfg.StorageBackend))
		return nil, nil
	}
}
