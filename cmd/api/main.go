package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindwell-platform/config"
	"mindwell-platform/internal/adapter/billing"
	httpHandler "mindwell-platform/internal/adapter/http/handler"
	"mindwell-platform/internal/adapter/mail"
	pgStorage "mindwell-platform/internal/adapter/storage/postgres"
	redisStorage "mindwell-platform/internal/adapter/storage/redis"
	"mindwell-platform/internal/core/domain"
	"mindwell-platform/internal/core/ports"
	"mindwell-platform/internal/service"
	"mindwell-platform/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting MindWell Platform")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	userRepo := pgStorage.NewUserRepo(pool)
	sessionRepo := pgStorage.NewSessionRepo(pool)
	attemptRepo := pgStorage.NewLoginAttemptRepo(pool)
	webhookRepo := pgStorage.NewWebhookEventRepo(pool)
	webhookLogRepo := pgStorage.NewWebhookLogRepo(pool)
	securityRepo := pgStorage.NewSecurityEventRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	attemptStore := redisStorage.NewAttemptStore(rdb)
	usedTokenStore := redisStorage.NewUsedTokenStore(rdb)
	ingestCache := redisStorage.NewIngestCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.Security.AESKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	hashSvc := service.NewArgon2HashService()
	sigSvc := service.NewHMACSignatureService()
	linkTokenSvc := service.NewJWTLinkTokenService(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.VerifyTTL, cfg.Token.ResetTTL)
	mfaSvc := service.NewTOTPService(cfg.MFA.Issuer)

	// Initialize business services
	securitySvc := service.NewSecurityService(securityRepo, log)
	limiter := service.NewRateLimitService(attemptStore, nil, log)
	sessionSvc := service.NewSessionService(sessionRepo, cfg.Auth.SessionIdleTTL, cfg.Auth.SessionAbsoluteTTL, log)
	detector := service.NewActivityDetector(sessionRepo, cfg.Security.HistorySize, log)
	mailer := mail.NewLogMailer(log)

	var billingSvc ports.BillingProvider
	if cfg.Billing.BaseURL != "" {
		billingSvc = billing.NewHTTPProvider(cfg.Billing.BaseURL, cfg.Billing.APIKey, cfg.Billing.Timeout, log)
	}

	authSvc := service.NewAuthService(service.AuthServiceDeps{
		Users:      userRepo,
		Sessions:   sessionRepo,
		Attempts:   attemptRepo,
		SessionSvc: sessionSvc,
		Limiter:    limiter,
		Hash:       hashSvc,
		Encryption: encSvc,
		MFA:        mfaSvc,
		LinkTokens: linkTokenSvc,
		UsedTokens: usedTokenStore,
		Mailer:     mailer,
		Detector:   detector,
		Security:   securitySvc,
		Transactor: transactor,
	}, service.AuthOptions{
		BaseURL:         cfg.Auth.BaseURL,
		BackupCodeCount: cfg.MFA.BackupCodes,
	}, log)

	webhookSvc := service.NewWebhookService(
		webhookRepo,
		webhookLogRepo,
		sigSvc,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		ingestCache,
		securitySvc,
		service.WebhookOptions{
			TargetURL: cfg.Webhook.TargetURL,
			Secret:    cfg.Webhook.Secret,
			Policy: domain.RetryPolicy{
				Strategy:   domain.RetryStrategy(cfg.Webhook.Strategy),
				BaseDelay:  cfg.Webhook.BaseDelay,
				MaxDelay:   cfg.Webhook.MaxDelay,
				MaxRetries: cfg.Webhook.MaxRetries,
			},
			Timeout:   cfg.Webhook.Timeout,
			BatchSize: cfg.Webhook.BatchSize,
			DedupTTL:  cfg.Webhook.DedupTTL,
		},
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		SessionSvc:     sessionSvc,
		WebhookSvc:     webhookSvc,
		UserRepo:       userRepo,
		BillingSvc:     billingSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Background workers: webhook retry sweep + storage janitor
	workerCtx, stopWorkers := context.WithCancel(ctx)
	go runRetrySweep(workerCtx, webhookSvc, cfg.Webhook.Interval, log)
	go runJanitor(workerCtx, sessionRepo, attemptRepo, cfg.Cleanup, log)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// runRetrySweep periodically drives due webhook deliveries. The service
// has no scheduler of its own; this ticker is the external caller.
func runRetrySweep(ctx context.Context, webhookSvc ports.WebhookService, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, err := webhookSvc.ProcessDue(ctx)
			if err != nil {
				log.Error().Err(err).Msg("webhook retry sweep failed")
				continue
			}
			if delivered > 0 {
				log.Info().Int("delivered", delivered).Msg("webhook retry sweep finished")
			}
		}
	}
}

// runJanitor purges expired sessions and aged-out login attempts.
func runJanitor(ctx context.Context, sessions ports.SessionRepository, attempts ports.LoginAttemptRepository, cfg config.CleanupConfig, log zerolog.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if n, err := sessions.DeleteExpired(ctx, now); err != nil {
				log.Error().Err(err).Msg("failed to purge expired sessions")
			} else if n > 0 {
				log.Info().Int64("purged", n).Msg("expired sessions purged")
			}
			if n, err := attempts.DeleteOlderThan(ctx, now.Add(-cfg.AttemptRetention)); err != nil {
				log.Error().Err(err).Msg("failed to purge old login attempts")
			} else if n > 0 {
				log.Info().Int64("purged", n).Msg("old login attempts purged")
			}
		}
	}
}
