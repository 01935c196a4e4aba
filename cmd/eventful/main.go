package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/side/eventful/internal/auth"
	"github.com/side/eventful/internal/config"
	httpserver "github.com/side/eventful/internal/http"
	"github.com/side/eventful/internal/notification"
	"github.com/side/eventful/internal/ratelimit"
	"github.com/side/eventful/internal/repository"
	"github.com/side/eventful/internal/verification"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	// Repositories
	verificationsRepo := repository.NewVerificationsRepository(db)
	grantsRepo := repository.NewGrantsRepository(db)
	rateEventsRepo := repository.NewRateEventsRepository(db)

	// Delivery provider
	var provider notification.Provider
	switch cfg.MailProvider {
	case "sendgrid":
		provider = notification.NewSendGridProvider(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName, cfg.CodeTTL)
		logger.Info("mail provider enabled", "provider", "sendgrid")
	default:
		if !cfg.HasSMTP() {
			logger.Error("SMTP_HOST and MAIL_FROM are required when MAIL_PROVIDER=smtp")
			os.Exit(1)
		}
		provider = notification.NewSMTPProvider(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
			CodeTTL:  cfg.CodeTTL,
		})
		logger.Info("mail provider enabled", "provider", "smtp", "host", cfg.SMTPHost)
	}

	// Services
	dispatcher := notification.NewDispatcher(notification.DispatchConfig{
		MaxAttempts: cfg.SendMaxAttempts,
		BackoffBase: cfg.SendBackoffBase,
		BackoffCap:  cfg.SendBackoffCap,
		Timeout:     cfg.SendTimeout,
		RatePerSec:  cfg.SendRatePerSec,
		Logger:      logger,
	}, provider)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		IssuePerHour:  cfg.IssueLimitPerHour,
		RedeemPerHour: cfg.RedeemLimitPerHour,
		Logger:        logger,
	}, rateEventsRepo)

	binding := auth.NewSessionBinding(auth.BindingConfig{
		GrantTTL:  cfg.GrantTTL,
		JWTSecret: []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
	}, grantsRepo)

	generator := verification.NewCodeGenerator(verification.NumericFormat(cfg.CodeLength), nil)

	service := verification.NewService(verification.ServiceConfig{
		CodeTTL:     cfg.CodeTTL,
		MaxAttempts: cfg.MaxAttempts,
		ReuseWindow: cfg.CodeReuseWindow,
		Logger:      logger,
	}, verificationsRepo, generator, dispatcher, limiter, binding)

	// Background sweep: storage reclamation only, reads enforce expiry
	// themselves.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		now := time.Now()
		swept, err := verificationsRepo.SweepExpired(ctx, now)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			return
		}
		pruned, err := rateEventsRepo.PruneBefore(ctx, now.Add(-ratelimit.DefaultWindow))
		if err != nil {
			logger.Error("rate event prune failed", "error", err)
			return
		}
		deleted, err := grantsRepo.DeleteExpiredBefore(ctx, now)
		if err != nil {
			logger.Error("grant cleanup failed", "error", err)
			return
		}
		if swept > 0 || pruned > 0 || deleted > 0 {
			logger.Info("sweep completed",
				"expired_codes", swept,
				"pruned_rate_events", pruned,
				"deleted_grants", deleted,
			)
		}
	})
	if err != nil {
		logger.Error("failed to schedule sweep", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:           logger,
		CodeService:      service,
		GrantService:     binding,
		IPRequestsPerMin: cfg.IPRequestsPerMin,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
